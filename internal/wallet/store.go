package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

type DB struct {
	Bun *bun.DB
}

func NewDB(b *bun.DB) *DB {
	return &DB{Bun: b}
}

// Balance derives what an agency may still withdraw in one currency.
func (d *DB) Balance(ctx context.Context, agencyID, currency string) (models.Balance, error) {
	return balance(ctx, d.Bun, agencyID, currency)
}

func balance(ctx context.Context, q bun.IDB, agencyID, currency string) (models.Balance, error) {
	b := models.Balance{AgencyID: agencyID, Currency: currency}

	// SUM comes back as int64, float64 or numeric text depending on the
	// driver and on whether any row matched; decimal scans all of them.
	var earned, withdrawn decimal.Decimal
	err := q.NewSelect().
		Model((*models.Reservation)(nil)).
		ColumnExpr("COALESCE(SUM(amount_due), 0)").
		Where("agency_id = ?", agencyID).
		Where("currency = ?", currency).
		Where("status = ?", models.BookingConfirmed).
		Where("payment_status = ?", models.PaymentCompleted).
		Scan(ctx, &earned)
	if err != nil {
		return b, fmt.Errorf("failed to sum earnings: %w", err)
	}

	err = q.NewSelect().
		Model((*models.Withdrawal)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("agency_id = ?", agencyID).
		Where("currency = ?", currency).
		Where("status != ?", models.WithdrawalRejected).
		Scan(ctx, &withdrawn)
	if err != nil {
		return b, fmt.Errorf("failed to sum withdrawals: %w", err)
	}

	b.Earned = earned.Round(2).InexactFloat64()
	b.Withdrawn = withdrawn.Round(2).InexactFloat64()
	b.Available = earned.Sub(withdrawn).Round(2).InexactFloat64()
	return b, nil
}

// CreateWithdrawal inserts w if the balance covers it. Bumping the agency's
// wallet_version first serialises concurrent requests for one agency.
func (d *DB) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) (models.Balance, error) {
	var after models.Balance
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewUpdate().
			Model((*models.Agency)(nil)).
			Set("wallet_version = wallet_version + 1").
			Where("id = ?", w.AgencyID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock agency wallet: %w", err)
		}
		if n, _ := result.RowsAffected(); n != 1 {
			return ErrNotFound
		}

		b, err := balance(ctx, tx, w.AgencyID, w.Currency)
		if err != nil {
			return err
		}
		if w.Amount > b.Available {
			after = b
			return ErrInsufficientBalance
		}

		if _, err := tx.NewInsert().Model(w).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert withdrawal: %w", err)
		}
		b.Withdrawn = roundCents(b.Withdrawn + w.Amount)
		b.Available = roundCents(b.Available - w.Amount)
		after = b
		return nil
	})
	return after, err
}

// Decide settles a pending withdrawal and reports whether it changed.
func (d *DB) Decide(ctx context.Context, id string, to models.WithdrawalStatus, adminID string, at time.Time) (bool, error) {
	result, err := d.Bun.NewUpdate().
		Model((*models.Withdrawal)(nil)).
		Set("status = ?", to).
		Set("decided_by = ?", adminID).
		Set("decided_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.WithdrawalPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (d *DB) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := d.Bun.NewSelect().Model(&w).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (d *DB) ListWithdrawals(ctx context.Context, agencyID string, status models.WithdrawalStatus) ([]models.Withdrawal, error) {
	out := []models.Withdrawal{}
	q := d.Bun.NewSelect().Model(&out).Order("created_at DESC")
	if agencyID != "" {
		q = q.Where("agency_id = ?", agencyID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func roundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

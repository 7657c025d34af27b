package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

var ErrNotFound = errors.New("record not found")

type DB struct {
	Bun *bun.DB
}

func NewDB(b *bun.DB) *DB {
	return &DB{Bun: b}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func model(kind models.ResourceKind) (interface{}, error) {
	switch kind {
	case models.KindTrip:
		return (*models.Trip)(nil), nil
	case models.KindCar:
		return (*models.Car)(nil), nil
	case models.KindRoom:
		return (*models.Room)(nil), nil
	}
	return nil, fmt.Errorf("unknown resource kind %q", kind)
}

// ---------------- AGENCIES ----------------

func (d *DB) AgencyByOwner(ctx context.Context, userID string) (*models.Agency, error) {
	var a models.Agency
	if err := d.Bun.NewSelect().Model(&a).Where("owner_user_id = ?", userID).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (d *DB) CreateAgency(ctx context.Context, a *models.Agency) error {
	_, err := d.Bun.NewInsert().Model(a).Exec(ctx)
	return err
}

// ---------------- LISTINGS ----------------

// Insert stores a *models.Trip, *models.Car or *models.Room.
func (d *DB) Insert(ctx context.Context, listing interface{}) error {
	_, err := d.Bun.NewInsert().Model(listing).Exec(ctx)
	return err
}

func (d *DB) Get(ctx context.Context, kind models.ResourceKind, id string) (*models.Resource, error) {
	var res models.Resource
	switch kind {
	case models.KindTrip:
		var t models.Trip
		if err := d.Bun.NewSelect().Model(&t).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return nil, notFound(err)
		}
		res = t.AsResource()
	case models.KindCar:
		var c models.Car
		if err := d.Bun.NewSelect().Model(&c).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return nil, notFound(err)
		}
		res = c.AsResource()
	case models.KindRoom:
		var r models.Room
		if err := d.Bun.NewSelect().Model(&r).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return nil, notFound(err)
		}
		res = r.AsResource()
	default:
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}
	return &res, nil
}

// ListByStatus returns full listing rows so callers get kind-specific fields.
func (d *DB) ListByStatus(ctx context.Context, kind models.ResourceKind, status models.ResourceStatus, limit, offset int) (interface{}, error) {
	q := func(dst interface{}) error {
		return d.Bun.NewSelect().
			Model(dst).
			Where("status = ?", status).
			Order("created_at DESC").
			Limit(limit).
			Offset(offset).
			Scan(ctx)
	}
	switch kind {
	case models.KindTrip:
		out := []models.Trip{}
		return out, q(&out)
	case models.KindCar:
		out := []models.Car{}
		return out, q(&out)
	case models.KindRoom:
		out := []models.Room{}
		return out, q(&out)
	}
	return nil, fmt.Errorf("unknown resource kind %q", kind)
}

func (d *DB) UpdateDiscounts(ctx context.Context, kind models.ResourceKind, id string, rules []models.DiscountRule) error {
	m, err := model(kind)
	if err != nil {
		return err
	}
	encoded, err := jsonRules(rules)
	if err != nil {
		return err
	}
	_, err = d.Bun.NewUpdate().
		Model(m).
		Set("discounts = ?", encoded).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// SetStatus moves a listing from one of from to to and reports whether it
// changed.
func (d *DB) SetStatus(ctx context.Context, kind models.ResourceKind, id string, from []models.ResourceStatus, to models.ResourceStatus) (bool, error) {
	m, err := model(kind)
	if err != nil {
		return false, err
	}
	result, err := d.Bun.NewUpdate().
		Model(m).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// DeleteUnbooked removes a listing only when no reservation references it,
// checked and deleted in one transaction.
func (d *DB) DeleteUnbooked(ctx context.Context, kind models.ResourceKind, id string) (bool, error) {
	m, err := model(kind)
	if err != nil {
		return false, err
	}
	deleted := false
	err = d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		n, err := tx.NewSelect().
			Model((*models.Reservation)(nil)).
			Where("kind = ?", kind).
			Where("resource_id = ?", id).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count reservations: %w", err)
		}
		if n > 0 {
			return nil
		}
		if _, err := tx.NewDelete().Model(m).Where("id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete %s: %w", kind, err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func jsonRules(rules []models.DiscountRule) (string, error) {
	if rules == nil {
		rules = []models.DiscountRule{}
	}
	b, err := json.Marshal(rules)
	if err != nil {
		return "", fmt.Errorf("encode discounts: %w", err)
	}
	return string(b), nil
}

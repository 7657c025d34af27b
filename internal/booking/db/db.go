package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-booking/internal/availability"
	"ms-booking/internal/models"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrNoCapacity = errors.New("insufficient capacity")
)

type DB struct {
	Bun *bun.DB
}

func New(b *bun.DB) *DB {
	return &DB{Bun: b}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ---------------- RESOURCES ----------------

// GetResource loads a trip, car or room as a kind-independent view.
func (d *DB) GetResource(ctx context.Context, kind models.ResourceKind, id string) (*models.Resource, error) {
	return getResource(ctx, d.Bun, kind, id)
}

func getResource(ctx context.Context, q bun.IDB, kind models.ResourceKind, id string) (*models.Resource, error) {
	var res models.Resource
	switch kind {
	case models.KindTrip:
		var trip models.Trip
		if err := q.NewSelect().Model(&trip).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return nil, notFound(err)
		}
		res = trip.AsResource()
	case models.KindCar:
		var car models.Car
		if err := q.NewSelect().Model(&car).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return nil, notFound(err)
		}
		res = car.AsResource()
	case models.KindRoom:
		var room models.Room
		if err := q.NewSelect().Model(&room).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return nil, notFound(err)
		}
		res = room.AsResource()
	default:
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}
	return &res, nil
}

func resourceModel(kind models.ResourceKind) (interface{}, error) {
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

// ---------------- RESERVATIONS ----------------

// ActiveReservations returns reservations still holding inventory whose
// range touches [start, end].
func (d *DB) ActiveReservations(ctx context.Context, kind models.ResourceKind, resourceID string, start, end time.Time) ([]models.Reservation, error) {
	return activeReservations(ctx, d.Bun, kind, resourceID, start, end)
}

func activeReservations(ctx context.Context, q bun.IDB, kind models.ResourceKind, resourceID string, start, end time.Time) ([]models.Reservation, error) {
	var out []models.Reservation
	err := q.NewSelect().
		Model(&out).
		Where("kind = ?", kind).
		Where("resource_id = ?", resourceID).
		Where("status IN (?)", bun.In([]models.BookingStatus{models.BookingPending, models.BookingConfirmed})).
		Where("start_date <= ?", end).
		Where("end_date >= ?", start).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reserve claims inventory and inserts the provisional reservation in one
// transaction. Trips use a decrement-if-sufficient update; rooms and cars
// lock the resource row first and re-check overlaps under that lock.
func (d *DB) Reserve(ctx context.Context, r *models.Reservation) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()

		switch r.Kind {
		case models.KindTrip:
			result, err := tx.NewUpdate().
				Model((*models.Trip)(nil)).
				Set("available_seats = available_seats - ?", r.Quantity).
				Set("updated_at = ?", now).
				Where("id = ?", r.ResourceID).
				Where("status = ?", models.ResourceApproved).
				Where("available_seats >= ?", r.Quantity).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to decrement seats: %w", err)
			}
			if n, _ := result.RowsAffected(); n != 1 {
				return ErrNoCapacity
			}

		case models.KindRoom, models.KindCar:
			model, err := resourceModel(r.Kind)
			if err != nil {
				return err
			}
			result, err := tx.NewUpdate().
				Model(model).
				Set("updated_at = ?", now).
				Where("id = ?", r.ResourceID).
				Where("status = ?", models.ResourceApproved).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to lock %s: %w", r.Kind, err)
			}
			if n, _ := result.RowsAffected(); n != 1 {
				return ErrNoCapacity
			}

			res, err := getResource(ctx, tx, r.Kind, r.ResourceID)
			if err != nil {
				return err
			}
			existing, err := activeReservations(ctx, tx, r.Kind, r.ResourceID, r.StartDate, r.EndDate)
			if err != nil {
				return fmt.Errorf("failed to re-check overlaps: %w", err)
			}
			verdict := availability.Evaluate(*res, existing, availability.NewRange(r.StartDate, r.EndDate), r.Quantity)
			if !verdict.Available {
				return ErrNoCapacity
			}

		default:
			return fmt.Errorf("unknown resource kind %q", r.Kind)
		}

		r.CreatedAt = now
		r.UpdatedAt = now
		if _, err := tx.NewInsert().Model(r).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		return nil
	})
}

// Rollback removes a provisional reservation and gives back trip seats.
// Only pending reservations are touched, so a repeated call is harmless.
func (d *DB) Rollback(ctx context.Context, r *models.Reservation) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewDelete().
			Model((*models.Reservation)(nil)).
			Where("id = ?", r.ID).
			Where("status = ?", models.BookingPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete reservation: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return nil
		}
		return restoreSeats(ctx, tx, r)
	})
}

func restoreSeats(ctx context.Context, tx bun.Tx, r *models.Reservation) error {
	if r.Kind != models.KindTrip {
		return nil
	}
	_, err := tx.NewUpdate().
		Model((*models.Trip)(nil)).
		Set("available_seats = available_seats + ?", r.Quantity).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", r.ResourceID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore seats: %w", err)
	}
	return nil
}

func (d *DB) AttachPayment(ctx context.Context, id, ref, url string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("payment_ref = ?", ref).
		Set("payment_url = ?", url).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// Transition moves a reservation from one of `from` to `to` and reports
// whether this call made the change. Leaving inventory-holding states
// gives trip seats back in the same transaction.
func (d *DB) Transition(ctx context.Context, r *models.Reservation, from []models.BookingStatus, to models.BookingStatus, payment models.PaymentStatus) (bool, error) {
	changed := false
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewUpdate().
			Model((*models.Reservation)(nil)).
			Set("status = ?", to).
			Set("payment_status = ?", payment).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", r.ID).
			Where("status IN (?)", bun.In(from)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update reservation status: %w", err)
		}
		if n, _ := result.RowsAffected(); n != 1 {
			return nil
		}
		changed = true

		if !to.Holds() {
			return restoreSeats(ctx, tx, r)
		}
		return nil
	})
	return changed, err
}

func (d *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	err := d.Bun.NewSelect().Model(&r).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (d *DB) GetReservationByPaymentRef(ctx context.Context, provider models.PaymentProvider, ref string) (*models.Reservation, error) {
	var r models.Reservation
	err := d.Bun.NewSelect().
		Model(&r).
		Where("payment_provider = ?", provider).
		Where("payment_ref = ?", ref).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (d *DB) ListReservationsByUser(ctx context.Context, userID string) ([]models.Reservation, error) {
	var out []models.Reservation
	err := d.Bun.NewSelect().
		Model(&out).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) MarkVoucherIssued(ctx context.Context, id string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("voucher_issued = ?", true).
		Where("id = ?", id).
		Where("voucher_issued = ?", false).
		Exec(ctx)
	return err
}

// CreateSchema creates every table from the models. Tests use it instead of
// the SQL migrations.
func CreateSchema(ctx context.Context, b *bun.DB) error {
	for _, model := range []interface{}{
		(*models.Trip)(nil),
		(*models.Car)(nil),
		(*models.Room)(nil),
		(*models.Reservation)(nil),
		(*models.Agency)(nil),
		(*models.Withdrawal)(nil),
	} {
		if _, err := b.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table %T: %w", model, err)
		}
	}
	return nil
}

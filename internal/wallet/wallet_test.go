package wallet

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type agencyMap map[string]*models.Agency

func (m agencyMap) AgencyFor(_ context.Context, userID string) (*models.Agency, error) {
	if a, ok := m[userID]; ok {
		return a, nil
	}
	return nil, booking.Forbidden("register an agency first")
}

func setupTestDB(t *testing.T) *DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	if err := bookingdb.CreateSchema(context.Background(), bunDB); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() { bunDB.Close() })
	return NewDB(bunDB)
}

func setup(t *testing.T) (*Service, *DB, *models.Agency) {
	store := setupTestDB(t)
	agency := &models.Agency{ID: uuid.New().String(), OwnerUserID: "owner-1", Name: "Atlas Travel", CreatedAt: time.Now().UTC()}
	_, err := store.Bun.NewInsert().Model(agency).Exec(context.Background())
	require.NoError(t, err)

	svc := NewService(store, agencyMap{"owner-1": agency}, "TND", logger.NewDiscard())
	return svc, store, agency
}

func seedEarning(t *testing.T, store *DB, agencyID string, due float64, status models.BookingStatus, payment models.PaymentStatus) {
	_, err := store.Bun.NewInsert().Model(&models.Reservation{
		ID:             uuid.New().String(),
		Kind:           models.KindTrip,
		ResourceID:     uuid.New().String(),
		AgencyID:       agencyID,
		UserID:         "traveler",
		Quantity:       1,
		TotalPrice:     due,
		Currency:       "TND",
		AmountDue:      due,
		AmountCharged:  due * 0.32,
		ChargeCurrency: "USD",
		Status:         status,
		PaymentStatus:  payment,
	}).Exec(context.Background())
	require.NoError(t, err)
}

func withdrawal(amount float64) WithdrawalInput {
	return WithdrawalInput{Amount: amount, PaymentMethod: "bank_transfer", Destination: "TN59 1000 6035 1835 9847 8831"}
}

func TestBalance_CountsOnlySettledBookings(t *testing.T) {
	svc, store, agency := setup(t)
	ctx := context.Background()

	seedEarning(t, store, agency.ID, 300, models.BookingConfirmed, models.PaymentCompleted)
	seedEarning(t, store, agency.ID, 48.15, models.BookingConfirmed, models.PaymentCompleted)
	seedEarning(t, store, agency.ID, 500, models.BookingPending, models.PaymentPending)
	seedEarning(t, store, agency.ID, 200, models.BookingFailed, models.PaymentFailed)
	seedEarning(t, store, agency.ID, 120, models.BookingCancelled, models.PaymentCompleted)
	seedEarning(t, store, "other-agency", 999, models.BookingConfirmed, models.PaymentCompleted)

	b, err := svc.Balance(ctx, "owner-1", "")
	require.NoError(t, err)
	assert.Equal(t, "TND", b.Currency)
	assert.InDelta(t, 348.15, b.Earned, 0.001)
	assert.InDelta(t, 348.15, b.Available, 0.001)

	_, err = svc.Balance(ctx, "stranger", "")
	assert.ErrorIs(t, err, booking.ErrForbidden)
}

func TestRequestWithdrawal(t *testing.T) {
	svc, store, agency := setup(t)
	ctx := context.Background()
	seedEarning(t, store, agency.ID, 100, models.BookingConfirmed, models.PaymentCompleted)

	w, b, err := svc.RequestWithdrawal(ctx, "owner-1", withdrawal(60))
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.Equal(t, "TND", w.Currency)
	assert.InDelta(t, 40, b.Available, 0.001)

	_, b, err = svc.RequestWithdrawal(ctx, "owner-1", withdrawal(40.01))
	assert.ErrorIs(t, err, booking.ErrValidation)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "insufficient balance", booking.PublicMessage(err))
	assert.InDelta(t, 40, b.Available, 0.001)

	_, _, err = svc.RequestWithdrawal(ctx, "owner-1", withdrawal(0))
	assert.ErrorIs(t, err, booking.ErrValidation)

	bad := withdrawal(10)
	bad.PaymentMethod = ""
	_, _, err = svc.RequestWithdrawal(ctx, "owner-1", bad)
	assert.ErrorIs(t, err, booking.ErrValidation)
}

func TestRequestWithdrawal_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	svc, store, agency := setup(t)
	seedEarning(t, store, agency.ID, 100, models.BookingConfirmed, models.PaymentCompleted)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.RequestWithdrawal(context.Background(), "owner-1", withdrawal(30))
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	b, err := store.Balance(context.Background(), agency.ID, "TND")
	require.NoError(t, err)
	assert.InDelta(t, 10, b.Available, 0.001)
}

func TestDecideWithdrawal(t *testing.T) {
	svc, store, agency := setup(t)
	ctx := context.Background()
	seedEarning(t, store, agency.ID, 100, models.BookingConfirmed, models.PaymentCompleted)

	first, _, err := svc.RequestWithdrawal(ctx, "owner-1", withdrawal(70))
	require.NoError(t, err)

	pending, err := svc.PendingWithdrawals(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	w, err := svc.DecideWithdrawal(ctx, "admin-1", first.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalRejected, w.Status)
	assert.Equal(t, "admin-1", w.DecidedBy)

	b, err := svc.Balance(ctx, "owner-1", "TND")
	require.NoError(t, err)
	assert.InDelta(t, 100, b.Available, 0.001, "a rejection releases the amount")

	_, err = svc.DecideWithdrawal(ctx, "admin-1", first.ID, true)
	assert.ErrorIs(t, err, booking.ErrValidation, "decisions are final")

	second, _, err := svc.RequestWithdrawal(ctx, "owner-1", withdrawal(100))
	require.NoError(t, err)
	_, err = svc.DecideWithdrawal(ctx, "admin-1", second.ID, true)
	require.NoError(t, err)

	b, err = svc.Balance(ctx, "owner-1", "TND")
	require.NoError(t, err)
	assert.InDelta(t, 0, b.Available, 0.001)

	_, err = svc.DecideWithdrawal(ctx, "admin-1", uuid.New().String(), true)
	assert.ErrorIs(t, err, booking.ErrNotFound)

	mine, err := svc.MyWithdrawals(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestHandler_Withdrawals(t *testing.T) {
	svc, store, agency := setup(t)
	seedEarning(t, store, agency.ID, 50, models.BookingConfirmed, models.PaymentCompleted)
	h := NewHandler(svc, logger.NewDiscard())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: "owner-1"})))
		})
	})
	r.Route("/api/wallet", h.AgencyRoutes)

	body, _ := json.Marshal(withdrawal(80))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/wallet/withdrawals", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient balance")

	body, _ = json.Marshal(withdrawal(20))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/wallet/withdrawals", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/wallet/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data models.Balance `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 30, resp.Data.Available, 0.001)
}

func TestBalance_AgencyWithoutHistory(t *testing.T) {
	svc, store, agency := setup(t)
	ctx := context.Background()

	b, err := store.Balance(ctx, agency.ID, "TND")
	require.NoError(t, err, "empty sums must scan as zero")
	assert.Zero(t, b.Earned)
	assert.Zero(t, b.Withdrawn)
	assert.Zero(t, b.Available)

	seedEarning(t, store, agency.ID, 120, models.BookingConfirmed, models.PaymentCompleted)

	w, after, err := svc.RequestWithdrawal(ctx, "owner-1", WithdrawalInput{Amount: 20, PaymentMethod: "bank_transfer", Destination: "TN59 1000"})
	require.NoError(t, err, "first withdrawal of an agency")
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.Equal(t, 120.0, after.Earned)
	assert.Equal(t, 20.0, after.Withdrawn)
	assert.Equal(t, 100.0, after.Available)
}

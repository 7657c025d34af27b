package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/booking/api"
	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/currency"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/notify"
	"ms-booking/internal/payment"
	"ms-booking/internal/sse"
	"ms-booking/internal/voucher"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() models.PaymentProvider { return models.ProviderStripe }
func (m *MockProvider) Currency() string             { return "USD" }

func (m *MockProvider) Initiate(ctx context.Context, req payment.Request) (*payment.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Session), args.Error(1)
}

func (m *MockProvider) Lookup(ctx context.Context, reference string) (payment.Status, error) {
	args := m.Called(ctx, reference)
	return args.Get(0).(payment.Status), args.Error(1)
}

func (m *MockProvider) Cancel(ctx context.Context, reference string) error {
	return m.Called(ctx, reference).Error(0)
}

type agencyMap map[string]*models.Agency

func (a agencyMap) AgencyFor(_ context.Context, userID string) (*models.Agency, error) {
	if ag, ok := a[userID]; ok {
		return ag, nil
	}
	return nil, booking.Forbidden("register an agency first")
}

type fixture struct {
	router   http.Handler
	store    *bookingdb.DB
	svc      *booking.Service
	provider *MockProvider
	events   *sse.BookingEventEmitter
	trip     *models.Trip
}

// asUser stands in for auth.Middleware: the caller id comes from X-User.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.Identity{UserID: r.Header.Get("X-User"), Email: "traveler@example.com"}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func setup(t *testing.T) *fixture {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, bookingdb.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })
	store := bookingdb.New(bunDB)

	departure := time.Now().UTC().AddDate(0, 2, 0).Truncate(24 * time.Hour)
	trip := &models.Trip{
		ID:             uuid.New().String(),
		AgencyID:       "agency-1",
		Title:          "Sahara weekend",
		Destination:    "Douz",
		BasePrice:      100,
		Currency:       "USD",
		Capacity:       2,
		AvailableSeats: 2,
		DepartureDate:  departure,
		ReturnDate:     departure.AddDate(0, 0, 2),
		Status:         models.ResourceApproved,
	}
	_, err = bunDB.NewInsert().Model(trip).Exec(context.Background())
	require.NoError(t, err)

	provider := &MockProvider{}
	emitter := sse.NewBookingEventEmitter()
	svc := booking.NewService(booking.Deps{
		Store:     store,
		Converter: currency.NewConverter(nil),
		Providers: payment.NewRegistry(provider),
		Events:    notify.NewDispatcher(logger.NewDiscard(), emitter),
		Logger:    logger.NewDiscard(),
	})

	h := api.NewHandler(api.Deps{
		Service:  svc,
		Vouchers: voucher.NewIssuer("test-secret", "ms-booking"),
		Ledger:   store,
		Agencies: agencyMap{"agent-1": {ID: "agency-1"}, "agent-2": {ID: "agency-2"}},
		Events:   emitter,
		Logger:   logger.NewDiscard(),
	})

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		h.PublicRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(asUser)
			h.Routes(r)
		})
	})
	return &fixture{router: r, store: store, svc: svc, provider: provider, events: emitter, trip: trip}
}

func (f *fixture) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User", user)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) book(t *testing.T, adults int) *httptest.ResponseRecorder {
	return f.do(t, http.MethodPost, "/api/bookings", "user-1", map[string]interface{}{
		"kind":             "trip",
		"resource_id":      f.trip.ID,
		"adults":           adults,
		"payment_provider": "stripe",
	})
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestBook_CreatesPendingReservation(t *testing.T) {
	f := setup(t)
	f.provider.On("Initiate", mock.Anything, mock.MatchedBy(func(req payment.Request) bool {
		return req.CustomerEmail == "traveler@example.com" && req.Amount.StringFixed(2) == "200.00"
	})).Return(&payment.Session{Reference: "cs_1", RedirectURL: "https://checkout.example/cs_1", Status: payment.StatusPending}, nil).Once()

	rec := f.book(t, 2)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var adm booking.Admission
	decode(t, rec, &adm)
	assert.Equal(t, "https://checkout.example/cs_1", adm.RedirectURL)
	assert.Equal(t, models.BookingPending, adm.Reservation.Status)

	rec = f.do(t, http.MethodGet, "/api/bookings/"+adm.Reservation.ID, "user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/bookings/"+adm.Reservation.ID, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/bookings/mine", "user-1", nil)
	var mine []models.Reservation
	decode(t, rec, &mine)
	assert.Len(t, mine, 1)
}

func TestBook_ErrorsMapToStatus(t *testing.T) {
	f := setup(t)

	rec := f.book(t, 3)
	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decode(t, rec, nil)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)

	rec = f.do(t, http.MethodPost, "/api/bookings", "user-1", map[string]interface{}{"kind": "boat"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.provider.On("Initiate", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("stripe: card_declined: raw detail")).Once()
	rec = f.book(t, 1)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "raw detail")
}

func TestQuoteAndAvailability(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/api/bookings/quote", "user-1", map[string]interface{}{
		"kind": "trip", "resource_id": f.trip.ID, "adults": 2, "payment_provider": "stripe",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var q booking.Pricing
	decode(t, rec, &q)
	assert.Equal(t, "200.00", q.ChargeAmount.StringFixed(2))

	rec = f.do(t, http.MethodGet, "/api/availability/trips/"+f.trip.ID+"?quantity=3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict struct {
		Available bool `json:"available"`
		Remaining int  `json:"remaining"`
	}
	decode(t, rec, &verdict)
	assert.False(t, verdict.Available)
	assert.Equal(t, 2, verdict.Remaining)

	f.provider.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestCancel(t *testing.T) {
	f := setup(t)
	f.provider.On("Initiate", mock.Anything, mock.Anything).Return(&payment.Session{Reference: "cs_2", Status: payment.StatusPending}, nil).Once()
	f.provider.On("Cancel", mock.Anything, "cs_2").Return(nil).Once()

	var adm booking.Admission
	decode(t, f.book(t, 2), &adm)

	rec := f.do(t, http.MethodPost, "/api/bookings/"+adm.Reservation.ID+"/cancel", "user-2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/bookings/"+adm.Reservation.ID+"/cancel", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	f.provider.On("Initiate", mock.Anything, mock.Anything).Return(&payment.Session{Reference: "cs_3", Status: payment.StatusPending}, nil).Once()
	assert.Equal(t, http.StatusCreated, f.book(t, 2).Code, "cancelled seats are bookable again")
}

func TestVoucher(t *testing.T) {
	f := setup(t)
	f.provider.On("Initiate", mock.Anything, mock.Anything).Return(&payment.Session{Reference: "cs_4", Status: payment.StatusPending}, nil).Once()

	var adm booking.Admission
	decode(t, f.book(t, 1), &adm)
	id := adm.Reservation.ID

	rec := f.do(t, http.MethodGet, "/api/bookings/"+id+"/voucher", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "pending bookings have no voucher")

	_, err := f.svc.ApplyPaymentResult(context.Background(), id, "cs_4", payment.StatusSucceeded)
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/api/bookings/"+id+"/voucher", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
	token := rec.Header().Get("X-Voucher-Token")
	require.NotEmpty(t, token)

	stored, err := f.store.GetReservation(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, stored.VoucherIssued)

	rec = f.do(t, http.MethodGet, "/api/bookings/"+id+"/voucher?format=pdf", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = f.do(t, http.MethodPost, "/api/vouchers/verify", "agent-1", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rec.Code)
	var claims voucher.Claims
	decode(t, rec, &claims)
	assert.Equal(t, id, claims.ReservationID)
	assert.Equal(t, 1, claims.Quantity)

	rec = f.do(t, http.MethodPost, "/api/vouchers/verify", "agent-2", map[string]string{"token": token})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/vouchers/verify", "agent-1", map[string]string{"token": token + "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/vouchers/verify", "user-1", map[string]string{"token": token})
	assert.Equal(t, http.StatusForbidden, rec.Code, "only agencies verify vouchers")
}

func TestStreamUserBookings(t *testing.T) {
	f := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events/bookings", nil).WithContext(ctx)
	req.Header.Set("X-User", "user-1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.router.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.events.UserClientCount("user-1") == 1 }, time.Second, 5*time.Millisecond)
	f.events.Emit(notify.Event{Type: notify.BookingConfirmed, ReservationID: "res-1", UserID: "user-1", AgencyID: "agency-1"})
	f.events.Emit(notify.Event{Type: notify.BookingConfirmed, ReservationID: "res-2", UserID: "user-2"})

	// The handler drains the event before the context ends.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream;charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "event: connected\n"))
	assert.Contains(t, body, "event: booking.confirmed\n")
	assert.Contains(t, body, `"reservation_id":"res-1"`)
	assert.NotContains(t, body, "res-2")
}

func TestStreamAgencyBookings_RequiresAgency(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/api/events/agency", "user-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

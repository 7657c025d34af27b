package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ms-booking/internal/availability"
	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/currency"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/notify"
	"ms-booking/internal/payment"
	"ms-booking/internal/pricing"
)

// Store is the persistence the booking flow needs.
type Store interface {
	availability.Reader
	GetResource(ctx context.Context, kind models.ResourceKind, id string) (*models.Resource, error)
	Reserve(ctx context.Context, r *models.Reservation) error
	Rollback(ctx context.Context, r *models.Reservation) error
	AttachPayment(ctx context.Context, id, ref, url string) error
	Transition(ctx context.Context, r *models.Reservation, from []models.BookingStatus, to models.BookingStatus, payment models.PaymentStatus) (bool, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	GetReservationByPaymentRef(ctx context.Context, provider models.PaymentProvider, ref string) (*models.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID string) ([]models.Reservation, error)
}

// AdmissionLock serialises admissions for one resource across instances.
type AdmissionLock interface {
	Acquire(ctx context.Context, kind models.ResourceKind, resourceID, owner string) (bool, error)
	Release(ctx context.Context, kind models.ResourceKind, resourceID, owner string) error
}

type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

type Events interface {
	Dispatch(ev notify.Event)
}

type Deps struct {
	Store     Store
	Resolver  *pricing.Resolver
	Converter Converter
	Providers payment.Registry
	// Lock and Events are optional.
	Lock   AdmissionLock
	Events Events
	Logger *logger.Logger
	Now    func() time.Time
}

type Service struct {
	store     Store
	checker   *availability.Checker
	resolver  *pricing.Resolver
	converter Converter
	providers payment.Registry
	lock      AdmissionLock
	events    Events
	validate  *validator.Validate
	log       *logger.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Resolver == nil {
		d.Resolver = pricing.NewResolver(time.UTC)
	}
	if d.Logger == nil {
		d.Logger = logger.NewDiscard()
	}
	return &Service{
		store:     d.Store,
		checker:   availability.NewChecker(d.Store),
		resolver:  d.Resolver,
		converter: d.Converter,
		providers: d.Providers,
		lock:      d.Lock,
		events:    d.Events,
		validate:  validator.New(),
		log:       d.Logger,
		now:       d.Now,
	}
}

// Admission is the caller-facing result of a booking attempt.
type Admission struct {
	Reservation *models.Reservation `json:"reservation"`
	RedirectURL string              `json:"redirect_url,omitempty"`
	Pricing     *Pricing            `json:"pricing"`
	State       string              `json:"state"`
}

type attempt struct {
	id    string
	state AdmissionState
	log   *logger.Logger
}

func (a *attempt) advance(to AdmissionState) {
	if !a.state.next(to) {
		a.log.Error("BOOKING", fmt.Sprintf("illegal admission transition %s -> %s for %s", a.state, to, a.id))
	}
	a.log.Debug("BOOKING", fmt.Sprintf("%s: %s -> %s", a.id, a.state, to))
	a.state = to
}

// Book admits a reservation: check, price, reserve, then start payment.
// A provider failure after reserving removes the reservation again.
func (s *Service) Book(ctx context.Context, req Request) (*Admission, error) {
	at := &attempt{id: uuid.New().String(), state: StateStart, log: s.log}

	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.lock != nil {
		release, err := s.acquire(ctx, p.resource, at.id)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	verdict, err := s.checker.IsAvailable(ctx, *p.resource, p.rng, p.quantity)
	if err != nil {
		s.log.Error("BOOKING", fmt.Sprintf("Availability lookup failed for %s %s: %v", p.resource.Kind, p.resource.ID, err))
		return nil, fmt.Errorf("availability check: %w", err)
	}
	if !verdict.Available {
		s.log.LogBooking("REJECT", at.id, verdict.Reason)
		return nil, Unavailable(verdict.Reason)
	}
	at.advance(StateCapacityChecked)

	quote, err := s.price(ctx, p)
	if err != nil {
		return nil, err
	}
	at.advance(StatePriced)

	r := newReservation(at.id, p, quote)
	if err := s.store.Reserve(ctx, r); err != nil {
		if errors.Is(err, bookingdb.ErrNoCapacity) {
			s.log.LogBooking("REJECT", at.id, "capacity taken by a concurrent booking")
			return nil, Unavailable("no longer available for the requested dates or quantity")
		}
		s.log.Error("BOOKING", fmt.Sprintf("Failed to reserve %s: %v", at.id, err))
		return nil, fmt.Errorf("reserve: %w", err)
	}
	at.advance(StateReserved)
	s.log.LogBooking("RESERVED", r.ID, fmt.Sprintf("%s %s x%d, %s %s due", r.Kind, r.ResourceID, r.Quantity, quote.AmountDue.StringFixed(2), quote.Currency))

	sess, err := p.provider.Initiate(ctx, payment.Request{
		ReservationID:   r.ID,
		Description:     fmt.Sprintf("%s booking: %s", r.Kind, p.resource.Title),
		Amount:          quote.ChargeAmount,
		Currency:        quote.ChargeCurrency,
		CustomerEmail:   req.CustomerEmail,
		Locale:          req.Locale,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		s.rollback(ctx, r, at)
		if errors.Is(err, payment.ErrNotConfigured) {
			return nil, Misconfigured(err)
		}
		return nil, PaymentFailed(err)
	}
	at.advance(StatePaymentInitiated)

	if err := s.store.AttachPayment(ctx, r.ID, sess.Reference, sess.RedirectURL); err != nil {
		s.log.Error("BOOKING", fmt.Sprintf("Failed to store payment reference for %s: %v", r.ID, err))
		if cerr := p.provider.Cancel(context.WithoutCancel(ctx), sess.Reference); cerr != nil {
			if sess.Status == payment.StatusSucceeded {
				s.log.Error("PAYMENT", fmt.Sprintf("Charge %s for reservation %s succeeded but could not be refunded: %v", sess.Reference, r.ID, cerr))
			} else {
				s.log.Warn("PAYMENT", fmt.Sprintf("Could not cancel orphaned payment %s: %v", sess.Reference, cerr))
			}
		} else {
			s.log.LogPayment(string(p.provider.Name()), sess.Reference, fmt.Sprintf("Payment for %s abandoned after a storage failure", r.ID))
		}
		s.rollback(ctx, r, at)
		return nil, PaymentFailed(err)
	}
	r.PaymentRef = sess.Reference
	r.PaymentURL = sess.RedirectURL
	at.advance(StateAwaitingCallback)

	s.emit(notify.BookingCreated, r)

	if sess.Status != payment.StatusPending {
		settled, err := s.apply(ctx, r, sess.Status)
		if err != nil && !errors.Is(err, ErrReconciliationConflict) {
			s.log.Error("BOOKING", fmt.Sprintf("Failed to apply synchronous result for %s: %v", r.ID, err))
		} else if settled != nil {
			r = settled
		}
	}

	return &Admission{
		Reservation: r,
		RedirectURL: sess.RedirectURL,
		Pricing:     quote,
		State:       at.state.String(),
	}, nil
}

// prepare validates the request and binds it to resource and provider.
func (s *Service) prepare(ctx context.Context, req Request) (*plan, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, Invalid(validationMessage(err))
	}

	provider, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, Invalid("unsupported payment provider")
	}

	res, err := s.store.GetResource(ctx, req.Kind, req.ResourceID)
	if err != nil {
		if errors.Is(err, bookingdb.ErrNotFound) {
			return nil, NotFound(fmt.Sprintf("%s not found", req.Kind))
		}
		return nil, fmt.Errorf("load resource: %w", err)
	}
	if res.Status != models.ResourceApproved {
		return nil, Unavailable(fmt.Sprintf("this %s is not open for booking", req.Kind))
	}

	p, err := bind(req, res, models.DateOnly(s.now()))
	if err != nil {
		return nil, err
	}
	p.provider = provider
	return p, nil
}

// price resolves discounts, splits the advance and converts into the
// provider's currency.
func (s *Service) price(ctx context.Context, p *plan) (*Pricing, error) {
	b := s.resolver.Price(p.resource.Discounts, p.partySize, s.now(), p.lines)

	q := &Pricing{
		Breakdown:      b,
		Currency:       currency.Normalize(p.resource.Currency),
		Total:          b.Total,
		AmountDue:      b.Total,
		ChargeCurrency: currency.Normalize(p.provider.Currency()),
	}

	if p.req.PayAdvance {
		if p.resource.AdvancePercentage <= 0 {
			return nil, Invalid("advance payment is not offered for this listing")
		}
		q.IsAdvance = true
		q.AdvancePercentage = p.resource.AdvancePercentage
		q.AmountDue = pricing.Advance(b.Total, p.resource.AdvancePercentage)
	}

	if !q.AmountDue.IsPositive() {
		return nil, Invalid("nothing to pay for this booking")
	}

	if s.converter == nil {
		return nil, Misconfigured(currency.ErrMissingCredentials)
	}
	charge, err := s.converter.Convert(ctx, q.AmountDue, q.Currency, q.ChargeCurrency)
	if err != nil {
		s.log.Error("CURRENCY", fmt.Sprintf("Conversion %s->%s failed: %v", q.Currency, q.ChargeCurrency, err))
		if errors.Is(err, currency.ErrMissingCredentials) {
			return nil, Misconfigured(err)
		}
		return nil, newError(ErrPaymentInitiationFailed, "currency conversion is unavailable, please try again", err)
	}
	q.ChargeAmount = pricing.Round2(charge)
	return q, nil
}

func newReservation(id string, p *plan, q *Pricing) *models.Reservation {
	return &models.Reservation{
		ID:                 id,
		Kind:               p.resource.Kind,
		ResourceID:         p.resource.ID,
		AgencyID:           p.resource.AgencyID,
		UserID:             p.req.UserID,
		CustomerEmail:      p.req.CustomerEmail,
		Quantity:           p.quantity,
		Adults:             p.req.Adults,
		Children:           p.req.Children,
		StartDate:          p.rng.Start,
		EndDate:            p.rng.End,
		TotalPrice:         q.Total.InexactFloat64(),
		Currency:           q.Currency,
		AmountDue:          q.AmountDue.InexactFloat64(),
		AmountCharged:      q.ChargeAmount.InexactFloat64(),
		ChargeCurrency:     q.ChargeCurrency,
		AdvancePercentage:  q.AdvancePercentage,
		IsAdvance:          q.IsAdvance,
		DiscountRule:       string(q.Breakdown.AppliedRule),
		DiscountPercentage: q.Breakdown.AppliedPercentage.InexactFloat64(),
		PaymentProvider:    p.provider.Name(),
		PaymentStatus:      models.PaymentPending,
		Status:             models.BookingPending,
	}
}

func (s *Service) acquire(ctx context.Context, res *models.Resource, owner string) (func(), error) {
	ok, err := s.lock.Acquire(ctx, res.Kind, res.ID, owner)
	if err != nil {
		// The database transaction still guarantees correctness.
		s.log.Warn("REDIS", fmt.Sprintf("Admission lock unavailable for %s %s: %v", res.Kind, res.ID, err))
		return func() {}, nil
	}
	if !ok {
		return nil, Unavailable("this listing is being booked by someone else, please retry")
	}
	return func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), res.Kind, res.ID, owner); err != nil {
			s.log.Warn("REDIS", fmt.Sprintf("Failed to release admission lock for %s %s: %v", res.Kind, res.ID, err))
		}
	}, nil
}

// rollback runs detached from the request so a client disconnect cannot
// leave a provisional reservation behind.
func (s *Service) rollback(ctx context.Context, r *models.Reservation, at *attempt) {
	if err := s.store.Rollback(context.WithoutCancel(ctx), r); err != nil {
		s.log.Error("BOOKING", fmt.Sprintf("Compensating rollback failed for %s: %v", r.ID, err))
	}
	at.advance(StateFailedRolledBack)
	s.log.LogBooking("ROLLBACK", r.ID, "payment initiation failed, reservation removed")
}

func (s *Service) emit(t notify.EventType, r *models.Reservation) {
	if s.events == nil {
		return
	}
	s.events.Dispatch(notify.EventFor(t, r))
}

// Availability reports whether a prospective booking would be admitted
// right now, without reserving anything.
func (s *Service) Availability(ctx context.Context, kind models.ResourceKind, id, start, end string, quantity int) (availability.Verdict, error) {
	res, err := s.store.GetResource(ctx, kind, id)
	if err != nil {
		if errors.Is(err, bookingdb.ErrNotFound) {
			return availability.Verdict{}, NotFound(fmt.Sprintf("%s not found", kind))
		}
		return availability.Verdict{}, err
	}
	if quantity < 1 {
		quantity = 1
	}

	rng := availability.NewRange(res.StartDate, res.EndDate)
	if kind != models.KindTrip {
		rng, err = dateRange(Request{StartDate: start, EndDate: end}, time.Time{})
		if err != nil {
			return availability.Verdict{}, err
		}
	}
	return s.checker.IsAvailable(ctx, *res, rng, quantity)
}

func (s *Service) Get(ctx context.Context, id, userID string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		if errors.Is(err, bookingdb.ErrNotFound) {
			return nil, NotFound("reservation not found")
		}
		return nil, err
	}
	if r.UserID != userID {
		return nil, NotFound("reservation not found")
	}
	return r, nil
}

func (s *Service) ListMine(ctx context.Context, userID string) ([]models.Reservation, error) {
	return s.store.ListReservationsByUser(ctx, userID)
}

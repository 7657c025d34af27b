package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type Store interface {
	Balance(ctx context.Context, agencyID, currency string) (models.Balance, error)
	CreateWithdrawal(ctx context.Context, w *models.Withdrawal) (models.Balance, error)
	Decide(ctx context.Context, id string, to models.WithdrawalStatus, adminID string, at time.Time) (bool, error)
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, agencyID string, status models.WithdrawalStatus) ([]models.Withdrawal, error)
}

// Agencies resolves the agency a user owns.
type Agencies interface {
	AgencyFor(ctx context.Context, userID string) (*models.Agency, error)
}

type WithdrawalInput struct {
	Amount        float64 `json:"amount" validate:"gt=0"`
	Currency      string  `json:"currency" validate:"omitempty,iso4217"`
	PaymentMethod string  `json:"payment_method" validate:"required,max=40"`
	Destination   string  `json:"destination" validate:"required,max=120"`
}

type Service struct {
	store    Store
	agencies Agencies
	currency string
	validate *validator.Validate
	log      *logger.Logger
	now      func() time.Time
}

// NewService settles balances in currency unless a request names another.
func NewService(store Store, agencies Agencies, currency string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDiscard()
	}
	if currency == "" {
		currency = "TND"
	}
	return &Service{
		store:    store,
		agencies: agencies,
		currency: strings.ToUpper(currency),
		validate: validator.New(),
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) currencyOr(c string) string {
	if c == "" {
		return s.currency
	}
	return strings.ToUpper(c)
}

// Balance reports the caller's agency earnings that are still withdrawable.
func (s *Service) Balance(ctx context.Context, userID, currency string) (models.Balance, error) {
	a, err := s.agencies.AgencyFor(ctx, userID)
	if err != nil {
		return models.Balance{}, err
	}
	b, err := s.store.Balance(ctx, a.ID, s.currencyOr(currency))
	if err != nil {
		return models.Balance{}, fmt.Errorf("balance for agency %s: %w", a.ID, err)
	}
	return b, nil
}

// RequestWithdrawal reserves amount from the balance until an admin decides.
func (s *Service) RequestWithdrawal(ctx context.Context, userID string, in WithdrawalInput) (*models.Withdrawal, models.Balance, error) {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, models.Balance{}, booking.Invalid(fmt.Sprintf("%s failed on '%s'", verrs[0].Field(), verrs[0].Tag()))
		}
		return nil, models.Balance{}, booking.Invalid("invalid request")
	}
	a, err := s.agencies.AgencyFor(ctx, userID)
	if err != nil {
		return nil, models.Balance{}, err
	}

	w := &models.Withdrawal{
		ID:            uuid.New().String(),
		AgencyID:      a.ID,
		Amount:        roundCents(in.Amount),
		Currency:      s.currencyOr(in.Currency),
		PaymentMethod: in.PaymentMethod,
		Destination:   in.Destination,
		Status:        models.WithdrawalPending,
		CreatedAt:     s.now().UTC(),
	}
	b, err := s.store.CreateWithdrawal(ctx, w)
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		s.log.Warn("WALLET", fmt.Sprintf("Agency %s asked for %.2f %s with %.2f available", a.ID, w.Amount, w.Currency, b.Available))
		return nil, b, &booking.Error{Kind: booking.ErrValidation, Message: "insufficient balance", Err: err}
	case errors.Is(err, ErrNotFound):
		return nil, b, booking.NotFound("agency not found")
	case err != nil:
		return nil, b, fmt.Errorf("create withdrawal: %w", err)
	}

	s.log.Info("WALLET", fmt.Sprintf("Withdrawal %s of %.2f %s requested by agency %s", w.ID, w.Amount, w.Currency, a.ID))
	return w, b, nil
}

func (s *Service) MyWithdrawals(ctx context.Context, userID string) ([]models.Withdrawal, error) {
	a, err := s.agencies.AgencyFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListWithdrawals(ctx, a.ID, "")
}

func (s *Service) PendingWithdrawals(ctx context.Context) ([]models.Withdrawal, error) {
	return s.store.ListWithdrawals(ctx, "", models.WithdrawalPending)
}

// DecideWithdrawal approves or rejects a pending withdrawal. A rejection
// returns the amount to the balance.
func (s *Service) DecideWithdrawal(ctx context.Context, adminID, id string, approve bool) (*models.Withdrawal, error) {
	to := models.WithdrawalRejected
	if approve {
		to = models.WithdrawalApproved
	}
	changed, err := s.store.Decide(ctx, id, to, adminID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("decide withdrawal %s: %w", id, err)
	}

	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, booking.NotFound("withdrawal not found")
		}
		return nil, err
	}
	if !changed {
		return w, booking.Invalid(fmt.Sprintf("withdrawal is already %s", w.Status))
	}
	s.log.Info("WALLET", fmt.Sprintf("Withdrawal %s %s by %s", id, to, adminID))
	return w, nil
}

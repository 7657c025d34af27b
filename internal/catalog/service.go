package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/pricing"
)

type Store interface {
	AgencyByOwner(ctx context.Context, userID string) (*models.Agency, error)
	CreateAgency(ctx context.Context, a *models.Agency) error
	Insert(ctx context.Context, listing interface{}) error
	Get(ctx context.Context, kind models.ResourceKind, id string) (*models.Resource, error)
	ListByStatus(ctx context.Context, kind models.ResourceKind, status models.ResourceStatus, limit, offset int) (interface{}, error)
	UpdateDiscounts(ctx context.Context, kind models.ResourceKind, id string, rules []models.DiscountRule) error
	SetStatus(ctx context.Context, kind models.ResourceKind, id string, from []models.ResourceStatus, to models.ResourceStatus) (bool, error)
	DeleteUnbooked(ctx context.Context, kind models.ResourceKind, id string) (bool, error)
}

type AgencyInput struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
}

type TripInput struct {
	Title             string                `json:"title" validate:"required,max=200"`
	Destination       string                `json:"destination" validate:"required,max=200"`
	BasePrice         float64               `json:"base_price" validate:"gt=0"`
	ChildPrice        float64               `json:"child_price" validate:"gte=0"`
	Currency          string                `json:"currency" validate:"omitempty,iso4217"`
	Capacity          int                   `json:"capacity" validate:"gt=0,lte=1000"`
	DepartureDate     string                `json:"departure_date" validate:"required,datetime=2006-01-02"`
	ReturnDate        string                `json:"return_date" validate:"required,datetime=2006-01-02"`
	AdvancePercentage int                   `json:"advance_percentage" validate:"gte=0,lt=100"`
	Discounts         []models.DiscountRule `json:"discounts"`
}

type CarInput struct {
	Title     string                `json:"title" validate:"required,max=200"`
	Location  string                `json:"location" validate:"required,max=200"`
	BasePrice float64               `json:"base_price" validate:"gt=0"`
	Currency  string                `json:"currency" validate:"omitempty,iso4217"`
	Quantity  int                   `json:"quantity" validate:"gt=0,lte=500"`
	Discounts []models.DiscountRule `json:"discounts"`
}

type RoomInput struct {
	Title      string                `json:"title" validate:"required,max=200"`
	Hotel      string                `json:"hotel" validate:"required,max=200"`
	BasePrice  float64               `json:"base_price" validate:"gt=0"`
	ChildPrice float64               `json:"child_price" validate:"gte=0"`
	Currency   string                `json:"currency" validate:"omitempty,iso4217"`
	MaxGuests  int                   `json:"max_guests" validate:"gt=0,lte=20"`
	Discounts  []models.DiscountRule `json:"discounts"`
}

const defaultCurrency = "TND"

type Service struct {
	store    Store
	validate *validator.Validate
	log      *logger.Logger
	now      func() time.Time
}

func NewService(store Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Service{store: store, validate: validator.New(), log: log, now: time.Now}
}

func (s *Service) check(in interface{}) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return booking.Invalid(fmt.Sprintf("%s failed on '%s'", verrs[0].Field(), verrs[0].Tag()))
		}
		return booking.Invalid("invalid request")
	}
	return nil
}

// RegisterAgency creates the caller's agency. A user owns at most one.
func (s *Service) RegisterAgency(ctx context.Context, userID string, in AgencyInput) (*models.Agency, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if _, err := s.store.AgencyByOwner(ctx, userID); err == nil {
		return nil, booking.Invalid("you already own an agency")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	a := &models.Agency{
		ID:          uuid.New().String(),
		OwnerUserID: userID,
		Name:        in.Name,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateAgency(ctx, a); err != nil {
		return nil, fmt.Errorf("create agency: %w", err)
	}
	s.log.Info("CATALOG", fmt.Sprintf("Agency %s registered by %s", a.ID, userID))
	return a, nil
}

// AgencyFor returns the agency owned by userID.
func (s *Service) AgencyFor(ctx context.Context, userID string) (*models.Agency, error) {
	a, err := s.store.AgencyByOwner(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, booking.Forbidden("register an agency first")
		}
		return nil, err
	}
	return a, nil
}

func (s *Service) CreateTrip(ctx context.Context, userID string, in TripInput) (*models.Trip, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	agency, err := s.AgencyFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	rules, err := normalize(in.Discounts)
	if err != nil {
		return nil, err
	}
	departure, _ := time.Parse("2006-01-02", in.DepartureDate)
	ret, _ := time.Parse("2006-01-02", in.ReturnDate)
	if ret.Before(departure) {
		return nil, booking.Invalid("return_date must not be before departure_date")
	}
	if departure.Before(models.DateOnly(s.now())) {
		return nil, booking.Invalid("departure_date is in the past")
	}

	now := s.now().UTC()
	trip := &models.Trip{
		ID:                uuid.New().String(),
		AgencyID:          agency.ID,
		Title:             in.Title,
		Destination:       in.Destination,
		BasePrice:         in.BasePrice,
		ChildPrice:        in.ChildPrice,
		Currency:          currencyOrDefault(in.Currency),
		Capacity:          in.Capacity,
		AvailableSeats:    in.Capacity,
		DepartureDate:     departure,
		ReturnDate:        ret,
		AdvancePercentage: in.AdvancePercentage,
		Discounts:         rules,
		Status:            models.ResourcePending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Insert(ctx, trip); err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}
	s.log.Info("CATALOG", fmt.Sprintf("Trip %s created for agency %s", trip.ID, agency.ID))
	return trip, nil
}

func (s *Service) CreateCar(ctx context.Context, userID string, in CarInput) (*models.Car, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	agency, err := s.AgencyFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	rules, err := normalize(in.Discounts)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	car := &models.Car{
		ID:        uuid.New().String(),
		AgencyID:  agency.ID,
		Title:     in.Title,
		Location:  in.Location,
		BasePrice: in.BasePrice,
		Currency:  currencyOrDefault(in.Currency),
		Quantity:  in.Quantity,
		Discounts: rules,
		Status:    models.ResourcePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, car); err != nil {
		return nil, fmt.Errorf("create car: %w", err)
	}
	s.log.Info("CATALOG", fmt.Sprintf("Car %s created for agency %s", car.ID, agency.ID))
	return car, nil
}

func (s *Service) CreateRoom(ctx context.Context, userID string, in RoomInput) (*models.Room, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	agency, err := s.AgencyFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	rules, err := normalize(in.Discounts)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	room := &models.Room{
		ID:         uuid.New().String(),
		AgencyID:   agency.ID,
		Title:      in.Title,
		Hotel:      in.Hotel,
		BasePrice:  in.BasePrice,
		ChildPrice: in.ChildPrice,
		Currency:   currencyOrDefault(in.Currency),
		MaxGuests:  in.MaxGuests,
		Discounts:  rules,
		Status:     models.ResourcePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Insert(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	s.log.Info("CATALOG", fmt.Sprintf("Room %s created for agency %s", room.ID, agency.ID))
	return room, nil
}

// SetDiscounts replaces a listing's discount rules.
func (s *Service) SetDiscounts(ctx context.Context, userID string, kind models.ResourceKind, id string, rules []models.DiscountRule) ([]models.DiscountRule, error) {
	if _, err := s.owned(ctx, userID, kind, id); err != nil {
		return nil, err
	}
	normalized, err := normalize(rules)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateDiscounts(ctx, kind, id, normalized); err != nil {
		return nil, fmt.Errorf("update discounts: %w", err)
	}
	s.log.Info("CATALOG", fmt.Sprintf("Discounts of %s %s replaced (%d rules)", kind, id, len(normalized)))
	return normalized, nil
}

// Moderate is the admin decision on a pending listing.
func (s *Service) Moderate(ctx context.Context, adminID string, kind models.ResourceKind, id string, approve bool) error {
	if !kind.Valid() {
		return booking.Invalid("unknown resource kind")
	}
	to := models.ResourceRejected
	if approve {
		to = models.ResourceApproved
	}
	changed, err := s.store.SetStatus(ctx, kind, id, []models.ResourceStatus{models.ResourcePending}, to)
	if err != nil {
		return fmt.Errorf("moderate %s: %w", kind, err)
	}
	if !changed {
		if _, err := s.store.Get(ctx, kind, id); errors.Is(err, ErrNotFound) {
			return booking.NotFound(fmt.Sprintf("%s not found", kind))
		}
		return booking.Invalid("only pending listings can be moderated")
	}
	s.log.LogSecurity("MODERATION", fmt.Sprintf("%s %s %s by %s", kind, id, to, adminID))
	return nil
}

// Archive hides a listing from new bookings; existing ones stay valid.
func (s *Service) Archive(ctx context.Context, userID string, kind models.ResourceKind, id string) error {
	if _, err := s.owned(ctx, userID, kind, id); err != nil {
		return err
	}
	changed, err := s.store.SetStatus(ctx, kind, id,
		[]models.ResourceStatus{models.ResourcePending, models.ResourceApproved, models.ResourceRejected},
		models.ResourceArchived)
	if err != nil {
		return fmt.Errorf("archive %s: %w", kind, err)
	}
	if !changed {
		return booking.Invalid("listing is already archived")
	}
	s.log.Info("CATALOG", fmt.Sprintf("%s %s archived", kind, id))
	return nil
}

// Delete removes a listing that was never booked; booked ones must be
// archived instead.
func (s *Service) Delete(ctx context.Context, userID string, kind models.ResourceKind, id string) error {
	if _, err := s.owned(ctx, userID, kind, id); err != nil {
		return err
	}
	deleted, err := s.store.DeleteUnbooked(ctx, kind, id)
	if err != nil {
		return err
	}
	if !deleted {
		return booking.Invalid("listing has bookings, archive it instead")
	}
	s.log.Info("CATALOG", fmt.Sprintf("%s %s deleted", kind, id))
	return nil
}

// Browse lists approved listings of one kind.
func (s *Service) Browse(ctx context.Context, kind models.ResourceKind, limit, offset int) (interface{}, error) {
	if !kind.Valid() {
		return nil, booking.Invalid("unknown resource kind")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByStatus(ctx, kind, models.ResourceApproved, limit, offset)
}

// Pending lists listings awaiting moderation.
func (s *Service) Pending(ctx context.Context, kind models.ResourceKind) (interface{}, error) {
	if !kind.Valid() {
		return nil, booking.Invalid("unknown resource kind")
	}
	return s.store.ListByStatus(ctx, kind, models.ResourcePending, 100, 0)
}

func (s *Service) owned(ctx context.Context, userID string, kind models.ResourceKind, id string) (*models.Resource, error) {
	if !kind.Valid() {
		return nil, booking.Invalid("unknown resource kind")
	}
	agency, err := s.AgencyFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	res, err := s.store.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, booking.NotFound(fmt.Sprintf("%s not found", kind))
		}
		return nil, err
	}
	if res.AgencyID != agency.ID {
		s.log.LogSecurity("OWNERSHIP", fmt.Sprintf("user %s touched %s %s of agency %s", userID, kind, id, res.AgencyID))
		return nil, booking.Forbidden("this listing belongs to another agency")
	}
	return res, nil
}

func normalize(rules []models.DiscountRule) ([]models.DiscountRule, error) {
	out, err := pricing.NormalizeRules(rules)
	if err != nil {
		return nil, booking.Invalid(err.Error())
	}
	return out, nil
}

func currencyOrDefault(c string) string {
	if c == "" {
		return defaultCurrency
	}
	return c
}

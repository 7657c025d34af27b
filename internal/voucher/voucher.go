package voucher

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/skip2/go-qrcode"

	"ms-booking/internal/models"
)

var (
	ErrNoSecret     = errors.New("voucher secret is not configured")
	ErrNotConfirmed = errors.New("only confirmed reservations have a voucher")
	ErrInvalid      = errors.New("invalid voucher")
)

const dateLayout = "2006-01-02"

// Claims identify the booking a voucher admits.
type Claims struct {
	ReservationID string              `json:"rid"`
	Kind          models.ResourceKind `json:"kind"`
	ResourceID    string              `json:"res"`
	AgencyID      string              `json:"agency"`
	StartDate     string              `json:"start"`
	EndDate       string              `json:"end"`
	Quantity      int                 `json:"qty"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	issuer string
}

// NewIssuer hashes secret to a fixed-size HMAC key.
func NewIssuer(secret, issuer string) *Issuer {
	if secret == "" {
		return &Issuer{issuer: issuer}
	}
	hashed := sha256.Sum256([]byte(secret))
	return &Issuer{secret: hashed[:], issuer: issuer}
}

// Issue signs a voucher valid until the day after the booking ends.
func (i *Issuer) Issue(r *models.Reservation, now time.Time) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoSecret
	}
	if r.Status != models.BookingConfirmed {
		return "", ErrNotConfirmed
	}

	claims := Claims{
		ReservationID: r.ID,
		Kind:          r.Kind,
		ResourceID:    r.ResourceID,
		AgencyID:      r.AgencyID,
		StartDate:     r.StartDate.Format(dateLayout),
		EndDate:       r.EndDate.Format(dateLayout),
		Quantity:      r.Quantity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   r.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(models.DateOnly(r.EndDate).AddDate(0, 0, 2)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign voucher: %w", err)
	}
	return token, nil
}

// Verify checks signature, issuer and expiry.
func (i *Issuer) Verify(token string) (*Claims, error) {
	if len(i.secret) == 0 {
		return nil, ErrNoSecret
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(i.issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.ReservationID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// QR renders the token as a PNG.
func QR(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(token, qrcode.Medium, size)
}

package voucher

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/models"
)

func confirmed() *models.Reservation {
	start := models.DateOnly(time.Now().AddDate(0, 1, 0))
	return &models.Reservation{
		ID:         "res-1",
		Kind:       models.KindRoom,
		ResourceID: "room-1",
		AgencyID:   "agency-1",
		UserID:     "user-1",
		Quantity:   1,
		StartDate:  start,
		EndDate:    start.AddDate(0, 0, 4),
		Status:     models.BookingConfirmed,
	}
}

func TestIssueAndVerify(t *testing.T) {
	iss := NewIssuer("s3cret", "ms-booking")

	token, err := iss.Issue(confirmed(), time.Now())
	require.NoError(t, err)

	claims, err := iss.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "res-1", claims.ReservationID)
	assert.Equal(t, models.KindRoom, claims.Kind)
	assert.Equal(t, "agency-1", claims.AgencyID)
	assert.Equal(t, models.DateOnly(time.Now().AddDate(0, 1, 0)).Format("2006-01-02"), claims.StartDate)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestIssue_RequiresConfirmation(t *testing.T) {
	iss := NewIssuer("s3cret", "ms-booking")
	r := confirmed()
	r.Status = models.BookingPending

	_, err := iss.Issue(r, time.Now())
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestVerify_Rejects(t *testing.T) {
	iss := NewIssuer("s3cret", "ms-booking")
	token, err := iss.Issue(confirmed(), time.Now())
	require.NoError(t, err)

	_, err = NewIssuer("other", "ms-booking").Verify(token)
	assert.ErrorIs(t, err, ErrInvalid, "wrong key")

	_, err = NewIssuer("s3cret", "someone-else").Verify(token)
	assert.ErrorIs(t, err, ErrInvalid, "wrong issuer")

	_, err = iss.Verify(token + "x")
	assert.ErrorIs(t, err, ErrInvalid, "tampered")

	old := confirmed()
	old.EndDate = time.Now().AddDate(0, 0, -10)
	expired, err := iss.Issue(old, time.Now().AddDate(0, 0, -20))
	require.NoError(t, err)
	_, err = iss.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalid, "expired")
}

func TestNoSecret(t *testing.T) {
	iss := NewIssuer("", "ms-booking")
	_, err := iss.Issue(confirmed(), time.Now())
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = iss.Verify("anything")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestQR(t *testing.T) {
	png, err := QR("token", 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestPDF(t *testing.T) {
	iss := NewIssuer("s3cret", "ms-booking")
	r := confirmed()
	r.TotalPrice, r.Currency = 480, "TND"

	token, err := iss.Issue(r, time.Now())
	require.NoError(t, err)

	doc, err := PDF(r, token)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
	assert.Greater(t, len(doc), 1000)
}

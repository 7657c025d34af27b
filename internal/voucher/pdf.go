package voucher

import (
	"bytes"
	"fmt"
	"image/png"
	"strconv"

	"github.com/signintech/gopdf"
	"golang.org/x/image/font/gofont/goregular"

	"ms-booking/internal/models"
)

const fontName = "goregular"

// PDF lays the voucher out on a single A4 page: booking details followed by
// the QR code encoding token.
func PDF(r *models.Reservation, token string) ([]byte, error) {
	qr, err := QR(token, 512)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}

	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFontData(fontName, goregular.TTF); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	if err := pdf.SetFont(fontName, "", 14); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}

	addHeader(pdf, r)

	pdf.SetY(90)
	if err := addDetails(pdf, r); err != nil {
		return nil, err
	}

	pdf.SetY(pdf.GetY() + 20)
	if err := addQRCode(pdf, qr); err != nil {
		return nil, err
	}

	pdf.SetY(780)
	pdf.SetX(40)
	_ = pdf.Cell(nil, "Present this voucher to the agency at check-in.")

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func addHeader(pdf *gopdf.GoPdf, r *models.Reservation) {
	pdf.SetX(40)
	pdf.SetY(40)
	_ = pdf.SetFontSize(20)
	_ = pdf.Cell(nil, "BOOKING VOUCHER - "+string(r.Kind))
	_ = pdf.SetFontSize(14)
}

func addDetails(pdf *gopdf.GoPdf, r *models.Reservation) error {
	lines := []struct {
		Label string
		Value string
	}{
		{"Reservation", r.ID},
		{"Listing", r.ResourceID},
		{"From", r.StartDate.Format(dateLayout)},
		{"To", r.EndDate.Format(dateLayout)},
		{"Quantity", strconv.Itoa(r.Quantity)},
		{"Travelers", fmt.Sprintf("%d adults, %d children", r.Adults, r.Children)},
		{"Total", fmt.Sprintf("%.2f %s", r.TotalPrice, r.Currency)},
	}
	if r.IsAdvance {
		lines = append(lines, struct {
			Label string
			Value string
		}{"Paid in advance", fmt.Sprintf("%.2f %s", r.AmountDue, r.Currency)})
	}

	for _, l := range lines {
		pdf.SetX(40)
		if err := pdf.Cell(nil, l.Label+": "+l.Value); err != nil {
			return fmt.Errorf("write %s: %w", l.Label, err)
		}
		pdf.Br(22)
	}
	return nil
}

func addQRCode(pdf *gopdf.GoPdf, qr []byte) error {
	img, err := png.Decode(bytes.NewReader(qr))
	if err != nil {
		return fmt.Errorf("decode qr: %w", err)
	}
	if err := pdf.ImageFrom(img, 40, pdf.GetY(), &gopdf.Rect{W: 200, H: 200}); err != nil {
		return fmt.Errorf("draw qr: %w", err)
	}
	return nil
}

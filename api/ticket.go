package api

import (
	"bytes"
	"fmt"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/warp/seat-engine/reservation"
)

// renderTicket draws a one-page A4 e-ticket for the booking.
func renderTicket(v *reservation.BookingView, issuedAt time.Time) ([]byte, error) {
	b := v.Booking

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket "+b.PNR, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "ELECTRONIC RESERVATION SLIP")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, fmt.Sprintf("PNR %s   %s", b.PNR, b.Status))
	pdf.Ln(10)

	trainName := ""
	if v.Train != nil {
		trainName = v.Train.Name
	}
	departs := ""
	if v.Run != nil {
		departs = v.Run.DepartureAt.UTC().Format("2006-01-02 15:04")
	}
	arrives := ""
	if !v.ArrivesAt.IsZero() {
		arrives = v.ArrivesAt.UTC().Format("2006-01-02 15:04")
	}

	pdf.SetFont("Helvetica", "", 11)
	for _, line := range []string{
		fmt.Sprintf("Train      : %s %s", b.Key.TrainNumber, trainName),
		fmt.Sprintf("Class      : %s", b.Key.Class),
		fmt.Sprintf("From       : %s (%s)", v.Origin.Name, v.Origin.Code),
		fmt.Sprintf("To         : %s (%s)", v.Destination.Name, v.Destination.Code),
		fmt.Sprintf("Departure  : %s", departs),
		fmt.Sprintf("Arrival    : %s", arrives),
		fmt.Sprintf("Payment    : %s", b.PaymentMode),
	} {
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}
	pdf.Ln(4)

	widths := []float64{10, 60, 14, 20, 36, 40}
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range []string{"#", "Name", "Age", "Gender", "Status", "Coach/Berth"} {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, c := range b.Passengers {
		cells := []string{
			fmt.Sprint(c.Seq),
			c.Name,
			fmt.Sprint(c.Age),
			string(c.Gender),
			string(c.Status),
			c.Assignment(),
		}
		if c.Status == reservation.StatusCancelled {
			cells[5] = "-"
		}
		for i, s := range cells {
			pdf.CellFormat(widths[i], 7, s, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Total fare: INR "+money(b.TotalFare))
	pdf.Ln(8)
	if c := b.Cancellation; c != nil {
		pdf.SetFont("Helvetica", "", 11)
		pdf.Cell(0, 6, fmt.Sprintf("Cancelled %s: charge INR %s, refund INR %s",
			c.CancelledAt.UTC().Format("2006-01-02 15:04"), money(c.Charge), money(c.Refund)))
		pdf.Ln(8)
	}

	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, fmt.Sprintf(
		"Issued %s UTC. RAC passengers share a berth; waitlisted passengers may not board unless confirmed or RAC.",
		issuedAt.UTC().Format("2006-01-02 15:04")), "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render ticket %s: %w", b.PNR, err)
	}
	return buf.Bytes(), nil
}

package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"example.com/uavlog/internal/flight"
	"example.com/uavlog/internal/flightmode"
)

// SaveFlightPDF renders the flight summary into a PDF document. The sha256
// of the source log, when present, is embedded both as text and as a QR
// code so the report can be traced back to the recording.
func SaveFlightPDF(sum flight.Summary, sha string, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Flight Report", false)
	pdf.SetAuthor("uavlogctl", false)
	pdf.SetCreator("uavlogctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Flight Report")
	addSummarySection(pdf, sum)
	addModeSection(pdf, sum.Modes)
	addHashSection(pdf, sha)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSummarySection(pdf *gofpdf.Fpdf, sum flight.Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Log", value: emptyFallback(filepath.Base(sum.Path), "-")},
		{label: "Firmware", value: emptyFallback(string(sum.Firmware), "-")},
		{label: "Rows", value: strconv.Itoa(sum.Rows)},
		{label: "Duration", value: fmt.Sprintf("%.1f s", sum.Duration)},
		{label: "Max Relative Altitude", value: fmt.Sprintf("%.1f m", sum.MaxRelativeAlt)},
		{label: "Max Vibration", value: fmt.Sprintf("%.1f m/s/s", sum.MaxVibration)},
		{label: "Vibration Verdict", value: verdictLabel(sum.VibeVerdict)},
		{label: "Accelerometer Clips", value: strconv.Itoa(int(sum.ClipCount))},
		{label: "GPS Data", value: presenceLabel(sum.HasGPS)},
		{label: "Rate Data", value: presenceLabel(sum.HasRates)},
		{label: "Optical Flow", value: presenceLabel(sum.HasFlow)},
	}
	for _, item := range items {
		pdf.CellFormat(60, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addModeSection(pdf *gofpdf.Fpdf, segments []flightmode.Segment) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Flight Modes")
	pdf.Ln(9)

	if len(segments) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No mode changes recorded.", "", "L", false)
		pdf.Ln(4)
		return
	}

	headers := []string{"Mode", "Start", "End", "Duration"}
	widths := []float64{70, 36, 36, 38}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	lineHeight := 5.0
	for _, seg := range segments {
		values := []string{
			emptyFallback(seg.Mode, "-"),
			fmt.Sprintf("%.2f s", seg.Start),
			fmt.Sprintf("%.2f s", seg.End),
			fmt.Sprintf("%.2f s", seg.End-seg.Start),
		}
		renderTableRow(pdf, widths, values, lineHeight)
	}
	pdf.Ln(4)
}

func addHashSection(pdf *gofpdf.Fpdf, sha string) {
	if strings.TrimSpace(sha) == "" {
		return
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Source Log")
	pdf.Ln(9)

	pdf.SetFont("Courier", "", 9)
	pdf.MultiCell(0, 5, "SHA-256: "+sha, "", "L", false)
	pdf.Ln(2)

	png, err := LogHashToQR(sha, 192)
	if err != nil {
		return
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("log-hash-qr", opts, bytes.NewReader(png))
	pdf.ImageOptions("log-hash-qr", pdf.GetX(), pdf.GetY(), 32, 32, false, opts, 0, "")
	pdf.Ln(36)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		cellText := strings.Join(lines, "\n")
		pdf.MultiCell(widths[i], lineHeight, cellText, "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func verdictLabel(verdict string) string {
	if s := strings.TrimSpace(verdict); s != "" {
		return strings.ToUpper(s)
	}
	return "UNKNOWN"
}

func presenceLabel(present bool) string {
	if present {
		return "present"
	}
	return "absent"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

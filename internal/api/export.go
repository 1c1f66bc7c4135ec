package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"

	"carehq/internal/metrics"
	"carehq/internal/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleExportXLSX writes a tabular snapshot of the user's doctors and
// bills, one sheet each.
// GET /api/export.xlsx?userId=
func (s *HTTPServer) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export_xlsx")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	doc, err := s.store.Load(r.Context(), userID)
	if err != nil {
		s.logger.Error().Str("user_id", userID).Err(err).Msg("xlsx export load failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	f, err := buildWorkbook(doc)
	if err != nil {
		s.logger.Error().Str("user_id", userID).Err(err).Msg("xlsx build failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	filename := fmt.Sprintf("carehq-%s.xlsx", s.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(w); err != nil {
		s.logger.Error().Err(err).Msg("xlsx write failed")
	}
}

func buildWorkbook(doc *models.Document) (*excelize.File, error) {
	f := excelize.NewFile()

	f.SetSheetName("Sheet1", "Doctors")
	if err := writeRow(f, "Doctors", 1, []any{"Name", "Specialty", "Location", "Phone", "Next appointment", "Notes"}); err != nil {
		return nil, err
	}
	for i, d := range doc.Doctors {
		row := []any{d.Name, d.Specialty, d.Location, d.Phone, formatTime(d.NextAppt), d.Notes}
		if err := writeRow(f, "Doctors", i+2, row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet("Bills"); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := writeRow(f, "Bills", 1, []any{"Label", "Amount", "Due date", "Status", "Notes"}); err != nil {
		return nil, err
	}
	for i, b := range doc.Bills {
		row := []any{b.Label, formatAmountCell(b.Amount), formatTime(b.DueDate), string(b.Status), b.Notes}
		if err := writeRow(f, "Bills", i+2, row); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

func formatAmountCell(amount *float64) any {
	if amount == nil {
		return ""
	}
	return *amount
}

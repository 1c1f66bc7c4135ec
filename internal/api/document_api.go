package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"carehq/internal/metrics"
	"carehq/internal/models"
	"carehq/internal/store"
)

// handleDocument serves whole-document export and import.
// GET /api/document?userId=&download=1 | PUT /api/document?userId=
func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("document")

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	switch r.Method {
	case http.MethodGet:
		raw, err := s.store.Export(r.Context(), userID)
		if err != nil {
			s.logger.Error().Str("user_id", userID).Err(err).Msg("export failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if r.URL.Query().Get("download") == "1" {
			filename := fmt.Sprintf("carehq-%s.json", s.now().Format("2006-01-02"))
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)

	case http.MethodPut:
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		if err := s.store.Import(r.Context(), userID, raw); err != nil {
			if errors.Is(err, store.ErrInvalidImport) {
				writeError(w, http.StatusBadRequest, "invalid file")
				return
			}
			s.logger.Error().Str("user_id", userID).Err(err).Msg("import failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		metrics.IncDocumentWrite()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// DoctorRequest is the request body for POST /api/doctors.
type DoctorRequest struct {
	UserID string        `json:"userId"`
	Doctor models.Doctor `json:"doctor"`
}

// handleDoctors creates/updates and deletes doctors.
// POST /api/doctors | DELETE /api/doctors?userId=&id=
func (s *HTTPServer) handleDoctors(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("doctors")

	switch r.Method {
	case http.MethodPost:
		var req DoctorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "missing userId")
			return
		}
		doctor, err := s.store.UpsertDoctor(r.Context(), req.UserID, req.Doctor)
		if err != nil {
			s.logger.Error().Str("user_id", req.UserID).Err(err).Msg("doctor upsert failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		metrics.IncDocumentWrite()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "doctor": doctor})

	case http.MethodDelete:
		userID := r.URL.Query().Get("userId")
		id := r.URL.Query().Get("id")
		if userID == "" || id == "" {
			writeError(w, http.StatusBadRequest, "missing userId or id")
			return
		}
		if err := s.store.DeleteDoctor(r.Context(), userID, id); err != nil {
			s.logger.Error().Str("user_id", userID).Err(err).Msg("doctor delete failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		metrics.IncDocumentWrite()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// BillRequest is the request body for POST /api/bills.
type BillRequest struct {
	UserID string      `json:"userId"`
	Bill   models.Bill `json:"bill"`
}

// handleBills creates/updates and deletes bills.
// POST /api/bills | DELETE /api/bills?userId=&id=
func (s *HTTPServer) handleBills(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bills")

	switch r.Method {
	case http.MethodPost:
		var req BillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "missing userId")
			return
		}
		bill, err := s.store.UpsertBill(r.Context(), req.UserID, req.Bill)
		if err != nil {
			s.logger.Error().Str("user_id", req.UserID).Err(err).Msg("bill upsert failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		metrics.IncDocumentWrite()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "bill": bill})

	case http.MethodDelete:
		userID := r.URL.Query().Get("userId")
		id := r.URL.Query().Get("id")
		if userID == "" || id == "" {
			writeError(w, http.StatusBadRequest, "missing userId or id")
			return
		}
		if err := s.store.DeleteBill(r.Context(), userID, id); err != nil {
			s.logger.Error().Str("user_id", userID).Err(err).Msg("bill delete failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		metrics.IncDocumentWrite()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// SettingsRequest is the request body for PUT /api/settings.
type SettingsRequest struct {
	UserID   string          `json:"userId"`
	Settings models.Settings `json:"settings"`
}

// handleSettings replaces the user's settings.
// PUT /api/settings
func (s *HTTPServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("settings")
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	if err := s.store.UpdateSettings(r.Context(), req.UserID, req.Settings); err != nil {
		s.logger.Error().Str("user_id", req.UserID).Err(err).Msg("settings update failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.IncDocumentWrite()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"carehq/internal/models"
	"carehq/internal/push"
	"carehq/internal/subscriptions"
)

// DocumentStore is the store surface the API needs.
type DocumentStore interface {
	Load(ctx context.Context, userID string) (*models.Document, error)
	UpsertDoctor(ctx context.Context, userID string, d models.Doctor) (*models.Doctor, error)
	DeleteDoctor(ctx context.Context, userID, doctorID string) error
	UpsertBill(ctx context.Context, userID string, b models.Bill) (*models.Bill, error)
	DeleteBill(ctx context.Context, userID, billID string) error
	UpdateSettings(ctx context.Context, userID string, s models.Settings) error
	Export(ctx context.Context, userID string) ([]byte, error)
	Import(ctx context.Context, userID string, raw []byte) error
}

// SubscriptionRegistry is the registry surface the API needs.
type SubscriptionRegistry interface {
	Save(ctx context.Context, rec subscriptions.Record) error
}

// PushService dispatches targeted and broadcast pushes.
type PushService interface {
	SendToUser(ctx context.Context, userID string, msg push.Message) error
	Broadcast(ctx context.Context, msg push.Message) (push.BroadcastResult, error)
}

// HTTPServer exposes the Care HQ API.
type HTTPServer struct {
	store          DocumentStore
	subs           SubscriptionRegistry
	pusher         PushService
	vapidPublicKey string
	logger         *zerolog.Logger
	now            func() time.Time
}

// NewHTTPServer wires the API over its collaborators.
func NewHTTPServer(store DocumentStore, subs SubscriptionRegistry, pusher PushService, vapidPublicKey string, logger *zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		store:          store,
		subs:           subs,
		pusher:         pusher,
		vapidPublicKey: vapidPublicKey,
		logger:         logger,
		now:            time.Now,
	}
}

// Register mounts all API routes on the mux.
func (s *HTTPServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/subscribe", s.handleSubscribe)
	mux.HandleFunc("/api/push", s.handlePush)
	mux.HandleFunc("/api/daily", s.handleDaily)
	mux.HandleFunc("/api/gen-keys", s.handleGenKeys)
	mux.HandleFunc("/api/vapid-public-key", s.handleVAPIDPublicKey)
	mux.HandleFunc("/api/document", s.handleDocument)
	mux.HandleFunc("/api/doctors", s.handleDoctors)
	mux.HandleFunc("/api/bills", s.handleBills)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/export.xlsx", s.handleExportXLSX)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

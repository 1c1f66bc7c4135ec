package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"carehq/internal/metrics"
	"carehq/internal/push"
	"carehq/internal/subscriptions"
)

// SubscriptionKeys is the browser-supplied encryption key material.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// SubscriptionPayload is the platform push subscription as sent by the
// client.
type SubscriptionPayload struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

// SubscribeRequest is the request body for POST /api/subscribe.
type SubscribeRequest struct {
	UserID       string               `json:"userId"`
	Subscription *SubscriptionPayload `json:"subscription"`
}

// handleSubscribe stores one push subscription per user, overwriting
// any prior registration.
// POST /api/subscribe
func (s *HTTPServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("subscribe")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Subscription == nil || req.Subscription.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "missing userId or subscription")
		return
	}

	err := s.subs.Save(r.Context(), subscriptions.Record{
		UserID:   req.UserID,
		Endpoint: req.Subscription.Endpoint,
		P256dh:   req.Subscription.Keys.P256dh,
		Auth:     req.Subscription.Keys.Auth,
	})
	if err != nil {
		s.logger.Error().Str("user_id", req.UserID).Err(err).Msg("subscription save failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// PushRequest is the request body for POST /api/push.
type PushRequest struct {
	UserID string         `json:"userId"`
	Title  string         `json:"title,omitempty"`
	Body   string         `json:"body,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// handlePush sends a targeted push to one user's subscription.
// POST /api/push
func (s *HTTPServer) handlePush(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("push")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	msg := push.Message{Title: req.Title, Body: req.Body, Data: req.Data}
	if msg.Title == "" {
		msg.Title = "Care HQ"
	}
	if msg.Body == "" {
		msg.Body = "Test push"
	}

	err := s.pusher.SendToUser(r.Context(), req.UserID, msg)
	if errors.Is(err, push.ErrNoSubscription) {
		writeError(w, http.StatusNotFound, "no subscription for user")
		return
	}
	if err != nil {
		s.logger.Error().Str("user_id", req.UserID).Err(err).Msg("targeted push failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleDaily fires the daily reminder broadcast across every stored
// subscription. Individual delivery failures are swallowed; sent
// reports the number of subscriptions attempted.
// POST /api/daily
func (s *HTTPServer) handleDaily(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("daily")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.pusher.Broadcast(r.Context(), push.DailyMessage(s.now()))
	if err != nil {
		s.logger.Error().Err(err).Msg("daily broadcast failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sent": result.Attempted})
}

// handleGenKeys generates a fresh VAPID key pair. One-time setup helper.
// GET /api/gen-keys
func (s *HTTPServer) handleGenKeys(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("gen_keys")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	publicKey, privateKey, err := push.GenerateVAPIDKeys()
	if err != nil {
		s.logger.Error().Err(err).Msg("key generation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"publicKey":  publicKey,
		"privateKey": privateKey,
	})
}

// handleVAPIDPublicKey returns the configured application server public
// key the client needs to subscribe.
// GET /api/vapid-public-key
func (s *HTTPServer) handleVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("vapid_public_key")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.vapidPublicKey})
}

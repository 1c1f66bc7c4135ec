package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"carehq/internal/events"
	"carehq/internal/models"
)

// Notification is a local reminder raised for an item inside the
// configured lead-time window.
type Notification struct {
	Title string
	Body  string
}

// Notifier delivers a notification to the user, best effort.
type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

// DocumentLoader is the store surface the scanner needs.
type DocumentLoader interface {
	Load(ctx context.Context, userID string) (*models.Document, error)
}

// DueDoctors returns doctors whose next appointment falls within
// [0, window] days of now, at day granularity.
func DueDoctors(doc *models.Document, window int, now time.Time) []models.Doctor {
	var due []models.Doctor
	for _, d := range doc.Doctors {
		if d.NextAppt == nil {
			continue
		}
		days := models.DaysUntil(*d.NextAppt, now)
		if days >= 0 && days <= window {
			due = append(due, d)
		}
	}
	return due
}

// DueBills returns non-paid bills whose due date falls within
// [0, window] days of now.
func DueBills(doc *models.Document, window int, now time.Time) []models.Bill {
	var due []models.Bill
	for _, b := range doc.Bills {
		if b.Status == models.BillStatusPaid || b.DueDate == nil {
			continue
		}
		days := models.DaysUntil(*b.DueDate, now)
		if days >= 0 && days <= window {
			due = append(due, b)
		}
	}
	return due
}

const whenFormat = "Jan 2, 2006 15:04"

// Scan produces one notification per item inside the document's
// configured window. No dedup: an in-window item shows up on every
// scan until it leaves the window.
func Scan(doc *models.Document, now time.Time) []Notification {
	window := doc.Settings.NotifyDaysBefore
	var out []Notification

	for _, d := range DueDoctors(doc, window, now) {
		out = append(out, Notification{
			Title: "Upcoming: " + d.Name,
			Body:  fmt.Sprintf("%s • %s", d.Specialty, d.NextAppt.Format(whenFormat)),
		})
	}
	for _, b := range DueBills(doc, window, now) {
		out = append(out, Notification{
			Title: "Bill due: " + b.Label,
			Body:  fmt.Sprintf("%s • due %s", models.FormatAmount(b.Amount), b.DueDate.Format(whenFormat)),
		})
	}
	return out
}

// Scanner re-scans a user's document on every mutation and raises
// notifications for due items. Dispatch failures are ignored.
type Scanner struct {
	store    DocumentLoader
	notifier Notifier
	logger   *zerolog.Logger
	now      func() time.Time
}

// New creates a scanner over the given store and notifier.
func New(store DocumentLoader, notifier Notifier, logger *zerolog.Logger) *Scanner {
	return &Scanner{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Bind subscribes the scanner to document-updated events on the bus.
func (s *Scanner) Bind(bus *events.Bus) {
	bus.Subscribe(events.TypeDocumentUpdated, func(e events.Event) {
		s.HandleUpdate(context.Background(), e.UserID)
	})
}

// HandleUpdate loads the user's document, scans it, and notifies for
// each due item. Best effort throughout.
func (s *Scanner) HandleUpdate(ctx context.Context, userID string) {
	doc, err := s.store.Load(ctx, userID)
	if err != nil {
		s.logger.Error().Str("user_id", userID).Err(err).Msg("scan: load failed")
		return
	}

	for _, n := range Scan(doc, s.now()) {
		if err := s.notifier.Notify(ctx, userID, n); err != nil {
			s.logger.Debug().Str("user_id", userID).Str("title", n.Title).Err(err).Msg("notification dropped")
		}
	}
}

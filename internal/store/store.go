package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"carehq/internal/events"
	"carehq/internal/models"
)

// Store persists one JSON document per user as a flat blob and raises a
// document.updated event after every successful write.
type Store struct {
	db     *sql.DB
	bus    *events.Bus
	logger *zerolog.Logger
}

// New opens the database at path and runs migrations.
func New(path string, bus *events.Bus, logger *zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &Store{db: db, bus: bus, logger: logger}, nil
}

// NewWithDB wraps an already-open database, running migrations on it.
// The subscription registry shares the same handle.
func NewWithDB(db *sql.DB, bus *events.Bus, logger *zerolog.Logger) (*Store, error) {
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &Store{db: db, bus: bus, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so other repositories can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			user_id TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// Load returns the user's document. A missing row or an unreadable blob
// falls back silently to the built-in seed document; settings are
// normalized so the user id is always present.
func (s *Store) Load(ctx context.Context, userID string) (*models.Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE user_id = ?`, userID).Scan(&body)
	if err == sql.ErrNoRows {
		return models.Seed(userID, time.Now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	var doc models.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		s.logger.Debug().Str("user_id", userID).Err(err).Msg("stored document unreadable, using seed")
		return models.Seed(userID, time.Now()), nil
	}
	doc.Normalize(userID)
	return &doc, nil
}

// Save persists the whole document for the user (last write wins) and
// publishes a document.updated event.
func (s *Store) Save(ctx context.Context, userID string, doc *models.Document) error {
	doc.Normalize(userID)
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (user_id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`,
		userID, string(body), now, now)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.TypeDocumentUpdated, UserID: userID})
	}
	return nil
}

// UpsertDoctor creates or replaces a doctor by id. A doctor without an
// id gets a fresh one. Returns the stored doctor.
func (s *Store) UpsertDoctor(ctx context.Context, userID string, doctor models.Doctor) (*models.Doctor, error) {
	doc, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if doctor.ID == "" {
		doctor.ID = models.NewID()
	}

	replaced := false
	for i := range doc.Doctors {
		if doc.Doctors[i].ID == doctor.ID {
			doc.Doctors[i] = doctor
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Doctors = append(doc.Doctors, doctor)
	}

	if err := s.Save(ctx, userID, doc); err != nil {
		return nil, err
	}
	return &doctor, nil
}

// DeleteDoctor removes the doctor and nulls the doctor reference on
// every bill that pointed at it.
func (s *Store) DeleteDoctor(ctx context.Context, userID, doctorID string) error {
	doc, err := s.Load(ctx, userID)
	if err != nil {
		return err
	}

	kept := doc.Doctors[:0]
	for _, d := range doc.Doctors {
		if d.ID != doctorID {
			kept = append(kept, d)
		}
	}
	doc.Doctors = kept

	for i := range doc.Bills {
		if doc.Bills[i].DoctorID != nil && *doc.Bills[i].DoctorID == doctorID {
			doc.Bills[i].DoctorID = nil
		}
	}

	return s.Save(ctx, userID, doc)
}

// UpsertBill creates or replaces a bill by id.
func (s *Store) UpsertBill(ctx context.Context, userID string, bill models.Bill) (*models.Bill, error) {
	doc, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bill.ID == "" {
		bill.ID = models.NewID()
	}
	if bill.Status != models.BillStatusPaid {
		bill.Status = models.BillStatusDue
	}

	replaced := false
	for i := range doc.Bills {
		if doc.Bills[i].ID == bill.ID {
			doc.Bills[i] = bill
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Bills = append(doc.Bills, bill)
	}

	if err := s.Save(ctx, userID, doc); err != nil {
		return nil, err
	}
	return &bill, nil
}

// DeleteBill removes a bill by id.
func (s *Store) DeleteBill(ctx context.Context, userID, billID string) error {
	doc, err := s.Load(ctx, userID)
	if err != nil {
		return err
	}

	kept := doc.Bills[:0]
	for _, b := range doc.Bills {
		if b.ID != billID {
			kept = append(kept, b)
		}
	}
	doc.Bills = kept

	return s.Save(ctx, userID, doc)
}

// UpdateSettings replaces the user's settings, preserving the stored
// user id.
func (s *Store) UpdateSettings(ctx context.Context, userID string, settings models.Settings) error {
	doc, err := s.Load(ctx, userID)
	if err != nil {
		return err
	}
	settings.UserID = doc.Settings.UserID
	if settings.NotifyDaysBefore < 0 {
		settings.NotifyDaysBefore = 0
	}
	doc.Settings = settings
	return s.Save(ctx, userID, doc)
}

// Export returns the document serialized for download.
func (s *Store) Export(ctx context.Context, userID string) ([]byte, error) {
	doc, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ErrInvalidImport is returned when an import body does not parse as a
// non-null JSON object. State is left unchanged.
var ErrInvalidImport = fmt.Errorf("invalid file: expected a JSON object")

// Import replaces the entire document with the supplied JSON blob. The
// blob must parse as a non-null JSON object; anything else is rejected
// without touching stored state.
func (s *Store) Import(ctx context.Context, userID string, raw []byte) error {
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ErrInvalidImport
	}
	if _, ok := probe.(map[string]any); !ok {
		return ErrInvalidImport
	}

	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ErrInvalidImport
	}
	return s.Save(ctx, userID, &doc)
}

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BillStatus is the payment state of a bill.
type BillStatus string

const (
	BillStatusDue  BillStatus = "due"
	BillStatusPaid BillStatus = "paid"
)

// Doctor is a tracked doctor with an optional next appointment.
type Doctor struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Specialty string     `json:"specialty"`
	Location  string     `json:"location"`
	Phone     string     `json:"phone"`
	NextAppt  *time.Time `json:"nextAppt,omitempty"`
	Notes     string     `json:"notes"`
}

// Bill is a payment reminder, optionally linked to a doctor.
type Bill struct {
	ID       string     `json:"id"`
	DoctorID *string    `json:"doctorId"`
	Label    string     `json:"label"`
	Amount   *float64   `json:"amount,omitempty"`
	DueDate  *time.Time `json:"dueDate,omitempty"`
	Status   BillStatus `json:"status"`
	Notes    string     `json:"notes"`
}

// Settings holds per-installation preferences.
type Settings struct {
	NotifyDaysBefore int    `json:"notifyDaysBefore"`
	Dark             bool   `json:"dark"`
	UserID           string `json:"userId"`
}

// Document is the unit of persistence: everything one user tracks.
type Document struct {
	Doctors  []Doctor `json:"doctors"`
	Bills    []Bill   `json:"bills"`
	Settings Settings `json:"settings"`
}

// NewID returns a fresh opaque identifier for doctors and bills.
func NewID() string {
	return uuid.NewString()
}

// DaysUntil returns the number of calendar days from now until t,
// comparing both at day granularity (time-of-day truncated to midnight).
// Negative values mean t is in the past.
func DaysUntil(t, now time.Time) int {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b) / (24 * time.Hour))
}

// FormatAmount renders a bill amount for notification text.
func FormatAmount(amount *float64) string {
	if amount == nil {
		return "—"
	}
	return fmt.Sprintf("$%.2f", *amount)
}

// Seed returns the built-in starter document used when no stored
// document exists or the stored blob cannot be parsed.
func Seed(userID string, now time.Time) *Document {
	appt := now.Add(14 * 24 * time.Hour)
	due := now.Add(9 * 24 * time.Hour)
	amount := 185.0
	return &Document{
		Doctors: []Doctor{
			{
				ID:        NewID(),
				Name:      "Dr. Singh",
				Specialty: "Primary Care",
				Location:  "South Bend Clinic",
				Phone:     "574-555-0101",
				NextAppt:  &appt,
				Notes:     "Annual physical; bring labs.",
			},
		},
		Bills: []Bill{
			{
				ID:      NewID(),
				Label:   "Anthem premium",
				Amount:  &amount,
				DueDate: &due,
				Status:  BillStatusDue,
				Notes:   "Autopay off until Oct.",
			},
		},
		Settings: Settings{
			NotifyDaysBefore: 3,
			Dark:             true,
			UserID:           userID,
		},
	}
}

// Normalize fills in the fields a document must always carry: a settings
// user id and a valid status on every bill. Settings are created lazily
// this way on first load.
func (d *Document) Normalize(userID string) {
	if d.Settings.UserID == "" {
		d.Settings.UserID = userID
	}
	if d.Settings.NotifyDaysBefore < 0 {
		d.Settings.NotifyDaysBefore = 0
	}
	for i := range d.Bills {
		if d.Bills[i].Status != BillStatusPaid {
			d.Bills[i].Status = BillStatusDue
		}
	}
}

// Doctor returns the doctor with the given id, or nil.
func (d *Document) Doctor(id string) *Doctor {
	for i := range d.Doctors {
		if d.Doctors[i].ID == id {
			return &d.Doctors[i]
		}
	}
	return nil
}

// Package booking defines the canonical booking record and the coercion
// pipeline that maps heterogeneous source rows onto it.
package booking

import (
	"strings"
	"time"
)

// RawRecord is one untyped row as returned by a source.
type RawRecord map[string]any

// Sex is the person's recorded sex.
type Sex string

// Sex values.
const (
	SexMale   Sex = "M"
	SexFemale Sex = "F"
	SexOther  Sex = "X"
)

// Race is the person's recorded race category.
type Race string

// Race values.
const (
	RaceAsian       Race = "A"
	RaceBlack       Race = "B"
	RaceHispanic    Race = "H"
	RaceMultiracial Race = "M"
	RaceNative      Race = "I"
	RaceOther       Race = "O"
	RaceWhite       Race = "W"
)

// Booking is the canonical, validated booking record. Pointer fields are
// optional and nil when the source omitted them or supplied a value that
// failed validation.
type Booking struct {
	County    string `json:"county"`
	BookingID string `json:"booking_id"`
	PersonID  string `json:"person_id"`

	FirstName  string    `json:"first_name"`
	MiddleName *string   `json:"middle_name,omitempty"`
	LastName   string    `json:"last_name"`
	Sex        Sex       `json:"sex"`
	Race       Race      `json:"race"`
	BirthDate  time.Time `json:"birth_date"`
	Address    *string   `json:"address,omitempty"`
	City       string    `json:"city"`
	State      *string   `json:"state,omitempty"`
	ZipCode    *string   `json:"zip_code,omitempty"`
	BookingNum *string   `json:"booking_num,omitempty"`

	BookingDate     time.Time  `json:"booking_date"`
	ReleaseDate     *time.Time `json:"release_date,omitempty"`
	HeldFor         *string    `json:"held_for,omitempty"`
	Classification  *string    `json:"classification,omitempty"`
	ArrestingAgency *string    `json:"arresting_agency,omitempty"`
	Charges         string     `json:"charges"`
	BondTotal       *float64   `json:"bond_total,omitempty"`
	CourtDate       *time.Time `json:"court_date,omitempty"`
}

// Age is the number of whole years between the birth date and now.
func (b Booking) Age(now time.Time) int {
	if b.BirthDate.IsZero() {
		return 0
	}
	now = now.In(b.BirthDate.Location())
	years := now.Year() - b.BirthDate.Year()
	if now.Month() < b.BirthDate.Month() ||
		(now.Month() == b.BirthDate.Month() && now.Day() < b.BirthDate.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// FullName joins first, middle (when present) and last name.
func (b Booking) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{b.FirstName, deref(b.MiddleName), b.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// MailingAddress renders the street address over "city, state zip". Missing
// parts are dropped and the result is trimmed.
func (b Booking) MailingAddress() string {
	line := b.City
	if state := deref(b.State); state != "" {
		if line != "" {
			line += ", "
		}
		line += state
	}
	if zip := deref(b.ZipCode); zip != "" {
		line += " " + zip
	}
	if addr := deref(b.Address); addr != "" {
		line = addr + "\n" + line
	}
	return strings.TrimSpace(line)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

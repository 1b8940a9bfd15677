// Package sink collects validated bookings into run artifacts.
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/booking"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/crawler"
)

// Defaults for CSVConfig.
const (
	DefaultPathTemplate = "exports/{name}/{time}.csv"
	DefaultFeedName     = "bookings"
	CSVContentType      = "text/csv; charset=utf-8"
	timeLayout          = "2006-01-02T15-04-05Z"
)

// ErrClosed is returned when writing to a sink that was already closed.
var ErrClosed = errors.New("sink closed")

// Columns is the header row of the CSV feed: the stored fields followed by
// the computed ones.
var Columns = []string{
	booking.FieldCounty,
	booking.FieldBookingID,
	booking.FieldPersonID,
	booking.FieldBookingNum,
	booking.FieldBookingDate,
	booking.FieldReleaseDate,
	booking.FieldHeldFor,
	booking.FieldFirstName,
	booking.FieldMiddleName,
	booking.FieldLastName,
	booking.FieldSex,
	booking.FieldRace,
	booking.FieldBirthDate,
	booking.FieldClassification,
	booking.FieldArrestingAgency,
	booking.FieldAddress,
	booking.FieldCity,
	booking.FieldState,
	booking.FieldZipCode,
	booking.FieldCharges,
	booking.FieldBondTotal,
	booking.FieldCourtDate,
	"age",
	"full_name",
	"mailing_address",
}

// CSVConfig controls where the feed is written. PathTemplate understands the
// {name}, {time} and {run} placeholders.
type CSVConfig struct {
	PathTemplate string
	Name         string
	RunID        string
}

// CSV buffers bookings as UTF-8 CSV and uploads a single object on Close.
type CSV struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	w       *csv.Writer
	store   crawler.BlobStore
	hasher  crawler.Hasher
	clock   crawler.Clock
	path    string
	records int
	closed  bool
}

// NewCSV creates a CSV sink. The object path is fixed from the clock at
// construction, so one run yields one artifact.
func NewCSV(store crawler.BlobStore, hasher crawler.Hasher, clock crawler.Clock, cfg CSVConfig) (*CSV, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.PathTemplate == "" {
		cfg.PathTemplate = DefaultPathTemplate
	}
	if cfg.Name == "" {
		cfg.Name = DefaultFeedName
	}
	s := &CSV{
		store:  store,
		hasher: hasher,
		clock:  clock,
		path:   ObjectPath(cfg.PathTemplate, cfg.Name, cfg.RunID, clock.Now()),
	}
	s.w = csv.NewWriter(&s.buf)
	if err := s.w.Write(Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return s, nil
}

// ObjectPath expands a feed path template.
func ObjectPath(template, name, runID string, at time.Time) string {
	return strings.NewReplacer(
		"{name}", name,
		"{time}", at.UTC().Format(timeLayout),
		"{run}", runID,
	).Replace(template)
}

// Path is the object path the feed will be uploaded to.
func (s *CSV) Path() string {
	return s.path
}

// Write appends one booking. Computed columns are evaluated against the
// sink's clock at write time.
func (s *CSV) Write(_ context.Context, b booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.w.Write(Row(b, s.clock.Now())); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	s.records++
	return nil
}

// Close flushes the feed and uploads it.
func (s *CSV) Close(ctx context.Context) ([]crawler.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.closed = true
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	data := s.buf.Bytes()

	var digest string
	if s.hasher != nil {
		var err error
		if digest, err = s.hasher.Hash(data); err != nil {
			return nil, fmt.Errorf("hash feed: %w", err)
		}
	}
	uri, err := s.store.PutObject(ctx, s.path, CSVContentType, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("upload feed: %w", err)
	}
	return []crawler.Artifact{{
		Sink:    "csv",
		URI:     uri,
		Digest:  digest,
		Records: s.records,
	}}, nil
}

// Row renders b in Columns order. Absent optional fields are empty cells.
func Row(b booking.Booking, now time.Time) []string {
	return []string{
		b.County,
		b.BookingID,
		b.PersonID,
		str(b.BookingNum),
		stamp(&b.BookingDate),
		stamp(b.ReleaseDate),
		str(b.HeldFor),
		b.FirstName,
		str(b.MiddleName),
		b.LastName,
		string(b.Sex),
		string(b.Race),
		b.BirthDate.Format(time.DateOnly),
		str(b.Classification),
		str(b.ArrestingAgency),
		str(b.Address),
		b.City,
		str(b.State),
		str(b.ZipCode),
		b.Charges,
		money(b.BondTotal),
		stamp(b.CourtDate),
		strconv.Itoa(b.Age(now)),
		b.FullName(),
		b.MailingAddress(),
	}
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func money(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 2, 64)
}

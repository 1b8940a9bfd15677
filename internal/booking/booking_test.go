package booking

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func caddoRecord() RawRecord {
	return RawRecord{
		"BookingID":      "13826",
		"InmateID":       "40730",
		"BookingNum":     "25-0048",
		"BookingDate":    "2025-01-22T02:44:00",
		"ReleaseDate":    "",
		"heldfor":        "",
		"FullName":       "TESTLAST, TESTMIDDLE TESTFIRST",
		"FName":          "TESTFIRST",
		"MName":          "TESTMIDDLE",
		"LName":          "TESTLAST",
		"Sex":            "M",
		"Race":           "W",
		"Classification": "Minimum Security",
		"Pic":            "testpic.bmp",
		"Address":        "PO BOX 502",
		"City":           "EAKLY",
		"State":          "OK",
		"Zip":            "730  ",
		"Charges":        "DRIVING WHILE LICENSE SUSPENDED (DUS) OR REVOKED (DUR)",
		"dob":            "01/01/1976",
	}
}

func TestCoerceSourceRecord(t *testing.T) {
	t.Parallel()

	b, err := Coerce(caddoRecord(), "Caddo")
	require.NoError(t, err)

	assert.Equal(t, "Caddo", b.County)
	assert.Equal(t, "13826", b.BookingID)
	assert.Equal(t, "40730", b.PersonID)
	require.NotNil(t, b.BookingNum)
	assert.Equal(t, "25-0048", *b.BookingNum)
	assert.Equal(t, time.Date(2025, 1, 22, 2, 44, 0, 0, time.UTC), b.BookingDate.UTC())
	assert.Nil(t, b.ReleaseDate, "empty release date is absent")
	assert.Nil(t, b.HeldFor)
	assert.Equal(t, SexMale, b.Sex)
	assert.Equal(t, RaceWhite, b.Race)
	require.NotNil(t, b.State)
	assert.Equal(t, "OK", *b.State)
	assert.Nil(t, b.ZipCode, "malformed zip degrades to absent")
	assert.Equal(t, time.Date(1976, 1, 1, 0, 0, 0, 0, time.UTC), b.BirthDate)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 49, b.Age(now))
	assert.Equal(t, "TESTFIRST TESTMIDDLE TESTLAST", b.FullName())
	assert.Equal(t, "PO BOX 502\nEAKLY, OK", b.MailingAddress())

	b.MiddleName = nil
	assert.Equal(t, "TESTFIRST TESTLAST", b.FullName())
}

func TestCoerceMinimalRecord(t *testing.T) {
	t.Parallel()

	bookedAt := time.Date(2025, 3, 4, 5, 6, 0, 0, time.UTC)
	raw := RawRecord{
		"FName":       "A",
		"LName":       "B",
		"BookingID":   "1",
		"InmateID":    "2",
		"BookingDate": bookedAt,
		"Sex":         "M",
		"Race":        "W",
		"City":        "X",
		"Charges":     "c",
		"dob":         "01/01/1976",
		"county":      "Test",
	}

	b, err := Coerce(raw, "Test")
	require.NoError(t, err)
	assert.Equal(t, bookedAt, b.BookingDate, "structured timestamps pass through")
	assert.Equal(t, "A B", b.FullName())
	assert.Equal(t, 49, b.Age(time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "X", b.MailingAddress())
}

func TestCoerceRequiredFailures(t *testing.T) {
	t.Parallel()

	raw := caddoRecord()
	delete(raw, "FName")
	raw["Sex"] = "Q"
	raw["BookingDate"] = "not a date"
	raw["City"] = "   "

	_, err := Coerce(raw, "Caddo")
	var invalid *RecordValidationError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "Caddo", invalid.Source)
	assert.ElementsMatch(t,
		[]string{FieldFirstName, FieldSex, FieldBookingDate, FieldCity},
		invalid.FieldNames(),
	)
	for _, f := range invalid.Fields {
		switch f.Field {
		case FieldFirstName:
			assert.ErrorIs(t, f, ErrMissing)
		case FieldCity:
			assert.ErrorIs(t, f, ErrEmpty)
		}
	}
}

func TestCoerceOptionalFailuresDegradeToAbsent(t *testing.T) {
	t.Parallel()

	raw := caddoRecord()
	raw["State"] = "Germany"
	raw["ReleaseDate"] = "whenever"
	raw["BondTotal"] = "-50"
	raw["CourtDate"] = map[string]any{"date": "2025-01-01"}

	b, err := Coerce(raw, "Caddo")
	require.NoError(t, err)
	assert.Nil(t, b.State)
	assert.Nil(t, b.ReleaseDate)
	assert.Nil(t, b.BondTotal)
	assert.Nil(t, b.CourtDate)
}

func TestCoerceOptionalValues(t *testing.T) {
	t.Parallel()

	raw := caddoRecord()
	raw["State"] = " maryland "
	raw["Zip"] = "73001-1234"
	raw["BondTotal"] = "$1,500.50"
	raw["ReleaseDate"] = "02/03/2025"
	raw["heldfor"] = " US MARSHALS "
	raw["BookingID"] = 13826.0

	b, err := Coerce(raw, "Caddo")
	require.NoError(t, err)
	require.NotNil(t, b.State)
	assert.Equal(t, "MD", *b.State)
	require.NotNil(t, b.ZipCode)
	assert.Equal(t, "73001-1234", *b.ZipCode)
	require.NotNil(t, b.BondTotal)
	assert.InDelta(t, 1500.50, *b.BondTotal, 0.001)
	require.NotNil(t, b.ReleaseDate)
	assert.Equal(t, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), *b.ReleaseDate)
	require.NotNil(t, b.HeldFor)
	assert.Equal(t, "US MARSHALS", *b.HeldFor)
	assert.Equal(t, "13826", b.BookingID)
	assert.Equal(t, "PO BOX 502\nEAKLY, MD 73001-1234", b.MailingAddress())
}

func TestCoerceLargeNumericIdentifiers(t *testing.T) {
	t.Parallel()

	raw := caddoRecord()
	raw["BookingID"] = json.Number("12345678901234567")
	raw["InmateID"] = json.Number("9007199254740993")
	raw["BondTotal"] = json.Number("2500.75")

	b, err := Coerce(raw, "Caddo")
	require.NoError(t, err)
	assert.Equal(t, "12345678901234567", b.BookingID)
	assert.Equal(t, "9007199254740993", b.PersonID)
	require.NotNil(t, b.BondTotal)
	assert.InDelta(t, 2500.75, *b.BondTotal, 0.001)
}

func TestCoerceCanonicalNamesIsIdempotent(t *testing.T) {
	t.Parallel()

	first, err := Coerce(caddoRecord(), "Caddo")
	require.NoError(t, err)

	canonical := RawRecord{
		FieldCounty:         first.County,
		FieldBookingID:      first.BookingID,
		FieldPersonID:       first.PersonID,
		FieldBookingNum:     *first.BookingNum,
		FieldBookingDate:    first.BookingDate,
		FieldFirstName:      first.FirstName,
		FieldMiddleName:     *first.MiddleName,
		FieldLastName:       first.LastName,
		FieldSex:            string(first.Sex),
		FieldRace:           string(first.Race),
		FieldClassification: *first.Classification,
		FieldAddress:        *first.Address,
		FieldCity:           first.City,
		FieldState:          *first.State,
		FieldCharges:        first.Charges,
		FieldBirthDate:      first.BirthDate,
	}
	second, err := Coerce(canonical, "Caddo")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCoerceInjectsSourceAsCounty(t *testing.T) {
	t.Parallel()

	raw := caddoRecord()
	raw["county"] = "Somewhere Else"
	b, err := Coerce(raw, "Caddo")
	require.NoError(t, err)
	assert.Equal(t, "Caddo", b.County)

	_, err = Coerce(caddoRecord(), "")
	var invalid *RecordValidationError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, []string{FieldCounty}, invalid.FieldNames())
}

func TestCoerceDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	raw := caddoRecord()
	_, err := Coerce(raw, "Caddo")
	require.NoError(t, err)
	_, injected := raw["county"]
	assert.False(t, injected)
	assert.Equal(t, "730  ", raw["Zip"])
}

func TestCoerceIsSafeForConcurrentUse(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Coerce(caddoRecord(), "Caddo"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCoerceDate(t *testing.T) {
	t.Parallel()

	ts := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	tests := []struct {
		name    string
		in      any
		want    time.Time
		wantErr bool
	}{
		{name: "month day year", in: "09/06/1993", want: time.Date(1993, 9, 6, 0, 0, 0, 0, time.UTC)},
		{name: "single digit parts", in: "9/6/1993", want: time.Date(1993, 9, 6, 0, 0, 0, 0, time.UTC)},
		{name: "structured timestamp", in: ts, want: ts},
		{name: "iso local", in: "2025-01-22T02:44:00", want: time.Date(2025, 1, 22, 2, 44, 0, 0, time.UTC)},
		{name: "iso date", in: "2025-01-22", want: time.Date(2025, 1, 22, 0, 0, 0, 0, time.UTC)},
		{name: "impossible calendar date", in: "13/45/1993", wantErr: true},
		{name: "garbage", in: "yesterday", wantErr: true},
		{name: "number", in: 42.0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := coerceDate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got.(time.Time)), "got %v want %v", got, tt.want)
		})
	}
}

func TestAge(t *testing.T) {
	t.Parallel()

	b := Booking{BirthDate: time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, 34, b.Age(time.Date(2025, 6, 14, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, 35, b.Age(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, b.Age(time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, Booking{}.Age(time.Now()))
}

func TestMailingAddress(t *testing.T) {
	t.Parallel()

	str := func(s string) *string { return &s }
	tests := []struct {
		name string
		b    Booking
		want string
	}{
		{name: "city only", b: Booking{City: "X"}, want: "X"},
		{name: "city and zip", b: Booking{City: "X", ZipCode: str("12345")}, want: "X 12345"},
		{name: "full", b: Booking{Address: str("1 Main St"), City: "Tulsa", State: str("OK"), ZipCode: str("74103")}, want: "1 Main St\nTulsa, OK 74103"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.b.MailingAddress())
		})
	}
}

func TestAliasesStartWithCanonicalName(t *testing.T) {
	t.Parallel()

	for _, name := range Fields() {
		aliases := Aliases(name)
		require.NotEmpty(t, aliases, name)
		assert.Equal(t, name, aliases[0])
	}
	assert.Equal(t, []string{FieldBirthDate, "dob", "DOB", "BirthDate"}, Aliases(FieldBirthDate))
	assert.Nil(t, Aliases("nope"))
}

package booking

import "time"

// Canonical field names.
const (
	FieldCounty          = "county"
	FieldBookingID       = "booking_id"
	FieldPersonID        = "person_id"
	FieldBookingNum      = "booking_num"
	FieldBookingDate     = "booking_date"
	FieldReleaseDate     = "release_date"
	FieldHeldFor         = "held_for"
	FieldFirstName       = "first_name"
	FieldMiddleName      = "middle_name"
	FieldLastName        = "last_name"
	FieldSex             = "sex"
	FieldRace            = "race"
	FieldClassification  = "classification"
	FieldArrestingAgency = "arresting_agency"
	FieldAddress         = "address"
	FieldCity            = "city"
	FieldState           = "state"
	FieldZipCode         = "zip_code"
	FieldCharges         = "charges"
	FieldBondTotal       = "bond_total"
	FieldCourtDate       = "court_date"
	FieldBirthDate       = "birth_date"
)

type field struct {
	name     string
	aliases  []string
	required bool
	coerce   func(any) (any, error)
	assign   func(*Booking, any)
}

var sexes = map[string]Sex{
	"M": SexMale, "MALE": SexMale,
	"F": SexFemale, "FEMALE": SexFemale,
	"X": SexOther, "OTHER": SexOther,
}

var races = map[string]Race{
	"A": RaceAsian, "ASIAN": RaceAsian, "ASIAN/PACIFIC ISLANDER": RaceAsian,
	"B": RaceBlack, "BLACK": RaceBlack, "BLACK/AFRICAN AMERICAN": RaceBlack,
	"H": RaceHispanic, "HISPANIC": RaceHispanic, "LATINO/HISPANIC": RaceHispanic,
	"M": RaceMultiracial, "MULTIRACIAL": RaceMultiracial,
	"I": RaceNative, "NATIVE": RaceNative, "AMERICAN INDIAN": RaceNative,
	"O": RaceOther, "OTHER": RaceOther,
	"W": RaceWhite, "WHITE": RaceWhite, "CAUCASIAN": RaceWhite,
}

// fields is the static descriptor table iterated by Coerce. The canonical name
// always comes first in aliases so already-canonical maps coerce unchanged.
var fields = []field{
	{name: FieldCounty, aliases: []string{FieldCounty}, required: true, coerce: coerceString,
		assign: func(b *Booking, v any) { b.County = v.(string) }},
	{name: FieldBookingID, aliases: []string{FieldBookingID, "BookingID", "BookingId", "bookingid"}, required: true, coerce: coerceString,
		assign: func(b *Booking, v any) { b.BookingID = v.(string) }},
	{name: FieldPersonID, aliases: []string{FieldPersonID, "InmateID", "InmateId", "inmateid"}, required: true, coerce: coerceString,
		assign: func(b *Booking, v any) { b.PersonID = v.(string) }},
	{name: FieldBookingNum, aliases: []string{FieldBookingNum, "BookingNum", "BookingNumber", "bookingnum"}, coerce: coerceString,
		assign: func(b *Booking, v any) { b.BookingNum = optString(v) }},
	{name: FieldBookingDate, aliases: []string{FieldBookingDate, "BookingDate", "bookingdate"}, required: true, coerce: coerceDate,
		assign: func(b *Booking, v any) { b.BookingDate = v.(time.Time) }},
	{name: FieldReleaseDate, aliases: []string{FieldReleaseDate, "ReleaseDate", "releasedate"}, coerce: coerceDate,
		assign: func(b *Booking, v any) { b.ReleaseDate = optTime(v) }},
	{name: FieldHeldFor, aliases: []string{FieldHeldFor, "heldfor", "HeldFor"}, coerce: coerceString,
		assign: func(b *Booking, v any) { b.HeldFor = optString(v) }},
	{name: FieldFirstName, aliases: []string{FieldFirstName, "FName", "FirstName", "fname"}, required: true, coerce: coerceString,
		assign: func(b *Booking, v any) { b.FirstName = v.(string) }},
	{name: FieldMiddleName, aliases: []string{FieldMiddleName, "MName", "MiddleName", "mname"}, coerce: coerceString,
		assign: func(b *Booking, v any) { b.MiddleName = optString(v) }},
	{name: FieldLastName, aliases: []string{FieldLastName, "LName", "LastName", "lname"}, required: true, coerce: coerceString,
		assign: func(b *Booking, v any) { b.LastName = v.(string) }},
	{name: FieldSex, aliases: []string{FieldSex, "Sex", "Gender"}, required: true, coerce: enum(sexes),
		assign: func(b *Booking, v any) { b.Sex = v.(Sex) }},
	{name: FieldRace, aliases: []string{FieldRace, "Race"}, required: true, coerce: enum(races),
		assign: func(b *Booking, v any) { b.Race = v.(Race) }},
	{name: FieldClassification, aliases: []string{FieldClassification, "Classification"}, coerce: coerceString,
		assign: func(b *Booking, v any) { b.Classification = optString(v) }},
	{name: FieldArrestingAgency, aliases: []string{FieldArrestingAgency, "ArrestingAgency", "arrestagency", "Agency"}, coerce: coerceString,
		assign: func(b *Booking, v any) { b.ArrestingAgency = optString(v) }},
	{name: FieldAddress, aliases: []string{FieldAddress, "Address", "address1"}, coerce: coerceString,
		assign: func(b *Booking, v any) { b.Address = optString(v) }},
	{name: FieldCity, aliases: []string{FieldCity, "City"}, required: true, coerce: coerceString,
		assign: func(b *Booking, v any) { b.City = v.(string) }},
	{name: FieldState, aliases: []string{FieldState, "State", "ST"}, coerce: coerceState,
		assign: func(b *Booking, v any) { b.State = optString(v) }},
	{name: FieldZipCode, aliases: []string{FieldZipCode, "zipcode", "Zip", "ZipCode"}, coerce: coerceZip,
		assign: func(b *Booking, v any) { b.ZipCode = optString(v) }},
	{name: FieldCharges, aliases: []string{FieldCharges, "Charges", "charge"}, required: true, coerce: coerceString,
		assign: func(b *Booking, v any) { b.Charges = v.(string) }},
	{name: FieldBondTotal, aliases: []string{FieldBondTotal, "BondTotal", "TotalBond", "bond"}, coerce: coerceDecimal,
		assign: func(b *Booking, v any) { f := v.(float64); b.BondTotal = &f }},
	{name: FieldCourtDate, aliases: []string{FieldCourtDate, "CourtDate", "courtdate"}, coerce: coerceDate,
		assign: func(b *Booking, v any) { b.CourtDate = optTime(v) }},
	{name: FieldBirthDate, aliases: []string{FieldBirthDate, "dob", "DOB", "BirthDate"}, required: true, coerce: coerceDate,
		assign: func(b *Booking, v any) { b.BirthDate = v.(time.Time) }},
}

func optString(v any) *string {
	s := v.(string)
	return &s
}

func optTime(v any) *time.Time {
	t := v.(time.Time)
	return &t
}

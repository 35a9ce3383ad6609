package util

import "time"

// Exchange wall-clock time zone. All date-derived remote paths and the daily
// job schedule use this zone, not the host's.
const ExchangeTimeZone = "Asia/Kolkata"

// ExchangeLocation returns the exchange's time.Location. It panics on a
// broken zoneinfo database, which is a deployment error, not a runtime one.
func ExchangeLocation() *time.Location {
	loc, err := time.LoadLocation(ExchangeTimeZone)
	if err != nil {
		panic("util: loading " + ExchangeTimeZone + ": " + err.Error())
	}
	return loc
}

// RemoteDateDir formats t as the exchange's directory date token, the full
// English month name followed by zero-padded day and year, e.g. "July082025".
func RemoteDateDir(t time.Time) string {
	return t.Format("January022006")
}

// BhavcopyFileDate formats t as the DDMMYYYY token used in bhavcopy file
// names, e.g. "08072025".
func BhavcopyFileDate(t time.Time) string {
	return t.Format("02012006")
}

// HolidayFunc reports whether a date is an exchange holiday. A nil predicate
// means no holidays are tracked and only weekends are rolled over.
type HolidayFunc func(time.Time) bool

// PreviousBusinessDay returns the most recent business day strictly before
// ref, rolling back over Saturday, Sunday, and any date for which isHoliday
// returns true.
func PreviousBusinessDay(ref time.Time, isHoliday HolidayFunc) time.Time {
	prev := ref.AddDate(0, 0, -1)
	for prev.Weekday() == time.Saturday || prev.Weekday() == time.Sunday ||
		(isHoliday != nil && isHoliday(prev)) {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

// Package expiry - absolute instants, clocks and lifetime policies
package expiry

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// InstantPrecision all instants are truncated to this precision so values survive a round
// trip through either sqlite text timestamps or postgres timestamptz unchanged.
const InstantPrecision = time.Microsecond

// sqliteTimestampFormats text layouts an instant column may come back as
var sqliteTimestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// ErrInvalidInstant the wall-clock value can not be placed on the absolute timeline
var ErrInvalidInstant = errors.New("invalid instant")

// Instant a point on the absolute UTC timeline.
//
// The underlying time is unexported; an Instant can only be built from a fully specified
// time.Time, so comparing against a bare local wall-clock reading is not possible.
type Instant struct {
	t time.Time
}

/*
NewInstant place a time.Time on the absolute timeline

	@param t time.Time - the time value
	@returns the instant
*/
func NewInstant(t time.Time) (Instant, error) {
	if t.IsZero() {
		return Instant{}, fmt.Errorf("zero time value [%w]", ErrInvalidInstant)
	}
	return Instant{t: t.UTC().Truncate(InstantPrecision)}, nil
}

// MustInstant NewInstant which panics on error; for constants and tests
func MustInstant(t time.Time) Instant {
	i, err := NewInstant(t)
	if err != nil {
		panic(err)
	}
	return i
}

// IsZero whether the instant was never set
func (i Instant) IsZero() bool {
	return i.t.IsZero()
}

// Time the instant as a UTC time.Time
func (i Instant) Time() time.Time {
	return i.t
}

// Before whether i is strictly before o
func (i Instant) Before(o Instant) bool {
	return i.t.Before(o.t)
}

// After whether i is strictly after o
func (i Instant) After(o Instant) bool {
	return i.t.After(o.t)
}

// Equal whether both instants are the same point in time
func (i Instant) Equal(o Instant) bool {
	return i.t.Equal(o.t)
}

// Add shift the instant by a duration
func (i Instant) Add(d time.Duration) Instant {
	return Instant{t: i.t.Add(d).Truncate(InstantPrecision)}
}

// AddDays shift the instant by whole days of 24 hours
func (i Instant) AddDays(days int) Instant {
	return i.Add(time.Duration(days) * 24 * time.Hour)
}

// Sub duration i - o
func (i Instant) Sub(o Instant) time.Duration {
	return i.t.Sub(o.t)
}

// StartOfDay midnight UTC of the calendar day containing the instant
func (i Instant) StartOfDay() Instant {
	y, m, d := i.t.Date()
	return Instant{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// String RFC3339 rendering
func (i Instant) String() string {
	if i.IsZero() {
		return "<unset>"
	}
	return i.t.Format(time.RFC3339Nano)
}

// GormDataType column data type
func (Instant) GormDataType() string {
	return "time"
}

// Value implements driver.Valuer
func (i Instant) Value() (driver.Value, error) {
	if i.IsZero() {
		return nil, fmt.Errorf("refusing to persist unset instant [%w]", ErrInvalidInstant)
	}
	return i.t, nil
}

// Scan implements sql.Scanner
func (i *Instant) Scan(src interface{}) error {
	parsed, err := scanTime(src)
	if err != nil {
		return err
	}
	if parsed.IsZero() {
		return fmt.Errorf("NULL scanned into instant [%w]", ErrInvalidInstant)
	}
	*i, err = NewInstant(parsed)
	return err
}

// MarshalJSON implements json.Marshaler
func (i Instant) MarshalJSON() ([]byte, error) {
	if i.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(i.t.Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler; the text must carry an offset
func (i *Instant) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("instant '%s' lacks offset information [%w]", raw, ErrInvalidInstant)
	}
	*i, err = NewInstant(parsed)
	return err
}

// scanTime normalize a driver value into a time.Time; a nil value gives the zero time
func scanTime(src interface{}) (time.Time, error) {
	switch v := src.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case string:
		return parseTimestamp(v)
	case []byte:
		return parseTimestamp(string(v))
	}
	return time.Time{}, fmt.Errorf("can't scan %T into instant [%w]", src, ErrInvalidInstant)
}

// parseTimestamp text timestamps without an offset are stored UTC by this package
func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range sqliteTimestampFormats {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp '%s' [%w]", raw, ErrInvalidInstant)
}

// ======================================================================================

// NullInstant an optional instant column
type NullInstant struct {
	Instant Instant
	Valid   bool
}

// Some wrap an instant as a present NullInstant
func Some(i Instant) NullInstant {
	return NullInstant{Instant: i, Valid: !i.IsZero()}
}

// None the absent NullInstant
func None() NullInstant {
	return NullInstant{}
}

// GormDataType column data type
func (NullInstant) GormDataType() string {
	return "time"
}

// Value implements driver.Valuer
func (n NullInstant) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Instant.Value()
}

// Scan implements sql.Scanner
func (n *NullInstant) Scan(src interface{}) error {
	parsed, err := scanTime(src)
	if err != nil {
		return err
	}
	if parsed.IsZero() {
		*n = NullInstant{}
		return nil
	}
	inst, err := NewInstant(parsed)
	if err != nil {
		return err
	}
	*n = NullInstant{Instant: inst, Valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler
func (n NullInstant) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return n.Instant.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler
func (n *NullInstant) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = NullInstant{}
		return nil
	}
	if err := n.Instant.UnmarshalJSON(b); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

package expiry

import (
	"errors"
	"fmt"
	"time"
)

// SelectorENUMType lifetime selector for secret notes
type SelectorENUMType string

const (
	// SelectorReadOnce no absolute expiry; the note is destroyed by its first read
	SelectorReadOnce SelectorENUMType = "read-once"
	// SelectorOneDay expire after 1 day
	SelectorOneDay SelectorENUMType = "1d"
	// SelectorThreeDays expire after 3 days
	SelectorThreeDays SelectorENUMType = "3d"
	// SelectorOneWeek expire after 7 days
	SelectorOneWeek SelectorENUMType = "1w"
	// SelectorTwoWeeks expire after 14 days
	SelectorTwoWeeks SelectorENUMType = "2w"
	// SelectorOneMonth expire after 30 days
	SelectorOneMonth SelectorENUMType = "1m"
	// SelectorTwoMonths expire after 60 days
	SelectorTwoMonths SelectorENUMType = "2m"
)

// Day one calendar-free day on the absolute timeline
const Day = 24 * time.Hour

// ErrUnknownSelector lifetime selector is not one of the supported values
var ErrUnknownSelector = errors.New("unknown lifetime selector")

var selectorOffsets = map[SelectorENUMType]time.Duration{
	SelectorOneDay:    1 * Day,
	SelectorThreeDays: 3 * Day,
	SelectorOneWeek:   7 * Day,
	SelectorTwoWeeks:  14 * Day,
	SelectorOneMonth:  30 * Day,
	SelectorTwoMonths: 60 * Day,
}

// Selectors all supported selectors, shortest lifetime first
func Selectors() []SelectorENUMType {
	return []SelectorENUMType{
		SelectorReadOnce,
		SelectorOneDay,
		SelectorThreeDays,
		SelectorOneWeek,
		SelectorTwoWeeks,
		SelectorOneMonth,
		SelectorTwoMonths,
	}
}

// Valid whether the selector is supported
func (s SelectorENUMType) Valid() bool {
	if s == SelectorReadOnce {
		return true
	}
	_, ok := selectorOffsets[s]
	return ok
}

// ParseSelector parse a selector string
func ParseSelector(raw string) (SelectorENUMType, error) {
	s := SelectorENUMType(raw)
	if !s.Valid() {
		return "", fmt.Errorf("'%s' [%w]", raw, ErrUnknownSelector)
	}
	return s, nil
}

// Resolution outcome of resolving a selector
type Resolution struct {
	// ExpiresAt the absolute expiry, absent for read-once
	ExpiresAt NullInstant
	// DeleteAfterRead whether the first successful read destroys the note
	DeleteAfterRead bool
}

/*
Resolve map a lifetime selector to an absolute expiry

	@param selector SelectorENUMType - the lifetime selector
	@param now Instant - the current instant
	@returns the resolution
*/
func Resolve(selector SelectorENUMType, now Instant) (Resolution, error) {
	if selector == SelectorReadOnce {
		return Resolution{ExpiresAt: None(), DeleteAfterRead: true}, nil
	}
	offset, ok := selectorOffsets[selector]
	if !ok {
		return Resolution{}, fmt.Errorf("'%s' [%w]", selector, ErrUnknownSelector)
	}
	if now.IsZero() {
		return Resolution{}, fmt.Errorf("resolve needs a current instant [%w]", ErrInvalidInstant)
	}
	return Resolution{ExpiresAt: Some(now.Add(offset))}, nil
}

// IsPast whether the instant at has been reached at now. An instant equal to now is past.
func IsPast(at Instant, now Instant) bool {
	return !now.Before(at)
}

// IsPastOptional IsPast for an optional expiry; absent never expires by time
func IsPastOptional(at NullInstant, now Instant) bool {
	if !at.Valid {
		return false
	}
	return IsPast(at.Instant, now)
}

// SectionExpiry derive the expiry of a section from its creation instant and lifetime
func SectionExpiry(createdAt Instant, lifetimeDays int) Instant {
	return createdAt.AddDays(lifetimeDays)
}

// SectionExpired whether a section has expired at now
func SectionExpired(createdAt Instant, lifetimeDays int, now Instant) bool {
	return IsPast(SectionExpiry(createdAt, lifetimeDays), now)
}

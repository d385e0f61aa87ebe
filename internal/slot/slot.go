// Package slot defines the fixed half-hour slot grid shared by every venue
// and the rolling day buckets bookings are filed under.
package slot

import (
	"fmt"
	"strings"

	"venue-booking-bot/internal/pkg/apperr"
)

// Errors for slot and day parsing.
var (
	ErrUnknownSlot = apperr.New(apperr.ErrValidation, "unknown slot")
	ErrUnknownDay  = apperr.New(apperr.ErrValidation, "unknown day, use today or tomorrow")
)

// Day is a rolling day bucket, never a calendar date.
type Day string

// Day buckets.
const (
	Today    Day = "today"
	Tomorrow Day = "tomorrow"
)

// Days returns both buckets in rollover order.
func Days() []Day {
	return []Day{Today, Tomorrow}
}

// ParseDay parses a day bucket from user input.
func ParseDay(s string) (Day, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "today", "t", "сегодня":
		return Today, nil
	case "tomorrow", "tm", "завтра":
		return Tomorrow, nil
	}
	return "", ErrUnknownDay
}

// Valid reports whether d is one of the two buckets.
func (d Day) Valid() bool {
	return d == Today || d == Tomorrow
}

// sequence is the operating window: noon to 02:00 of the next calendar day.
var sequence = buildSequence()

var index = func() map[string]int {
	m := make(map[string]int, len(sequence))
	for i, s := range sequence {
		m[s] = i
	}
	return m
}()

func buildSequence() []string {
	var out []string
	for h := 12; h < 24; h++ {
		out = append(out, fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:30", h))
	}
	for h := 0; h < 2; h++ {
		out = append(out, fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:30", h))
	}
	return append(out, "02:00")
}

// Slots returns a copy of the ordered slot sequence.
func Slots() []string {
	out := make([]string, len(sequence))
	copy(out, sequence)
	return out
}

// Count returns the number of slots in the sequence.
func Count() int {
	return len(sequence)
}

// Valid reports whether s is a known slot code.
func Valid(s string) bool {
	_, ok := index[s]
	return ok
}

// Index returns the position of s in the sequence.
func Index(s string) (int, error) {
	i, ok := index[s]
	if !ok {
		return 0, ErrUnknownSlot
	}
	return i, nil
}

// Normalize accepts "14:00", "14.00", "1400" or "14" and returns the slot code.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", ":")
	switch {
	case len(s) == 4 && !strings.Contains(s, ":"):
		s = s[:2] + ":" + s[2:]
	case len(s) == 1:
		s = "0" + s + ":00"
	case len(s) == 2 && !strings.Contains(s, ":"):
		s += ":00"
	case len(s) == 4 && s[1] == ':':
		s = "0" + s
	}
	if !Valid(s) {
		return "", ErrUnknownSlot
	}
	return s, nil
}

// Neighbors returns the immediate predecessor and successor of s.
// Boundary slots have a single neighbor.
func Neighbors(s string) ([]string, error) {
	i, err := Index(s)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, 2)
	if i > 0 {
		out = append(out, sequence[i-1])
	}
	if i < len(sequence)-1 {
		out = append(out, sequence[i+1])
	}
	return out, nil
}

// Adjacent reports whether a and b are direct neighbors.
func Adjacent(a, b string) bool {
	i, ok1 := index[a]
	j, ok2 := index[b]
	if !ok1 || !ok2 {
		return false
	}
	return i-j == 1 || j-i == 1
}

package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Calendar units accepted by ParseDuration.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var (
	// ErrInvalidDuration indicates that the duration string could not be parsed.
	ErrInvalidDuration = errors.New("invalid duration format")
	// ErrInvalidSize indicates that the size string could not be parsed.
	ErrInvalidSize = errors.New("invalid size format")
	// ErrNegativeValue indicates that a negative value was provided.
	ErrNegativeValue = errors.New("value cannot be negative")
)

var calendarPattern = regexp.MustCompile(`(?i)^([0-9]+(?:\.[0-9]+)?)\s*(d|w|mo|y)$`)

// ParseDuration parses "30d", "2w", "3mo", "1y" or any time.ParseDuration
// string.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidDuration)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeValue
	}

	m := calendarPattern.FindStringSubmatch(s)
	if m == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		return d, nil
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "d":
		unit = Day
	case "w":
		unit = Week
	case "mo":
		unit = Month
	default:
		unit = Year
	}
	return time.Duration(value * float64(unit)), nil
}

// ParseSize parses a byte size such as "500K", "2GiB" or "1.5GB".
// Single-letter units are binary, matching ls -h.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeValue
	}
	if last := s[len(s)-1]; strings.ContainsRune("kKmMgGtT", rune(last)) {
		s += "iB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return int64(n), nil
}

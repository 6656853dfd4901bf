// Package timestamp converts the creation-time encodings used by the upstream
// platforms into the single canonical form stored on records.
package timestamp

import (
	"fmt"
	"time"

	"github.com/JakeFAU/content-crawler/internal/crawler"
)

// Source encodings and the canonical storage layout.
const (
	// LayoutOffset is ISO8601 with a numeric offset, e.g. 2024-05-01T09:30:00+09:00.
	LayoutOffset = "2006-01-02T15:04:05-07:00"
	// LayoutZulu is ISO8601 in UTC with a Z suffix, e.g. 2024-05-01T00:30:00Z.
	LayoutZulu = "2006-01-02T15:04:05Z"
	// LayoutZuluMillis adds exactly three fractional digits, e.g. 2024-05-01T00:30:00.000Z.
	LayoutZuluMillis = "2006-01-02T15:04:05.000Z"
	// LayoutCanonical is the naive wall-clock form written to storage.
	LayoutCanonical = "2006-01-02 15:04:05"
)

// Normalizer turns encoded timestamps into canonical strings.
//
// Location selects the wall clock the canonical form is expressed in. A nil
// Location keeps the wall clock of the input itself, dropping its offset.
type Normalizer struct {
	Location *time.Location
}

// New returns a Normalizer rendering canonical times in loc.
func New(loc *time.Location) Normalizer {
	return Normalizer{Location: loc}
}

// UTC is the default Normalizer.
func UTC() Normalizer {
	return Normalizer{Location: time.UTC}
}

// Offset normalizes an offset-qualified timestamp.
func (n Normalizer) Offset(value string) (string, error) {
	return n.normalize(LayoutOffset, value)
}

// Zulu normalizes a zone-abbreviated UTC timestamp without fractional seconds.
func (n Normalizer) Zulu(value string) (string, error) {
	return n.normalize(LayoutZulu, value)
}

// ZuluMillis normalizes a UTC timestamp carrying millisecond precision.
func (n Normalizer) ZuluMillis(value string) (string, error) {
	return n.normalize(LayoutZuluMillis, value)
}

// Canonical formats t in the normalizer's location.
func (n Normalizer) Canonical(t time.Time) string {
	if n.Location != nil {
		t = t.In(n.Location)
	}
	return t.Format(LayoutCanonical)
}

// ParseCanonical reads a canonical string back as an instant in the
// normalizer's location (UTC when unset).
func (n Normalizer) ParseCanonical(value string) (time.Time, error) {
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	return parseStrict(LayoutCanonical, value, loc)
}

func (n Normalizer) normalize(layout, value string) (string, error) {
	t, err := parseStrict(layout, value, time.UTC)
	if err != nil {
		return "", err
	}
	return n.Canonical(t), nil
}

// parseStrict rejects anything time.Parse would accept but not produce, such
// as extra fractional digits or a different offset spelling.
func parseStrict(layout, value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match %s: %w", crawler.ErrTimeParse, value, layout, err)
	}
	if t.Format(layout) != value {
		return time.Time{}, fmt.Errorf("%w: %q is not in %s form", crawler.ErrTimeParse, value, layout)
	}
	return t, nil
}

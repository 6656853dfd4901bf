package crawler

import (
	"errors"
	"fmt"
	"strings"
)

// Fault kinds. Every error surfaced by a crawl wraps exactly one of these.
var (
	ErrConfig        = errors.New("config fault")
	ErrTransport     = errors.New("transport fault")
	ErrDecode        = errors.New("decode fault")
	ErrTimeParse     = errors.New("time parse fault")
	ErrLookup        = errors.New("lookup fault")
	ErrEmptySource   = errors.New("empty source")
	ErrUnknownSource = errors.New("unknown source")
	ErrWatermarkLost = errors.New("watermark not found within scan limit")
)

// ErrNotFound signals that a store has no matching record.
var ErrNotFound = errors.New("record not found")

// Fault carries the context of a failed crawl step.
type Fault struct {
	Kind       error
	Source     Source
	Op         string
	URL        string
	StatusCode int
	Cause      error
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.Error())
	if f.Source != "" {
		fmt.Fprintf(&b, " [%s]", f.Source)
	}
	if f.Op != "" {
		b.WriteString(" " + f.Op)
	}
	if f.StatusCode > 0 {
		fmt.Fprintf(&b, ": HTTP %d", f.StatusCode)
	}
	if f.URL != "" {
		b.WriteString(" for " + f.URL)
	}
	if f.Cause != nil {
		b.WriteString(": " + f.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (f *Fault) Unwrap() []error {
	if f.Cause == nil {
		return []error{f.Kind}
	}
	return []error{f.Kind, f.Cause}
}

// NewFault builds a Fault of the given kind.
func NewFault(kind error, source Source, op string, cause error) *Fault {
	return &Fault{Kind: kind, Source: source, Op: op, Cause: cause}
}

// FaultKind returns the fault kind wrapped by err, or nil when err is not a crawl fault.
func FaultKind(err error) error {
	for _, kind := range []error{
		ErrConfig,
		ErrTransport,
		ErrDecode,
		ErrTimeParse,
		ErrLookup,
		ErrEmptySource,
		ErrUnknownSource,
		ErrWatermarkLost,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// FaultLabel is a short metric/log label for err's kind.
func FaultLabel(err error) string {
	switch FaultKind(err) {
	case ErrConfig:
		return "config"
	case ErrTransport:
		return "transport"
	case ErrDecode:
		return "decode"
	case ErrTimeParse:
		return "time_parse"
	case ErrLookup:
		return "lookup"
	case ErrEmptySource:
		return "empty_source"
	case ErrUnknownSource:
		return "unknown_source"
	case ErrWatermarkLost:
		return "watermark_lost"
	default:
		return "other"
	}
}

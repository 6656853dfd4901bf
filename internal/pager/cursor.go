// Package pager drives paginated sources to exhaustion. A source exposes one
// page per request and tells the pager where the next page starts; the pager
// threads that Cursor through successive requests and surfaces the items as
// a lazy, forward-only iterator.
package pager

import "fmt"

// Kind identifies a Cursor variant.
type Kind int

// Cursor variants.
const (
	KindStart Kind = iota
	KindCounter
	KindToken
	KindEnd
)

// Cursor is an opaque pagination position.
type Cursor struct {
	kind  Kind
	page  int
	size  int
	token string
}

// Start is the initial cursor of every sequence.
func Start() Cursor { return Cursor{kind: KindStart} }

// End marks an exhausted sequence.
func End() Cursor { return Cursor{kind: KindEnd} }

// Counter addresses page n (1-based) of fixed size.
func Counter(page, size int) Cursor {
	return Cursor{kind: KindCounter, page: page, size: size}
}

// Token wraps a server-issued continuation token.
func Token(value string) Cursor {
	return Cursor{kind: KindToken, token: value}
}

// Kind returns the variant.
func (c Cursor) Kind() Kind { return c.kind }

// Page returns the page index of a counter cursor.
func (c Cursor) Page() int { return c.page }

// Size returns the page size of a counter cursor.
func (c Cursor) Size() int { return c.size }

// Token returns the continuation value of a token cursor.
func (c Cursor) Token() string { return c.token }

// IsEnd reports whether the sequence is exhausted.
func (c Cursor) IsEnd() bool { return c.kind == KindEnd }

func (c Cursor) String() string {
	switch c.kind {
	case KindStart:
		return "start"
	case KindCounter:
		return fmt.Sprintf("page=%d size=%d", c.page, c.size)
	case KindToken:
		return "token=" + c.token
	default:
		return "end"
	}
}

// FirstCounter resolves Start into page 1 of the given size; any other cursor
// is returned unchanged.
func FirstCounter(c Cursor, size int) Cursor {
	if c.kind == KindStart {
		return Counter(1, size)
	}
	return c
}

// CounterNext applies the counter termination policy after a page of n items
// was fetched at c. An empty page ends the sequence, and so does a short one:
// with a fixed page size, fewer than size items means nothing follows.
func CounterNext(c Cursor, n int) Cursor {
	if n == 0 || n < c.size {
		return End()
	}
	return Counter(c.page+1, c.size)
}

// TokenNext applies the token termination policy: the sequence continues only
// while the server hands back a non-empty forward token, whatever the page held.
func TokenNext(next *string) Cursor {
	if next == nil || *next == "" {
		return End()
	}
	return Token(*next)
}

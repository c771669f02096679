// Package eventlog implements the bounded ring buffer spec.md §3 requires:
// at most 500 (t, kind, message) entries, single-writer, read-only for the
// state publisher.
package eventlog

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const maxEntries = 500

// Kind classifies an event entry.
type Kind string

const (
	KindInfo   Kind = "info"
	KindSignal Kind = "signal"
	KindBuy    Kind = "buy"
	KindSell   Kind = "sell"
	KindWarn   Kind = "warn"
	KindError  Kind = "error"
)

// Entry is one ring-buffer record.
type Entry struct {
	T       time.Time
	Kind    Kind
	Message string
}

// Log is a single-writer, many-reader bounded ring buffer. Every append is
// also mirrored to the process zerolog logger so operators get both the
// bounded in-process feed and full-fidelity logs.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	head    int // write cursor; entries wraps once len == maxEntries
	full    bool
}

// New returns an empty event log.
func New() *Log {
	return &Log{entries: make([]Entry, maxEntries)}
}

// Append records an entry, evicting the oldest once the buffer is full.
func (l *Log) Append(kind Kind, message string) {
	l.mu.Lock()
	l.entries[l.head] = Entry{T: time.Now(), Kind: kind, Message: message}
	l.head = (l.head + 1) % maxEntries
	if l.head == 0 {
		l.full = true
	}
	l.mu.Unlock()

	mirror(kind, message)
}

func mirror(kind Kind, message string) {
	switch kind {
	case KindWarn:
		log.Warn().Msg(message)
	case KindError:
		log.Error().Msg(message)
	default:
		log.Info().Str("kind", string(kind)).Msg(message)
	}
}

// Snapshot returns a copy of all entries in chronological order.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.full {
		out := make([]Entry, l.head)
		copy(out, l.entries[:l.head])
		return out
	}

	out := make([]Entry, maxEntries)
	copy(out, l.entries[l.head:])
	copy(out[maxEntries-l.head:], l.entries[:l.head])
	return out
}

// Len reports the current number of entries held (≤ maxEntries).
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return maxEntries
	}
	return l.head
}

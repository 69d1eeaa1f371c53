// Package ledger provides the durable conversation ledger: an append-only,
// replayable record of every query and response a conversation produced.
// Entries are immutable once appended; a ledger is only ever appended to or
// wholly reset. The ledger is the single source of truth for reconstructing
// chat state after a restart.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes the two entry types.
type Kind string

const (
	// KindQuery records a request payload exactly as sent.
	KindQuery Kind = "query"
	// KindResponse records a response payload exactly as received.
	KindResponse Kind = "response"
)

// Entry is one immutable ledger record. Index is a strictly increasing,
// gap-free sequence starting at 1. Data is the opaque provider payload; only
// the adapter that produced it may interpret it.
type Entry struct {
	Kind   Kind            `json:"type"`
	Tokens int             `json:"tokens"`
	Index  int             `json:"index"`
	Data   json.RawMessage `json:"data"`
}

// Info summarizes one stored conversation for listing and retention.
type Info struct {
	ID        string    `json:"id"`
	Entries   int       `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Common storage errors.
var (
	// ErrNotFound is returned when a conversation has no stored ledger.
	ErrNotFound = errors.New("conversation not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("ledger store is closed")
	// ErrIndexGap is returned when appended entries would break the
	// gap-free index sequence.
	ErrIndexGap = errors.New("ledger entry index out of sequence")
)

// Store abstracts ledger persistence. Implementations must be safe for
// concurrent use across conversations; a single conversation never issues
// concurrent writes.
type Store interface {
	// Append adds entries to a conversation's ledger. Entry indices must
	// continue the existing sequence without gaps.
	Append(ctx context.Context, conversationID string, entries ...Entry) error

	// Load retrieves all entries in order. Returns ErrNotFound when the
	// conversation has never been written.
	Load(ctx context.Context, conversationID string) ([]Entry, error)

	// Reset removes a conversation's ledger entirely.
	Reset(ctx context.Context, conversationID string) error

	// List returns summaries of all stored conversations.
	List(ctx context.Context) ([]Info, error)

	// Close releases resources held by the store.
	Close() error
}

// validateSequence checks that entries extend a ledger of length n gap-free.
func validateSequence(n int, entries []Entry) error {
	for i, e := range entries {
		want := n + i + 1
		if e.Index != want {
			return fmt.Errorf("%w: got %d, want %d", ErrIndexGap, e.Index, want)
		}
	}
	return nil
}

// LastPair returns the final query and response entries of a ledger. These
// two entries are all reconstruction needs: every recorded query carries the
// full running transcript up to its turn.
func LastPair(entries []Entry) (query, response *Entry, err error) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.Kind {
		case KindResponse:
			if response == nil {
				response = &e
			}
		case KindQuery:
			if query == nil {
				query = &e
			}
		}
		if query != nil && response != nil {
			return query, response, nil
		}
	}
	return nil, nil, errors.New("ledger has no complete query/response pair")
}

// TotalTokens sums the token counts of all entries.
func TotalTokens(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Tokens
	}
	return total
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrChainIntegrity marks a broken hash chain. It is only ever produced by
// verification; append cannot introduce a break.
var ErrChainIntegrity = errors.New("audit chain integrity violated")

// IntegrityError locates the first offending entry found by [Chain.Verify].
type IntegrityError struct {
	Index   int
	EntryID string
	Reason  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: entry %d (%s): %s", ErrChainIntegrity, e.Index, e.EntryID, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrChainIntegrity }

const defaultLatest = 10

// Chain is an append-only, hash-linked sequence of entries. A single RWMutex guards
// all access: Append holds the write lock across read-tail, build and append, so two
// appends can never claim the same predecessor.
type Chain struct {
	mu       sync.RWMutex
	entries  []Entry
	lastHash string

	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
	dispatcher *Dispatcher
}

// Option configures a [Chain].
type Option func(*Chain)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDispatcher forwards every appended entry to d.
func WithDispatcher(d *Dispatcher) Option {
	return func(c *Chain) { c.dispatcher = d }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		if now != nil {
			c.now = now
		}
	}
}

// NewChain returns an empty chain.
func NewChain(opts ...Option) *Chain {
	c := &Chain{
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append validates in, links it to the current tail, and adds it to the chain. The
// caller's PreviousHash is ignored; linkage is always taken from the tail.
func (c *Chain) Append(ctx context.Context, in Input) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	in.PreviousHash = c.lastHash
	entry, err := buildEntry(c.newID(), c.now(), in)
	if err != nil {
		return Entry{}, err
	}

	c.entries = append(c.entries, entry)
	c.lastHash = entry.entryHash

	c.logger.Info("audit entry appended",
		"entry_id", entry.entryID,
		"action", entry.action,
		"resource_type", entry.resourceType,
		"resource_id", entry.resourceID,
		"status", entry.status,
	)

	// Emitted under the lock so sinks observe chain order.
	if c.dispatcher != nil {
		c.dispatcher.Emit(ctx, entry)
	}
	return entry, nil
}

// Verify walks the chain and returns an [*IntegrityError] for the first entry that
// breaks it: a genesis entry with a predecessor, a predecessor mismatch, or a stored
// hash that no longer matches the entry's contents. An empty chain is valid.
func (c *Chain) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i, entry := range c.entries {
		if err := c.checkEntry(i, entry); err != nil {
			c.logger.Error("audit chain integrity broken",
				"index", err.Index,
				"entry_id", err.EntryID,
				"reason", err.Reason,
			)
			return err
		}
	}
	return nil
}

func (c *Chain) checkEntry(i int, entry Entry) *IntegrityError {
	if i == 0 {
		if entry.previousHash != "" {
			return &IntegrityError{Index: 0, EntryID: entry.entryID, Reason: "genesis entry has a previous hash"}
		}
	} else if entry.previousHash != c.entries[i-1].entryHash {
		return &IntegrityError{Index: i, EntryID: entry.entryID, Reason: "previous hash does not match predecessor"}
	}

	recomputed, err := entry.computeHash()
	if err != nil {
		return &IntegrityError{Index: i, EntryID: entry.entryID, Reason: "entry cannot be re-serialized"}
	}
	if recomputed != entry.entryHash {
		return &IntegrityError{Index: i, EntryID: entry.entryID, Reason: "entry hash does not match contents"}
	}
	return nil
}

// Valid reports whether [Chain.Verify] finds no break.
func (c *Chain) Valid() bool {
	return c.Verify() == nil
}

// Len returns the number of entries.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LastHash returns the hash of the tail entry, or "" for an empty chain.
func (c *Chain) LastHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHash
}

// Entries returns a copy of every entry in insertion order.
func (c *Chain) Entries() []Entry {
	return c.filter(func(Entry) bool { return true })
}

// ByResource returns entries for one resource in insertion order.
func (c *Chain) ByResource(resourceType, resourceID string) []Entry {
	return c.filter(func(e Entry) bool {
		return e.resourceType == resourceType && e.resourceID == resourceID
	})
}

// ByUser returns entries performed by userID in insertion order.
func (c *Chain) ByUser(userID string) []Entry {
	return c.filter(func(e Entry) bool { return e.userID == userID })
}

// ByAction returns entries with the given action in insertion order.
func (c *Chain) ByAction(action string) []Entry {
	return c.filter(func(e Entry) bool { return e.action == action })
}

// Latest returns up to n entries, newest first. n <= 0 means 10.
func (c *Chain) Latest(n int) []Entry {
	if n <= 0 {
		n = defaultLatest
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if n > len(c.entries) {
		n = len(c.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(c.entries) - 1; i >= len(c.entries)-n; i-- {
		out = append(out, c.entries[i])
	}
	return out
}

func (c *Chain) filter(keep func(Entry) bool) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entry
	for _, e := range c.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Export serializes every entry, in order, as a JSON array.
func (c *Chain) Export() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := c.entries
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(entries)
}

// Import rebuilds a chain from [Chain.Export] output. Stored hashes are kept as-is;
// call [Chain.Verify] to check the result.
func Import(data []byte, opts ...Option) (*Chain, error) {
	var raw []entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode audit export: %w", err)
	}

	c := NewChain(opts...)
	c.entries = make([]Entry, 0, len(raw))
	for _, r := range raw {
		e, err := entryFromJSON(r)
		if err != nil {
			return nil, err
		}
		c.entries = append(c.entries, e)
	}
	if n := len(c.entries); n > 0 {
		c.lastHash = c.entries[n-1].entryHash
	}
	return c, nil
}

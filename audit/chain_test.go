package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func quietChain(opts ...Option) *Chain {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewChain(opts...)
}

func mustAppend(t *testing.T, c *Chain, in Input) Entry {
	t.Helper()
	e, err := c.Append(context.Background(), in)
	if err != nil {
		t.Fatalf("Append(%s): %v", in.Action, err)
	}
	return e
}

func TestLoginLogoutScenario(t *testing.T) {
	c := quietChain()
	login := mustAppend(t, c, Input{
		Action: "LOGIN", ResourceType: "user", ResourceID: "alice", UserID: "alice",
		Details: map[string]any{"role": "clinician"},
	})
	logout := mustAppend(t, c, Input{
		Action: "LOGOUT", ResourceType: "token", ResourceID: "jti-1", UserID: "alice",
	})

	if login.PreviousHash() != "" {
		t.Fatalf("genesis must have no predecessor, got %q", login.PreviousHash())
	}
	if logout.PreviousHash() != login.EntryHash() {
		t.Fatal("second entry must link to the first")
	}
	if c.LastHash() != logout.EntryHash() {
		t.Fatal("last hash must track the tail")
	}
	if login.Status() != StatusSuccess {
		t.Fatalf("expected default status SUCCESS, got %s", login.Status())
	}
	if !c.Valid() {
		t.Fatal("fresh chain must verify")
	}
	if got := c.ByUser("alice"); len(got) != 2 {
		t.Fatalf("expected 2 entries for alice, got %d", len(got))
	}
	if got := c.ByAction("LOGOUT"); len(got) != 1 || got[0].ResourceID() != "jti-1" {
		t.Fatalf("unexpected LOGOUT query result: %+v", got)
	}
	if got := c.ByResource("user", "alice"); len(got) != 1 || got[0].Action() != "LOGIN" {
		t.Fatalf("unexpected resource query result: %+v", got)
	}
}

func TestAppendRejectsMissingFields(t *testing.T) {
	c := quietChain()
	cases := []Input{
		{ResourceType: "user", ResourceID: "u"},
		{Action: "LOGIN", ResourceID: "u"},
		{Action: "LOGIN", ResourceType: "user", ResourceID: "  "},
	}
	for _, in := range cases {
		if _, err := c.Append(context.Background(), in); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %+v, got %v", in, err)
		}
	}
	if c.Len() != 0 {
		t.Fatalf("rejected appends must not grow the chain, len=%d", c.Len())
	}
}

func TestAppendIgnoresCallerPreviousHash(t *testing.T) {
	c := quietChain()
	e := mustAppend(t, c, Input{Action: "A", ResourceType: "r", ResourceID: "1", PreviousHash: "forged"})
	if e.PreviousHash() != "" {
		t.Fatalf("expected tail-derived linkage, got %q", e.PreviousHash())
	}
}

func TestEmptyChainIsValid(t *testing.T) {
	c := quietChain()
	if err := c.Verify(); err != nil {
		t.Fatalf("empty chain: %v", err)
	}
	if got := c.Latest(5); len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}

func TestConcurrentAppendsFormOneChain(t *testing.T) {
	c := quietChain()
	const workers, perWorker = 8, 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := c.Append(context.Background(), Input{
					Action:       "ACCESS",
					ResourceType: "record",
					ResourceID:   fmt.Sprintf("%d-%d", w, i),
				})
				if err != nil {
					t.Errorf("Append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Len() != workers*perWorker {
		t.Fatalf("expected %d entries, got %d", workers*perWorker, c.Len())
	}
	if err := c.Verify(); err != nil {
		t.Fatalf("concurrent chain must verify: %v", err)
	}

	seen := make(map[string]bool)
	for _, e := range c.Entries() {
		if seen[e.PreviousHash()] {
			t.Fatalf("two entries share predecessor %q", e.PreviousHash())
		}
		seen[e.PreviousHash()] = true
	}
}

func TestHashDeterminismAndSensitivity(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	in := Input{Action: "LOGIN", ResourceType: "user", ResourceID: "alice", UserID: "alice",
		Details: map[string]any{"ip": "10.0.0.1", "attempt": 1}}

	a, err := buildEntry("id-1", ts, in)
	if err != nil {
		t.Fatalf("buildEntry: %v", err)
	}
	b, _ := buildEntry("id-1", ts, in)
	if a.EntryHash() != b.EntryHash() {
		t.Fatal("identical fields must hash identically")
	}
	if len(a.EntryHash()) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a.EntryHash()))
	}
	if rehash, _ := a.Rehash(); rehash != a.EntryHash() {
		t.Fatal("rehash of an untouched entry must match")
	}

	otherID, _ := buildEntry("id-2", ts, in)
	otherTime, _ := buildEntry("id-1", ts.Add(time.Microsecond), in)
	if otherID.EntryHash() == a.EntryHash() || otherTime.EntryHash() == a.EntryHash() {
		t.Fatal("different id or timestamp must change the hash")
	}

	sub := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	truncated, _ := buildEntry("id-1", sub, in)
	if truncated.EntryHash() != a.EntryHash() {
		t.Fatal("sub-microsecond precision must not affect the hash")
	}

	mutate := []Input{
		{Action: "LOGOUT", ResourceType: in.ResourceType, ResourceID: in.ResourceID, UserID: in.UserID, Details: in.Details},
		{Action: in.Action, ResourceType: in.ResourceType, ResourceID: in.ResourceID, Details: in.Details},
		{Action: in.Action, ResourceType: in.ResourceType, ResourceID: in.ResourceID, UserID: in.UserID, Details: in.Details, Status: StatusFailure},
		{Action: in.Action, ResourceType: in.ResourceType, ResourceID: in.ResourceID, UserID: in.UserID, Details: map[string]any{"ip": "10.0.0.2", "attempt": 1}},
		{Action: in.Action, ResourceType: in.ResourceType, ResourceID: in.ResourceID, UserID: in.UserID, Details: in.Details, PreviousHash: "abc"},
	}
	for i, m := range mutate {
		e, err := buildEntry("id-1", ts, m)
		if err != nil {
			t.Fatalf("mutation %d: %v", i, err)
		}
		if e.EntryHash() == a.EntryHash() {
			t.Fatalf("mutation %d must change the hash", i)
		}
	}
}

func TestDetailsAreCopied(t *testing.T) {
	details := map[string]any{"nested": map[string]any{"k": "v"}}
	e, err := NewEntry(Input{Action: "A", ResourceType: "r", ResourceID: "1", Details: details})
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	details["nested"].(map[string]any)["k"] = "changed"

	got := e.Details()
	got["nested"].(map[string]any)["k"] = "also changed"

	if e.Details()["nested"].(map[string]any)["k"] != "v" {
		t.Fatal("entry details must be isolated from callers")
	}
	if rehash, _ := e.Rehash(); rehash != e.EntryHash() {
		t.Fatal("entry must still hash to its stored value")
	}
}

func TestVerifyDetectsReplacedEntry(t *testing.T) {
	c := quietChain()
	mustAppend(t, c, Input{Action: "A", ResourceType: "r", ResourceID: "1"})
	mustAppend(t, c, Input{Action: "B", ResourceType: "r", ResourceID: "2"})
	mustAppend(t, c, Input{Action: "C", ResourceType: "r", ResourceID: "3"})

	forged, err := buildEntry("forged", time.Now(), Input{
		Action: "B", ResourceType: "r", ResourceID: "2", PreviousHash: c.entries[0].EntryHash(),
	})
	if err != nil {
		t.Fatalf("buildEntry: %v", err)
	}
	c.entries[1] = forged

	err = c.Verify()
	var ie *IntegrityError
	if !errors.As(err, &ie) || !errors.Is(err, ErrChainIntegrity) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ie.Index != 2 {
		t.Fatalf("expected break at index 2, got %d", ie.Index)
	}
	if c.Valid() {
		t.Fatal("tampered chain must not be valid")
	}
}

func TestVerifyDetectsAlteredContents(t *testing.T) {
	c := quietChain()
	mustAppend(t, c, Input{Action: "A", ResourceType: "r", ResourceID: "1"})
	mustAppend(t, c, Input{Action: "B", ResourceType: "r", ResourceID: "2"})

	c.entries[1].action = "ROLE_CHANGE"

	var ie *IntegrityError
	if err := c.Verify(); !errors.As(err, &ie) || ie.Index != 1 {
		t.Fatalf("expected contents mismatch at index 1, got %v", err)
	}
}

func TestVerifyDetectsGenesisWithPredecessor(t *testing.T) {
	c := quietChain()
	mustAppend(t, c, Input{Action: "A", ResourceType: "r", ResourceID: "1"})
	forged, _ := buildEntry("g", time.Now(), Input{Action: "A", ResourceType: "r", ResourceID: "1", PreviousHash: "deadbeef"})
	c.entries[0] = forged

	var ie *IntegrityError
	if err := c.Verify(); !errors.As(err, &ie) || ie.Index != 0 {
		t.Fatalf("expected genesis break, got %v", err)
	}
}

func TestLatestNewestFirst(t *testing.T) {
	c := quietChain()
	for i := 0; i < 12; i++ {
		mustAppend(t, c, Input{Action: "A", ResourceType: "r", ResourceID: fmt.Sprint(i)})
	}

	got := c.Latest(3)
	if len(got) != 3 || got[0].ResourceID() != "11" || got[2].ResourceID() != "9" {
		t.Fatalf("unexpected Latest(3): %v", ids(got))
	}
	if got := c.Latest(0); len(got) != 10 {
		t.Fatalf("expected default of 10, got %d", len(got))
	}
	if got := c.Latest(50); len(got) != 12 {
		t.Fatalf("expected all 12, got %d", len(got))
	}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ResourceID()
	}
	return out
}

func TestExportImportRoundTrip(t *testing.T) {
	c := quietChain()
	mustAppend(t, c, Input{Action: "LOGIN", ResourceType: "user", ResourceID: "alice", UserID: "alice",
		Details: map[string]any{"role": "clinician", "mfa": true, "attempts": 2, "tags": []any{"a", "b"}}})
	mustAppend(t, c, Input{Action: "LOGOUT", ResourceType: "token", ResourceID: "jti-1"})

	data, err := c.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	original := c.Entries()
	for i, r := range raw {
		if r["entry_hash"] != original[i].EntryHash() || r["entry_id"] != original[i].EntryID() {
			t.Fatalf("entry %d lost identity in export", i)
		}
	}
	if raw[0]["previous_hash"] != nil {
		t.Fatal("genesis previous_hash must export as null")
	}
	if raw[1]["user_id"] != nil {
		t.Fatal("absent user_id must export as null")
	}

	restored, err := Import(data, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := restored.Verify(); err != nil {
		t.Fatalf("restored chain must verify: %v", err)
	}
	got := restored.Entries()
	for i := range original {
		if got[i].EntryHash() != original[i].EntryHash() || !got[i].Timestamp().Equal(original[i].Timestamp()) {
			t.Fatalf("entry %d differs after import", i)
		}
	}

	next := mustAppend(t, restored, Input{Action: "A", ResourceType: "r", ResourceID: "1"})
	if next.PreviousHash() != original[1].EntryHash() {
		t.Fatal("appends to an imported chain must continue the chain")
	}
}

func TestImportDetectsTamperedExport(t *testing.T) {
	c := quietChain()
	mustAppend(t, c, Input{Action: "ROLE_CHANGE", ResourceType: "user", ResourceID: "bob",
		Details: map[string]any{"role": "viewer"}})
	data, _ := c.Export()

	var raw []map[string]any
	_ = json.Unmarshal(data, &raw)
	raw[0]["details"] = map[string]any{"role": "admin"}
	tampered, _ := json.Marshal(raw)

	restored, err := Import(tampered, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !errors.Is(restored.Verify(), ErrChainIntegrity) {
		t.Fatal("expected tampered export to fail verification")
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	if _, err := Import([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := Import([]byte(`[{"entry_id":"x","timestamp":"yesterday"}]`)); err == nil {
		t.Fatal("expected timestamp error")
	}
}

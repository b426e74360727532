package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StatusSuccess is the default entry status.
const StatusSuccess = "SUCCESS"

// StatusFailure marks an audited action that did not succeed.
const StatusFailure = "FAILURE"

// TimestampLayout is the fixed UTC rendering used for hashing and export.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// ErrValidation reports a missing required field on an audit input.
var ErrValidation = errors.New("audit validation failed")

// Input carries the caller-supplied part of an entry. Identity (id, timestamp) and
// the hash are always derived, never supplied.
type Input struct {
	Action       string
	ResourceType string
	ResourceID   string
	UserID       string
	Status       string
	Details      map[string]any
	PreviousHash string
}

// Entry is one immutable audited action. All derived fields are computed by
// [NewEntry]; there are no setters.
type Entry struct {
	entryID      string
	timestamp    time.Time
	action       string
	resourceType string
	resourceID   string
	userID       string
	status       string
	details      map[string]any
	previousHash string
	entryHash    string
}

// NewEntry validates in, stamps a fresh id and UTC timestamp, and computes the entry
// hash over every field except the hash itself.
func NewEntry(in Input) (Entry, error) {
	return buildEntry(uuid.NewString(), time.Now(), in)
}

func buildEntry(entryID string, ts time.Time, in Input) (Entry, error) {
	if err := validateInput(in); err != nil {
		return Entry{}, err
	}
	details, err := normalizeDetails(in.Details)
	if err != nil {
		return Entry{}, err
	}
	status := in.Status
	if status == "" {
		status = StatusSuccess
	}

	e := Entry{
		entryID:      entryID,
		timestamp:    ts.UTC().Truncate(time.Microsecond),
		action:       in.Action,
		resourceType: in.ResourceType,
		resourceID:   in.ResourceID,
		userID:       in.UserID,
		status:       status,
		details:      details,
		previousHash: in.PreviousHash,
	}
	hash, err := e.computeHash()
	if err != nil {
		return Entry{}, err
	}
	e.entryHash = hash
	return e, nil
}

func validateInput(in Input) error {
	var missing []string
	if strings.TrimSpace(in.Action) == "" {
		missing = append(missing, "action")
	}
	if strings.TrimSpace(in.ResourceType) == "" {
		missing = append(missing, "resource_type")
	}
	if strings.TrimSpace(in.ResourceID) == "" {
		missing = append(missing, "resource_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// normalizeDetails pins details to their JSON form so the hashed payload, the stored
// value, and a later re-import all agree byte for byte.
func normalizeDetails(details map[string]any) (map[string]any, error) {
	if len(details) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("%w: details not serializable: %v", ErrValidation, err)
	}
	return decodeDetails(raw)
}

func decodeDetails(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: details not an object: %v", ErrValidation, err)
	}
	return out, nil
}

// canonical returns the hashed payload: the nine identity and business fields as a
// JSON object with lexicographically ordered keys.
func (e Entry) canonical() ([]byte, error) {
	payload := map[string]any{
		"entry_id":      e.entryID,
		"timestamp":     e.timestamp.Format(TimestampLayout),
		"action":        e.action,
		"resource_type": e.resourceType,
		"resource_id":   e.resourceID,
		"user_id":       nullable(e.userID),
		"status":        e.status,
		"details":       e.details,
		"previous_hash": nullable(e.previousHash),
	}
	return json.Marshal(payload)
}

func (e Entry) computeHash() (string, error) {
	payload, err := e.canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (e Entry) EntryID() string      { return e.entryID }
func (e Entry) Timestamp() time.Time { return e.timestamp }
func (e Entry) Action() string       { return e.action }
func (e Entry) ResourceType() string { return e.resourceType }
func (e Entry) ResourceID() string   { return e.resourceID }
func (e Entry) UserID() string       { return e.userID }
func (e Entry) Status() string       { return e.status }
func (e Entry) PreviousHash() string { return e.previousHash }
func (e Entry) EntryHash() string    { return e.entryHash }

// Details returns a deep copy of the supplementary context.
func (e Entry) Details() map[string]any {
	return cloneMap(e.details)
}

// Rehash recomputes the hash from the entry's current fields. For an entry built by
// [NewEntry] it always equals [Entry.EntryHash]; a mismatch on an imported entry means
// the persisted record was altered.
func (e Entry) Rehash() (string, error) {
	return e.computeHash()
}

type entryJSON struct {
	EntryID      string          `json:"entry_id"`
	Timestamp    string          `json:"timestamp"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	UserID       *string         `json:"user_id"`
	Status       string          `json:"status"`
	Details      json.RawMessage `json:"details"`
	PreviousHash *string         `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// MarshalJSON renders every field, hashes included.
func (e Entry) MarshalJSON() ([]byte, error) {
	details, err := json.Marshal(e.details)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entryJSON{
		EntryID:      e.entryID,
		Timestamp:    e.timestamp.Format(TimestampLayout),
		Action:       e.action,
		ResourceType: e.resourceType,
		ResourceID:   e.resourceID,
		UserID:       nullable(e.userID),
		Status:       e.status,
		Details:      details,
		PreviousHash: nullable(e.previousHash),
		EntryHash:    e.entryHash,
	})
}

// entryFromJSON restores a persisted entry verbatim; the stored hash is kept, not
// recomputed, so verification can detect tampering.
func entryFromJSON(raw entryJSON) (Entry, error) {
	ts, err := time.Parse(TimestampLayout, raw.Timestamp)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: bad timestamp: %w", raw.EntryID, err)
	}
	details, err := decodeDetails(raw.Details)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", raw.EntryID, err)
	}
	e := Entry{
		entryID:      raw.EntryID,
		timestamp:    ts,
		action:       raw.Action,
		resourceType: raw.ResourceType,
		resourceID:   raw.ResourceID,
		status:       raw.Status,
		details:      details,
		entryHash:    raw.EntryHash,
	}
	if raw.UserID != nil {
		e.userID = *raw.UserID
	}
	if raw.PreviousHash != nil {
		e.previousHash = *raw.PreviousHash
	}
	return e, nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

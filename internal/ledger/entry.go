package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash is the PreviousHash of the first entry (sequence 0).
// It is a fixed trust anchor rather than a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Action is the kind of business event an entry records.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionVerify Action = "verify"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionVerify:
		return true
	}
	return false
}

// Entry is a single immutable record in the ledger.
type Entry struct {
	Sequence     int64           `json:"sequence"`
	PreviousHash string          `json:"previous_hash"`
	PayloadHash  string          `json:"payload_hash"`
	Hash         string          `json:"hash"`
	Timestamp    time.Time       `json:"timestamp"`
	SignerID     string          `json:"signer_id"`
	Action       Action          `json:"action"`
	Payload      json.RawMessage `json:"payload"`
}

// clone returns a deep copy so stored entries cannot be mutated through
// values handed to callers.
func (e *Entry) clone() *Entry {
	cp := *e
	cp.Payload = append(json.RawMessage(nil), e.Payload...)
	return &cp
}

// Digest maps bytes to a fixed-length string. It must be deterministic.
type Digest func(data []byte) string

// SHA256Hex is the default Digest.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Canonicalizer serialises a payload so that logically equal payloads
// produce identical bytes.
type Canonicalizer func(payload any) ([]byte, error)

// CanonicalJSON is the default Canonicalizer. The payload is marshalled,
// decoded back into generic values with numbers kept as literals, and
// marshalled again; encoding/json writes map keys in sorted order.
func CanonicalJSON(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if isEmpty(v) {
		return nil, fmt.Errorf("payload is empty")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	}
	return false
}

// entryPreimage is the byte string the entry hash is computed over.
// Every persisted field except Hash itself is covered, the payload through
// PayloadHash.
func entryPreimage(e *Entry) []byte {
	return fmt.Appendf(nil, "%d|%s|%s|%d|%s|%s",
		e.Sequence, e.PreviousHash, e.PayloadHash,
		e.Timestamp.UnixNano(), e.SignerID, e.Action,
	)
}

package event

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-jose/go-jose/v4/json"
)

// ErrEmptyBody is returned by DecodeBatch for a body with no JSON value.
var ErrEmptyBody = errors.New("empty event body")

// Event is one raw activity record.
type Event struct {
	root Value
}

// New wraps a decoded JSON object.
func New(raw map[string]any) Event {
	return Event{root: Of(raw)}
}

// Root returns the whole record.
func (e Event) Root() Value { return e.root }

// Path resolves a dot path from the record root.
func (e Event) Path(path string) Value { return e.root.Path(path) }

// Type is the provider's transaction type tag, e.g. "NFT_SALE".
func (e Event) Type() string {
	s, _ := e.root.Get("type").String()
	return s
}

// Signature is the transaction signature, falling back to txSignature.
func (e Event) Signature() string {
	if s, ok := e.root.Get("signature").String(); ok && s != "" {
		return s
	}
	s, _ := e.root.Get("txSignature").String()
	return s
}

// Timestamp is the block time carried in the unix "timestamp" field.
func (e Event) Timestamp() (time.Time, bool) {
	return e.root.Get("timestamp").UnixTime()
}

// Source is the program or venue the provider attributes the transaction to.
func (e Event) Source() string {
	s, _ := e.root.Get("source").String()
	return s
}

// DecodeBatch reads a JSON body holding either one event object or an array of them.
// Non-object array elements are kept as events whose paths never resolve.
func DecodeBatch(r io.Reader) ([]Event, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read event body: %w", err)
	}
	return DecodeBytes(body)
}

// DecodeBytes is DecodeBatch over an in-memory body.
func DecodeBytes(body []byte) ([]Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode event body: %w", err)
	}

	switch t := doc.(type) {
	case map[string]any:
		return []Event{New(t)}, nil
	case []any:
		events := make([]Event, 0, len(t))
		for _, e := range t {
			events = append(events, Event{root: Of(e)})
		}
		return events, nil
	default:
		return nil, fmt.Errorf("decode event body: expected object or array, got %T", doc)
	}
}

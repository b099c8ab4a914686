// Package id defines prefixed, UUID-backed identifiers for volley entities.
//
// Identifiers render as "prefix_uuid", for example
// "dsp_0190b6f4-5d2c-7c1e-9a41-6f1f5b2f8c3d". The UUID is version 7 so IDs
// generated by one process sort by creation time.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

// Prefix constants for volley entity types.
const (
	PrefixDispatch   Prefix = "dsp"
	PrefixTick       Prefix = "tick"
	PrefixSubscriber Prefix = "sub"
)

// ID is a prefix-qualified UUID.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receiver for UnmarshalText.
type ID struct {
	prefix Prefix
	inner  uuid.UUID
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new ID with the given prefix. It panics if the system
// random source fails, which uuid treats as unrecoverable.
func New(prefix Prefix) ID {
	return ID{prefix: prefix, inner: uuid.Must(uuid.NewV7())}
}

// Parse parses "prefix_uuid" into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	prefix, suffix, ok := strings.Cut(s, "_")
	if !ok || prefix == "" {
		return Nil, fmt.Errorf("id: parse %q: missing prefix", s)
	}
	u, err := uuid.Parse(suffix)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{prefix: Prefix(prefix), inner: u}, nil
}

// ParseWithPrefix parses s and validates that its prefix matches expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.prefix != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.prefix)
	}
	return parsed, nil
}

// NewDispatchID generates a dispatch handle.
func NewDispatchID() ID { return New(PrefixDispatch) }

// NewTickID generates a tick identifier.
func NewTickID() ID { return New(PrefixTick) }

// NewSubscriberID generates a stream subscriber identifier.
func NewSubscriberID() ID { return New(PrefixSubscriber) }

// String returns "prefix_uuid", or "" for the Nil ID.
func (i ID) String() string {
	if i.IsNil() {
		return ""
	}
	return string(i.prefix) + "_" + i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix { return i.prefix }

// UUID returns the UUID component of this ID.
func (i ID) UUID() uuid.UUID { return i.inner }

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool { return i.prefix == "" && i.inner == uuid.Nil }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

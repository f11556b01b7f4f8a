// Package id provides ULID-based identifiers for sessions and requests.
//
// IDs are prefixed with their kind so log lines stay readable:
//
//	sess_01HZX3...   browser session
//	req_01HZX3...    inbound HTTP request
//
// IDs from one process sort in creation order, including within the same
// millisecond.
package id

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Kind is the prefix of an identifier
type Kind string

const (
	KindSession Kind = "sess"
	KindRequest Kind = "req"
)

// SessionID identifies a pooled browser session
type SessionID string

// RequestID identifies an inbound request
type RequestID string

func (id SessionID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

func next() ulid.ULID {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy)
}

// ULID returns a bare ULID string, used for trace and span ids
func ULID() string {
	return next().String()
}

// New returns a ULID prefixed with kind
func New(kind Kind) string {
	return string(kind) + "_" + next().String()
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(New(KindSession))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(New(KindRequest))
}

// Parse splits a prefixed id into its kind and ULID
func Parse(s string) (Kind, ulid.ULID, error) {
	prefix, raw, ok := strings.Cut(s, "_")
	if !ok {
		return "", ulid.ULID{}, fmt.Errorf("id %q has no kind prefix", s)
	}
	u, err := ulid.ParseStrict(raw)
	if err != nil {
		return "", ulid.ULID{}, fmt.Errorf("id %q: %w", s, err)
	}
	return Kind(prefix), u, nil
}

// IsValid reports whether s is a prefixed id of a known kind
func IsValid(s string) bool {
	kind, _, err := Parse(s)
	return err == nil && (kind == KindSession || kind == KindRequest)
}

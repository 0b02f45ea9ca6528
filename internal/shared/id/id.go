// Package id generates the identifiers used across the proxy.
//
// Session identifiers are ULIDs behind a short type prefix, so they sort
// by creation time and read clearly in logs:
//
//	sh_01J9Z4N8Q1K7W3C5X2R6T0V8YB
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ShellID identifies an interpreter session.
type ShellID string

const ShellPrefix = "sh"

// Generator produces ULIDs from a shared entropy source.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator returns a generator backed by crypto/rand with monotonic
// entropy, so ids minted within the same millisecond still sort in order.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0))
}

// NewGeneratorWithEntropy uses the given entropy source. Tests pass a
// deterministic reader.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate returns a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// WithPrefix returns "<prefix>_<ulid>".
func (g *Generator) WithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewShellID mints an interpreter session id.
func NewShellID() ShellID {
	return ShellID(Default().WithPrefix(ShellPrefix))
}

func (id ShellID) String() string { return string(id) }

// Valid reports whether id is a well-formed shell session id.
func (id ShellID) Valid() bool {
	_, err := ParsePrefixed(string(id), ShellPrefix)
	return err == nil
}

// ParsePrefixed splits "<prefix>_<ulid>" and parses the ULID part.
func ParsePrefixed(s, prefix string) (ulid.ULID, error) {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return ulid.ULID{}, fmt.Errorf("id %q: missing %q prefix", s, prefix)
	}
	return ulid.Parse(rest)
}

// CreatedAt returns the timestamp embedded in a prefixed id.
func CreatedAt(s, prefix string) (time.Time, error) {
	u, err := ParsePrefixed(s, prefix)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

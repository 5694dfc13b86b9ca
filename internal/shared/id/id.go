// Package id provides prefixed ULID generation.
//
// IDs are lexicographically sortable by creation time and carry a short
// prefix naming what they identify, so hub and agent logs stay readable:
//
//	shell_01J9Z6K3Q8W2N4V7T5R0M1X2Y3   a bridged shell session
//	conn_01J9Z6K3Q8W2N4V7T5R0M1X2Y4    one websocket connection
//	agent_01J9Z6K3Q8W2N4V7T5R0M1X2Y5   a generated agent identity
//	trace_01J9Z6K3Q8W2N4V7T5R0M1X2Y6   one traced request and its spans
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

// ShellID identifies a shell session bridged through the hub.
type ShellID string

// ConnID identifies a single websocket connection.
type ConnID string

// AgentID identifies an agent. Agents normally bring their own id from
// configuration; NewAgentID is the fallback.
type AgentID string

const (
	ShellPrefix = "shell"
	ConnPrefix  = "conn"
	AgentPrefix = "agent"
	TracePrefix = "trace"
	SpanPrefix  = "span"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
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

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

func NewShellID() ShellID {
	return ShellID(Default().GenerateWithPrefix(ShellPrefix))
}

func NewConnID() ConnID {
	return ConnID(Default().GenerateWithPrefix(ConnPrefix))
}

func NewAgentID() AgentID {
	return AgentID(Default().GenerateWithPrefix(AgentPrefix))
}

func (id ShellID) String() string { return string(id) }
func (id ConnID) String() string  { return string(id) }
func (id AgentID) String() string { return string(id) }

// Split separates a prefixed id into its prefix and ULID.
func Split(s string) (prefix string, u ulid.ULID, err error) {
	i := strings.LastIndexByte(s, '_')
	if i < 0 {
		u, err = ulid.Parse(s)
		return "", u, err
	}
	u, err = ulid.Parse(s[i+1:])
	return s[:i], u, err
}

// IsValid reports whether s is a ULID, with or without a prefix.
func IsValid(s string) bool {
	_, _, err := Split(s)
	return err == nil
}

// Timestamp extracts the creation time from a (possibly prefixed) id.
func Timestamp(s string) (time.Time, error) {
	_, u, err := Split(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

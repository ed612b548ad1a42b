package transport

import (
	"context"
	"encoding/json"
)

// Operation is the opaque unit of remote work: a named command plus a
// JSON payload tagged by that name. The engine never inspects Payload.
type Operation struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result is what the endpoint reports back.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// Channel is a negotiated remote-execution handle to one target. All the
// engine requires is connect/execute/close semantics.
type Channel interface {
	Execute(ctx context.Context, op Operation) (*Result, error)
	Open() bool
	Close() error
	Kind() string
}

// Credential is the opaque secret-store material used to open a channel.
// The engine never logs its fields.
type Credential struct {
	Username      string `json:"username"`
	Password      string `json:"password,omitempty"`
	PrivateKeyPEM string `json:"private_key_pem,omitempty"`
}

const (
	KindSecure     = "secure"
	KindPlain      = "plain"
	KindIntegrated = "integrated"
)

// Package upstream is the Upstream Adapter: a narrow facade hiding the
// Signal/WhatsApp Web client library from the Session Supervisor.
package upstream

import "context"

// LastDisconnect carries the close reason, when a connection update reports
// connection == close.
type LastDisconnect struct {
	StatusCode int
}

// ConnectionUpdate is the polymorphic value the Supervisor switches on by
// field presence rather than a shared dispatch table, mirroring the
// upstream library's own loosely-typed event shape.
type ConnectionUpdate struct {
	Connection     string // "connecting", "open", "close", or "" if absent
	QR             string // present only on a qr-bearing update
	LastDisconnect *LastDisconnect
}

// LoggedOutStatusCode is the library's sentinel status code for an
// explicit, server-initiated logout close.
const LoggedOutStatusCode = 401

// AuthCreds is the opaque root credential value the Credential Store
// persists; its shape is owned by the upstream library, not this adapter.
type AuthCreds = any

// AuthState is what the Supervisor assembles before constructing a socket:
// the root credentials plus the two key-store callbacks the upstream
// library uses to read and write Signal protocol key material.
type AuthState struct {
	Creds    AuthCreds
	GetKeys  func(ctx context.Context, keyType string, ids []string) (map[string]any, error)
	SetKeys  func(ctx context.Context, values map[string]map[string]any) error
	SaveCreds func(ctx context.Context, creds AuthCreds) error
}

// SendResult is returned by Socket.SendText.
type SendResult struct {
	MessageID string
}

// Socket is a single live connection to the upstream transport. The
// Supervisor treats it as async and single-threaded: concurrent writes to
// the same socket are disallowed.
type Socket interface {
	CredsUpdate() <-chan AuthCreds
	ConnectionUpdate() <-chan ConnectionUpdate
	SendText(ctx context.Context, jid, text string) (SendResult, error)
	Logout(ctx context.Context) error
	Close()
}

// Options configures socket construction; left empty for now, present so
// the Adapter interface matches the upstream library's constructor shape.
type Options struct{}

// Adapter is the facade the Supervisor depends on. No real Signal/WhatsApp
// Web client implementation ships in this module: cmd/server and the test
// suites both use the in-memory Fake from fake.go.
type Adapter interface {
	NewSocket(ctx context.Context, auth AuthState, version [3]int, opts Options) (Socket, error)
	InitAuthCreds() AuthCreds
	ResolveVersion(ctx context.Context) [3]int
}

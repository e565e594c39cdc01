package upstream

import (
	"context"
	"sync"
)

// FakeSocket is a test double the Supervisor's test suite drives directly:
// InjectQR/InjectOpen/InjectClose push connection-update events exactly
// like a real socket would, without any network I/O.
type FakeSocket struct {
	creds   chan AuthCreds
	updates chan ConnectionUpdate
	closed  bool
	mu      sync.Mutex

	SendFunc   func(ctx context.Context, jid, text string) (SendResult, error)
	LogoutFunc func(ctx context.Context) error
}

func newFakeSocket() *FakeSocket {
	return &FakeSocket{
		creds:   make(chan AuthCreds, 8),
		updates: make(chan ConnectionUpdate, 8),
	}
}

func (s *FakeSocket) CredsUpdate() <-chan AuthCreds             { return s.creds }
func (s *FakeSocket) ConnectionUpdate() <-chan ConnectionUpdate { return s.updates }

func (s *FakeSocket) SendText(ctx context.Context, jid, text string) (SendResult, error) {
	if s.SendFunc != nil {
		return s.SendFunc(ctx, jid, text)
	}
	return SendResult{MessageID: "fake-message-id"}, nil
}

func (s *FakeSocket) Logout(ctx context.Context) error {
	if s.LogoutFunc != nil {
		return s.LogoutFunc(ctx)
	}
	return nil
}

func (s *FakeSocket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.updates)
	close(s.creds)
}

// InjectQR pushes a qr-bearing connection update.
func (s *FakeSocket) InjectQR(qr string) {
	s.updates <- ConnectionUpdate{QR: qr}
}

// InjectOpen pushes a connection == open update.
func (s *FakeSocket) InjectOpen() {
	s.updates <- ConnectionUpdate{Connection: "open"}
}

// InjectClose pushes a connection == close update with the given status code.
func (s *FakeSocket) InjectClose(statusCode int) {
	s.updates <- ConnectionUpdate{Connection: "close", LastDisconnect: &LastDisconnect{StatusCode: statusCode}}
}

// InjectCreds pushes a creds.update event.
func (s *FakeSocket) InjectCreds(creds AuthCreds) {
	s.creds <- creds
}

// Fake is an in-memory Adapter, driven by the tests and wired by
// cmd/server in place of a real client. NewSocketFunc lets a test
// override construction (e.g. to fail it) per call.
type Fake struct {
	mu            sync.Mutex
	sockets       []*FakeSocket
	NewSocketFunc func(ctx context.Context, auth AuthState, version [3]int, opts Options) (Socket, error)
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) NewSocket(ctx context.Context, auth AuthState, version [3]int, opts Options) (Socket, error) {
	if f.NewSocketFunc != nil {
		return f.NewSocketFunc(ctx, auth, version, opts)
	}

	sock := newFakeSocket()
	f.mu.Lock()
	f.sockets = append(f.sockets, sock)
	f.mu.Unlock()
	return sock, nil
}

func (f *Fake) InitAuthCreds() AuthCreds {
	return map[string]any{"registrationId": float64(1)}
}

func (f *Fake) ResolveVersion(ctx context.Context) [3]int {
	return [3]int{2, 3000, 0}
}

// LastSocket returns the most recently constructed socket, or nil.
func (f *Fake) LastSocket() *FakeSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sockets) == 0 {
		return nil
	}
	return f.sockets[len(f.sockets)-1]
}

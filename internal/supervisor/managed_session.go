package supervisor

import (
	"sync"
	"time"

	"github.com/openclaw/wa-gateway/internal/model"
	"github.com/openclaw/wa-gateway/internal/upstream"
)

// managedSession is the in-memory projection of one tenant's live session:
// status, last QR, the live socket (if any), in-flight connect future,
// waiters, lock-held flag, and reconnect state. Guarded by mu: request
// handlers, the socket's event pumps and the reconnect timer all mutate it.
type managedSession struct {
	mu sync.Mutex

	apiKey    string
	sessionID int64

	status model.SessionStatus
	lastQR *string

	socket        upstream.Socket
	connecting    bool
	connectWaitCh chan struct{} // closed when the in-flight connect settles

	qrWaiters   []*waiter
	connWaiters []*waiter

	lockHeld bool

	reconnectAttempts int
	reconnectTimer    *time.Timer
}

func newManagedSession(apiKey string, sessionID int64, status model.SessionStatus) *managedSession {
	return &managedSession{
		apiKey:    apiKey,
		sessionID: sessionID,
		status:    status,
	}
}

// connected reports true iff a live socket is bound and its last connection
// update was open (status CONNECTED); callers must hold mu.
func (m *managedSession) connected() bool {
	return m.socket != nil && m.status == model.StatusConnected
}

func (m *managedSession) addQRWaiter() *waiter {
	w := newWaiter()
	m.qrWaiters = append(m.qrWaiters, w)
	return w
}

func (m *managedSession) addConnWaiter() *waiter {
	w := newWaiter()
	m.connWaiters = append(m.connWaiters, w)
	return w
}

func (m *managedSession) resolveQRWaiters(qr string) {
	for _, w := range m.qrWaiters {
		w.resolve(qr)
	}
	m.qrWaiters = nil
}

func (m *managedSession) resolveConnWaiters() {
	for _, w := range m.connWaiters {
		w.resolve("")
	}
	m.connWaiters = nil
}

func (m *managedSession) rejectAllWaiters(err error) {
	for _, w := range m.qrWaiters {
		w.reject(err)
	}
	m.qrWaiters = nil
	for _, w := range m.connWaiters {
		w.reject(err)
	}
	m.connWaiters = nil
}

func (m *managedSession) cancelReconnectTimer() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

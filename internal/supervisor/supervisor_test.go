package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-gateway/internal/credstore"
	"github.com/openclaw/wa-gateway/internal/database"
	apperrors "github.com/openclaw/wa-gateway/internal/errors"
	"github.com/openclaw/wa-gateway/internal/eventbus"
	"github.com/openclaw/wa-gateway/internal/lock"
	"github.com/openclaw/wa-gateway/internal/model"
	"github.com/openclaw/wa-gateway/internal/registry"
	"github.com/openclaw/wa-gateway/internal/repository"
	"github.com/openclaw/wa-gateway/internal/upstream"
)

// --- in-memory fakes, mirroring the package-local test doubles used by
// registry, lock, and credstore's own test suites ---

type fakeApiKeyRepo struct {
	mu   sync.Mutex
	keys map[string]model.ApiKey
}

func newFakeApiKeyRepo(active ...string) *fakeApiKeyRepo {
	f := &fakeApiKeyRepo{keys: make(map[string]model.ApiKey)}
	for _, k := range active {
		f.keys[k] = model.ApiKey{Key: k, IsActive: true}
	}
	return f
}

func (f *fakeApiKeyRepo) WithTx(tx *sqlx.Tx) repository.ApiKeyRepository { return f }
func (f *fakeApiKeyRepo) List(ctx context.Context) ([]model.ApiKey, error) {
	var out []model.ApiKey
	for _, k := range f.keys {
		out = append(out, k)
	}
	return out, nil
}
func (f *fakeApiKeyRepo) FindByKey(ctx context.Context, key string) (*model.ApiKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[key]; ok {
		return &k, nil
	}
	return nil, nil
}
func (f *fakeApiKeyRepo) Create(ctx context.Context, params model.CreateApiKeyParams) (*model.ApiKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := model.ApiKey{Key: params.Key, Label: params.Label, IsActive: true}
	f.keys[params.Key] = k
	return &k, nil
}
func (f *fakeApiKeyRepo) Deactivate(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[key]
	if !ok {
		return nil
	}
	k.IsActive = false
	f.keys[key] = k
	return nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	nextID   int64
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*model.Session)}
}

func (f *fakeSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository { return f }
func (f *fakeSessionRepo) FindByApiKey(ctx context.Context, apiKey string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[apiKey], nil
}
func (f *fakeSessionRepo) List(ctx context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}
func (f *fakeSessionRepo) Upsert(ctx context.Context, params model.UpsertSessionParams) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[params.ApiKey]; ok {
		if params.DisplayName != nil {
			s.DisplayName = params.DisplayName
		}
		return s, nil
	}
	f.nextID++
	s := &model.Session{ID: f.nextID, ApiKey: params.ApiKey, DisplayName: params.DisplayName, Status: model.StatusDisconnected}
	f.sessions[params.ApiKey] = s
	return s, nil
}
func (f *fakeSessionRepo) UpdateStatus(ctx context.Context, apiKey string, status model.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[apiKey]; ok {
		s.Status = status
	}
	return nil
}
func (f *fakeSessionRepo) SaveCreds(ctx context.Context, apiKey string, creds []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[apiKey]; ok {
		s.Creds = creds
	}
	return nil
}
func (f *fakeSessionRepo) Delete(ctx context.Context, apiKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, apiKey)
	return nil
}

type fakeSignalKeyRepo struct {
	mu     sync.Mutex
	values map[int64]map[string]map[string][]byte
}

func newFakeSignalKeyRepo() *fakeSignalKeyRepo {
	return &fakeSignalKeyRepo{values: make(map[int64]map[string]map[string][]byte)}
}

func (f *fakeSignalKeyRepo) WithTx(tx *sqlx.Tx) repository.SignalKeyRepository { return f }
func (f *fakeSignalKeyRepo) Load(ctx context.Context, sessionID int64, keyType string, ids []string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte)
	for _, id := range ids {
		if byType, ok := f.values[sessionID]; ok {
			out[id] = byType[keyType][id]
		} else {
			out[id] = nil
		}
	}
	return out, nil
}
func (f *fakeSignalKeyRepo) Set(ctx context.Context, sessionID int64, keyType string, values map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[sessionID] == nil {
		f.values[sessionID] = make(map[string]map[string][]byte)
	}
	if f.values[sessionID][keyType] == nil {
		f.values[sessionID][keyType] = make(map[string][]byte)
	}
	for id, v := range values {
		if v == nil {
			delete(f.values[sessionID][keyType], id)
		} else {
			f.values[sessionID][keyType][id] = v
		}
	}
	return nil
}
func (f *fakeSignalKeyRepo) Clear(ctx context.Context, sessionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, sessionID)
	return nil
}

type fakeLockRepo struct {
	mu    sync.Mutex
	locks map[string]model.SessionLock
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{locks: make(map[string]model.SessionLock)}
}

func (f *fakeLockRepo) WithTx(tx *sqlx.Tx) repository.SessionLockRepository { return f }
func (f *fakeLockRepo) Acquire(ctx context.Context, apiKey, ownerID string, staleBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.locks[apiKey]
	if !ok || existing.OwnerID == ownerID || existing.AcquiredAt.Before(staleBefore) {
		f.locks[apiKey] = model.SessionLock{ApiKey: apiKey, OwnerID: ownerID, AcquiredAt: time.Now()}
		return true, nil
	}
	return false, nil
}
func (f *fakeLockRepo) Touch(ctx context.Context, apiKey, ownerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.locks[apiKey]
	if !ok || existing.OwnerID != ownerID {
		return false, nil
	}
	existing.AcquiredAt = time.Now()
	f.locks[apiKey] = existing
	return true, nil
}
func (f *fakeLockRepo) Release(ctx context.Context, apiKey, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.locks[apiKey]; ok && existing.OwnerID == ownerID {
		delete(f.locks, apiKey)
	}
	return nil
}
func (f *fakeLockRepo) ReleaseAll(ctx context.Context, ownerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, v := range f.locks {
		if v.OwnerID == ownerID {
			delete(f.locks, k)
			n++
		}
	}
	return n, nil
}
func (f *fakeLockRepo) GetOwner(ctx context.Context, apiKey string) (*model.SessionLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.locks[apiKey]; ok {
		return &l, nil
	}
	return nil, nil
}

type fakeBus struct {
	mu       sync.Mutex
	qr       map[string]*string
	statuses []eventbus.ConnectionInfo
}

func newFakeBus() *fakeBus {
	return &fakeBus{qr: make(map[string]*string)}
}

func (f *fakeBus) PublishQr(ctx context.Context, apiKey string, qr *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qr[apiKey] = qr
	return nil
}
func (f *fakeBus) PublishStatus(ctx context.Context, info eventbus.ConnectionInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, info)
	return nil
}

// fakeTransactor runs the callback with a nil *sqlx.Tx: the fake session
// and signal key repos in this file ignore the tx value and return
// themselves from WithTx, so no real transaction is needed here either.
type fakeTransactor struct{}

func (fakeTransactor) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type harness struct {
	sup      *Supervisor
	apiKeys  *fakeApiKeyRepo
	sessions *fakeSessionRepo
	adapter  *upstream.Fake
	lockRepo *fakeLockRepo
	bus      *fakeBus
}

func newHarness(activeKeys ...string) *harness {
	apiKeys := newFakeApiKeyRepo(activeKeys...)
	sessions := newFakeSessionRepo()
	keys := newFakeSignalKeyRepo()
	lockRepo := newFakeLockRepo()

	reg := registry.New(apiKeys)
	credStore := credstore.New(fakeTransactor{}, sessions, keys)
	sessLock := lock.NewWithOwner(lockRepo, "proc-under-test")
	bus := newFakeBus()
	adapter := upstream.NewFake()

	sup := New(reg, sessions, credStore, sessLock, bus, adapter)

	return &harness{sup: sup, apiKeys: apiKeys, sessions: sessions, adapter: adapter, lockRepo: lockRepo, bus: bus}
}

func TestGetQr_IssuesCodeThenTransitionsToConnected(t *testing.T) {
	h := newHarness("wag_test1")
	ctx := context.Background()

	var result *QrResult
	var err error
	done := make(chan struct{})
	go func() {
		result, err = h.sup.GetQr(ctx, "wag_test1", nil)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return h.adapter.LastSocket() != nil
	}, time.Second, time.Millisecond, "socket should be constructed")

	h.adapter.LastSocket().InjectQR("qr-code-1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("GetQr did not return")
	}

	require.NoError(t, err)
	assert.Equal(t, model.StatusQR, result.Status)
	assert.Equal(t, "qr-code-1", result.QR)

	h.adapter.LastSocket().InjectOpen()

	require.Eventually(t, func() bool {
		status, err := h.sup.GetConnectionStatus(ctx, "wag_test1")
		return err == nil && status.Connected
	}, time.Second, time.Millisecond, "session should report connected after open")
}

func TestGetQr_AlreadyBufferedReturnsImmediately(t *testing.T) {
	h := newHarness("wag_test2")
	ctx := context.Background()

	go func() {
		_, _ = h.sup.GetQr(ctx, "wag_test2", nil)
	}()
	require.Eventually(t, func() bool { return h.adapter.LastSocket() != nil }, time.Second, time.Millisecond)
	h.adapter.LastSocket().InjectQR("buffered-qr")
	require.Eventually(t, func() bool { return h.sup.GetCurrentQr("wag_test2") != nil }, time.Second, time.Millisecond)

	result, err := h.sup.GetQr(ctx, "wag_test2", nil)
	require.NoError(t, err)
	assert.Equal(t, "buffered-qr", result.QR)
}

func TestGetQr_RejectsUnregisteredKey(t *testing.T) {
	h := newHarness()
	_, err := h.sup.GetQr(context.Background(), "wag_unknown", nil)
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeKeyNotRegistered, appErr.Code)
}

func TestLogout_ClearsCredentialsAndIsIdempotent(t *testing.T) {
	h := newHarness("wag_logout")
	ctx := context.Background()

	go func() { _, _ = h.sup.GetQr(ctx, "wag_logout", nil) }()
	require.Eventually(t, func() bool { return h.adapter.LastSocket() != nil }, time.Second, time.Millisecond)
	h.adapter.LastSocket().InjectOpen()
	require.Eventually(t, func() bool {
		status, err := h.sup.GetConnectionStatus(ctx, "wag_logout")
		return err == nil && status.Connected
	}, time.Second, time.Millisecond)

	require.NoError(t, h.sup.Logout(ctx, "wag_logout"))

	status, err := h.sup.GetConnectionStatus(ctx, "wag_logout")
	require.NoError(t, err)
	assert.Equal(t, model.StatusLoggedOut, status.Status)
	assert.False(t, status.Connected)

	// a second logout on an already-logged-out session succeeds again rather than returning an error
	require.NoError(t, h.sup.Logout(ctx, "wag_logout"))
}

func TestLogout_UnknownSessionIsNotFound(t *testing.T) {
	h := newHarness("wag_never_connected")
	err := h.sup.Logout(context.Background(), "wag_never_connected")
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeSessionNotFound, appErr.Code)
}

func TestSendText_RejectsInvalidDestination(t *testing.T) {
	h := newHarness("wag_send1")
	ctx := context.Background()
	_, err := h.sup.sessionRepo.Upsert(ctx, model.UpsertSessionParams{ApiKey: "wag_send1"})
	require.NoError(t, err)

	_, err = h.sup.SendText(ctx, "wag_send1", "not-a-number!", "hello")
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeValidation, appErr.Code)
}

func TestSendText_RejectsWhenLoggedOut(t *testing.T) {
	h := newHarness("wag_send2")
	ctx := context.Background()
	row, err := h.sup.sessionRepo.Upsert(ctx, model.UpsertSessionParams{ApiKey: "wag_send2"})
	require.NoError(t, err)
	require.NoError(t, h.sup.sessionRepo.UpdateStatus(ctx, row.ApiKey, model.StatusLoggedOut))

	_, err = h.sup.SendText(ctx, "wag_send2", "081234567890", "hello")
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeSessionLoggedOut, appErr.Code)
}

func TestSendText_NormalizesAndSendsOnceConnected(t *testing.T) {
	h := newHarness("wag_send3")
	ctx := context.Background()
	_, err := h.sup.sessionRepo.Upsert(ctx, model.UpsertSessionParams{ApiKey: "wag_send3"})
	require.NoError(t, err)

	var messageID string
	var sendErr error
	done := make(chan struct{})
	go func() {
		messageID, sendErr = h.sup.SendText(ctx, "wag_send3", "081234567890", "hello")
		close(done)
	}()

	require.Eventually(t, func() bool { return h.adapter.LastSocket() != nil }, time.Second, time.Millisecond)
	sock := h.adapter.LastSocket()
	sock.SendFunc = func(ctx context.Context, jid, text string) (upstream.SendResult, error) {
		assert.Equal(t, "6281234567890@s.whatsapp.net", jid)
		return upstream.SendResult{MessageID: "msg-1"}, nil
	}
	sock.InjectOpen()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendText did not return")
	}

	require.NoError(t, sendErr)
	assert.Equal(t, "msg-1", messageID)
}

func TestSendText_ReportsLockHeldElsewhere(t *testing.T) {
	h := newHarness("wag_locked")
	ctx := context.Background()
	_, err := h.sup.sessionRepo.Upsert(ctx, model.UpsertSessionParams{ApiKey: "wag_locked"})
	require.NoError(t, err)

	other := lock.NewWithOwner(h.lockRepo, "other-proc")
	held, err := other.Acquire(ctx, "wag_locked")
	require.NoError(t, err)
	require.True(t, held)

	_, err = h.sup.SendText(ctx, "wag_locked", "081234567890", "hello")
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeSessionLocked, appErr.Code)
	assert.Equal(t, map[string]string{"owner": "other-proc"}, appErr.Details)
}

func TestWarmSessions_SkipsSessionsWithoutStoredCredentials(t *testing.T) {
	h := newHarness("wag_warm_creds", "wag_warm_nocreds")
	ctx := context.Background()

	rowWithCreds, err := h.sup.sessionRepo.Upsert(ctx, model.UpsertSessionParams{ApiKey: "wag_warm_creds"})
	require.NoError(t, err)
	require.NoError(t, h.sup.sessionRepo.UpdateStatus(ctx, rowWithCreds.ApiKey, model.StatusDisconnected))
	require.NoError(t, h.sup.credStore.SaveCreds(ctx, "wag_warm_creds", map[string]any{"registrationId": 1}))

	rowNoCreds, err := h.sup.sessionRepo.Upsert(ctx, model.UpsertSessionParams{ApiKey: "wag_warm_nocreds"})
	require.NoError(t, err)
	require.NoError(t, h.sup.sessionRepo.UpdateStatus(ctx, rowNoCreds.ApiKey, model.StatusDisconnected))

	go func() {
		for i := 0; i < 1000; i++ {
			if sock := h.adapter.LastSocket(); sock != nil {
				sock.InjectOpen()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	result, err := h.sup.WarmSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Attempted)
}

func TestReconnectDelay_BoundedExponentialBackoff(t *testing.T) {
	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 1 * time.Second, 1*time.Second + 500*time.Millisecond},
		{2, 2 * time.Second, 2*time.Second + 500*time.Millisecond},
		{6, 30 * time.Second, 30*time.Second + 500*time.Millisecond},
		{20, 30 * time.Second, 30*time.Second + 500*time.Millisecond},
	}
	for _, tc := range cases {
		d := reconnectDelay(tc.attempt)
		assert.GreaterOrEqualf(t, d, tc.min, "attempt %d", tc.attempt)
		assert.LessOrEqualf(t, d, tc.max, "attempt %d", tc.attempt)
	}
}

func TestHandleClose_LoggedOutClearsCredsAndDiscardsSession(t *testing.T) {
	h := newHarness("wag_close_logout")
	ctx := context.Background()

	go func() { _, _ = h.sup.GetQr(ctx, "wag_close_logout", nil) }()
	require.Eventually(t, func() bool { return h.adapter.LastSocket() != nil }, time.Second, time.Millisecond)
	sock := h.adapter.LastSocket()
	sock.InjectOpen()
	require.Eventually(t, func() bool {
		status, err := h.sup.GetConnectionStatus(ctx, "wag_close_logout")
		return err == nil && status.Connected
	}, time.Second, time.Millisecond)

	sock.InjectClose(upstream.LoggedOutStatusCode)

	require.Eventually(t, func() bool {
		status, err := h.sup.GetConnectionStatus(ctx, "wag_close_logout")
		return err == nil && status.Status == model.StatusLoggedOut
	}, time.Second, time.Millisecond)

	creds, err := h.sup.credStore.LoadCreds(ctx, "wag_close_logout")
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestHandleClose_NonLoggedOutSchedulesReconnect(t *testing.T) {
	h := newHarness("wag_close_reconnect")
	ctx := context.Background()

	go func() { _, _ = h.sup.GetQr(ctx, "wag_close_reconnect", nil) }()
	require.Eventually(t, func() bool { return h.adapter.LastSocket() != nil }, time.Second, time.Millisecond)
	first := h.adapter.LastSocket()
	first.InjectOpen()
	require.Eventually(t, func() bool {
		status, err := h.sup.GetConnectionStatus(ctx, "wag_close_reconnect")
		return err == nil && status.Connected
	}, time.Second, time.Millisecond)

	first.InjectClose(500)

	require.Eventually(t, func() bool {
		status, err := h.sup.GetConnectionStatus(ctx, "wag_close_reconnect")
		return err == nil && status.Status == model.StatusDisconnected
	}, time.Second, time.Millisecond)

	// attempt 1 fires after 1s-1.5s and constructs a fresh socket
	require.Eventually(t, func() bool {
		return h.adapter.LastSocket() != first
	}, 3*time.Second, 10*time.Millisecond, "reconnect should construct a new socket")
}

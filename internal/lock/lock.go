// Package lock implements the Session Lock: a durable, single-owner lease
// per tenant API key that serialises connection attempts so a key never
// ends up with two concurrent upstream sockets across processes.
package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openclaw/wa-gateway/internal/config"
	"github.com/openclaw/wa-gateway/internal/repository"
)

// Lock wraps the SessionLockRepository with the TTL and owner-identity
// policy the Session Supervisor relies on.
type Lock struct {
	repo    repository.SessionLockRepository
	ownerID string
	ttl     time.Duration
}

func New(repo repository.SessionLockRepository) *Lock {
	return NewWithOwner(repo, OwnerID())
}

// NewWithOwner builds a Lock with an explicit owner identity, used by tests
// that need two distinct "processes" racing the same repository.
func NewWithOwner(repo repository.SessionLockRepository, ownerID string) *Lock {
	return &Lock{
		repo:    repo,
		ownerID: ownerID,
		ttl:     config.SessionLockTTL,
	}
}

// OwnerID derives this process's lease identity once per boot: "<hostname>-<pid>".
func OwnerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Acquire returns true iff this process now holds the lease for apiKey,
// either by creating it, refreshing its own existing lease, or stealing a
// lease whose acquiredAt is older than the TTL.
func (l *Lock) Acquire(ctx context.Context, apiKey string) (bool, error) {
	staleBefore := time.Now().Add(-l.ttl)
	return l.repo.Acquire(ctx, apiKey, l.ownerID, staleBefore)
}

// Touch refreshes the lease if this process is still the owner.
func (l *Lock) Touch(ctx context.Context, apiKey string) (bool, error) {
	return l.repo.Touch(ctx, apiKey, l.ownerID)
}

// Release deletes the lease only if this process owns it.
func (l *Lock) Release(ctx context.Context, apiKey string) error {
	return l.repo.Release(ctx, apiKey, l.ownerID)
}

// ReleaseAll drops every lease this process owns; called on graceful shutdown.
func (l *Lock) ReleaseAll(ctx context.Context) (int64, error) {
	return l.repo.ReleaseAll(ctx, l.ownerID)
}

// OwnerOf reports the current lease holder's identity, or "" if unleased.
func (l *Lock) OwnerOf(ctx context.Context, apiKey string) (string, error) {
	record, err := l.repo.GetOwner(ctx, apiKey)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", nil
	}
	return record.OwnerID, nil
}

// OwnerIdentity reports this process's own lease identity.
func (l *Lock) OwnerIdentity() string {
	return l.ownerID
}

// Package credstore implements the Credential Store: durable, binary-safe
// storage of per-session root credentials and Signal protocol key material.
package credstore

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/wa-gateway/internal/database"
	"github.com/openclaw/wa-gateway/internal/repository"
)

// CredentialDump is the read-only diagnostics export of a session's stored
// material.
type CredentialDump struct {
	Creds any            `json:"creds"`
	Keys  map[string]any `json:"keys"`
}

// transactor is the slice of *database.DB the Credential Store needs:
// just enough to run setKeys/clearSessionData as one logical transaction.
// Narrowed to an interface so tests can supply an in-memory fake instead of
// a real *sqlx.DB.
type transactor interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// Store is the Credential Store.
type Store struct {
	db       transactor
	sessions repository.SessionRepository
	keys     repository.SignalKeyRepository
}

func New(db transactor, sessions repository.SessionRepository, keys repository.SignalKeyRepository) *Store {
	return &Store{db: db, sessions: sessions, keys: keys}
}

// LoadCreds returns the session's root credential value, or nil if none has
// been saved yet.
func (s *Store) LoadCreds(ctx context.Context, apiKey string) (any, error) {
	session, err := s.sessions.FindByApiKey(ctx, apiKey)
	if err != nil || session == nil || session.Creds == nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(session.Creds, &raw); err != nil {
		return nil, err
	}
	return decodeValue(raw), nil
}

// SaveCreds persists creds atomically: the envelope encode + single UPDATE
// means rapid key rotation never leaves a torn, partially-written value.
func (s *Store) SaveCreds(ctx context.Context, apiKey string, creds any) error {
	encoded, err := json.Marshal(encodeValue(creds))
	if err != nil {
		return err
	}
	return s.sessions.SaveCreds(ctx, apiKey, encoded)
}

// LoadKeys returns an entry (possibly nil) for every requested id, as the
// upstream library's keys.get(type, ids) callback contract requires.
func (s *Store) LoadKeys(ctx context.Context, sessionID int64, keyType string, ids []string) (map[string]any, error) {
	raw, err := s.keys.Load(ctx, sessionID, keyType, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(ids))
	for _, id := range ids {
		value, ok := raw[id]
		if !ok {
			out[id] = nil
			continue
		}
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			return nil, err
		}
		out[id] = decodeValue(decoded)
	}
	return out, nil
}

// SetKeys upserts every present value and deletes every nil value across
// every key type in one logical transaction, so a crash or transient DB
// error between key types never leaves a torn write.
func (s *Store) SetKeys(ctx context.Context, sessionID int64, values map[string]map[string]any) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		txKeys := s.keys.WithTx(tx)
		for keyType, byID := range values {
			encoded := make(map[string][]byte, len(byID))
			for id, value := range byID {
				if value == nil {
					encoded[id] = nil
					continue
				}
				raw, err := json.Marshal(encodeValue(value))
				if err != nil {
					return err
				}
				encoded[id] = raw
			}
			if err := txKeys.Set(ctx, sessionID, keyType, encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearSessionData deletes all subordinate keys and nulls the root
// credential blob in one transaction, so a concurrent reader never sees
// one half of the clear applied without the other.
func (s *Store) ClearSessionData(ctx context.Context, sessionID int64, apiKey string) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.keys.WithTx(tx).Clear(ctx, sessionID); err != nil {
			return err
		}
		return s.sessions.WithTx(tx).SaveCreds(ctx, apiKey, nil)
	})
}

// GetCredentialDump is a read-only diagnostics export.
func (s *Store) GetCredentialDump(ctx context.Context, sessionID int64, apiKey string, keyTypes map[string][]string) (*CredentialDump, error) {
	creds, err := s.LoadCreds(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]any, len(keyTypes))
	for keyType, ids := range keyTypes {
		loaded, err := s.LoadKeys(ctx, sessionID, keyType, ids)
		if err != nil {
			return nil, err
		}
		keys[keyType] = loaded
	}

	return &CredentialDump{Creds: creds, Keys: keys}, nil
}

// Package store is the persistent-store adapter: it loads subscribers and
// their phrases from Postgres at startup and on admin reload, and deletes
// evicted subscribers. Backed by jackc/pgx/v5's connection pool.
package store

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bskyhook/notifier/internal/identmap"
	"github.com/bskyhook/notifier/internal/index"
	"github.com/bskyhook/notifier/internal/subscriber"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool for connString. TLS uses the system trust
// roots by default, as pgx does out of the box for `sslmode=verify-full`.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// LoadAll reads every subscriber row plus its phrases, and wires each into
// tree and idents. A failure to query the users/phrases tables at all is
// returned to the caller, who must treat it as fatal: the in-memory index
// would otherwise be left inconsistent with durable state. A single
// malformed row (undecodable private_key) is skipped and logged instead of
// aborting the whole load, since one bad row shouldn't take down every
// other subscriber's delivery.
func (s *Store) LoadAll(ctx context.Context, tree *index.Tree, idents *identmap.Map, logger *zap.Logger) (int, error) {
	rows, err := s.pool.Query(ctx, `SELECT did, endpoint, private_key FROM users`)
	if err != nil {
		return 0, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	type userRow struct {
		did        *string
		endpoint   string
		privateKey string
	}
	var users []userRow
	for rows.Next() {
		var u userRow
		if err := rows.Scan(&u.did, &u.endpoint, &u.privateKey); err != nil {
			return 0, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate user rows: %w", err)
	}

	loaded := 0
	for _, u := range users {
		did := ""
		if u.did != nil {
			did = *u.did
		}
		sub, key, err := decodeKey(did, u.endpoint, u.privateKey)
		if err != nil {
			logger.Warn("skipping subscriber with invalid signing key",
				zap.String("private_key", u.privateKey), zap.Error(err))
			continue
		}
		_ = key

		phrases, err := s.phrasesFor(ctx, u.privateKey)
		if err != nil {
			return 0, fmt.Errorf("query phrases for %s: %w", u.privateKey, err)
		}
		sub.Phrases = phrases

		wireSubscriber(sub, tree, idents)
		loaded++
	}
	return loaded, nil
}

// LoadOne reloads a single subscriber by signing-key-hex, used by the admin
// surface. Errors are logged, never propagated: the admin call still
// returns 204 regardless, since the caller has no retry path finer-grained
// than re-issuing the same reload.
func (s *Store) LoadOne(ctx context.Context, tree *index.Tree, idents *identmap.Map, privateKeyHex string, logger *zap.Logger) {
	row := s.pool.QueryRow(ctx, `SELECT did, endpoint FROM users WHERE private_key = $1`, privateKeyHex)

	var did *string
	var endpoint string
	if err := row.Scan(&did, &endpoint); err != nil {
		logger.Warn("reload: fetching user failed", zap.String("private_key", privateKeyHex), zap.Error(err))
		return
	}

	didStr := ""
	if did != nil {
		didStr = *did
	}
	sub, _, err := decodeKey(didStr, endpoint, privateKeyHex)
	if err != nil {
		logger.Warn("reload: invalid signing key", zap.String("private_key", privateKeyHex), zap.Error(err))
		return
	}

	phrases, err := s.phrasesFor(ctx, privateKeyHex)
	if err != nil {
		logger.Warn("reload: fetching phrases failed", zap.String("private_key", privateKeyHex), zap.Error(err))
		return
	}
	sub.Phrases = phrases

	wireSubscriber(sub, tree, idents)
}

// Delete removes the subscriber row identified by privateKeyHex.
func (s *Store) Delete(ctx context.Context, privateKeyHex string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM users WHERE private_key = $1`, privateKeyHex)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", privateKeyHex, err)
	}
	return nil
}

func (s *Store) phrasesFor(ctx context.Context, privateKeyHex string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT phrase FROM phrases WHERE private_key = $1`, privateKeyHex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phrases []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		phrases = append(phrases, p)
	}
	return phrases, rows.Err()
}

// decodeKey hex-decodes privateKeyHex into a 32-byte Ed25519 seed and
// constructs a Subscriber. Returns an error if the key is not exactly 32
// bytes once decoded.
func decodeKey(did, endpoint, privateKeyHex string) (*subscriber.Subscriber, [32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, key, fmt.Errorf("hex decode: %w", err)
	}
	if len(raw) != 32 {
		return nil, key, fmt.Errorf("signing key must be 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return subscriber.New(did, endpoint, key, nil), key, nil
}

// wireSubscriber inserts sub into idents (if it has a DID) and adds every
// one of its phrases to tree.
func wireSubscriber(sub *subscriber.Subscriber, tree *index.Tree, idents *identmap.Map) {
	if sub.HasDID() {
		idents.Insert(sub.DID, sub)
	}
	for _, phrase := range sub.Phrases {
		tree.Add(phrase, sub)
	}
}

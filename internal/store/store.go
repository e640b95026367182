// Package store implements the durable Request Store: a SQLite-backed table
// of requests, approvals (trust), secrets, and codes, with atomic
// compare-and-set state transitions.
//
// Maps to: spec.md §4.2 "Request Store" and §6 "Persistent state layout".
//
// Grounded on Mindburn-Labs-helm/core/pkg/store/receipt_store_sqlite.go:
// a blank-imported pure-Go sqlite driver, an idempotent migrate() run once
// at construction, and parameterized CRUD via database/sql.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mfateev/skillbroker/internal/brokererr"
	"github.com/mfateev/skillbroker/internal/request"
)

// Store is the durable Request Store. All methods are safe under parallel
// callers; Transition is linearizable via SQL compare-and-set.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed Store at path and runs
// migrations. Pass ":memory:" for an ephemeral in-process store (tests).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection avoids "database is
	// locked" errors under the concurrent-caller contract this store must
	// honor (spec §4.2 "Concurrency: all methods safe under parallel callers").
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			skill_id TEXT NOT NULL,
			skill_url TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			secrets JSON,
			args JSON,
			network JSON,
			timeout_seconds INTEGER NOT NULL,
			state TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			approved_at DATETIME,
			executed_at DATETIME,
			result JSON,
			chat_handle TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(state)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			source TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			scope TEXT NOT NULL,
			granted_at DATETIME NOT NULL,
			expires_at DATETIME,
			PRIMARY KEY (source, fingerprint)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_expiry ON approvals(expires_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS codes (
			request_id TEXT PRIMARY KEY,
			bytes BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Create inserts a new request row in state `pending`.
func (s *Store) Create(ctx context.Context, r *request.Request) error {
	secretsJSON, _ := json.Marshal(r.Secrets)
	argsJSON, _ := json.Marshal(r.Args)
	networkJSON, _ := json.Marshal(r.Network)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, skill_id, skill_url, fingerprint, secrets, args, network,
			timeout_seconds, state, created_at, chat_handle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SkillID, r.SkillURL, r.Fingerprint, string(secretsJSON), string(argsJSON), string(networkJSON),
		r.TimeoutSeconds, string(request.StatePending), r.CreatedAt.UTC().Format(time.RFC3339Nano), r.ChatHandle,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return brokererr.ErrDuplicateID
		}
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// Get returns the full row, or brokererr.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id string) (*request.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, skill_id, skill_url, fingerprint, secrets, args, network, timeout_seconds,
			state, created_at, approved_at, executed_at, result, chat_handle
		FROM requests WHERE id = ?`, id)
	return scanRequest(row)
}

// Transition performs a compare-and-set on state: it only succeeds if the
// row's current state equals from. This is the sole legal mutator for
// lifecycle state (spec §4.2) and is what gives at-most-one-winner approval
// semantics their linearizability (spec §8 property 2).
func (s *Store) Transition(ctx context.Context, id string, from, to request.State, ts time.Time) error {
	var res sql.Result
	var err error
	switch to {
	case request.StateApproved:
		res, err = s.db.ExecContext(ctx,
			`UPDATE requests SET state = ?, approved_at = ? WHERE id = ? AND state = ?`,
			string(to), ts.UTC().Format(time.RFC3339Nano), id, string(from))
	case request.StateExecuting:
		res, err = s.db.ExecContext(ctx,
			`UPDATE requests SET state = ?, executed_at = ? WHERE id = ? AND state = ?`,
			string(to), ts.UTC().Format(time.RFC3339Nano), id, string(from))
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE requests SET state = ? WHERE id = ? AND state = ?`,
			string(to), id, string(from))
	}
	if err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	if n == 0 {
		return brokererr.ErrInvalidTransition
	}
	return nil
}

// AttachChatHandle sets the chat-message handle on a request. Idempotent.
func (s *Store) AttachChatHandle(ctx context.Context, id, handle string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE requests SET chat_handle = ? WHERE id = ?`, handle, id)
	if err != nil {
		return fmt.Errorf("attach chat handle: %w", err)
	}
	return nil
}

// SetResult atomically records the terminal result and transitions state to
// `completed` or `failed`.
func (s *Store) SetResult(ctx context.Context, id string, terminal request.State, result request.Result, ts time.Time) error {
	if terminal != request.StateCompleted && terminal != request.StateFailed {
		return fmt.Errorf("set_result: terminal state must be completed or failed, got %q", terminal)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("set_result: marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE requests SET state = ?, executed_at = COALESCE(executed_at, ?), result = ? WHERE id = ?`,
		string(terminal), ts.UTC().Format(time.RFC3339Nano), string(resultJSON), id)
	if err != nil {
		return fmt.Errorf("set_result: %w", err)
	}
	return nil
}

// AddTrust upserts a trust record. `once` is rejected: it is never
// persisted (spec §3, §9).
func (s *Store) AddTrust(ctx context.Context, source, fingerprint string, scope request.TrustScope, now time.Time) error {
	if scope == request.ScopeOnce {
		return brokererr.ErrTrustOnceNotPersisted
	}
	var expiresAt *time.Time
	if scope == request.Scope24h {
		e := now.Add(request.TrustDuration24h)
		expiresAt = &e
	}
	var expiresStr any
	if expiresAt != nil {
		expiresStr = expiresAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (source, fingerprint, scope, granted_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, fingerprint) DO UPDATE SET
			scope = excluded.scope, granted_at = excluded.granted_at, expires_at = excluded.expires_at`,
		source, fingerprint, string(scope), now.UTC().Format(time.RFC3339Nano), expiresStr,
	)
	if err != nil {
		return fmt.Errorf("add trust: %w", err)
	}
	return nil
}

// LookupTrust returns the trust record for (source, fingerprint) if present
// and not expired. An expired row is lazily deleted and absent is returned —
// spec §4.4: "lookup_trust... lazily deletes expired rows so that external
// observers cannot see an expired grant."
func (s *Store) LookupTrust(ctx context.Context, source, fingerprint string, now time.Time) (*request.Trust, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source, fingerprint, scope, granted_at, expires_at FROM approvals WHERE source = ? AND fingerprint = ?`,
		source, fingerprint)

	var (
		src, fp, scope, grantedAt string
		expiresAt                 sql.NullString
	)
	if err := row.Scan(&src, &fp, &scope, &grantedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup trust: %w", err)
	}

	t := &request.Trust{
		Source:      src,
		Fingerprint: fp,
		Scope:       request.TrustScope(scope),
		GrantedAt:   parseTimeRFC3339(grantedAt),
	}
	if expiresAt.Valid && expiresAt.String != "" {
		e := parseTimeRFC3339(expiresAt.String)
		t.ExpiresAt = &e
	}

	if t.Expired(now) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM approvals WHERE source = ? AND fingerprint = ?`, source, fingerprint); err != nil {
			return nil, fmt.Errorf("lookup trust: delete expired: %w", err)
		}
		return nil, nil
	}
	return t, nil
}

// SweepExpiredTrust deletes every trust row whose expiry has passed as of
// now, and returns the number of rows removed. Used by the Background
// Janitor (spec §4.8); safe to run concurrently with LookupTrust/AddTrust.
func (s *Store) SweepExpiredTrust(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM approvals WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("sweep expired trust: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SweepOldCompleted deletes terminal requests (and their stored code) older
// than retention, for deployments that opt into pruning (spec §9 Open
// Question 2 — disabled by a zero retention).
func (s *Store) SweepOldCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM codes WHERE request_id IN (
			SELECT id FROM requests WHERE state IN (?, ?, ?) AND created_at <= ?)`,
		string(request.StateCompleted), string(request.StateFailed), string(request.StateDenied),
		olderThan.UTC().Format(time.RFC3339Nano)); err != nil {
		return 0, fmt.Errorf("sweep old completed: codes: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM requests
		WHERE state IN (?, ?, ?) AND created_at <= ?`,
		string(request.StateCompleted), string(request.StateFailed), string(request.StateDenied),
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("sweep old completed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StoreCode persists the fetched code bytes for id, backing the code-view
// endpoint and the hash-to-execute binding invariant (spec §8 property 1).
func (s *Store) StoreCode(ctx context.Context, id string, bytes []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO codes (request_id, bytes) VALUES (?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET bytes = excluded.bytes`,
		id, bytes)
	if err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	return nil
}

// LoadCode returns the exact bytes stored for id.
func (s *Store) LoadCode(ctx context.Context, id string) ([]byte, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx, `SELECT bytes FROM codes WHERE request_id = ?`, id).Scan(&b)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, brokererr.ErrNotFound
		}
		return nil, fmt.Errorf("load code: %w", err)
	}
	return b, nil
}

// PutSecret inserts or replaces a secret value in a single operation (no
// read-modify-write race — spec §4.5).
func (s *Store) PutSecret(ctx context.Context, name string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value)
	if err != nil {
		return fmt.Errorf("put secret: %w", err)
	}
	return nil
}

// GetSecret returns the stored value for name, or brokererr.ErrNotFound.
func (s *Store) GetSecret(ctx context.Context, name string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE name = ?`, name).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, brokererr.ErrNotFound
		}
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return v, nil
}

// DeleteSecret removes a secret entry. No-op if absent.
func (s *Store) DeleteSecret(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

// ListSecretNames returns every stored secret name (never values).
func (s *Store) ListSecretNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM secrets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list secret names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("list secret names: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// AllSecrets returns every (name, value) pair, used once at startup to
// hydrate the in-memory Secret Vault (spec §4.5 "On startup, the vault is
// populated from the Request Store's secret table").
func (s *Store) AllSecrets(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM secrets`)
	if err != nil {
		return nil, fmt.Errorf("all secrets: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var name string
		var value []byte
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("all secrets: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

func scanRequest(row *sql.Row) (*request.Request, error) {
	var (
		id, skillID, skillURL, fingerprint string
		secretsJSON, argsJSON, networkJSON string
		timeoutSeconds                     int
		state, createdAt                   string
		approvedAt, executedAt, resultJSON sql.NullString
		chatHandle                         sql.NullString
	)
	err := row.Scan(&id, &skillID, &skillURL, &fingerprint, &secretsJSON, &argsJSON, &networkJSON,
		&timeoutSeconds, &state, &createdAt, &approvedAt, &executedAt, &resultJSON, &chatHandle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, brokererr.ErrNotFound
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}

	r := &request.Request{
		ID:             id,
		SkillID:        skillID,
		SkillURL:       skillURL,
		Fingerprint:    fingerprint,
		TimeoutSeconds: timeoutSeconds,
		State:          request.State(state),
		CreatedAt:      parseTimeRFC3339(createdAt),
		ChatHandle:     chatHandle.String,
	}
	_ = json.Unmarshal([]byte(secretsJSON), &r.Secrets)
	_ = json.Unmarshal([]byte(argsJSON), &r.Args)
	_ = json.Unmarshal([]byte(networkJSON), &r.Network)
	if approvedAt.Valid && approvedAt.String != "" {
		t := parseTimeRFC3339(approvedAt.String)
		r.ApprovedAt = &t
	}
	if executedAt.Valid && executedAt.String != "" {
		t := parseTimeRFC3339(executedAt.String)
		r.ExecutedAt = &t
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var res request.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err == nil {
			r.Result = &res
		}
	}
	return r, nil
}

func parseTimeRFC3339(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

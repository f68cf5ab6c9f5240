// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the local persistence of provisioned identities: the
// account record binding a phone number to its key material, the
// trusted-key table, the server override, and the roster cache that is
// purged whenever a new identity takes over.
//
// Everything lives in one SQLite database opened through
// lib/sqlitepool. Every mutation is a single IMMEDIATE transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/provision/keys"
	"github.com/bureau-foundation/provision/lib/clock"
	"github.com/bureau-foundation/provision/lib/sqlitepool"
	"github.com/bureau-foundation/provision/server"
)

// ErrNotFound is returned when a requested account does not exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	phone_number       TEXT PRIMARY KEY,
	passphrase         TEXT NOT NULL,
	private_key        TEXT NOT NULL,
	public_key         TEXT NOT NULL,
	bridge_certificate TEXT NOT NULL,
	display_name       TEXT NOT NULL DEFAULT '',
	server_uri         TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trusted_keys (
	peer        TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS roster (
	address      TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	added_at     INTEGER NOT NULL
);
`

const settingServerOverride = "server_override"

// Account is one provisioned identity. The key blobs and the bridge
// certificate are base64 (standard encoding).
type Account struct {
	PhoneNumber       string
	Passphrase        string
	PrivateKey        string
	PublicKey         string
	BridgeCertificate string
	DisplayName       string
	ServerURI         string
	CreatedAt         time.Time
}

// RosterEntry is a cached contact of the current identity.
type RosterEntry struct {
	Address     string
	DisplayName string
	AddedAt     time.Time
}

// Config holds the parameters for Open.
type Config struct {
	// Path is the database file.
	Path string
	// Clock stamps trusted keys and roster entries. Nil means the real
	// clock.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens (creating if needed) the store at config.Path.
func Open(config Config) (*Store, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   config.Path,
		Schema: schema,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// UpsertAccount replaces any account with the same phone number by
// account. The delete and the insert commit together.
func (s *Store) UpsertAccount(ctx context.Context, account Account) error {
	if account.PhoneNumber == "" {
		return fmt.Errorf("store: account has no phone number")
	}
	var replaced bool
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM accounts WHERE phone_number = ?", &sqlitex.ExecOptions{
			Args: []any{account.PhoneNumber},
		}); err != nil {
			return fmt.Errorf("removing previous account: %w", err)
		}
		replaced = conn.Changes() > 0
		return sqlitex.Execute(conn, `
			INSERT INTO accounts (phone_number, passphrase, private_key, public_key,
				bridge_certificate, display_name, server_uri, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				account.PhoneNumber,
				account.Passphrase,
				account.PrivateKey,
				account.PublicKey,
				account.BridgeCertificate,
				account.DisplayName,
				account.ServerURI,
				account.CreatedAt.UnixMilli(),
			},
		})
	})
	if err != nil {
		return fmt.Errorf("store: upserting account: %w", err)
	}
	s.logger.Info("account stored", "server", account.ServerURI, "replaced", replaced)
	return nil
}

const accountColumns = `phone_number, passphrase, private_key, public_key,
	bridge_certificate, display_name, server_uri, created_at`

func scanAccount(stmt *sqlite.Stmt) Account {
	return Account{
		PhoneNumber:       stmt.ColumnText(0),
		Passphrase:        stmt.ColumnText(1),
		PrivateKey:        stmt.ColumnText(2),
		PublicKey:         stmt.ColumnText(3),
		BridgeCertificate: stmt.ColumnText(4),
		DisplayName:       stmt.ColumnText(5),
		ServerURI:         stmt.ColumnText(6),
		CreatedAt:         time.UnixMilli(stmt.ColumnInt64(7)).UTC(),
	}
}

// Account returns the account for phoneNumber, or ErrNotFound.
func (s *Store) Account(ctx context.Context, phoneNumber string) (Account, error) {
	var account Account
	found := false
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+accountColumns+" FROM accounts WHERE phone_number = ?", &sqlitex.ExecOptions{
			Args: []any{phoneNumber},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				account = scanAccount(stmt)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return Account{}, fmt.Errorf("store: reading account: %w", err)
	}
	if !found {
		return Account{}, fmt.Errorf("%w: account %s", ErrNotFound, phoneNumber)
	}
	return account, nil
}

// Accounts returns every account ordered by phone number.
func (s *Store) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+accountColumns+" FROM accounts ORDER BY phone_number", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				accounts = append(accounts, scanAccount(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing accounts: %w", err)
	}
	return accounts, nil
}

// SetTrustedKeys records trusted fingerprints, replacing existing
// entries for the same peers.
func (s *Store) SetTrustedKeys(ctx context.Context, trusted map[string]keys.Fingerprint) error {
	now := s.clock.Now().UnixMilli()
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		for peer, fingerprint := range trusted {
			err := sqlitex.Execute(conn, `
				INSERT INTO trusted_keys (peer, fingerprint, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(peer) DO UPDATE SET fingerprint = excluded.fingerprint, updated_at = excluded.updated_at`,
				&sqlitex.ExecOptions{Args: []any{peer, fingerprint.String(), now}})
			if err != nil {
				return fmt.Errorf("peer %s: %w", peer, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: setting trusted keys: %w", err)
	}
	s.logger.Debug("trusted keys stored", "count", len(trusted))
	return nil
}

// TrustedKeys returns the trusted-key table.
func (s *Store) TrustedKeys(ctx context.Context) (map[string]keys.Fingerprint, error) {
	trusted := make(map[string]keys.Fingerprint)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT peer, fingerprint FROM trusted_keys", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				fingerprint, err := keys.ParseFingerprint(stmt.ColumnText(1))
				if err != nil {
					return fmt.Errorf("peer %s: %w", stmt.ColumnText(0), err)
				}
				trusted[stmt.ColumnText(0)] = fingerprint
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: reading trusted keys: %w", err)
	}
	return trusted, nil
}

// SetServerOverride pins the server used instead of the one derived
// from the account.
func (s *Store) SetServerOverride(ctx context.Context, srv server.Server) error {
	if srv.IsZero() {
		return s.ClearServerOverride(ctx)
	}
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO settings (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
			&sqlitex.ExecOptions{Args: []any{settingServerOverride, srv.String()}})
	})
	if err != nil {
		return fmt.Errorf("store: setting server override: %w", err)
	}
	return nil
}

// ServerOverride returns the pinned server, or false if there is none.
func (s *Store) ServerOverride(ctx context.Context) (server.Server, bool, error) {
	var raw string
	found := false
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT value FROM settings WHERE name = ?", &sqlitex.ExecOptions{
			Args: []any{settingServerOverride},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				raw = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return server.Server{}, false, fmt.Errorf("store: reading server override: %w", err)
	}
	if !found {
		return server.Server{}, false, nil
	}
	srv, err := server.Parse(raw)
	if err != nil {
		return server.Server{}, false, fmt.Errorf("store: stored server override: %w", err)
	}
	return srv, true, nil
}

// ClearServerOverride removes the pinned server.
func (s *Store) ClearServerOverride(ctx context.Context) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM settings WHERE name = ?", &sqlitex.ExecOptions{
			Args: []any{settingServerOverride},
		})
	})
	if err != nil {
		return fmt.Errorf("store: clearing server override: %w", err)
	}
	return nil
}

// AddRosterEntry caches a contact.
func (s *Store) AddRosterEntry(ctx context.Context, address, displayName string) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO roster (address, display_name, added_at) VALUES (?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET display_name = excluded.display_name`,
			&sqlitex.ExecOptions{Args: []any{address, displayName, s.clock.Now().UnixMilli()}})
	})
	if err != nil {
		return fmt.Errorf("store: adding roster entry: %w", err)
	}
	return nil
}

// RosterEntries returns the cached contacts ordered by address.
func (s *Store) RosterEntries(ctx context.Context) ([]RosterEntry, error) {
	var entries []RosterEntry
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT address, display_name, added_at FROM roster ORDER BY address", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entries = append(entries, RosterEntry{
					Address:     stmt.ColumnText(0),
					DisplayName: stmt.ColumnText(1),
					AddedAt:     time.UnixMilli(stmt.ColumnInt64(2)).UTC(),
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing roster: %w", err)
	}
	return entries, nil
}

// PurgeRoster drops every cached contact.
func (s *Store) PurgeRoster(ctx context.Context) error {
	var purged int
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM roster", nil); err != nil {
			return err
		}
		purged = conn.Changes()
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: purging roster: %w", err)
	}
	s.logger.Debug("roster purged", "entries", purged)
	return nil
}

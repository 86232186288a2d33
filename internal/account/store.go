// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package account

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/mailgate/internal/mail"
)

// Store provides CRUD operations for account records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an account store backed by the given Postgres pool.
// It ensures the accounts table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure account schema: %w", err)
	}
	slog.Info("account store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mail_accounts (
			user_id             INT NOT NULL,
			context_id          INT NOT NULL,
			account_id          INT NOT NULL,
			name                TEXT DEFAULT '',
			host                TEXT NOT NULL,
			port                INT NOT NULL,
			username            TEXT NOT NULL,
			password            TEXT DEFAULT '',
			use_tls             BOOLEAN DEFAULT TRUE,
			oauth_client_id     TEXT DEFAULT '',
			oauth_client_secret TEXT DEFAULT '',
			oauth_token_url     TEXT DEFAULT '',
			spam_fullname       TEXT DEFAULT '',
			trash_fullname      TEXT DEFAULT '',
			archive_fullname    TEXT DEFAULT '',
			flagging_mode       INT DEFAULT 0,
			flagging_color      INT DEFAULT 0,
			transport_only      BOOLEAN DEFAULT FALSE,
			oauth_restricted    BOOLEAN DEFAULT FALSE,
			unified             BOOLEAN DEFAULT FALSE,
			members             INT[] DEFAULT '{}',
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (user_id, context_id, account_id)
		);
		CREATE INDEX IF NOT EXISTS idx_mail_accounts_user ON mail_accounts(user_id, context_id);
	`)
	return err
}

const accountColumns = `
	user_id, context_id, account_id, name, host, port, username, password,
	use_tls, oauth_client_id, oauth_client_secret, oauth_token_url,
	spam_fullname, trash_fullname, archive_fullname,
	flagging_mode, flagging_color, transport_only, oauth_restricted,
	unified, members`

// Upsert inserts or updates an account record keyed on
// (user_id, context_id, account_id).
func (s *Store) Upsert(ctx context.Context, a Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mail_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (user_id, context_id, account_id) DO UPDATE SET
			name                = EXCLUDED.name,
			host                = EXCLUDED.host,
			port                = EXCLUDED.port,
			username            = EXCLUDED.username,
			password            = EXCLUDED.password,
			use_tls             = EXCLUDED.use_tls,
			oauth_client_id     = EXCLUDED.oauth_client_id,
			oauth_client_secret = EXCLUDED.oauth_client_secret,
			oauth_token_url     = EXCLUDED.oauth_token_url,
			spam_fullname       = EXCLUDED.spam_fullname,
			trash_fullname      = EXCLUDED.trash_fullname,
			archive_fullname    = EXCLUDED.archive_fullname,
			flagging_mode       = EXCLUDED.flagging_mode,
			flagging_color      = EXCLUDED.flagging_color,
			transport_only      = EXCLUDED.transport_only,
			oauth_restricted    = EXCLUDED.oauth_restricted,
			unified             = EXCLUDED.unified,
			members             = EXCLUDED.members,
			updated_at          = NOW()
	`, a.UserID, a.ContextID, a.ID, a.Name, a.Host, a.Port, a.Username,
		a.Password, a.UseTLS, a.OAuthClientID, a.OAuthClientSecret,
		a.OAuthTokenURL, a.SpamFullname, a.TrashFullname, a.ArchiveFullname,
		int(a.FlaggingMode), a.FlaggingColor, a.TransportOnly,
		a.OAuthRestricted, a.Unified, a.Members)
	return err
}

// Get implements Source.
func (s *Store) Get(ctx context.Context, userID, contextID, accountID int) (*Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM mail_accounts
		WHERE user_id = $1 AND context_id = $2 AND account_id = $3
	`, userID, contextID, accountID)
	a, err := scanAccount(row)
	if err == pgx.ErrNoRows {
		return nil, mail.NewError(mail.KindNotFound, "account %d not found for user %d in context %d", accountID, userID, contextID)
	}
	return a, err
}

// List implements Source.
func (s *Store) List(ctx context.Context, userID, contextID int) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM mail_accounts
		WHERE user_id = $1 AND context_id = $2
		ORDER BY account_id
	`, userID, contextID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Delete removes an account record.
func (s *Store) Delete(ctx context.Context, userID, contextID, accountID int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM mail_accounts
		WHERE user_id = $1 AND context_id = $2 AND account_id = $3
	`, userID, contextID, accountID)
	return err
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var mode int
	err := row.Scan(
		&a.UserID, &a.ContextID, &a.ID, &a.Name, &a.Host, &a.Port,
		&a.Username, &a.Password, &a.UseTLS, &a.OAuthClientID,
		&a.OAuthClientSecret, &a.OAuthTokenURL, &a.SpamFullname,
		&a.TrashFullname, &a.ArchiveFullname, &mode, &a.FlaggingColor,
		&a.TransportOnly, &a.OAuthRestricted, &a.Unified, &a.Members,
	)
	if err != nil {
		return nil, err
	}
	a.FlaggingMode = FlaggingMode(mode)
	return &a, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jwalitptl/account-api/internal/model"
	"github.com/jwalitptl/account-api/pkg/security"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	username        TEXT PRIMARY KEY,
	password_secret TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	first_name      TEXT NOT NULL DEFAULT '',
	last_name       TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL,
	status          TEXT NOT NULL,
	blocked         INTEGER NOT NULL DEFAULT 0,
	blocked_by      TEXT,
	blocked_at      TEXT,
	blocked_reason  TEXT,
	business_id     TEXT NOT NULL DEFAULT '',
	managed_by      TEXT NOT NULL DEFAULT '',
	sub_users       TEXT NOT NULL DEFAULT '[]',
	subscription    TEXT,
	credentials     TEXT,
	position        INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	token     TEXT NOT NULL,
	principal TEXT NOT NULL,
	issued_at TEXT NOT NULL
);
`

// Store is the process-local durable cache: the full account table for
// fast reload plus the single current-session record. Writes are
// synchronous so reads within the process never trail their own writes.
// With an encryptor set, the credentials column is encrypted at rest;
// it is the only column carrying a generated plaintext password.
type Store struct {
	db  *sqlx.DB
	enc security.Encryptor
}

func NewStore(path string, enc security.Encryptor) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local cache: %w", err)
	}

	// Single logical writer; WAL keeps concurrent readers cheap.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, enc: enc}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type accountRow struct {
	Username       string         `db:"username"`
	PasswordSecret string         `db:"password_secret"`
	Email          string         `db:"email"`
	FirstName      string         `db:"first_name"`
	LastName       string         `db:"last_name"`
	Phone          string         `db:"phone"`
	Role           string         `db:"role"`
	Status         string         `db:"status"`
	Blocked        bool           `db:"blocked"`
	BlockedBy      sql.NullString `db:"blocked_by"`
	BlockedAt      sql.NullString `db:"blocked_at"`
	BlockedReason  sql.NullString `db:"blocked_reason"`
	BusinessID     string         `db:"business_id"`
	ManagedBy      string         `db:"managed_by"`
	SubUsers       string         `db:"sub_users"`
	Subscription   sql.NullString `db:"subscription"`
	Credentials    sql.NullString `db:"credentials"`
	Position       int64          `db:"position"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (s *Store) toRow(a *model.Account, position int64) (*accountRow, error) {
	subUsers, err := json.Marshal(a.SubUsers)
	if err != nil {
		return nil, err
	}

	row := &accountRow{
		Username:       a.Username,
		PasswordSecret: a.PasswordSecret,
		Email:          a.Email,
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		Phone:          a.Phone,
		Role:           a.Role,
		Status:         a.Status,
		Blocked:        a.Blocked,
		BusinessID:     a.BusinessID,
		ManagedBy:      a.ManagedBy,
		SubUsers:       string(subUsers),
		Position:       position,
		CreatedAt:      a.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	if a.BlockedBy != nil {
		row.BlockedBy = sql.NullString{String: *a.BlockedBy, Valid: true}
	}
	if a.BlockedAt != nil {
		row.BlockedAt = sql.NullString{String: a.BlockedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if a.BlockedReason != nil {
		row.BlockedReason = sql.NullString{String: *a.BlockedReason, Valid: true}
	}
	if a.Subscription != nil {
		b, err := json.Marshal(a.Subscription)
		if err != nil {
			return nil, err
		}
		row.Subscription = sql.NullString{String: string(b), Valid: true}
	}
	if a.Credentials != nil {
		encoded, err := s.encodeCredentials(a.Credentials)
		if err != nil {
			return nil, err
		}
		row.Credentials = sql.NullString{String: encoded, Valid: true}
	}
	return row, nil
}

func (s *Store) encodeCredentials(creds *model.GeneratedCredentials) (string, error) {
	b, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}
	if s.enc == nil {
		return string(b), nil
	}
	sealed, err := s.enc.Encrypt(b)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Store) decodeCredentials(raw string) (*model.GeneratedCredentials, error) {
	data := []byte(raw)
	if s.enc != nil {
		sealed, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, err
		}
		if data, err = s.enc.Decrypt(sealed); err != nil {
			return nil, err
		}
	}
	creds := &model.GeneratedCredentials{}
	if err := json.Unmarshal(data, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *Store) toAccount(r *accountRow) (*model.Account, error) {
	a := &model.Account{
		Username:       r.Username,
		PasswordSecret: r.PasswordSecret,
		Email:          r.Email,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Phone:          r.Phone,
		Role:           r.Role,
		Status:         r.Status,
		Blocked:        r.Blocked,
		BusinessID:     r.BusinessID,
		ManagedBy:      r.ManagedBy,
	}

	if err := json.Unmarshal([]byte(r.SubUsers), &a.SubUsers); err != nil {
		return nil, fmt.Errorf("corrupt sub_users column for %s: %w", r.Username, err)
	}
	if r.BlockedBy.Valid {
		v := r.BlockedBy.String
		a.BlockedBy = &v
	}
	if r.BlockedAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, r.BlockedAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt blocked_at column for %s: %w", r.Username, err)
		}
		a.BlockedAt = &at
	}
	if r.BlockedReason.Valid {
		v := r.BlockedReason.String
		a.BlockedReason = &v
	}
	if r.Subscription.Valid {
		a.Subscription = &model.Subscription{}
		if err := json.Unmarshal([]byte(r.Subscription.String), a.Subscription); err != nil {
			return nil, fmt.Errorf("corrupt subscription column for %s: %w", r.Username, err)
		}
	}
	if r.Credentials.Valid {
		creds, err := s.decodeCredentials(r.Credentials.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt credentials column for %s: %w", r.Username, err)
		}
		a.Credentials = creds
	}

	var err error
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, r.CreatedAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at column for %s: %w", r.Username, err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at column for %s: %w", r.Username, err)
	}
	return a, nil
}

const upsertAccount = `
	INSERT INTO accounts (
		username, password_secret, email, first_name, last_name, phone,
		role, status, blocked, blocked_by, blocked_at, blocked_reason,
		business_id, managed_by, sub_users, subscription, credentials,
		position, created_at, updated_at
	) VALUES (
		:username, :password_secret, :email, :first_name, :last_name, :phone,
		:role, :status, :blocked, :blocked_by, :blocked_at, :blocked_reason,
		:business_id, :managed_by, :sub_users, :subscription, :credentials,
		:position, :created_at, :updated_at
	)
	ON CONFLICT (username) DO UPDATE SET
		password_secret = excluded.password_secret,
		email           = excluded.email,
		first_name      = excluded.first_name,
		last_name       = excluded.last_name,
		phone           = excluded.phone,
		role            = excluded.role,
		status          = excluded.status,
		blocked         = excluded.blocked,
		blocked_by      = excluded.blocked_by,
		blocked_at      = excluded.blocked_at,
		blocked_reason  = excluded.blocked_reason,
		business_id     = excluded.business_id,
		managed_by      = excluded.managed_by,
		sub_users       = excluded.sub_users,
		subscription    = excluded.subscription,
		credentials     = excluded.credentials,
		updated_at      = excluded.updated_at
`

// SaveAccount upserts one account, appending it to the insertion order
// when new.
func (s *Store) SaveAccount(ctx context.Context, account *model.Account) error {
	var position int64
	err := s.db.GetContext(ctx, &position, "SELECT COALESCE(MAX(position), -1) + 1 FROM accounts")
	if err != nil {
		return fmt.Errorf("failed to compute position: %w", err)
	}

	row, err := s.toRow(account, position)
	if err != nil {
		return fmt.Errorf("failed to encode account %s: %w", account.Username, err)
	}

	if _, err := s.db.NamedExecContext(ctx, upsertAccount, row); err != nil {
		return fmt.Errorf("failed to save account %s: %w", account.Username, err)
	}
	return nil
}

// DeleteAccount removes one account; deleting an absent username is not
// an error.
func (s *Store) DeleteAccount(ctx context.Context, username string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE username = ?", username); err != nil {
		return fmt.Errorf("failed to delete account %s: %w", username, err)
	}
	return nil
}

// LoadAccounts returns all cached accounts in insertion order.
func (s *Store) LoadAccounts(ctx context.Context) ([]*model.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM accounts ORDER BY position"); err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	accounts := make([]*model.Account, 0, len(rows))
	for i := range rows {
		a, err := s.toAccount(&rows[i])
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// ReplaceAccounts atomically rewrites the whole table in the given order.
// Used after a merged load so the cache mirrors the directory exactly.
func (s *Store) ReplaceAccounts(ctx context.Context, accounts []*model.Account) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM accounts"); err != nil {
		return fmt.Errorf("failed to clear accounts: %w", err)
	}
	for i, account := range accounts {
		row, err := s.toRow(account, int64(i))
		if err != nil {
			return fmt.Errorf("failed to encode account %s: %w", account.Username, err)
		}
		if _, err := tx.NamedExecContext(ctx, upsertAccount, row); err != nil {
			return fmt.Errorf("failed to write account %s: %w", account.Username, err)
		}
	}
	return tx.Commit()
}

// SaveSession persists the single current-session record.
func (s *Store) SaveSession(ctx context.Context, session *model.Session) error {
	principal, err := json.Marshal(session.Principal)
	if err != nil {
		return fmt.Errorf("failed to encode session principal: %w", err)
	}

	query := `
		INSERT INTO session (id, token, principal, issued_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			token = excluded.token,
			principal = excluded.principal,
			issued_at = excluded.issued_at
	`
	_, err = s.db.ExecContext(ctx, query,
		session.Token, string(principal), session.IssuedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession returns the persisted session, or (nil, nil) when none
// exists.
func (s *Store) LoadSession(ctx context.Context) (*model.Session, error) {
	var row struct {
		Token     string `db:"token"`
		Principal string `db:"principal"`
		IssuedAt  string `db:"issued_at"`
	}
	err := s.db.GetContext(ctx, &row, "SELECT token, principal, issued_at FROM session WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session := &model.Session{Token: row.Token}
	if err := json.Unmarshal([]byte(row.Principal), &session.Principal); err != nil {
		return nil, fmt.Errorf("corrupt session principal: %w", err)
	}
	if session.IssuedAt, err = time.Parse(time.RFC3339Nano, row.IssuedAt); err != nil {
		return nil, fmt.Errorf("corrupt session issued_at: %w", err)
	}
	return session, nil
}

// ClearSession removes the persisted session record.
func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/foliohq/folio/internal/auth"
	"github.com/foliohq/folio/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// ErrConflict reports a uniqueness violation during provisioning.
var ErrConflict = errors.New("pg: resource conflict")

var _ auth.Store = (*Store)(nil)

const userColumns = `
	id, email, display_name, password_hash, active,
	mfa_enabled, mfa_secret, mfa_pending_secret, mfa_pending_set_at,
	failed_logins, locked_until, created_at, updated_at`

func scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Active,
		&u.MFAEnabled, &u.MFASecret, &u.PendingMFASecret, &u.PendingMFASetAt,
		&u.FailedLogins, &u.LockedUntil, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`, email))
}

// RecordAuthFailure increments the failure counter in a single UPDATE so
// concurrent failed attempts against the same user never under-count.
// When the incremented counter reaches the threshold the same statement
// trips the lockout and resets the counter.
func (s *Store) RecordAuthFailure(ctx context.Context, userID string, threshold int, lockout time.Duration) (int, *time.Time, error) {
	lockedUntil := time.Now().UTC().Add(lockout)
	var (
		count  int
		locked *time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		update users set
			failed_logins = case when failed_logins + 1 >= $2 then 0 else failed_logins + 1 end,
			locked_until  = case when failed_logins + 1 >= $2 then $3 else locked_until end,
			updated_at    = now()
		where id = $1
		returning failed_logins, locked_until
	`, userID, threshold, lockedUntil).Scan(&count, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, auth.ErrNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	return count, locked, nil
}

func (s *Store) ResetAuthFailures(ctx context.Context, userID string) error {
	return s.execOne(ctx, `
		update users set failed_logins = 0, locked_until = null, updated_at = now()
		where id = $1
	`, userID)
}

func (s *Store) SetPendingMFASecret(ctx context.Context, userID, secret string, setAt time.Time) error {
	return s.execOne(ctx, `
		update users set mfa_pending_secret = $2, mfa_pending_set_at = $3, updated_at = now()
		where id = $1
	`, userID, secret, setAt)
}

func (s *Store) ConfirmMFA(ctx context.Context, userID, secret string) error {
	return s.execOne(ctx, `
		update users set
			mfa_enabled = true, mfa_secret = $2,
			mfa_pending_secret = '', mfa_pending_set_at = null,
			updated_at = now()
		where id = $1
	`, userID, secret)
}

// DisableMFA clears secrets and backup codes in one transaction.
func (s *Store) DisableMFA(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users set
			mfa_enabled = false, mfa_secret = '',
			mfa_pending_secret = '', mfa_pending_set_at = null,
			updated_at = now()
		where id = $1
	`, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from backup_codes where user_id = $1`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceBackupCodes swaps the full hash set transactionally.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from backup_codes where user_id = $1`, userID); err != nil {
		return err
	}
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx,
			`insert into backup_codes(user_id, code_hash) values ($1, $2)`,
			userID, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConsumeBackupCode removes the code and reports whether it existed. The
// single DELETE is the atomic check-and-remove: two concurrent attempts
// with the same code cannot both succeed.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from backup_codes where user_id = $1 and code_hash = $2`,
		userID, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetSite(ctx context.Context, id string) (*auth.Site, error) {
	var site auth.Site
	err := s.db.QueryRowContext(ctx, `
		select id, name, domain, created_at from sites where id = $1
	`, id).Scan(&site.ID, &site.Name, &site.Domain, &site.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *Store) GetUserSiteRole(ctx context.Context, userID, siteID string) (*auth.UserSiteRole, error) {
	var a auth.UserSiteRole
	err := s.db.QueryRowContext(ctx, `
		select user_id, site_id, role_id, created_at
		from user_site_roles
		where user_id = $1 and site_id = $2
	`, userID, siteID).Scan(&a.UserID, &a.SiteID, &a.RoleID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (*auth.Role, error) {
	var r auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at from roles where id = $1
	`, id).Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`select permission from role_permissions where role_id = $1 order by permission`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		r.Permissions = append(r.Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

// AppendSecurityEvent writes one immutable security event row.
func (s *Store) AppendSecurityEvent(ctx context.Context, event auth.Event) error {
	meta := []byte("{}")
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = b
	}
	if event.ID == "" {
		event.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into security_events(id, event_type, user_id, site_id, occurred_at, source_ip, user_agent, metadata)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.Type, nullable(event.UserID), nullable(event.SiteID),
		event.OccurredAt, event.SourceIP, event.UserAgent, meta)
	return err
}

// ListSecurityEvents returns the most recent events, newest first.
func (s *Store) ListSecurityEvents(ctx context.Context, limit int) ([]auth.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, event_type, coalesce(user_id, ''), coalesce(site_id, ''),
		       occurred_at, source_ip, user_agent, metadata
		from security_events
		order by occurred_at desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Event
	for rows.Next() {
		var (
			e    auth.Event
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.UserID, &e.SiteID,
			&e.OccurredAt, &e.SourceIP, &e.UserAgent, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for event %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Provisioning helpers used by cmd/bootstrap. ---------------------------

// CreateUser inserts an account. Email uniqueness maps to ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, email, display_name, password_hash, active)
		values ($1, $2, $3, $4, $5)
	`, u.ID, u.Email, u.DisplayName, u.PasswordHash, u.Active)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return ErrConflict
	}
	return err
}

// CreateSite inserts a tenant row.
func (s *Store) CreateSite(ctx context.Context, site *auth.Site) error {
	if site.ID == "" {
		site.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sites(id, name, domain) values ($1, $2, $3)
	`, site.ID, site.Name, site.Domain)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return ErrConflict
	}
	return err
}

// AssignRole creates the (user, site, role) edge. The schema enforces at
// most one assignment per (user, site).
func (s *Store) AssignRole(ctx context.Context, userID, siteID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_site_roles(user_id, site_id, role_id) values ($1, $2, $3)
	`, userID, siteID, roleID)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

// RoleByName looks a role up for provisioning.
func (s *Store) RoleByName(ctx context.Context, name string) (*auth.Role, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `select id from roles where name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetRole(ctx, id)
}

// EnsureBuiltinRoles upserts the builtin role definitions and their
// permission sets. Run at startup; idempotent.
func (s *Store) EnsureBuiltinRoles(ctx context.Context, roles []auth.Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, role := range roles {
		var id string
		err := tx.QueryRowContext(ctx, `
			insert into roles(id, name, description)
			values ($1, $2, $3)
			on conflict (name) do update set description = excluded.description, updated_at = now()
			returning id
		`, ids.New(), role.Name, role.Description).Scan(&id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, id); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if _, err := tx.ExecContext(ctx,
				`insert into role_permissions(role_id, permission) values ($1, $2)`,
				id, perm); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	if err == nil {
		return nil, false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

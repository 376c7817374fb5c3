package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facilityops/inspection-core/internal/site"
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
	SetPassword(ctx context.Context, id, passwordHash string) error
	SetPasswordChangeRequired(ctx context.Context, id string, required bool) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// PrincipalStore resolves a verified token subject to the account behind it.
type PrincipalStore interface {
	// LoadPrincipal returns the user with role-specific associations loaded.
	// Returns ErrUserNotFound if the account no longer exists.
	LoadPrincipal(ctx context.Context, id string) (*User, error)
}

// SiteLister is the part of the site repository needed for eager loading.
type SiteLister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]site.Site, error)
}

// SQLiteUserRepository implements UserRepository and PrincipalStore using SQLite.
type SQLiteUserRepository struct {
	db    *sql.DB
	sites SiteLister
}

// NewUserRepository creates a new SQLite-backed user repository.
// sites may be nil, in which case entrepreneurs are loaded without sites.
func NewUserRepository(db *sql.DB, sites SiteLister) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db, sites: sites}
}

const userColumns = "id, email, display_name, password_hash, role, permissions, organization_id, password_change_required, created_by, created_at, updated_at"

// Create inserts a new user account. The ID is generated if empty.
// An empty PasswordHash creates an invited account whose registration is incomplete.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}
	if !IsValidRole(user.Role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, user.Role)
	}
	for _, p := range user.Permissions {
		if !IsValidPermission(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPermission, p)
		}
	}

	perms, err := encodePermissions(user.Permissions)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	user.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	user.UpdatedAt = user.CreatedAt

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, strings.ToLower(user.Email), user.DisplayName, nullString(user.PasswordHash),
		string(user.Role), perms, nullString(user.OrganizationID),
		boolToInt(user.PasswordChangeRequired), nullString(user.CreatedBy), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	user.Email = strings.ToLower(user.Email)

	return nil
}

// GetByID retrieves a user by their unique ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByEmail retrieves a user by email address (case-insensitive).
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", strings.ToLower(email))
}

// LoadPrincipal implements PrincipalStore. Entrepreneurs are returned with
// the sites they own.
func (r *SQLiteUserRepository) LoadPrincipal(ctx context.Context, id string) (*User, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if user.Role == RoleEntrepreneur && r.sites != nil {
		sites, err := r.sites.ListByOwner(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("loading owned sites: %w", err)
		}
		user.Sites = sites
	}

	return user, nil
}

// List returns all users ordered by creation date.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUserFrom(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// SetPassword stores a new password hash and clears any pending forced change.
// Used both to complete registration and to change a password.
func (r *SQLiteUserRepository) SetPassword(ctx context.Context, id, passwordHash string) error {
	if passwordHash == "" {
		return fmt.Errorf("setting password: empty hash")
	}
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, password_change_required = 0, updated_at = ? WHERE id = ?`,
		passwordHash, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return requireAffected(result)
}

// SetPasswordChangeRequired sets or clears the forced password change flag.
func (r *SQLiteUserRepository) SetPasswordChangeRequired(ctx context.Context, id string, required bool) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_change_required = ?, updated_at = ? WHERE id = ?`,
		boolToInt(required), now, id,
	)
	if err != nil {
		return fmt.Errorf("updating password change flag: %w", err)
	}
	return requireAffected(result)
}

// Delete removes a user account by ID.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireAffected(result)
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// getUser executes a query and scans a single user result.
func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	return scanUserFrom(r.db.QueryRowContext(ctx, query, args...))
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanUserFrom scans a user from any scanner (Row or Rows).
func scanUserFrom(s scanner) (*User, error) {
	var u User
	var passwordHash, orgID, createdBy sql.NullString
	var role, perms string
	var changeRequired int
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Email, &u.DisplayName, &passwordHash,
		&role, &perms, &orgID, &changeRequired, &createdBy,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	u.PasswordChangeRequired = changeRequired != 0
	u.PasswordHash = passwordHash.String
	u.OrganizationID = orgID.String
	u.CreatedBy = createdBy.String

	if u.Permissions, err = decodePermissions(perms); err != nil {
		return nil, err
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &u, nil
}

// Helper functions.

func encodePermissions(perms []Permission) (string, error) {
	if perms == nil {
		perms = []Permission{}
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return "", fmt.Errorf("encoding permissions: %w", err)
	}
	return string(b), nil
}

func decodePermissions(raw string) ([]Permission, error) {
	perms := []Permission{}
	if raw == "" {
		return perms, nil
	}
	if err := json.Unmarshal([]byte(raw), &perms); err != nil {
		return nil, fmt.Errorf("decoding permissions: %w", err)
	}
	return perms, nil
}

func requireAffected(result sql.Result) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "unique constraint")
}

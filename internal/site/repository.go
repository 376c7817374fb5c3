package site

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for site persistence.
type Repository interface {
	Create(ctx context.Context, s *Site) error
	Get(ctx context.Context, id string) (*Site, error)
	List(ctx context.Context) ([]Site, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Site, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed site repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const siteColumns = "id, name, address, owner_id, organization_id, created_at"

// Create inserts a new site. The ID is generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, s *Site) error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.ID == "" {
		s.ID = "site-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC().Format(time.RFC3339)
	s.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sites (`+siteColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, nullString(s.Address), nullString(s.OwnerID), nullString(s.OrganizationID), now,
	)
	if err != nil {
		return fmt.Errorf("creating site: %w", err)
	}
	return nil
}

// Get retrieves a site by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Site, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+siteColumns+" FROM sites WHERE id = ?", id)
	s, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSiteNotFound
	}
	return s, err
}

// List returns all sites ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Site, error) {
	return r.query(ctx, "SELECT "+siteColumns+" FROM sites ORDER BY name ASC")
}

// ListByOwner returns the sites owned by the given user, ordered by name.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]Site, error) {
	return r.query(ctx, "SELECT "+siteColumns+" FROM sites WHERE owner_id = ? ORDER BY name ASC", ownerID)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Site, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sites: %w", err)
	}
	defer rows.Close()

	sites := []Site{}
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning site: %w", err)
		}
		sites = append(sites, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sites: %w", err)
	}
	return sites, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(sc scanner) (*Site, error) {
	var s Site
	var address, ownerID, orgID sql.NullString
	var createdAt string

	if err := sc.Scan(&s.ID, &s.Name, &address, &ownerID, &orgID, &createdAt); err != nil {
		return nil, err
	}
	s.Address = address.String
	s.OwnerID = ownerID.String
	s.OrganizationID = orgID.String
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	return &s, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

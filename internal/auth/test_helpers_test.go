package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/facilityops/inspection-core/internal/infrastructure/database"
	"github.com/facilityops/inspection-core/internal/site"
	_ "github.com/facilityops/inspection-core/migrations"
)

// testDB opens a migrated SQLite database in the test's temp directory.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// testRepo returns a user repository wired to a site repository on db.
func testRepo(t *testing.T, db *sql.DB) *SQLiteUserRepository {
	t.Helper()
	return NewUserRepository(db, site.NewSQLiteRepository(db))
}

// seedTestUser inserts a registered user with password "test-password".
func seedTestUser(t *testing.T, db *sql.DB, email string, role Role) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{
		Email:        email,
		DisplayName:  email,
		PasswordHash: hash,
		Role:         role,
	}
	if err := testRepo(t, db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

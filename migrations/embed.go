// Package migrations embeds SQL migration files into the binary.
//
// Inspection Core runs its migrations at startup without needing the SQL
// files on the filesystem.
package migrations

import (
	"embed"

	"github.com/facilityops/inspection-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}

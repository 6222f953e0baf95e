package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/attachkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/attachkeeper/internal/server/repositories/attachments"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteRepositoryManager vends SQLite-backed repositories for single-node
// deployments.
type SQLiteRepositoryManager struct{}

func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) DriverName() string { return "sqlite" }

// Attachments returns an attachments.Repository bound to db.
func (m *SQLiteRepositoryManager) Attachments(db *sql.DB) attachments.Repository {
	return attachments.NewSQLiteRepository(db)
}

// RunMigrations applies the embedded SQLite migrations.
func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, migrations.SQLiteDir)
}

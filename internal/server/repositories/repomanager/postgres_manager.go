package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/attachkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/attachkeeper/internal/server/repositories/attachments"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories.
type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) DriverName() string { return "pgx" }

// Attachments returns an attachments.Repository bound to db.
func (m *PostgresRepositoryManager) Attachments(db *sql.DB) attachments.Repository {
	return attachments.NewPostgresRepository(db)
}

// RunMigrations applies the embedded PostgreSQL migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, migrations.PostgresDir)
}

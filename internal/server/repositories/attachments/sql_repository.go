package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/common"
	"github.com/dmitrijs2005/attachkeeper/internal/dbx"
	"github.com/dmitrijs2005/attachkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLRepository implements Repository on database/sql. Timestamps are
// stored in UTC.
type SQLRepository struct {
	db    *sql.DB
	style int
}

// NewPostgresRepository returns a Repository for a pgx-backed *sql.DB.
func NewPostgresRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, style: dbx.Dollar}
}

// NewSQLiteRepository returns a Repository for a modernc sqlite *sql.DB.
func NewSQLiteRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, style: dbx.Question}
}

func (r *SQLRepository) q(query string) string {
	return dbx.Rebind(r.style, query)
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// isDuplicateKey reports a primary key or unique violation from either driver.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// Create inserts the record and its recipients in one transaction. A taken
// handle yields common.ErrorAlreadyExists.
func (r *SQLRepository) Create(ctx context.Context, a *models.Attachment) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `INSERT INTO attachments (handle, owner, size_bytes, created_at, expires_at, download_count, deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?)`

		_, err := tx.ExecContext(ctx, r.q(query),
			a.Handle, a.Owner, a.SizeBytes, utc(a.CreatedAt), utc(a.ExpiresAt), a.DownloadCount, a.Deleted)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("handle %s: %w", a.Handle, common.ErrorAlreadyExists)
			}
			return fmt.Errorf("db error: %w", err)
		}

		for i, rcpt := range a.Recipients {
			_, err := tx.ExecContext(ctx,
				r.q(`INSERT INTO attachment_recipients (handle, position, recipient) VALUES (?, ?, ?)`),
				a.Handle, i, rcpt)
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		return nil
	})
}

func (r *SQLRepository) GetByHandle(ctx context.Context, handle string) (*models.Attachment, error) {
	query := `SELECT handle, owner, size_bytes, created_at, expires_at, download_count, deleted
		FROM attachments WHERE handle = ?`

	a := &models.Attachment{}
	err := r.db.QueryRowContext(ctx, r.q(query), handle).
		Scan(&a.Handle, &a.Owner, &a.SizeBytes, &a.CreatedAt, &a.ExpiresAt, &a.DownloadCount, &a.Deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT recipient FROM attachment_recipients WHERE handle = ? ORDER BY position`), handle)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rcpt string
		if err := rows.Scan(&rcpt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		a.Recipients = append(a.Recipients, rcpt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return a, nil
}

func (r *SQLRepository) ExistsByHandle(ctx context.Context, handle string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT EXISTS (SELECT 1 FROM attachments WHERE handle = ?)`), handle).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *SQLRepository) IncrementDownloads(ctx context.Context, handle string) error {
	return r.execOne(ctx, `UPDATE attachments SET download_count = download_count + 1 WHERE handle = ?`, handle)
}

// MarkDeleted flags the record as reaped. Marking twice is not an error.
func (r *SQLRepository) MarkDeleted(ctx context.Context, handle string) error {
	return r.execOne(ctx, `UPDATE attachments SET deleted = TRUE WHERE handle = ?`, handle)
}

// SelectExpired returns live records whose expiry is at or before now.
func (r *SQLRepository) SelectExpired(ctx context.Context, now time.Time) ([]*models.Attachment, error) {
	query := `SELECT handle, owner, size_bytes, created_at, expires_at, download_count, deleted
		FROM attachments WHERE expires_at <= ? AND deleted = FALSE ORDER BY expires_at`
	return r.selectMany(ctx, query, utc(now))
}

// SelectCreatedBefore returns every record created at or before t, reaped or not.
func (r *SQLRepository) SelectCreatedBefore(ctx context.Context, t time.Time) ([]*models.Attachment, error) {
	query := `SELECT handle, owner, size_bytes, created_at, expires_at, download_count, deleted
		FROM attachments WHERE created_at <= ? ORDER BY created_at`
	return r.selectMany(ctx, query, utc(t))
}

// Delete removes the record and its recipients.
func (r *SQLRepository) Delete(ctx context.Context, handle string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM attachment_recipients WHERE handle = ?`), handle); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		res, err := tx.ExecContext(ctx, r.q(`DELETE FROM attachments WHERE handle = ?`), handle)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return oneRow(res)
	})
}

func (r *SQLRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRow(res)
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}

	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *SQLRepository) selectMany(ctx context.Context, query string, args ...any) ([]*models.Attachment, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a := &models.Attachment{}
		if err := rows.Scan(&a.Handle, &a.Owner, &a.SizeBytes, &a.CreatedAt, &a.ExpiresAt, &a.DownloadCount, &a.Deleted); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

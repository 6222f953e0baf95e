// Package attachments persists attachment records. The same SQL serves
// PostgreSQL and SQLite; only the placeholder style differs.
package attachments

import (
	"context"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/server/models"
)

// Repository is the attachment record store.
//
// GetByHandle returns recipients; the bulk selections used by the reaper do
// not load them. Lookups of unknown handles return common.ErrorNotFound.
type Repository interface {
	Create(ctx context.Context, a *models.Attachment) error
	GetByHandle(ctx context.Context, handle string) (*models.Attachment, error)
	ExistsByHandle(ctx context.Context, handle string) (bool, error)
	IncrementDownloads(ctx context.Context, handle string) error
	MarkDeleted(ctx context.Context, handle string) error
	SelectExpired(ctx context.Context, now time.Time) ([]*models.Attachment, error)
	SelectCreatedBefore(ctx context.Context, t time.Time) ([]*models.Attachment, error)
	Delete(ctx context.Context, handle string) error
}

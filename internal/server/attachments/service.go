// Package attachments is the attachment lifecycle engine: it validates and
// stores uploads against the owner's quota and authorizes downloads.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/common"
	"github.com/dmitrijs2005/attachkeeper/internal/logging"
	"github.com/dmitrijs2005/attachkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/attachkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/attachkeeper/internal/server/models"
	"github.com/dmitrijs2005/attachkeeper/internal/server/quota"
	attachmentsrepo "github.com/dmitrijs2005/attachkeeper/internal/server/repositories/attachments"
)

// HandleAllocator hands out unused handles.
type HandleAllocator interface {
	Allocate(ctx context.Context) (string, error)
}

// RateLimiter admits or denies one download attempt.
type RateLimiter interface {
	Allow(identity, handle string) bool
}

// IngestRequest is one upload. Expires is the raw expiry text; an empty
// string means it was not supplied.
type IngestRequest struct {
	Owner      string
	Recipients []string
	Expires    string
	Payload    io.Reader
	Size       int64
}

// Download is an authorized payload. The caller closes Body.
type Download struct {
	Handle string
	Body   io.ReadCloser
	Size   int64
}

type Service struct {
	repo       attachmentsrepo.Repository
	blobs      blobstore.Store
	quota      quota.Gateway
	handles    HandleAllocator
	limiter    RateLimiter
	expiry     *ExpiryParser
	maxPayload int64
	now        func() time.Time
	logger     logging.Logger
	metrics    *metrics.Metrics
}

// Options holds the tunables of the service.
type Options struct {
	MaxPayloadBytes int64
	ExpiryLayouts   []string
	Metrics         *metrics.Metrics
}

func NewService(repo attachmentsrepo.Repository, blobs blobstore.Store, gw quota.Gateway,
	handles HandleAllocator, limiter RateLimiter, opts Options, logger logging.Logger) *Service {
	return &Service{
		repo:       repo,
		blobs:      blobs,
		quota:      gw,
		handles:    handles,
		limiter:    limiter,
		expiry:     NewExpiryParser(opts.ExpiryLayouts),
		maxPayload: opts.MaxPayloadBytes,
		now:        time.Now,
		logger:     logger.With("module", "attachments"),
		metrics:    opts.Metrics,
	}
}

// MaxPayloadBytes is the largest accepted payload.
func (s *Service) MaxPayloadBytes() int64 { return s.maxPayload }

// Ingest validates the request, reserves quota, records the attachment and
// stores the payload. It returns the new handle.
//
// Nothing is persisted when validation or the quota reservation fails. When
// a later step fails, the record is removed and the reservation released on
// a best-effort basis.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (string, error) {
	recipients, err := checkRecipients(req.Recipients)
	if err != nil {
		return "", err
	}

	if req.Size < 0 || req.Size > s.maxPayload {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, req.Size, s.maxPayload)
	}

	now := s.now()
	expires, err := s.expiry.Parse(req.Expires)
	if err != nil {
		return "", err
	}
	if !expires.After(now) {
		return "", &ExpiredError{Text: req.Expires, Now: now}
	}

	remaining, err := s.quota.Reserve(ctx, req.Owner, req.Size)
	if err != nil {
		return "", fmt.Errorf("reserve quota: %w", err)
	}
	s.logger.Debug(ctx, "quota reserved", "owner", req.Owner, "bytes", req.Size, "remaining", remaining)

	handle, err := s.handles.Allocate(ctx)
	if err != nil {
		s.releaseQuietly(ctx, req.Owner, req.Size)
		return "", fmt.Errorf("allocate handle: %w", err)
	}

	record := &models.Attachment{
		Handle:     handle,
		Owner:      req.Owner,
		Recipients: recipients,
		SizeBytes:  req.Size,
		CreatedAt:  now,
		ExpiresAt:  expires,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		s.releaseQuietly(ctx, req.Owner, req.Size)
		return "", fmt.Errorf("save record: %w", err)
	}

	key := blobstore.Key{Owner: req.Owner, Handle: handle}
	if err := s.blobs.Put(ctx, key, req.Payload, req.Size); err != nil {
		s.logger.Error(ctx, "blob write failed, rolling back record", "handle", handle, "error", err)
		if derr := s.repo.Delete(ctx, handle); derr != nil {
			s.logger.Error(ctx, "orphan record left behind", "handle", handle, "error", derr)
		}
		s.releaseQuietly(ctx, req.Owner, req.Size)
		return "", fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	s.metrics.Ingested(req.Size)
	s.logger.Info(ctx, "attachment stored",
		"handle", handle, "owner", req.Owner, "recipients", len(recipients), "bytes", req.Size, "expires", expires)

	return handle, nil
}

func (s *Service) releaseQuietly(ctx context.Context, owner string, size int64) {
	if _, err := s.quota.Release(ctx, owner, size); err != nil {
		s.metrics.ReleaseFailed()
		s.logger.Error(ctx, "quota release failed", "owner", owner, "bytes", size, "error", err)
	}
}

// Authorize checks, in this order, the download rate of identity for
// handle, that a live record exists and that identity is its owner or a
// recipient.
func (s *Service) Authorize(ctx context.Context, identity, handle string) (*models.Attachment, error) {
	if !s.limiter.Allow(identity, handle) {
		return nil, ErrRateLimited
	}

	a, err := s.repo.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load record: %w", err)
	}
	if a.Deleted {
		return nil, ErrNotFound
	}

	if !a.MayAccess(identity) {
		return nil, &AccessDeniedError{Identity: identity}
	}
	return a, nil
}

// Retrieve authorizes identity, opens the payload and counts the download.
func (s *Service) Retrieve(ctx context.Context, identity, handle string) (*Download, error) {
	a, err := s.Authorize(ctx, identity, handle)
	if err != nil {
		return nil, err
	}

	body, size, err := s.blobs.Open(ctx, blobstore.Key{Owner: a.Owner, Handle: a.Handle})
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Warn(ctx, "record without payload", "handle", handle)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open payload: %w", err)
	}

	if err := s.repo.IncrementDownloads(ctx, a.Handle); err != nil {
		_ = body.Close()
		return nil, fmt.Errorf("count download: %w", err)
	}

	s.metrics.Downloaded()
	s.logger.Info(ctx, "attachment served", "handle", handle, "identity", identity, "bytes", size)

	return &Download{Handle: a.Handle, Body: body, Size: size}, nil
}

// Package models defines server-side data models persisted in the database.
package models

import (
	"slices"
	"time"
)

// Attachment is the metadata record of one stored payload. The bytes
// themselves live in the blob store under the owner's namespace.
type Attachment struct {
	// Handle is the opaque public identifier, unique across live and retained records.
	Handle string
	// Owner is the identity that uploaded the payload.
	Owner string
	// Recipients may download the payload in addition to the owner. Order is preserved.
	Recipients []string
	SizeBytes  int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
	// DownloadCount counts successful retrievals.
	DownloadCount int64
	// Deleted is set once the payload has been reaped; it is never cleared.
	Deleted bool
}

// MayAccess reports whether identity is the owner or one of the recipients.
func (a *Attachment) MayAccess(identity string) bool {
	return identity == a.Owner || slices.Contains(a.Recipients, identity)
}

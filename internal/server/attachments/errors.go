package attachments

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrNotFound        = errors.New("attachment not found")
	ErrRateLimited     = errors.New("too many requests for this attachment")
	// ErrStorageWrite wraps blob write failures during ingest.
	ErrStorageWrite = errors.New("could not save attachment")
)

// InvalidRecipientError lists every recipient that is not a valid address.
type InvalidRecipientError struct {
	Invalid []string
}

func (e *InvalidRecipientError) Error() string {
	return "Invalid receiver email found: [" + strings.Join(e.Invalid, ", ") + "]"
}

// ExpiryParseError is returned when the expiry text is missing or matches
// no accepted format.
type ExpiryParseError struct {
	Text   string
	Absent bool
}

func (e *ExpiryParseError) Error() string {
	if e.Absent {
		return `Could not parse: "null"`
	}
	return "Could not parse: " + e.Text
}

// ExpiredError is returned when the expiry lies in the past.
type ExpiredError struct {
	Text string
	Now  time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("Already expired: %s < %s", e.Text, e.Now.Format(time.RFC3339))
}

// AccessDeniedError names the identity that is neither owner nor recipient.
type AccessDeniedError struct {
	Identity string
}

func (e *AccessDeniedError) Error() string {
	return e.Identity + " is no allowed recipient"
}

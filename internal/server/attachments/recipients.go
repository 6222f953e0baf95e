package attachments

import "regexp"

// recipientPattern accepts a local part of [A-Za-z0-9_.-] and either a
// dotted domain or a bracketed IPv4 literal.
var recipientPattern = regexp.MustCompile(
	`^([a-zA-Z0-9_\-\.]+)@((\[[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.)|(([a-zA-Z0-9\-]+\.)+))([a-zA-Z\-]+|[0-9]{1,3})(\]?)$`)

// ValidRecipient reports whether addr is an acceptable recipient address.
func ValidRecipient(addr string) bool {
	return recipientPattern.MatchString(addr)
}

// checkRecipients validates every entry and returns them without
// duplicates, first occurrence kept. All invalid entries are reported at once.
func checkRecipients(recipients []string) ([]string, error) {
	var invalid []string
	seen := make(map[string]struct{}, len(recipients))
	out := make([]string, 0, len(recipients))

	for _, r := range recipients {
		if !ValidRecipient(r) {
			invalid = append(invalid, r)
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	if len(invalid) > 0 {
		return nil, &InvalidRecipientError{Invalid: invalid}
	}
	return out, nil
}

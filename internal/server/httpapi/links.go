package httpapi

import (
	"net/http"
	"strings"
)

// LinkBuilder composes the externally visible download link of a handle.
type LinkBuilder struct {
	publicBase string
	basePath   string
	version    string
}

// NewLinkBuilder returns a builder for routes under basePath. When
// publicBase is set, links are <publicBase>/<version>/attachment/<handle>;
// otherwise scheme and host are taken from the request.
func NewLinkBuilder(publicBase, basePath, version string) LinkBuilder {
	return LinkBuilder{
		publicBase: strings.TrimRight(publicBase, "/"),
		basePath:   basePath,
		version:    version,
	}
}

func (b LinkBuilder) Attachment(r *http.Request, handle string) string {
	if b.publicBase != "" {
		return b.publicBase + "/" + b.version + "/attachment/" + handle
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + b.basePath + "/attachment/" + handle
}

// basePath joins prefix and version into "/<prefix>/<version>", skipping
// an empty prefix.
func basePath(prefix, version string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "/" + version
	}
	return "/" + prefix + "/" + version
}

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/attachkeeper/internal/common"
	"github.com/dmitrijs2005/attachkeeper/internal/server/attachments"
	"github.com/dmitrijs2005/attachkeeper/internal/server/auth"
	"github.com/gin-gonic/gin"
)

// multipartOverhead is allowed on top of the payload limit for the form
// fields and part headers.
const multipartOverhead = 1 << 20

type uploadResponse struct {
	SharedLink string `json:"sharedLink"`
}

func (s *Server) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.svc.MaxPayloadBytes()+multipartOverhead)

	fh, err := c.FormFile("attachment")
	if err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			s.fail(c, err)
			return
		}
		s.fail(c, fmt.Errorf("%w: attachment part missing: %w", errBadRequest, err))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()

	handle, err := s.svc.Ingest(c.Request.Context(), attachments.IngestRequest{
		Owner:      c.GetString(identityKey),
		Recipients: splitRecipients(c.PostFormArray("recipients")),
		Expires:    c.PostForm("expires"),
		Payload:    f,
		Size:       fh.Size,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, uploadResponse{SharedLink: s.links.Attachment(c.Request, handle)})
}

// splitRecipients accepts repeated fields as well as comma separated lists.
func splitRecipients(values []string) []string {
	var out []string
	for _, v := range values {
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				out = append(out, r)
			}
		}
	}
	return out
}

func (s *Server) download(c *gin.Context) {
	d, err := s.svc.Retrieve(c.Request.Context(), c.GetString(identityKey), c.Param("handle"))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer d.Body.Close()

	c.DataFromReader(http.StatusOK, d.Size, "application/octet-stream", d.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, d.Handle),
	})
}

func (s *Server) maxMailSize(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"maxMailSize": s.svc.MaxPayloadBytes()})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// issueToken exchanges verified basic credentials for a bearer token.
func (s *Server) issueToken(c *gin.Context) {
	identity, err := s.basic.Identify(c.Request.Context(), c.GetHeader(common.AuthorizationHeaderName))
	if err != nil {
		s.fail(c, err)
		return
	}

	token, err := auth.GenerateToken(identity, s.secret, s.tokenValidity)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokenValidity.Seconds()),
	})
}

func (s *Server) switchAuth(c *gin.Context) {
	next := s.auth.Toggle()
	s.logger.Warn(c.Request.Context(), "authentication strategy switched", "strategy", next.Name())
	c.JSON(http.StatusOK, gin.H{"new_auth_strategy": next.Name()})
}

func (s *Server) rateLimitDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"windows": s.windows.Size()})
}

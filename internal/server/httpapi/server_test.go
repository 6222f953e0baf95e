package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/common"
	"github.com/dmitrijs2005/attachkeeper/internal/logging"
	"github.com/dmitrijs2005/attachkeeper/internal/server/attachments"
	"github.com/dmitrijs2005/attachkeeper/internal/server/auth"
	"github.com/dmitrijs2005/attachkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/attachkeeper/internal/server/handles"
	"github.com/dmitrijs2005/attachkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/attachkeeper/internal/server/quota"
	"github.com/dmitrijs2005/attachkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/attachkeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const (
	ownerID   = "owner@example.com"
	friendID  = "friend@example.org"
	password  = "pw"
	expiresAt = "Tue, 01 Jan 2099 10:00:00 +0000"
)

// --- fakes ---

type fakeService struct {
	AttachmentService

	ingestReq  attachments.IngestRequest
	ingestBody string
	ingestErr  error

	retrieveErr error
	payload     string
}

func (f *fakeService) Ingest(ctx context.Context, req attachments.IngestRequest) (string, error) {
	f.ingestReq = req
	b, _ := io.ReadAll(req.Payload)
	f.ingestBody = string(b)
	if f.ingestErr != nil {
		return "", f.ingestErr
	}
	return "h-123", nil
}

func (f *fakeService) Retrieve(ctx context.Context, identity, handle string) (*attachments.Download, error) {
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	return &attachments.Download{Handle: handle, Body: io.NopCloser(strings.NewReader(f.payload)), Size: int64(len(f.payload))}, nil
}

func (f *fakeService) MaxPayloadBytes() int64 { return 1 << 10 }

type fakeWindows int

func (w fakeWindows) Size() int { return int(w) }

type staticVerifier struct{}

func (staticVerifier) Authenticate(ctx context.Context, identity, secret string) error {
	if secret != password {
		return quota.ErrUnauthenticated
	}
	return nil
}

// --- helpers ---

func newTestServer(t *testing.T, svc AttachmentService, v auth.Verifier) *Server {
	t.Helper()
	basic := auth.NewBasicStrategy(v)
	return NewServer(Options{
		PathPrefix:    "attachments",
		APIVersion:    "v1.1",
		SecretKey:     []byte("k"),
		TokenValidity: time.Minute,
	}, svc, auth.NewSwitch(basic, basic), basic, fakeWindows(7), metrics.New(), logging.NopLogger{})
}

func basicAuth(user, pw string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pw))
}

func uploadRequest(t *testing.T, payload string, fields map[string][]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			require.NoError(t, w.WriteField(k, v))
		}
	}
	if payload != "" {
		fw, err := w.CreateFormFile("attachment", "file.bin")
		require.NoError(t, err)
		_, err = fw.Write([]byte(payload))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/attachments/v1.1/attachment", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(common.AuthorizationHeaderName, basicAuth(ownerID, password))
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// --- upload ---

func TestUpload_Created(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, staticVerifier{})

	req := uploadRequest(t, "hello", map[string][]string{
		"recipients": {"a@example.com, b@example.com", "c@example.com"},
		"expires":    {expiresAt},
	})
	req.Host = "mail.example.com"
	rec := serve(s, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "http://mail.example.com/attachments/v1.1/attachment/h-123", decode(t, rec)["sharedLink"])
	assert.NotEmpty(t, rec.Header().Get(common.TraceIDHeaderName))

	assert.Equal(t, ownerID, svc.ingestReq.Owner)
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, svc.ingestReq.Recipients)
	assert.Equal(t, expiresAt, svc.ingestReq.Expires)
	assert.Equal(t, int64(5), svc.ingestReq.Size)
	assert.Equal(t, "hello", svc.ingestBody)
}

func TestUpload_MissingAttachmentPart(t *testing.T) {
	s := newTestServer(t, &fakeService{}, staticVerifier{})

	rec := serve(s, uploadRequest(t, "", map[string][]string{"expires": {expiresAt}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_RequiresAuthentication(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, staticVerifier{})

	req := uploadRequest(t, "x", nil)
	req.Header.Set(common.AuthorizationHeaderName, basicAuth(ownerID, "wrong"))
	rec := serve(s, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	assert.Empty(t, svc.ingestReq.Owner)
}

func TestUpload_AccountServiceDownIsInternalError(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	gw := quota.NewHTTPGateway(down.URL, time.Second)
	down.Close()

	svc := &fakeService{}
	s := newTestServer(t, svc, gw)

	rec := serve(s, uploadRequest(t, "x", map[string][]string{"expires": {expiresAt}}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "quota service unavailable", decode(t, rec)["error"])
	assert.Empty(t, svc.ingestReq.Owner)
}

func TestUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{"invalid recipients", &attachments.InvalidRecipientError{Invalid: []string{"bad", "x@y"}}, http.StatusBadRequest,
			func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Invalid receiver email found: [bad, x@y]", body["error"])
				assert.Equal(t, []any{"bad", "x@y"}, body["invalid"])
			}},
		{"too large", fmt.Errorf("%w: 2000 bytes", attachments.ErrPayloadTooLarge), http.StatusRequestEntityTooLarge, nil},
		{"absent expiry", &attachments.ExpiryParseError{Absent: true}, http.StatusBadRequest,
			func(t *testing.T, body map[string]any) {
				assert.Equal(t, `Could not parse: "null"`, body["error"])
			}},
		{"expired", &attachments.ExpiredError{Text: "x", Now: time.Unix(0, 0).UTC()}, http.StatusBadRequest,
			func(t *testing.T, body map[string]any) {
				assert.True(t, strings.HasPrefix(body["error"].(string), "Already expired: "))
			}},
		{"quota", fmt.Errorf("reserve quota: %w", &quota.InsufficientQuotaError{Remaining: 42, Requested: 100}), http.StatusInsufficientStorage,
			func(t *testing.T, body map[string]any) {
				assert.Equal(t, 42.0, body["remaining"])
			}},
		{"quota service down", fmt.Errorf("reserve quota: %w", quota.ErrCommunication), http.StatusInternalServerError, nil},
		{"storage", fmt.Errorf("%w: disk full", attachments.ErrStorageWrite), http.StatusInternalServerError,
			func(t *testing.T, body map[string]any) {
				assert.Equal(t, "could not save attachment", body["error"])
			}},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError,
			func(t *testing.T, body map[string]any) {
				assert.Equal(t, "internal error", body["error"])
			}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeService{ingestErr: tt.err}, staticVerifier{})
			rec := serve(s, uploadRequest(t, "x", map[string][]string{"expires": {expiresAt}}))

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.check != nil {
				tt.check(t, decode(t, rec))
			}

			metricsRec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			assert.Contains(t, metricsRec.Body.String(), "attachkeeper_rejections_total")
		})
	}
}

func TestUpload_BodyOverLimit(t *testing.T) {
	s := newTestServer(t, &fakeService{}, staticVerifier{})

	rec := serve(s, uploadRequest(t, strings.Repeat("x", 1<<10+multipartOverhead+1), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// --- download ---

func TestDownload_OK(t *testing.T) {
	s := newTestServer(t, &fakeService{payload: "payload"}, staticVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/attachments/v1.1/attachment/h1", nil)
	req.Header.Set(common.AuthorizationHeaderName, basicAuth(friendID, password))
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
	assert.Equal(t, "7", rec.Header().Get("Content-Length"))
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}

func TestDownload_ErrorMapping(t *testing.T) {
	tests := map[error]int{
		attachments.ErrNotFound:                            http.StatusNotFound,
		&attachments.AccessDeniedError{Identity: friendID}: http.StatusUnauthorized,
		attachments.ErrRateLimited:                         http.StatusTooManyRequests,
		errors.New("db down"):                              http.StatusInternalServerError,
	}

	for err, status := range tests {
		s := newTestServer(t, &fakeService{retrieveErr: err}, staticVerifier{})

		req := httptest.NewRequest(http.MethodGet, "/attachments/v1.1/attachment/h1", nil)
		req.Header.Set(common.AuthorizationHeaderName, basicAuth(friendID, password))
		rec := serve(s, req)

		assert.Equal(t, status, rec.Code, err.Error())
		assert.Empty(t, rec.Header().Get("WWW-Authenticate"), err.Error())
	}
}

// --- auxiliary endpoints ---

func TestMaxMailSize(t *testing.T) {
	s := newTestServer(t, &fakeService{}, staticVerifier{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/attachments/v1.1/MaxMailSize", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1024.0, decode(t, rec)["maxMailSize"])
}

func TestRateLimitDiagnostics(t *testing.T) {
	s := newTestServer(t, &fakeService{}, staticVerifier{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/attachments/v1.1/diagnostics/ratelimit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7.0, decode(t, rec)["windows"])
}

func TestSwitchAuth_Toggles(t *testing.T) {
	svc := &fakeService{payload: "p"}
	s := newTestServer(t, svc, staticVerifier{})

	get := func() int {
		req := httptest.NewRequest(http.MethodGet, "/attachments/v1.1/attachment/h1", nil)
		req.Header.Set(common.AuthorizationHeaderName, basicAuth(friendID, "not-the-password"))
		return serve(s, req).Code
	}
	assert.Equal(t, http.StatusUnauthorized, get())

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/attachments/v1.1/switchAuth", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none", decode(t, rec)["new_auth_strategy"])
	assert.Equal(t, http.StatusOK, get())

	rec = serve(s, httptest.NewRequest(http.MethodPost, "/attachments/v1.1/switchAuth", nil))
	assert.Equal(t, "basic", decode(t, rec)["new_auth_strategy"])
	assert.Equal(t, http.StatusUnauthorized, get())
}

func TestIssueToken(t *testing.T) {
	s := newTestServer(t, &fakeService{}, staticVerifier{})

	req := httptest.NewRequest(http.MethodPost, "/attachments/v1.1/token", nil)
	req.Header.Set(common.AuthorizationHeaderName, basicAuth(ownerID, password))
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, 60.0, body["expires_in"])

	identity, err := auth.IdentityFromToken(body["access_token"].(string), []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, ownerID, identity)

	req = httptest.NewRequest(http.MethodPost, "/attachments/v1.1/token", nil)
	req.Header.Set(common.AuthorizationHeaderName, basicAuth(ownerID, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, serve(s, req).Code)
}

func TestTraceID_Echoed(t *testing.T) {
	s := newTestServer(t, &fakeService{}, staticVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/attachments/v1.1/MaxMailSize", nil)
	req.Header.Set(common.TraceIDHeaderName, "abc123")
	rec := serve(s, req)
	assert.Equal(t, "abc123", rec.Header().Get(common.TraceIDHeaderName))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeService{}, staticVerifier{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLinkBuilder(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "files.example.com:8443"

	b := NewLinkBuilder("", basePath("attachments", "v1.1"), "v1.1")
	assert.Equal(t, "http://files.example.com:8443/attachments/v1.1/attachment/h", b.Attachment(req, "h"))

	req.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://files.example.com:8443/attachments/v1.1/attachment/h", b.Attachment(req, "h"))

	b = NewLinkBuilder("https://cdn.example.com/att/", basePath("attachments", "v1.1"), "v1.1")
	assert.Equal(t, "https://cdn.example.com/att/v1.1/attachment/h", b.Attachment(req, "h"))

	assert.Equal(t, "/v2", basePath("", "v2"))
	assert.Equal(t, "/a/b/v2", basePath("/a/b/", "v2"))
}

// --- end to end ---

var dbSeq atomic.Int64

func TestEndToEnd_UploadThenDownload(t *testing.T) {
	ctx := context.Background()

	m := repomanager.NewSQLiteRepositoryManager()
	db, err := repomanager.Open(ctx, m, fmt.Sprintf("file:httpapi_%d?mode=memory&cache=shared", dbSeq.Add(1)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := m.Attachments(db)

	blobs, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	gw := quota.NewMemoryGateway()
	gw.AddAccount(ownerID, password, 1000)
	gw.AddAccount(friendID, password, 1000)

	limiter, err := ratelimit.New(2, time.Hour, 100, logging.NopLogger{})
	require.NoError(t, err)

	svc := attachments.NewService(repo, blobs, gw, handles.NewAllocator(repo, 0), limiter,
		attachments.Options{MaxPayloadBytes: 100}, logging.NopLogger{})
	s := newTestServer(t, svc, gw)

	rec := serve(s, uploadRequest(t, "round trip", map[string][]string{
		"recipients": {friendID},
		"expires":    {expiresAt},
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	link := decode(t, rec)["sharedLink"].(string)
	path := link[strings.Index(link, "/attachments/"):]

	get := func(identity string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(common.AuthorizationHeaderName, basicAuth(identity, password))
		return serve(s, req)
	}

	rec = get(friendID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "round trip", rec.Body.String())

	handle := path[strings.LastIndex(path, "/")+1:]
	a, err := repo.GetByHandle(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.DownloadCount)

	remaining, _ := gw.Remaining(ownerID)
	assert.Equal(t, int64(990), remaining)

	assert.Equal(t, http.StatusOK, get(friendID).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(friendID).Code)
	assert.Equal(t, http.StatusOK, get(ownerID).Code)
}

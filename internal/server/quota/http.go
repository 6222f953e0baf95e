package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPGateway calls a remote account manager:
//
//	POST   {base}/accounts/{identity}/resources?size=N   reserve, 200 {"remainingQuota": n} or 507 with remaining bytes
//	DELETE {base}/accounts/{identity}/resources?size=N   release, 200 {"remainingQuota": n}
//	GET    {base}/accounts/{identity}/auth               basic auth check, any 2xx accepts, 401/403 reject
type HTTPGateway struct {
	base   string
	client *http.Client
}

type remainingQuotaInfo struct {
	RemainingQuota int64 `json:"remainingQuota"`
}

// NewHTTPGateway returns a gateway for baseURL. Every call is bounded by timeout.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) resourcesURL(owner string, bytes int64) string {
	return fmt.Sprintf("%s/accounts/%s/resources?size=%d", g.base, url.PathEscape(owner), bytes)
}

func (g *HTTPGateway) Reserve(ctx context.Context, owner string, bytes int64) (int64, error) {
	resp, err := g.do(ctx, http.MethodPost, g.resourcesURL(owner, bytes), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusInsufficientStorage {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		remaining, perr := parseRemaining(body)
		if perr != nil {
			return 0, fmt.Errorf("%w: unreadable 507 body %q", ErrCommunication, body)
		}
		return remaining, &InsufficientQuotaError{Remaining: remaining, Requested: bytes}
	}

	return decodeRemaining(resp)
}

func (g *HTTPGateway) Release(ctx context.Context, owner string, bytes int64) (int64, error) {
	resp, err := g.do(ctx, http.MethodDelete, g.resourcesURL(owner, bytes), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return decodeRemaining(resp)
}

func (g *HTTPGateway) Authenticate(ctx context.Context, identity, secret string) error {
	u := fmt.Sprintf("%s/accounts/%s/auth", g.base, url.PathEscape(identity))
	resp, err := g.do(ctx, http.MethodGet, u, func(r *http.Request) { r.SetBasicAuth(identity, secret) })
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w for %s", ErrUnauthenticated, identity)
	default:
		return fmt.Errorf("%w: auth check returned status %d", ErrCommunication, resp.StatusCode)
	}
}

func (g *HTTPGateway) do(ctx context.Context, method, u string, prepare func(*http.Request)) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommunication, err)
	}
	req.Header.Set("Accept", "application/json")
	if prepare != nil {
		prepare(req)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommunication, err)
	}
	return resp, nil
}

func decodeRemaining(resp *http.Response) (int64, error) {
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: unexpected status %d", ErrCommunication, resp.StatusCode)
	}

	var info remainingQuotaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, fmt.Errorf("%w: decode response: %w", ErrCommunication, err)
	}
	return info.RemainingQuota, nil
}

// parseRemaining accepts either a bare number or {"remainingQuota": n}.
func parseRemaining(body []byte) (int64, error) {
	s := strings.TrimSpace(string(body))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	var info remainingQuotaInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return 0, err
	}
	return info.RemainingQuota, nil
}

package quota

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(srv.URL+"/", time.Second)
}

func TestHTTPGateway_Reserve_OK(t *testing.T) {
	g := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/alice@example.com/resources", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("size"))
		fmt.Fprint(w, `{"remainingQuota": 900}`)
	})

	remaining, err := g.Reserve(context.Background(), "alice@example.com", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(900), remaining)
}

func TestHTTPGateway_Reserve_Insufficient(t *testing.T) {
	for name, body := range map[string]string{"plain": "42", "json": `{"remainingQuota": 42}`} {
		t.Run(name, func(t *testing.T) {
			g := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInsufficientStorage)
				fmt.Fprint(w, body)
			})

			remaining, err := g.Reserve(context.Background(), "alice@example.com", 100)
			var iq *InsufficientQuotaError
			require.ErrorAs(t, err, &iq)
			assert.Equal(t, int64(42), iq.Remaining)
			assert.Equal(t, int64(100), iq.Requested)
			assert.Equal(t, int64(42), remaining)
			assert.False(t, errors.Is(err, ErrCommunication))
		})
	}
}

func TestHTTPGateway_Reserve_CommunicationFailures(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
		"bad json":     func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "nope") },
		"bad 507 body": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInsufficientStorage)
			fmt.Fprint(w, "lots")
		},
	}

	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			g := newServer(t, h)
			_, err := g.Reserve(context.Background(), "a@example.com", 1)
			require.ErrorIs(t, err, ErrCommunication)
		})
	}
}

func TestHTTPGateway_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	g := NewHTTPGateway(srv.URL, time.Second)
	srv.Close()

	_, err := g.Reserve(context.Background(), "a@example.com", 1)
	require.ErrorIs(t, err, ErrCommunication)

	_, err = g.Release(context.Background(), "a@example.com", 1)
	require.ErrorIs(t, err, ErrCommunication)
}

func TestHTTPGateway_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(block); srv.Close() })

	g := NewHTTPGateway(srv.URL, 50*time.Millisecond)
	_, err := g.Reserve(context.Background(), "a@example.com", 1)
	require.ErrorIs(t, err, ErrCommunication)
}

func TestHTTPGateway_Release(t *testing.T) {
	g := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "250", r.URL.Query().Get("size"))
		fmt.Fprint(w, `{"remainingQuota": 1250}`)
	})

	remaining, err := g.Release(context.Background(), "a@example.com", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), remaining)
}

func TestHTTPGateway_Authenticate(t *testing.T) {
	g := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "a@example.com" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, g.Authenticate(context.Background(), "a@example.com", "pw"))
	require.ErrorIs(t, g.Authenticate(context.Background(), "a@example.com", "wrong"), ErrUnauthenticated)
}

func TestHTTPGateway_Authenticate_Forbidden(t *testing.T) {
	g := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	err := g.Authenticate(context.Background(), "a@example.com", "pw")
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.False(t, errors.Is(err, ErrCommunication))
}

func TestHTTPGateway_Authenticate_ServiceFailures(t *testing.T) {
	g := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	err := g.Authenticate(context.Background(), "a@example.com", "pw")
	require.ErrorIs(t, err, ErrCommunication)
	assert.False(t, errors.Is(err, ErrUnauthenticated))

	srv := httptest.NewServer(http.NotFoundHandler())
	down := NewHTTPGateway(srv.URL, time.Second)
	srv.Close()

	err = down.Authenticate(context.Background(), "a@example.com", "pw")
	require.ErrorIs(t, err, ErrCommunication)
	assert.False(t, errors.Is(err, ErrUnauthenticated))
}

func TestInsufficientQuotaError_Message(t *testing.T) {
	err := &InsufficientQuotaError{Remaining: 5, Requested: 10}
	assert.Equal(t, "quota exceeded: 10 bytes requested, only 5 bytes left", err.Error())
}

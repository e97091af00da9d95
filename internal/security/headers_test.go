package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func serveWith(h Headers, tlsConn bool) http.Header {
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "https://guardrail.local/api/v1/breakers", nil)
	if tlsConn {
		req.TLS = &tls.ConnectionState{}
	} else {
		// httptest.NewRequest sets a dummy TLS state for https URLs; clear
		// it so the helper actually models a plaintext connection.
		req.TLS = nil
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr.Result().Header
}

func TestHeadersBaseline(t *testing.T) {
	headers := serveWith(Headers{Enable: true}, false)
	require.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	require.Equal(t, "no-referrer", headers.Get("Referrer-Policy"))
	require.Empty(t, headers.Get("Strict-Transport-Security"))
}

func TestHeadersHSTSOnTLS(t *testing.T) {
	headers := serveWith(Headers{Enable: true, EnableHSTS: true, HSTSIncludeSubdomains: true}, true)
	require.Equal(t, "max-age=31536000; includeSubDomains", headers.Get("Strict-Transport-Security"))

	// HSTS never leaks onto plaintext responses.
	headers = serveWith(Headers{Enable: true, EnableHSTS: true}, false)
	require.Empty(t, headers.Get("Strict-Transport-Security"))
}

func TestHeadersDisabled(t *testing.T) {
	headers := serveWith(Headers{}, false)
	require.Empty(t, headers.Get("X-Content-Type-Options"))
}

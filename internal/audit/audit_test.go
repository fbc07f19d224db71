package audit

import (
	"log/slog"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demeter-run/fabric/pkg/authn"
)

func TestClientIP_XForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")

	ip := clientIP(r)
	require.Equal(t, netip.MustParseAddr("203.0.113.50"), ip)
}

func TestClientIP_XRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.23")

	ip := clientIP(r)
	require.Equal(t, netip.MustParseAddr("198.51.100.23"), ip)
}

func TestClientIP_RemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:12345"

	ip := clientIP(r)
	require.Equal(t, netip.MustParseAddr("192.0.2.1"), ip)
}

func TestClientIP_Precedence(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	r.Header.Set("X-Real-IP", "198.51.100.23")
	r.RemoteAddr = "192.0.2.1:12345"

	ip := clientIP(r)
	require.Equal(t, netip.MustParseAddr("203.0.113.50"), ip, "X-Forwarded-For should take precedence")
}

func TestClientIP_XRealIPFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.23")
	r.RemoteAddr = "192.0.2.1:12345"

	ip := clientIP(r)
	require.Equal(t, netip.MustParseAddr("198.51.100.23"), ip, "X-Real-IP should take precedence over RemoteAddr")
}

func TestClientIP_InvalidXFF(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "not-an-ip")
	r.RemoteAddr = "192.0.2.1:12345"

	ip := clientIP(r)
	require.Equal(t, netip.MustParseAddr("192.0.2.1"), ip, "should fall back to RemoteAddr")
}

func TestLog_DropsWhenFull(t *testing.T) {
	w := NewWriter(nil, slog.Default())

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{Action: "test", Resource: "test"})
	}
	w.Log(Entry{Action: "dropped", Resource: "dropped"})

	assert.Len(t, w.entries, bufferSize)
}

func TestLogFromRequest_ExtractsFields(t *testing.T) {
	w := NewWriter(nil, slog.Default())

	projectID := uuid.New()
	userID := uuid.New()

	r := httptest.NewRequest("POST", "/api/v1/projects/x/resources", nil)
	r.Header.Set("User-Agent", "test-agent/1.0")
	r.Header.Set("X-Real-IP", "198.51.100.23")
	r = r.WithContext(authn.NewContext(r.Context(), authn.Principal{Kind: authn.KindToken, UserID: userID}))

	resourceID := uuid.New()
	w.LogFromRequest(r, projectID, "create", "resource", resourceID, nil)

	entry := <-w.entries

	require.Equal(t, "create", entry.Action)
	require.Equal(t, "resource", entry.Resource)
	require.Equal(t, projectID, entry.ProjectID)
	require.Equal(t, userID, entry.UserID)
	require.Equal(t, resourceID, entry.ResourceID)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, netip.MustParseAddr("198.51.100.23"), *entry.IPAddress)
	require.NotNil(t, entry.UserAgent)
	assert.Equal(t, "test-agent/1.0", *entry.UserAgent)
}

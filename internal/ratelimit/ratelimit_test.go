package ratelimit

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPLimiterBurst(t *testing.T) {
	l := NewIPLimiter(1, 2)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"), "third immediate connection should exceed burst 2")
}

func TestIPLimiterTracksPerAddress(t *testing.T) {
	l := NewIPLimiter(1, 1)
	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"), "a different address has its own bucket")
}

func TestIPLimiterCleanupResetsState(t *testing.T) {
	l := NewIPLimiter(1, 1)
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))

	l.Cleanup()
	assert.True(t, l.Allow("1.1.1.1"), "cleanup should drop previously tracked limiters")
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := &http.Request{Header: http.Header{}, RemoteAddr: "10.0.0.1:4000"}
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(r))
}

func TestClientIPFallsBackToRealIP(t *testing.T) {
	r := &http.Request{Header: http.Header{}, RemoteAddr: "10.0.0.1:4000"}
	r.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := &http.Request{Header: http.Header{}, RemoteAddr: "203.0.113.20:4000"}
	assert.Equal(t, "203.0.113.20", ClientIP(r))
}

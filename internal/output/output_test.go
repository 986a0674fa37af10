package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/private-scribe/scribe/internal/auth"
)

func TestBar(t *testing.T) {
	assert.Equal(t, "[░░░░]", Bar(0, 4))
	assert.Equal(t, "[████]", Bar(255, 4))
	assert.Equal(t, "[██░░]", Bar(128, 4))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(0))
	assert.Equal(t, "59s", formatDuration(59*time.Second))
	assert.Equal(t, "1m05s", formatDuration(65*time.Second))
	assert.Equal(t, "2h00m01s", formatDuration(2*time.Hour+time.Second))
}

func TestAuthStatus(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf)

	f.AuthStatus(auth.Status{})
	assert.Contains(t, buf.String(), "Not logged in")

	buf.Reset()
	exp := time.Now().Add(-time.Hour)
	f.AuthStatus(auth.Status{LoggedIn: true, Subject: "dr.lee", ExpiresAt: &exp, Expired: true})
	assert.Contains(t, buf.String(), "dr.lee")
	assert.Contains(t, buf.String(), "expired")
}

func TestMeterRedrawsLine(t *testing.T) {
	var buf bytes.Buffer
	NewFormatter(&buf).Meter("recording", 3*time.Second, 255)
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\r"))
	assert.Contains(t, out, "3s")
	assert.NotContains(t, out, "\n")
}

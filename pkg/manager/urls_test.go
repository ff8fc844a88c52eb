package manager

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaewoo-rain/webide/pkg/errs"
	"github.com/jaewoo-rain/webide/pkg/runtime"
)

func TestBuildAccessURLs(t *testing.T) {
	inst := &runtime.Instance{ID: "abc123", ExternalPort: 31000}

	r := httptest.NewRequest("GET", "http://ide.example.com:8000/containers", nil)
	urls, err := BuildAccessURLs(inst, r, "deadbeef")
	require.NoError(t, err)

	assert.EqualValues(t, "ws://ide.example.com:8000/ws?cid=abc123&sid=deadbeef", urls.Terminal)
	assert.EqualValues(t, "http://ide.example.com:31000/vnc.html?autoconnect=true&encrypt=0&resize=remote&password=jaewoo", urls.Display)
}

func TestBuildAccessURLsHonorsForwardedHeaders(t *testing.T) {
	inst := &runtime.Instance{ID: "abc123", ExternalPort: 31000}

	r := httptest.NewRequest("GET", "http://internal:8000/containers", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "ide.example.com")

	urls, err := BuildAccessURLs(inst, r, "deadbeef")
	require.NoError(t, err)

	assert.EqualValues(t, "wss://ide.example.com/ws?cid=abc123&sid=deadbeef", urls.Terminal)
	assert.EqualValues(t, "https://ide.example.com:31000/vnc.html?autoconnect=true&encrypt=0&resize=remote&password=jaewoo", urls.Display)
}

func TestBuildAccessURLsWithoutExternalPort(t *testing.T) {
	inst := &runtime.Instance{ID: "abc123"}

	r := httptest.NewRequest("GET", "http://ide.example.com/containers", nil)
	_, err := BuildAccessURLs(inst, r, "deadbeef")
	assert.True(t, errs.HasKind(err, errs.KindNoExternalPort))
}

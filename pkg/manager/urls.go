package manager

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/jaewoo-rain/webide/pkg/errs"
	"github.com/jaewoo-rain/webide/pkg/runtime"
)

// vncQuery is consumed verbatim by the client and the embedded noVNC server.
// Do not reorder or rewrite it.
const vncQuery = "autoconnect=true&encrypt=0&resize=remote&password=jaewoo"

// AccessURLs are the two entry points a client needs for one instance.
type AccessURLs struct {
	Terminal string
	Display  string
}

// BuildAccessURLs derives the externally reachable terminal and display URLs
// for an instance, honoring forwarded-host and forwarded-proto hints from
// the proxy in front of us before falling back to the request itself.
func BuildAccessURLs(inst *runtime.Instance, r *http.Request, sessionID string) (AccessURLs, error) {
	if inst.ExternalPort == 0 {
		return AccessURLs{}, errs.New(errs.KindNoExternalPort, "noVNC port not published for this instance")
	}

	netloc, httpScheme, wsScheme, hostOnly := netlocAndSchemes(r)

	return AccessURLs{
		Terminal: fmt.Sprintf("%s://%s/ws?cid=%s&sid=%s", wsScheme, netloc, inst.ID, sessionID),
		Display:  fmt.Sprintf("%s://%s:%d/vnc.html?%s", httpScheme, hostOnly, inst.ExternalPort, vncQuery),
	}, nil
}

// netlocAndSchemes returns netloc, http scheme, ws scheme and the bare host.
func netlocAndSchemes(r *http.Request) (string, string, string, string) {
	httpScheme := r.Header.Get("X-Forwarded-Proto")
	if httpScheme == "" {
		httpScheme = "http"
		if r.TLS != nil {
			httpScheme = "https"
		}
	}

	netloc := r.Header.Get("X-Forwarded-Host")
	if netloc == "" {
		netloc = r.Host
	}
	if netloc == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		port := "80"
		if httpScheme == "https" {
			port = "443"
		}
		netloc = net.JoinHostPort(host, port)
	}

	wsScheme := "ws"
	if httpScheme == "https" {
		wsScheme = "wss"
	}

	return netloc, httpScheme, wsScheme, hostOnly(netloc)
}

func hostOnly(netloc string) string {
	if host, _, err := net.SplitHostPort(netloc); err == nil {
		return host
	}
	return strings.Trim(netloc, "[]")
}

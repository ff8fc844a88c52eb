// Package broker pumps bytes between browser websocket clients and
// interactive shells inside instances.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jaewoo-rain/webide/pkg/config"
	"github.com/jaewoo-rain/webide/pkg/manager"
	"github.com/jaewoo-rain/webide/pkg/runtime"
	"github.com/jaewoo-rain/webide/pkg/session"
)

// CloseDuplicateSession is sent when a client attaches with a sid that is
// already live for the same instance.
const CloseDuplicateSession = 4409

// ptyReadSize bounds one egress read; one websocket text frame carries at
// most this many bytes of PTY output.
const ptyReadSize = 1024

// Broker accepts websocket terminals and runs their pumps.
type Broker struct {
	Log      *logrus.Entry
	Config   *config.AppConfig
	Runtime  runtime.ContainerRuntime
	Sessions *session.Registry

	Upgrader websocket.Upgrader
}

// New returns a Broker with an upgrader that accepts any origin, matching
// the permissive CORS policy of the HTTP surface.
func New(log *logrus.Entry, cfg *config.AppConfig, rt runtime.ContainerRuntime, sessions *session.Registry) *Broker {
	return &Broker{
		Log:      log,
		Config:   cfg,
		Runtime:  rt,
		Sessions: sessions,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request and serves the terminal session until either
// side goes away.
func (b *Broker) Handle(w http.ResponseWriter, r *http.Request) {
	cid := r.URL.Query().Get("cid")
	sid := r.URL.Query().Get("sid")

	conn, err := b.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	b.serve(r.Context(), conn, cid, sid)
}

func (b *Broker) serve(ctx context.Context, conn *websocket.Conn, cid, sid string) {
	log := b.Log.WithField("cid", cid)

	inst, err := b.Runtime.Lookup(ctx, cid)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("컨테이너가 없습니다."))
		conn.Close()
		return
	}

	if sid == "" {
		sid = manager.NewSessionID()
	}
	key := session.Key{InstanceID: inst.ID, SessionID: sid}
	log = log.WithField("sid", sid)

	// claim the slot before any data frame; a duplicate sid must not
	// disturb the incumbent session
	if !b.Sessions.Insert(key, nil) {
		msg := websocket.FormatCloseMessage(CloseDuplicateSession, "sid already in use")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
		return
	}

	pty, err := b.attach(ctx, conn, inst.ID, sid)
	if err != nil {
		log.WithError(err).Error("attaching terminal")
		b.Sessions.Remove(key)
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "attach failed")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
		return
	}
	b.Sessions.SetPTY(key, pty)
	log.Info("terminal session attached")

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			pty.Close()
			b.Sessions.Remove(key)
			conn.Close()
			log.Info("terminal session closed")
		})
	}
	defer teardown()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.egress(conn, pty)
		teardown()
	}()

	b.ingress(conn, pty)
	teardown()
	wg.Wait()
}

// attach announces the sid, makes sure the python scaffold exists, and
// spawns the interactive shell.
func (b *Broker) attach(ctx context.Context, conn *websocket.Conn, instanceID, sid string) (runtime.PTY, error) {
	if err := conn.WriteJSON(map[string]string{"sid": sid}); err != nil {
		return nil, err
	}

	if err := b.ensureVenv(ctx, instanceID); err != nil {
		return nil, err
	}

	shell := fmt.Sprintf(
		"source %s/bin/activate >/dev/null 2>&1 || true; export PS1='webide:\\w$ '; exec bash --noprofile --norc -i",
		b.Config.VenvPath,
	)
	return b.Runtime.Attach(ctx, instanceID, []string{"bash", "-lc", shell})
}

// ensureVenv creates the per-instance virtual environment if it is not
// there yet. Safe to run on every attach.
func (b *Broker) ensureVenv(ctx context.Context, instanceID string) error {
	script := fmt.Sprintf(`set -e
if [ ! -x '%[1]s/bin/python' ]; then
    python3 -m venv '%[1]s'
    '%[1]s/bin/python' -m pip install --upgrade pip
fi`, b.Config.VenvPath)

	_, err := b.Runtime.Exec(ctx, instanceID, []string{"bash", "-lc", script})
	return err
}

// egress copies PTY output to the client as text frames until the PTY hits
// EOF or the connection dies. Invalid UTF-8 is replaced, not dropped.
func (b *Broker) egress(conn *websocket.Conn, pty runtime.PTY) {
	buf := make([]byte, ptyReadSize)
	for {
		n, err := pty.Read(buf)
		if n > 0 {
			text := strings.ToValidUTF8(string(buf[:n]), string(utf8.RuneError))
			if werr := conn.WriteMessage(websocket.TextMessage, []byte(text)); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// ingress copies client frames into the PTY until the client disconnects.
func (b *Broker) ingress(conn *websocket.Conn, pty runtime.PTY) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if _, err := pty.Write(data); err != nil {
			return
		}
	}
}

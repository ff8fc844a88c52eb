// Package runner coordinates "run this project" requests: it materializes
// the client's tree, injects the run command into the live terminal, and
// classifies the program as GUI or CLI.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaewoo-rain/webide/pkg/config"
	"github.com/jaewoo-rain/webide/pkg/errs"
	"github.com/jaewoo-rain/webide/pkg/runtime"
	"github.com/jaewoo-rain/webide/pkg/session"
	"github.com/jaewoo-rain/webide/pkg/workspace"
)

// Mode is the runner's verdict on what the program did after launch.
const (
	ModeGUI = "gui"
	ModeCLI = "cli"
)

// guiProbe checks whether any X client has mapped a window on the session
// display. Exit status is the answer; output is ignored.
const guiProbe = `DISPLAY=:1 xwininfo -root -tree | grep -E '"[^ ]+"' >/dev/null && echo yes || echo no`

// Request names what to run and through which terminal.
type Request struct {
	InstanceID string
	SessionID  string
	Tree       *workspace.Tree
	EntryID    string
}

// Runner launches programs through an attached terminal session.
type Runner struct {
	Log          *logrus.Entry
	Config       *config.AppConfig
	Runtime      runtime.ContainerRuntime
	Sessions     *session.Registry
	Materializer *workspace.Materializer
}

// Run materializes the tree, stops the previous run, types the run command
// into the session's PTY and reports ModeGUI or ModeCLI. The command goes
// through the PTY so the program's stdio shows up in the user's terminal.
func (r *Runner) Run(ctx context.Context, req Request) (string, error) {
	pty, ok := r.Sessions.PTY(session.Key{InstanceID: req.InstanceID, SessionID: req.SessionID})
	if !ok || pty == nil {
		return "", errs.New(errs.KindNoSession, "no attached terminal session %q for instance %q", req.SessionID, req.InstanceID)
	}

	policy := workspace.Preserve
	if r.Config.WorkspacePurge {
		policy = workspace.Purge
	}
	entryPath, err := r.Materializer.Materialize(ctx, req.InstanceID, req.Tree, req.EntryID, r.Config.Workspace, policy)
	if err != nil {
		return "", err
	}
	if entryPath == "" {
		return "", errs.New(errs.KindNoEntry, "run requires an entry file")
	}

	r.killPrevious(ctx, req.InstanceID)

	cmd := fmt.Sprintf("%s/bin/python '%s'\n", r.Config.VenvPath, entryPath)
	if _, err := pty.Write([]byte(cmd)); err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "writing run command to terminal")
	}

	if r.probeGUI(ctx, req.InstanceID) {
		return ModeGUI, nil
	}
	return ModeCLI, nil
}

// killPrevious stops whatever was started from the workspace on an earlier
// run. Best effort; a fresh instance has nothing to kill.
func (r *Runner) killPrevious(ctx context.Context, instanceID string) {
	script := fmt.Sprintf("pkill -f '%s' || true", r.Config.Workspace)
	if _, err := r.Runtime.Exec(ctx, instanceID, []string{"bash", "-lc", script}); err != nil {
		r.Log.WithError(err).WithField("instance", instanceID).Warn("stopping previous run")
	}
}

// probeGUI polls the display a few times, because a window takes a moment
// to map after the interpreter starts. The first probe fires immediately;
// the interval only separates attempts.
func (r *Runner) probeGUI(ctx context.Context, instanceID string) bool {
	interval := time.Duration(r.Config.GUIProbeIntervalMS) * time.Millisecond
	for attempt := 0; attempt < r.Config.GUIProbeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(interval):
			}
		}

		result, err := r.Runtime.Exec(ctx, instanceID, []string{"bash", "-lc", guiProbe})
		if err != nil {
			r.Log.WithError(err).WithField("instance", instanceID).Warn("probing display")
			continue
		}
		if strings.TrimSpace(string(result.Stdout)) == "yes" {
			return true
		}
	}
	return false
}

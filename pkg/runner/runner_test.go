package runner

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaewoo-rain/webide/pkg/config"
	"github.com/jaewoo-rain/webide/pkg/errs"
	"github.com/jaewoo-rain/webide/pkg/runtime"
	"github.com/jaewoo-rain/webide/pkg/session"
	"github.com/jaewoo-rain/webide/pkg/workspace"
)

func sampleTree() *workspace.Tree {
	return &workspace.Tree{
		Root: &workspace.Node{ID: "root", Type: workspace.NodeFolder, Children: []*workspace.Node{
			{ID: "main", Type: workspace.NodeFile},
		}},
		FileMap: map[string]workspace.Entry{
			"root": {Name: "", Type: workspace.NodeFolder},
			"main": {Name: "main.py", Type: workspace.NodeFile, Content: "print(1)\n"},
		},
	}
}

type fixture struct {
	runner   *Runner
	mock     *runtime.MockRuntime
	registry *session.Registry
	instance *runtime.Instance
	pty      *runtime.MemoryPTY

	typed chan string
}

func newFixture(t *testing.T, probeAnswer string) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.Out = io.Discard
	entry := logger.WithField("test", true)

	mock := runtime.NewMockRuntime()
	mock.ExecHook = func(id string, argv []string) (*runtime.ExecResult, error) {
		if len(argv) == 3 && strings.Contains(argv[2], "xwininfo") {
			return &runtime.ExecResult{Stdout: []byte(probeAnswer + "\n")}, nil
		}
		return &runtime.ExecResult{}, nil
	}

	inst, err := mock.Create(context.Background(), runtime.CreateOptions{
		Name: "jaewoo-deadbeef", Image: "img", ExternalPort: 31000,
	})
	require.NoError(t, err)

	registry := session.NewRegistry()
	pty := runtime.NewMemoryPTY()
	t.Cleanup(func() { pty.Close() })
	require.True(t, registry.Insert(session.Key{InstanceID: inst.ID, SessionID: "s1"}, pty))

	// drain the far end so PTY writes never block
	typed := make(chan string, 16)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := pty.FarRead(buf)
			if n > 0 {
				typed <- string(buf[:n])
			}
			if err != nil {
				close(typed)
				return
			}
		}
	}()

	cfg := &config.AppConfig{
		Workspace:          "/opt/workspace",
		WorkspacePurge:     true,
		VenvPath:           "/tmp/user_venv",
		GUIProbeAttempts:   2,
		GUIProbeIntervalMS: 1,
	}

	return &fixture{
		runner: &Runner{
			Log:          entry,
			Config:       cfg,
			Runtime:      mock,
			Sessions:     registry,
			Materializer: &workspace.Materializer{Log: entry, Runtime: mock},
		},
		mock:     mock,
		registry: registry,
		instance: inst,
		pty:      pty,
		typed:    typed,
	}
}

func TestRunReturnsCLIMode(t *testing.T) {
	f := newFixture(t, "no")

	mode, err := f.runner.Run(context.Background(), Request{
		InstanceID: f.instance.ID,
		SessionID:  "s1",
		Tree:       sampleTree(),
		EntryID:    "main",
	})
	require.NoError(t, err)
	assert.EqualValues(t, ModeCLI, mode)

	assert.EqualValues(t, "/tmp/user_venv/bin/python '/opt/workspace/main.py'\n", <-f.typed)
}

func TestRunReturnsGUIMode(t *testing.T) {
	f := newFixture(t, "yes")

	mode, err := f.runner.Run(context.Background(), Request{
		InstanceID: f.instance.ID,
		SessionID:  "s1",
		Tree:       sampleTree(),
		EntryID:    "main",
	})
	require.NoError(t, err)
	assert.EqualValues(t, ModeGUI, mode)
}

func TestRunKillsPreviousRun(t *testing.T) {
	f := newFixture(t, "no")

	_, err := f.runner.Run(context.Background(), Request{
		InstanceID: f.instance.ID,
		SessionID:  "s1",
		Tree:       sampleTree(),
		EntryID:    "main",
	})
	require.NoError(t, err)

	var sawKill bool
	for _, argv := range f.mock.Execs(f.instance.ID) {
		if len(argv) == 3 && strings.Contains(argv[2], "pkill -f '/opt/workspace'") {
			sawKill = true
		}
	}
	assert.True(t, sawKill)
}

func TestRunGUIVerdictIsImmediate(t *testing.T) {
	f := newFixture(t, "yes")
	f.runner.Config.GUIProbeAttempts = 5
	f.runner.Config.GUIProbeIntervalMS = 1000

	start := time.Now()
	mode, err := f.runner.Run(context.Background(), Request{
		InstanceID: f.instance.ID,
		SessionID:  "s1",
		Tree:       sampleTree(),
		EntryID:    "main",
	})
	require.NoError(t, err)
	assert.EqualValues(t, ModeGUI, mode)

	// the first probe fires without waiting out the interval
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRunWithoutSession(t *testing.T) {
	f := newFixture(t, "no")

	_, err := f.runner.Run(context.Background(), Request{
		InstanceID: f.instance.ID,
		SessionID:  "unknown",
		Tree:       sampleTree(),
		EntryID:    "main",
	})
	assert.True(t, errs.HasKind(err, errs.KindNoSession))

	// a claimed slot whose attach has not finished is just as dead
	require.True(t, f.registry.Insert(session.Key{InstanceID: f.instance.ID, SessionID: "pending"}, nil))
	_, err = f.runner.Run(context.Background(), Request{
		InstanceID: f.instance.ID,
		SessionID:  "pending",
		Tree:       sampleTree(),
		EntryID:    "main",
	})
	assert.True(t, errs.HasKind(err, errs.KindNoSession))

	// nothing was materialized or executed for the dead requests
	assert.Empty(t, f.mock.Files(f.instance.ID))
}

func TestRunWithoutEntry(t *testing.T) {
	f := newFixture(t, "no")

	_, err := f.runner.Run(context.Background(), Request{
		InstanceID: f.instance.ID,
		SessionID:  "s1",
		Tree:       sampleTree(),
		EntryID:    "",
	})
	assert.True(t, errs.HasKind(err, errs.KindNoEntry))

	_, err = f.runner.Run(context.Background(), Request{
		InstanceID: f.instance.ID,
		SessionID:  "s1",
		Tree:       sampleTree(),
		EntryID:    "missing-id",
	})
	assert.True(t, errs.HasKind(err, errs.KindNoEntry))
}

package runtime

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

// MockRuntime is an in-memory ContainerRuntime for tests. It enforces the
// same name and port exclusivity the real backends do and records every
// exec and upload so tests can assert on them.
type MockRuntime struct {
	mu      sync.Mutex
	counter int

	instances map[string]*Instance          // by id
	files     map[string]map[string][]byte  // instance id -> path -> content
	execs     map[string][][]string         // instance id -> argv log
	destroyed []string

	// ExecHook, when set, decides the result of Exec calls. The default is
	// exit 0 with no output.
	ExecHook func(id string, argv []string) (*ExecResult, error)

	// AttachHook, when set, supplies the PTY returned by Attach. The default
	// is an echoing MemoryPTY.
	AttachHook func(id string, argv []string) (PTY, error)

	// CreateErr, when set, fails the next Create with this error once.
	CreateErr error
}

// NewMockRuntime returns an empty mock.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		instances: make(map[string]*Instance),
		files:     make(map[string]map[string][]byte),
		execs:     make(map[string][][]string),
	}
}

// Mode returns "mock".
func (m *MockRuntime) Mode() string { return "mock" }

// Close is a no-op.
func (m *MockRuntime) Close() error { return nil }

func (m *MockRuntime) Create(ctx context.Context, opts CreateOptions) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.CreateErr; err != nil {
		m.CreateErr = nil
		return nil, err
	}

	for _, inst := range m.instances {
		if inst.Name == opts.Name {
			return nil, errs.New(errs.KindNameInUse, "container name already in use")
		}
	}
	for _, inst := range m.instances {
		if inst.ExternalPort == opts.ExternalPort {
			return nil, errs.New(errs.KindPortInUse, "external port already bound")
		}
	}

	m.counter++
	inst := &Instance{
		ID:           fmt.Sprintf("%064x", m.counter),
		Name:         opts.Name,
		Image:        opts.Image,
		Status:       "running",
		ExternalPort: opts.ExternalPort,
		Labels:       opts.Labels,
	}
	m.instances[inst.ID] = inst
	m.files[inst.ID] = make(map[string][]byte)
	return inst, nil
}

func (m *MockRuntime) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.destroyed = append(m.destroyed, id)
	for key, inst := range m.instances {
		if key == id || inst.Name == id || strings.HasPrefix(key, id) {
			delete(m.instances, key)
			return nil
		}
	}
	return nil
}

func (m *MockRuntime) Lookup(ctx context.Context, idOrPrefix string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.instances[idOrPrefix]; ok {
		return copyInstance(inst), nil
	}
	var matches []*Instance
	for id, inst := range m.instances {
		if strings.HasPrefix(id, idOrPrefix) || inst.Name == idOrPrefix {
			matches = append(matches, inst)
		}
	}
	switch len(matches) {
	case 0:
		return nil, errs.New(errs.KindNotFound, "no container matches %q", idOrPrefix)
	case 1:
		return copyInstance(matches[0]), nil
	default:
		return nil, errs.New(errs.KindAmbiguous, "%q matches %d containers", idOrPrefix, len(matches))
	}
}

func (m *MockRuntime) List(ctx context.Context) ([]*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, copyInstance(inst))
	}
	return out, nil
}

func (m *MockRuntime) Exec(ctx context.Context, id string, argv []string) (*ExecResult, error) {
	m.mu.Lock()
	if _, ok := m.instances[id]; !ok {
		m.mu.Unlock()
		return nil, errs.New(errs.KindNotFound, "no container matches %q", id)
	}
	m.execs[id] = append(m.execs[id], argv)
	hook := m.ExecHook
	m.mu.Unlock()

	if hook != nil {
		return hook(id, argv)
	}
	return &ExecResult{ExitCode: 0}, nil
}

func (m *MockRuntime) Attach(ctx context.Context, id string, argv []string) (PTY, error) {
	m.mu.Lock()
	if _, ok := m.instances[id]; !ok {
		m.mu.Unlock()
		return nil, errs.New(errs.KindNotFound, "no container matches %q", id)
	}
	hook := m.AttachHook
	m.mu.Unlock()

	if hook != nil {
		return hook(id, argv)
	}
	pty := NewMemoryPTY()
	pty.Echo()
	return pty, nil
}

// Upload unpacks the tar archive into the instance's in-memory filesystem.
func (m *MockRuntime) Upload(ctx context.Context, id string, destPath string, archive io.Reader) error {
	m.mu.Lock()
	fs, ok := m.files[id]
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.KindNotFound, "no container matches %q", id)
	}

	tr := tar.NewReader(archive)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		full := path.Join(destPath, hdr.Name)
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		m.mu.Lock()
		fs[full] = content
		m.mu.Unlock()
	}
}

// File returns the content uploaded at path inside instance id.
func (m *MockRuntime) File(id, p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[id][p]
	return content, ok
}

// Files returns a copy of the instance's uploaded file map.
func (m *MockRuntime) Files(id string) map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.files[id]))
	for k, v := range m.files[id] {
		out[k] = v
	}
	return out
}

// Execs returns the argv log for instance id.
func (m *MockRuntime) Execs(id string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.execs[id]...)
}

// Destroyed returns the ids Destroy was called with, in order.
func (m *MockRuntime) Destroyed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.destroyed...)
}

func copyInstance(inst *Instance) *Instance {
	c := *inst
	return &c
}

// MemoryPTY is an in-memory PTY whose far end is driven by tests.
type MemoryPTY struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	closeOnce sync.Once
}

// NewMemoryPTY returns a MemoryPTY with nothing on the far end; pair it with
// Echo or drive FarRead/FarWrite directly.
func NewMemoryPTY() *MemoryPTY {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &MemoryPTY{inR: inR, inW: inW, outR: outR, outW: outW}
}

func (p *MemoryPTY) Read(buf []byte) (int, error)  { return p.outR.Read(buf) }
func (p *MemoryPTY) Write(buf []byte) (int, error) { return p.inW.Write(buf) }

func (p *MemoryPTY) Close() error {
	p.closeOnce.Do(func() {
		p.inW.Close()
		p.inR.Close()
		p.outW.Close()
		p.outR.Close()
	})
	return nil
}

// Echo starts the far end copying everything written back to the read side,
// which is close enough to a shell for pump tests.
func (p *MemoryPTY) Echo() {
	go func() {
		_, _ = io.Copy(p.outW, p.inR)
		p.outW.Close()
	}()
}

// FarWrite emits data as PTY output.
func (p *MemoryPTY) FarWrite(data []byte) (int, error) { return p.outW.Write(data) }

// FarRead consumes data the client wrote into the PTY.
func (p *MemoryPTY) FarRead(buf []byte) (int, error) { return p.inR.Read(buf) }

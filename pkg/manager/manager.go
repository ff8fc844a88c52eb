// Package manager owns instance provisioning and teardown. It is the only
// writer of instance names and external ports, serialized by one lock so
// that concurrent requests cannot race name or port selection.
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jaewoo-rain/webide/pkg/auth"
	"github.com/jaewoo-rain/webide/pkg/config"
	"github.com/jaewoo-rain/webide/pkg/errs"
	"github.com/jaewoo-rain/webide/pkg/metadata"
	"github.com/jaewoo-rain/webide/pkg/ports"
	"github.com/jaewoo-rain/webide/pkg/runtime"
)

// provisionAttempts bounds how many candidate names are tried before the
// operation fails as exhausted.
const provisionAttempts = 50

// ProvisionRequest carries the client's wishes for a new instance.
type ProvisionRequest struct {
	ProjectName string
	Image       string
	Cmd         []string
	Env         map[string]string
}

// Manager provisions, resolves, renames and tears down instances.
type Manager struct {
	Log      *logrus.Entry
	Config   *config.AppConfig
	Runtime  runtime.ContainerRuntime
	Metadata *metadata.Client
	Pool     *ports.Pool

	// mu serializes naming and port selection across requests. The runtime
	// bind is the effective port reservation; the lock only prevents two
	// in-flight provisions from racing each other to it.
	mu sync.Mutex
}

// Provision creates a runtime instance with an exclusive external port,
// registers it with the metadata service, and returns it. Every failure
// path destroys whatever was partially created: an instance is discoverable
// if and only if its runtime object exists.
func (m *Manager) Provision(ctx context.Context, principal auth.Principal, req ProvisionRequest) (*runtime.Instance, error) {
	if !principal.Unlimited() {
		count, err := m.Metadata.CountInstances(ctx, principal.Token, principal.Username)
		if err != nil {
			return nil, err
		}
		if count >= m.Config.FreeMaxContainers {
			return nil, errs.New(errs.KindQuotaExceeded, "최대 생성 개수를 초과했습니다 (max %d)", m.Config.FreeMaxContainers)
		}
	}

	image := req.Image
	if image == "" {
		image = m.Config.VNCImage
	}
	env := make(map[string]string, len(m.Config.ContainerEnvDefault)+len(req.Env))
	for k, v := range m.Config.ContainerEnvDefault {
		env[k] = v
	}
	for k, v := range req.Env {
		env[k] = v
	}

	m.mu.Lock()
	inst, err := m.createLocked(ctx, principal.Username, image, req.Cmd, env, req.ProjectName)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	record := metadata.Record{
		ContainerID:   inst.ID,
		ContainerName: inst.Name,
		OwnerUsername: principal.Username,
		ImageName:     image,
		Status:        inst.Status,
		ProjectName:   req.ProjectName,
	}
	if err := m.Metadata.RegisterInstance(ctx, principal.Token, record); err != nil {
		// compensating delete: without a record the instance must not exist
		if derr := m.Runtime.Destroy(ctx, inst.ID); derr != nil {
			m.Log.WithError(derr).WithField("instance", inst.ID).Error("destroying instance after failed registration")
		}
		return nil, errs.Wrap(errs.KindInternal, err, "registering instance")
	}

	return inst, nil
}

// createLocked runs the name-and-port search. Callers hold m.mu.
func (m *Manager) createLocked(ctx context.Context, username, image string, cmd []string, env map[string]string, projectName string) (*runtime.Instance, error) {
	for attempt := 0; attempt < provisionAttempts; attempt++ {
		name := fmt.Sprintf("%s-%s", username, randomSuffix())
		if taken, err := m.nameTaken(ctx, name); err != nil {
			return nil, err
		} else if taken {
			continue
		}

		instanceLabel := name[strings.LastIndex(name, "-")+1:]
		labels := map[string]string{
			"owner":    username,
			"instance": instanceLabel,
		}
		if projectName != "" {
			labels["project"] = projectName
		}

		// skip ports a live instance already claims; the runtime bind is
		// still the authority for anything bound outside our view
		used := make(map[int]bool)
		if instances, err := m.Runtime.List(ctx); err == nil {
			for _, existing := range instances {
				used[existing.ExternalPort] = true
			}
		}

		retryName := false
		for _, p := range m.Pool.Candidates(func(port int) bool { return used[port] }) {
			inst, err := m.Runtime.Create(ctx, runtime.CreateOptions{
				Name:         name,
				Image:        image,
				Cmd:          cmd,
				Env:          env,
				InternalPort: m.Config.InternalNoVNCPort,
				ExternalPort: p,
				Network:      m.Config.DockerNetwork,
				Labels:       labels,
			})
			if err == nil {
				return inst, nil
			}

			m.destroyPartial(ctx, name)
			switch {
			case runtime.IsPortInUse(err):
				continue
			case runtime.IsNameInUse(err):
				retryName = true
			default:
				return nil, errs.Wrap(errs.KindInternal, err, "creating instance")
			}
			break
		}
		if retryName {
			continue
		}
		return nil, errs.New(errs.KindExhausted, "no free external port in pool of %d", m.Pool.Size())
	}
	return nil, errs.New(errs.KindExhausted, "could not find a free instance name in %d attempts", provisionAttempts)
}

func (m *Manager) nameTaken(ctx context.Context, name string) (bool, error) {
	_, err := m.Runtime.Lookup(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case runtime.IsNotFound(err):
		return false, nil
	case errs.HasKind(err, errs.KindAmbiguous):
		return true, nil
	default:
		return false, err
	}
}

func (m *Manager) destroyPartial(ctx context.Context, name string) {
	if err := m.Runtime.Destroy(ctx, name); err != nil {
		m.Log.WithError(err).WithField("instance", name).Warn("destroying partial instance")
	}
}

// Resolve turns a full id or unique prefix into an instance.
func (m *Manager) Resolve(ctx context.Context, idOrPrefix string) (*runtime.Instance, error) {
	return m.Runtime.Lookup(ctx, idOrPrefix)
}

// List returns the principal's records from the metadata service. The shape
// is owned by the metadata service.
func (m *Manager) List(ctx context.Context, principal auth.Principal) (interface{}, error) {
	return m.Metadata.ListInstances(ctx, principal.Token)
}

// Teardown destroys the runtime instance and deletes its metadata record.
// Both halves are idempotent, so calling this twice is a no-op the second
// time, and a record whose runtime object is already gone still gets
// cleaned up.
func (m *Manager) Teardown(ctx context.Context, principal auth.Principal, idOrPrefix string) error {
	recordID := idOrPrefix
	inst, err := m.Runtime.Lookup(ctx, idOrPrefix)
	switch {
	case err == nil:
		recordID = inst.ID
		if err := m.Runtime.Destroy(ctx, inst.ID); err != nil {
			return err
		}
	case runtime.IsNotFound(err):
		// already gone at the runtime; still remove the record
	default:
		return err
	}

	return m.Metadata.DeleteInstance(ctx, principal.Token, recordID, principal.Username)
}

// Rename updates the project name on an instance's metadata record.
func (m *Manager) Rename(ctx context.Context, principal auth.Principal, id, projectName string) error {
	return m.Metadata.RenameInstance(ctx, principal.Token, id, projectName)
}

// randomSuffix returns the 8-hex instance name suffix.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewSessionID mints the 128-bit hex session id used in terminal URLs.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

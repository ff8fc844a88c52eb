package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

// DockerRuntime implements ContainerRuntime against a local Docker daemon.
type DockerRuntime struct {
	Log    *logrus.Entry
	client *client.Client
}

// NewDockerRuntime connects to the daemon described by the environment.
func NewDockerRuntime(log *logrus.Entry) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errs.WrapError(err)
	}
	return &DockerRuntime{Log: log, client: cli}, nil
}

// Mode returns "docker".
func (r *DockerRuntime) Mode() string {
	return "docker"
}

// Close closes the daemon connection.
func (r *DockerRuntime) Close() error {
	return r.client.Close()
}

// Create provisions and starts a container publishing the internal noVNC
// port on the requested external port. The effective port reservation is the
// daemon's bind: a taken port surfaces as PortInUse from ContainerStart.
func (r *DockerRuntime) Create(ctx context.Context, opts CreateOptions) (*Instance, error) {
	internal, err := nat.NewPort("tcp", strconv.Itoa(opts.InternalPort))
	if err != nil {
		return nil, errs.WrapError(err)
	}

	cfg := &container.Config{
		Image:        opts.Image,
		Cmd:          opts.Cmd,
		Env:          envSlice(opts.Env),
		Labels:       opts.Labels,
		ExposedPorts: nat.PortSet{internal: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			internal: []nat.PortBinding{{HostPort: strconv.Itoa(opts.ExternalPort)}},
		},
	}
	if opts.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(opts.Network)
	}

	created, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return nil, classifyDockerError(err)
	}

	if err := r.client.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		// the partial container stays behind for the caller's compensating
		// destroy; we only classify here
		return nil, classifyDockerError(err)
	}

	inspected, err := r.client.ContainerInspect(ctx, created.ID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "inspecting created container")
	}
	return r.toInstance(inspected), nil
}

// Destroy force-removes a container. A missing container counts as success.
func (r *DockerRuntime) Destroy(ctx context.Context, id string) error {
	err := r.client.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return errs.Wrap(errs.KindInternal, err, "removing container")
	}
	return nil
}

// Lookup resolves a full container id, name, or unique id prefix.
func (r *DockerRuntime) Lookup(ctx context.Context, idOrPrefix string) (*Instance, error) {
	inspected, err := r.client.ContainerInspect(ctx, idOrPrefix)
	if err == nil {
		return r.toInstance(inspected), nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, errs.Wrap(errs.KindInternal, err, "inspecting container")
	}

	summaries, err := r.client.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "listing containers")
	}
	matches := lo.Filter(summaries, func(c types.Container, _ int) bool {
		return strings.HasPrefix(c.ID, idOrPrefix)
	})
	switch len(matches) {
	case 0:
		return nil, errs.New(errs.KindNotFound, "no container matches %q", idOrPrefix)
	case 1:
		inspected, err := r.client.ContainerInspect(ctx, matches[0].ID)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "inspecting container")
		}
		return r.toInstance(inspected), nil
	default:
		return nil, errs.New(errs.KindAmbiguous, "%q matches %d containers", idOrPrefix, len(matches))
	}
}

// List returns every container, running or not.
func (r *DockerRuntime) List(ctx context.Context) ([]*Instance, error) {
	summaries, err := r.client.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "listing containers")
	}
	instances := make([]*Instance, 0, len(summaries))
	for _, s := range summaries {
		inspected, err := r.client.ContainerInspect(ctx, s.ID)
		if err != nil {
			continue
		}
		instances = append(instances, r.toInstance(inspected))
	}
	return instances, nil
}

// Exec runs argv without a TTY and collects its output.
func (r *DockerRuntime) Exec(ctx context.Context, id string, argv []string) (*ExecResult, error) {
	created, err := r.client.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, classifyDockerError(err)
	}

	resp, err := r.client.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "attaching exec")
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "reading exec output")
	}

	inspected, err := r.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "inspecting exec")
	}

	return &ExecResult{
		ExitCode: inspected.ExitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

// Attach spawns argv with a TTY and returns the hijacked byte stream.
func (r *DockerRuntime) Attach(ctx context.Context, id string, argv []string) (PTY, error) {
	created, err := r.client.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          argv,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, classifyDockerError(err)
	}

	resp, err := r.client.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{Tty: true})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "attaching exec")
	}
	return &hijackedPTY{resp: resp}, nil
}

// Upload extracts a tar archive into destPath.
func (r *DockerRuntime) Upload(ctx context.Context, id string, destPath string, archive io.Reader) error {
	err := r.client.CopyToContainer(ctx, id, destPath, archive, types.CopyToContainerOptions{})
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "copying archive into container")
	}
	return nil
}

func (r *DockerRuntime) toInstance(c types.ContainerJSON) *Instance {
	inst := &Instance{
		ID:     c.ID,
		Name:   strings.TrimPrefix(c.Name, "/"),
		Status: c.State.Status,
	}
	if c.Config != nil {
		inst.Image = c.Config.Image
		inst.Labels = c.Config.Labels
	}
	if c.NetworkSettings != nil {
		inst.ExternalPort = hostPortOf(c.NetworkSettings.Ports)
	}
	return inst
}

// hostPortOf picks the first host port bound to any exposed container port.
// Instances publish exactly one port, so first is the only one.
func hostPortOf(ports nat.PortMap) int {
	for _, bindings := range ports {
		for _, b := range bindings {
			if p, err := strconv.Atoi(b.HostPort); err == nil && p > 0 {
				return p
			}
		}
	}
	return 0
}

func classifyDockerError(err error) error {
	switch {
	case err == nil:
		return nil
	case looksLikePortInUse(err):
		return errs.Wrap(errs.KindPortInUse, err, "external port already bound")
	case errdefs.IsConflict(err), strings.Contains(err.Error(), "is already in use by container"):
		return errs.Wrap(errs.KindNameInUse, err, "container name already in use")
	case errdefs.IsNotFound(err):
		return errs.Wrap(errs.KindNotFound, err, "container not found")
	default:
		return errs.Wrap(errs.KindInternal, err, "docker API error")
	}
}

func envSlice(env map[string]string) []string {
	return lo.MapToSlice(env, func(k, v string) string {
		return fmt.Sprintf("%s=%s", k, v)
	})
}

type hijackedPTY struct {
	resp types.HijackedResponse
}

func (p *hijackedPTY) Read(buf []byte) (int, error) {
	return p.resp.Reader.Read(buf)
}

func (p *hijackedPTY) Write(buf []byte) (int, error) {
	return p.resp.Conn.Write(buf)
}

func (p *hijackedPTY) Close() error {
	p.resp.Close()
	return nil
}

package runtime

// CreateOptions describes an instance to provision.
type CreateOptions struct {
	Name  string
	Image string
	// Cmd overrides the image entrypoint arguments when non-empty.
	Cmd []string
	Env map[string]string
	// InternalPort is the noVNC port inside the instance; ExternalPort is
	// the cluster-wide port it is published on.
	InternalPort int
	ExternalPort int
	// Network attaches the container to a named network (docker only).
	Network string
	Labels  map[string]string
}

// Instance provides backend-agnostic information about a provisioned sandbox.
type Instance struct {
	// ID is the runtime-assigned identifier: the container id on docker,
	// the pod name on kubernetes.
	ID     string
	Name   string
	Image  string
	Status string
	// ExternalPort is the published noVNC port, 0 when none is bound.
	ExternalPort int
	Labels       map[string]string
}

// ExecResult carries the outcome of a short non-interactive command.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Combined returns stdout and stderr concatenated, which is how callers that
// only pattern-match the output consume it.
func (r *ExecResult) Combined() []byte {
	out := make([]byte, 0, len(r.Stdout)+len(r.Stderr))
	out = append(out, r.Stdout...)
	out = append(out, r.Stderr...)
	return out
}

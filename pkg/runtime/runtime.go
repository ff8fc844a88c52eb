// Package runtime abstracts the container orchestrator. Two backends
// implement it: a local Docker daemon and a Kubernetes cluster. Nothing
// outside this package branches on which backend is active.
package runtime

import (
	"context"
	"io"
)

// PTY is a bidirectional byte stream attached to an interactive process with
// TTY semantics. Close releases the underlying transport; it is safe to call
// more than once.
type PTY interface {
	io.ReadWriteCloser
}

// ContainerRuntime is the uniform capability set the rest of the system uses
// to drive either backend.
type ContainerRuntime interface {
	// Create provisions and starts an instance. The port map binds the
	// internal noVNC port to exactly one external port. Failure to bind the
	// external port surfaces as a PortInUse error, a name collision as
	// NameInUse; anything else is internal. Create never retries.
	Create(ctx context.Context, opts CreateOptions) (*Instance, error)

	// Destroy removes an instance and everything it owns. Destroying an
	// instance that no longer exists is not an error.
	Destroy(ctx context.Context, id string) error

	// Lookup resolves a full id or a unique prefix to an instance. An
	// ambiguous prefix fails with an Ambiguous error.
	Lookup(ctx context.Context, idOrPrefix string) (*Instance, error)

	// List returns all instances the runtime knows about.
	List(ctx context.Context) ([]*Instance, error)

	// Exec runs a short non-interactive command inside an instance and
	// waits for it to finish.
	Exec(ctx context.Context, id string, argv []string) (*ExecResult, error)

	// Attach spawns argv with a TTY inside an instance and returns the
	// byte stream connected to it.
	Attach(ctx context.Context, id string, argv []string) (PTY, error)

	// Upload extracts a tar archive into destPath inside an instance.
	Upload(ctx context.Context, id string, destPath string, archive io.Reader) error

	// Close releases the runtime connection.
	Close() error

	// Mode returns "docker" or "kubernetes" to indicate which backend is active.
	Mode() string
}

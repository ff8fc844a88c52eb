package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig contains the base configuration fields required for the server.
// Everything is driven by environment variables; a YAML file named by
// CONFIG_FILE may overlay the defaults before the environment is applied.
type AppConfig struct {
	Debug     bool   `yaml:"debug"`
	Version   string `yaml:"-"`
	Commit    string `yaml:"-"`
	BuildDate string `yaml:"-"`
	Name      string `yaml:"-"`

	// Addr is the listen address of the HTTP server.
	Addr string `yaml:"addr"`

	// Runtime selects the orchestrator backend: "docker" or "kubernetes".
	Runtime string `yaml:"runtime"`

	// K8sNamespace is the namespace instances are created in when the
	// kubernetes runtime is selected.
	K8sNamespace string `yaml:"k8sNamespace"`

	// FreeMaxContainers is the instance quota applied to ROLE_FREE users.
	FreeMaxContainers int `yaml:"freeMaxContainers"`

	// DockerNetwork, when non-empty, attaches new containers to this network.
	DockerNetwork string `yaml:"dockerNetwork"`

	// VNCImage is the default image for new instances.
	VNCImage string `yaml:"vncImage"`

	// ContainerEnvDefault is merged under any env the client supplies.
	ContainerEnvDefault map[string]string `yaml:"containerEnvDefault"`

	// InternalNoVNCPort is the noVNC port inside the instance.
	InternalNoVNCPort int `yaml:"internalNoVNCPort"`

	// AllowedNoVNCPorts is the ordered pool of external ports. The env value
	// accepts a comma list and "lo-hi" ranges, e.g. "31000-31100".
	AllowedNoVNCPorts []int `yaml:"allowedNoVNCPorts"`

	// Workspace is the fixed directory client file trees are materialized to.
	Workspace string `yaml:"workspace"`

	// WorkspacePurge clears the workspace before each run when true.
	WorkspacePurge bool `yaml:"workspacePurge"`

	// VenvPath is where the per-instance python scaffold lives.
	VenvPath string `yaml:"venvPath"`

	// DataAPIURL is the base URL of the external metadata service.
	DataAPIURL string `yaml:"dataApiUrl"`

	// JWTSecret is the preshared HS256 secret access tokens are signed with.
	JWTSecret string `yaml:"jwtSecret"`

	// GUIProbeAttempts and GUIProbeIntervalMS bound the graphical-mode probe
	// after a run is injected.
	GUIProbeAttempts   int `yaml:"guiProbeAttempts"`
	GUIProbeIntervalMS int `yaml:"guiProbeIntervalMs"`
}

// NewAppConfig returns the config assembled from defaults, the optional YAML
// overlay and the environment, in that order.
func NewAppConfig(name, version, commit, buildDate string) (*AppConfig, error) {
	c := &AppConfig{
		Debug:     os.Getenv("DEBUG") == "TRUE",
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Name:      name,

		Addr:              ":8000",
		Runtime:           "docker",
		K8sNamespace:      "webide-net",
		FreeMaxContainers: 3,
		VNCImage:          "jaewoo6257/vnc:1.0.0",
		ContainerEnvDefault: map[string]string{
			"VNC_PORT":     "5901",
			"NOVNC_PORT":   "6081",
			"VNC_GEOMETRY": "1024x768",
			"VNC_DEPTH":    "24",
		},
		InternalNoVNCPort:  6081,
		AllowedNoVNCPorts:  portRange(31000, 31100),
		Workspace:          "/opt/workspace",
		WorkspacePurge:     true,
		VenvPath:           "/tmp/user_venv",
		DataAPIURL:         "http://ide-boot:8080",
		GUIProbeAttempts:   5,
		GUIProbeIntervalMS: 200,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AppConfig) applyEnv() error {
	setString(&c.Addr, "ADDR")
	setString(&c.Runtime, "RUNTIME")
	setString(&c.K8sNamespace, "K8S_NAMESPACE")
	setString(&c.DockerNetwork, "DOCKER_NETWORK")
	setString(&c.VNCImage, "VNC_IMAGE")
	setString(&c.Workspace, "WORKSPACE")
	setString(&c.VenvPath, "VENV_PATH")
	setString(&c.DataAPIURL, "DATA_API_URL")
	setString(&c.JWTSecret, "JWT_SECRET")

	if err := setInt(&c.FreeMaxContainers, "FREE_MAX_CONTAINERS"); err != nil {
		return err
	}
	if err := setInt(&c.InternalNoVNCPort, "INTERNAL_NOVNC_PORT"); err != nil {
		return err
	}
	if err := setInt(&c.GUIProbeAttempts, "GUI_PROBE_ATTEMPTS"); err != nil {
		return err
	}
	if err := setInt(&c.GUIProbeIntervalMS, "GUI_PROBE_INTERVAL_MS"); err != nil {
		return err
	}

	if v := os.Getenv("WORKSPACE_PURGE"); v != "" {
		purge, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WORKSPACE_PURGE: %w", err)
		}
		c.WorkspacePurge = purge
	}

	if v := os.Getenv("ALLOWED_NOVNC_PORTS"); v != "" {
		ports, err := ParsePortList(v)
		if err != nil {
			return fmt.Errorf("ALLOWED_NOVNC_PORTS: %w", err)
		}
		c.AllowedNoVNCPorts = ports
	}

	return nil
}

// ParsePortList parses a comma-separated list of ports where each element is
// either a single port or an inclusive "lo-hi" range. Pool order is the order
// written.
func ParsePortList(s string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("bad port %q", part)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || end < start {
				return nil, fmt.Errorf("bad port range %q", part)
			}
			ports = append(ports, portRange(start, end)...)
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad port %q", part)
		}
		ports = append(ports, p)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("empty port list")
	}
	return ports, nil
}

func portRange(lo, hi int) []int {
	ports := make([]int, 0, hi-lo+1)
	for p := lo; p <= hi; p++ {
		ports = append(ports, p)
	}
	return ports
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

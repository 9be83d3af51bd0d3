package dockercli

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/banksean/quarantine/dockercli/types"
)

type SystemSvc struct{}

// System is a service interface to interact with the docker engine itself.
var System SystemSvc

// Version returns the docker client version string, or an error if the CLI
// is missing entirely.
func (s *SystemSvc) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", "version", "--format", "{{.Client.Version}}")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// Info returns engine-level details, including the default runtime and the
// set of runtimes available for container creation. It fails if the daemon
// is unreachable.
func (s *SystemSvc) Info(ctx context.Context) (*types.SystemInfo, error) {
	cmd := exec.CommandContext(ctx, "docker", "info", "--format", "{{json .}}")
	rawJSON, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	info := &types.SystemInfo{}
	if err := json.Unmarshal(rawJSON, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Package types holds the JSON structures emitted by the docker CLI's
// json-formatted output modes. Only the fields quarantine reads are declared.
package types

// ContainerSummary is one line of `docker ps --format json` output.
type ContainerSummary struct {
	ID     string `json:"ID"`
	Image  string `json:"Image"`
	Names  string `json:"Names"`
	State  string `json:"State"`
	Status string `json:"Status"`
}

// Container is one element of `docker inspect` output.
type Container struct {
	ID     string          `json:"Id"`
	Name   string          `json:"Name"`
	State  ContainerState  `json:"State"`
	Config ContainerConfig `json:"Config"`
}

type ContainerState struct {
	Status   string `json:"Status"`
	Running  bool   `json:"Running"`
	ExitCode int    `json:"ExitCode"`
	Error    string `json:"Error"`
}

type ContainerConfig struct {
	Image      string   `json:"Image"`
	WorkingDir string   `json:"WorkingDir"`
	Tty        bool     `json:"Tty"`
	Cmd        []string `json:"Cmd"`
}

// SystemInfo is the output of `docker info --format '{{json .}}'`.
type SystemInfo struct {
	ServerVersion  string                   `json:"ServerVersion"`
	DefaultRuntime string                   `json:"DefaultRuntime"`
	Runtimes       map[string]RuntimeConfig `json:"Runtimes"`
}

type RuntimeConfig struct {
	Path string `json:"path"`
}

// Package options declares the flag sets quarantine passes to the docker CLI,
// and a reflective converter from those structs to argv slices.
package options

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
)

// CreateContainer are the flags for `docker create`.
type CreateContainer struct {
	Name        string            `flag:"--name"`        // Assign a name to the container
	Interactive bool              `flag:"--interactive"` // Keep STDIN open even if not attached
	TTY         bool              `flag:"--tty"`         // Allocate a pseudo-TTY
	WorkDir     string            `flag:"--workdir"`     // Working directory inside the container
	Runtime     string            `flag:"--runtime"`     // Runtime to use for this container (e.g. runsc)
	Mount       []string          `flag:"--mount"`       // Attach a filesystem mount (format: type=bind,source=<>,target=<>[,readonly])
	Env         map[string]string `flag:"--env"`         // Set environment variables (repeated key=value)
	Label       map[string]string `flag:"--label"`       // Set metadata on the container (repeated key=value)
}

// StartContainer are the flags for `docker start`.
type StartContainer struct {
	Attach      bool `flag:"--attach"`      // Attach STDOUT/STDERR and forward signals
	Interactive bool `flag:"--interactive"` // Attach container's STDIN
}

// StopContainer are the flags for `docker stop`.
type StopContainer struct {
	Time   int    `flag:"--time"`   // Seconds to wait before killing the container
	Signal string `flag:"--signal"` // Signal to send to the container
}

// KillContainer are the flags for `docker kill`.
type KillContainer struct {
	Signal string `flag:"--signal"` // Signal to send to the container (default: SIGKILL)
}

// RemoveContainer are the flags for `docker rm`.
type RemoveContainer struct {
	Force   bool `flag:"--force"`   // Force removal of a running container
	Volumes bool `flag:"--volumes"` // Remove anonymous volumes associated with the container
}

// ListContainers are the flags for `docker ps`.
type ListContainers struct {
	All bool `flag:"--all"` // Show all containers, not just running ones
}

// PullImage are the flags for `docker pull`.
type PullImage struct {
	Quiet    bool   `flag:"--quiet"`    // Suppress verbose output
	Platform string `flag:"--platform"` // Set platform if the image is multi-platform
}

// ToArgs creates an array of strings that you can pass to exec.Command(...) as CLI args.
// Zero-valued fields are omitted. Slices and maps render as repeated flags, which is
// the docker CLI convention for multi-valued options.
func ToArgs(s any) []string {
	var ret []string
	st := reflect.TypeOf(s)
	sv := reflect.ValueOf(s)
	for i := range st.NumField() {
		field := st.Field(i)
		flagName, ok := field.Tag.Lookup("flag")
		if !ok {
			continue
		}
		fv := sv.Field(i)
		if fv.IsZero() {
			continue
		}
		switch field.Type.Kind() {
		case reflect.Bool:
			ret = append(ret, flagName)
		case reflect.Slice:
			for _, v := range fv.Interface().([]string) {
				ret = append(ret, flagName, v)
			}
		case reflect.Map:
			m := fv.Interface().(map[string]string)
			for _, k := range slices.Sorted(maps.Keys(m)) {
				ret = append(ret, flagName, fmt.Sprintf("%s=%s", k, m[k]))
			}
		default:
			ret = append(ret, flagName, fmt.Sprintf("%v", fv.Interface()))
		}
	}
	return ret
}

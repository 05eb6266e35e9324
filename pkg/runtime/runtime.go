package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
)

// EntryEnvVar carries the versioned entry document into decider containers
const EntryEnvVar = "BRAINBOX_ENTRY"

// DefaultStopTimeout is the grace period between SIGTERM and SIGKILL
const DefaultStopTimeout = 10 * time.Second

// ErrBuildUnsupported is returned by runtimes that can only pull images
var ErrBuildUnsupported = errors.New("runtime cannot build images")

// Runtime is the container engine a decider controller drives
type Runtime interface {
	// EnsureImage makes image available locally, building it from build when given
	EnsureImage(ctx context.Context, image string, build *types.BuildSpec) error

	// StartContainer starts a long-lived container named name and returns its handle
	StartContainer(ctx context.Context, name string, rc types.RunConfiguration) (types.Handle, error)

	// StopContainer stops a container, killing it after timeout
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error

	// RemoveContainer deletes a stopped or running container
	RemoveContainer(ctx context.Context, containerID string) error

	// IsRunning reports whether the container process is alive
	IsRunning(ctx context.Context, containerID string) bool

	// RunOnce runs a container to completion with stdin attached and returns its stdout
	RunOnce(ctx context.Context, name string, rc types.RunConfiguration, stdin []byte) ([]byte, error)

	// Close releases the engine connection
	Close() error
}

// Environment renders the container environment of rc as sorted KEY=VALUE
// pairs, with the entry document appended last.
func Environment(rc types.RunConfiguration) ([]string, error) {
	keys := make([]string, 0, len(rc.Env))
	for k := range rc.Env {
		if k == EntryEnvVar {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		env = append(env, k+"="+rc.Env[k])
	}

	entry := rc.Entry
	if entry.Version == 0 {
		entry.Version = types.EntryVersion
	}
	doc, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry document: %w", err)
	}
	return append(env, EntryEnvVar+"="+string(doc)), nil
}

// PortPairs returns the published ports of rc ordered by host port
func PortPairs(rc types.RunConfiguration) [][2]int {
	hosts := make([]int, 0, len(rc.PublishPorts))
	for h := range rc.PublishPorts {
		hosts = append(hosts, h)
	}
	sort.Ints(hosts)

	pairs := make([][2]int, len(hosts))
	for i, h := range hosts {
		pairs[i] = [2]int{h, rc.PublishPorts[h]}
	}
	return pairs
}

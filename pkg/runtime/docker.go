package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/brainbox/pkg/executor"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/rs/zerolog"
)

// DockerRuntime drives the docker CLI through an executor, so the daemon may
// live on another machine (DOCKER_HOST).
type DockerRuntime struct {
	exec executor.Executor

	// Binary is the docker CLI to invoke (default: docker)
	Binary string

	// Host is the address published ports are reachable on (default: 127.0.0.1)
	Host string

	logger zerolog.Logger
}

// NewDockerRuntime creates a docker runtime on top of exec
func NewDockerRuntime(exec executor.Executor) *DockerRuntime {
	return &DockerRuntime{
		exec:   exec,
		Binary: "docker",
		Host:   "127.0.0.1",
		logger: log.WithComponent("docker"),
	}
}

// WithHost sets the address published ports are reachable on
func (r *DockerRuntime) WithHost(host string) *DockerRuntime {
	if host != "" {
		r.Host = host
	}
	return r
}

func (r *DockerRuntime) run(ctx context.Context, stdin []byte, args ...string) (*executor.Result, error) {
	cmd := executor.Command{Args: append([]string{r.Binary}, args...), Stdin: stdin}
	r.logger.Debug().Str("command", cmd.String()).Msg("docker")
	return r.exec.Execute(ctx, cmd)
}

// EnsureImage builds the image when a build context is given, otherwise
// verifies it locally and pulls it if missing.
func (r *DockerRuntime) EnsureImage(ctx context.Context, image string, build *types.BuildSpec) error {
	if build != nil && build.Context != "" {
		args := []string{"build", "-t", image}
		if build.Dockerfile != "" {
			args = append(args, "-f", build.Dockerfile)
		}
		keys := make([]string, 0, len(build.Args))
		for k := range build.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, "--build-arg", k+"="+build.Args[k])
		}
		args = append(args, build.Context)

		if _, err := r.run(ctx, nil, args...); err != nil {
			return fmt.Errorf("failed to build image %s: %w", image, err)
		}
		return nil
	}

	if _, err := r.run(ctx, nil, "image", "inspect", image); err == nil {
		return nil
	}
	if _, err := r.run(ctx, nil, "pull", image); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	return nil
}

// StartContainer runs a detached container with the configured ports and environment
func (r *DockerRuntime) StartContainer(ctx context.Context, name string, rc types.RunConfiguration) (types.Handle, error) {
	env, err := Environment(rc)
	if err != nil {
		return types.Handle{}, err
	}

	args := []string{"run", "-d", "--name", name}
	pairs := PortPairs(rc)
	for _, p := range pairs {
		args = append(args, "-p", fmt.Sprintf("%d:%d", p[0], p[1]))
	}
	for _, e := range env {
		args = append(args, "-e", e)
	}
	args = append(args, rc.Image)
	args = append(args, rc.Command...)

	res, err := r.run(ctx, nil, args...)
	if err != nil {
		return types.Handle{}, fmt.Errorf("failed to run container %s: %w", name, err)
	}

	handle := types.Handle{ContainerID: strings.TrimSpace(string(res.Stdout))}
	if handle.ContainerID == "" {
		handle.ContainerID = name
	}
	if len(pairs) > 0 {
		handle.Address = net.JoinHostPort(r.Host, strconv.Itoa(pairs[0][0]))
	}
	return handle, nil
}

// StopContainer stops a container; a container that no longer exists is not an error
func (r *DockerRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	secs := int(timeout / time.Second)
	if secs < 0 {
		secs = 0
	}
	_, err := r.run(ctx, nil, "stop", "-t", strconv.Itoa(secs), containerID)
	if err != nil && !isNoSuchContainer(err) {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	return nil
}

// RemoveContainer force-removes a container
func (r *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	_, err := r.run(ctx, nil, "rm", "-f", containerID)
	if err != nil && !isNoSuchContainer(err) {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}

// IsRunning inspects the container state
func (r *DockerRuntime) IsRunning(ctx context.Context, containerID string) bool {
	res, err := r.run(ctx, nil, "inspect", "-f", "{{.State.Running}}", containerID)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(res.Stdout)) == "true"
}

// RunOnce runs a container with stdin attached, removes it on exit, and returns stdout
func (r *DockerRuntime) RunOnce(ctx context.Context, name string, rc types.RunConfiguration, stdin []byte) ([]byte, error) {
	env, err := Environment(rc)
	if err != nil {
		return nil, err
	}

	args := []string{"run", "--rm", "-i", "--name", name}
	for _, e := range env {
		args = append(args, "-e", e)
	}
	args = append(args, rc.Image)
	args = append(args, rc.Command...)

	res, err := r.run(ctx, stdin, args...)
	if err != nil {
		return nil, fmt.Errorf("one-shot container %s: %w", name, err)
	}
	return res.Stdout, nil
}

// Close is a no-op; the CLI holds no connection
func (r *DockerRuntime) Close() error {
	return nil
}

func isNoSuchContainer(err error) bool {
	var cmdErr *executor.CommandError
	if errors.As(err, &cmdErr) {
		return strings.Contains(cmdErr.Stderr, "No such container")
	}
	return false
}

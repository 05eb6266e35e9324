package runtime

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace for BrainBox
	DefaultNamespace = "brainbox"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime implements Runtime using containerd. Containers share the
// host network namespace, so a decider listens directly on its container port.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger
}

// NewContainerdRuntime creates a new containerd runtime client
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
		logger:    log.WithComponent("containerd"),
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureImage pulls image unless it is already present. containerd has no
// builder, so a build context is rejected.
func (r *ContainerdRuntime) EnsureImage(ctx context.Context, image string, build *types.BuildSpec) error {
	if build != nil && build.Context != "" {
		return fmt.Errorf("image %s: %w", image, ErrBuildUnsupported)
	}
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	if _, err := r.client.GetImage(ctx, image); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to get image %s: %w", image, err)
	}

	if _, err := r.client.Pull(ctx, image, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	return nil
}

func (r *ContainerdRuntime) newContainer(ctx context.Context, name string, rc types.RunConfiguration) (containerd.Container, error) {
	image, err := r.client.GetImage(ctx, rc.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to get image %s: %w", rc.Image, err)
	}

	env, err := Environment(rc)
	if err != nil {
		return nil, err
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostHostsFile,
		oci.WithHostResolvconf,
	}
	if len(rc.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(rc.Command...))
	}

	container, err := r.client.NewContainer(
		ctx,
		name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	return container, nil
}

// StartContainer creates a container and starts its task. The handle address
// points at the first container port on the loopback interface.
func (r *ContainerdRuntime) StartContainer(ctx context.Context, name string, rc types.RunConfiguration) (types.Handle, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.newContainer(ctx, name, rc)
	if err != nil {
		return types.Handle{}, err
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return types.Handle{}, fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return types.Handle{}, fmt.Errorf("failed to start task: %w", err)
	}

	handle := types.Handle{ContainerID: container.ID()}
	if pairs := PortPairs(rc); len(pairs) > 0 {
		handle.Address = net.JoinHostPort("127.0.0.1", strconv.Itoa(pairs[0][1]))
	}
	return handle, nil
}

// StopContainer stops a running container
func (r *ContainerdRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// Task might not exist (container not running)
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Wait must be registered before the signal so the exit is not missed
	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		// Timeout - force kill (SIGKILL)
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
		<-statusC
	}

	if _, err := task.Delete(ctx); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// RemoveContainer removes a container and its snapshot
func (r *ContainerdRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		// Container might not exist
		return nil
	}

	if err := r.StopContainer(ctx, containerID, DefaultStopTimeout); err != nil {
		r.logger.Warn().Err(err).Str("container_id", containerID).Msg("Failed to stop container before delete")
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// IsRunning checks if a container task is currently running
func (r *ContainerdRuntime) IsRunning(ctx context.Context, containerID string) bool {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return false
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return false
	}
	status, err := task.Status(ctx)
	if err != nil {
		return false
	}
	return status.Status == containerd.Running || status.Status == containerd.Paused
}

// RunOnce runs a container to completion with stdin attached, then deletes it
func (r *ContainerdRuntime) RunOnce(ctx context.Context, name string, rc types.RunConfiguration, stdin []byte) ([]byte, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.newContainer(ctx, name, rc)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Cleanup must survive a cancelled caller context
		cleanupCtx := namespaces.WithNamespace(context.Background(), r.namespace)
		if err := container.Delete(cleanupCtx, containerd.WithSnapshotCleanup); err != nil {
			r.logger.Warn().Err(err).Str("container_id", name).Msg("Failed to delete one-shot container")
		}
	}()

	var stdout, stderr bytes.Buffer
	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(bytes.NewReader(stdin), &stdout, &stderr)))
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	defer func() {
		cleanupCtx := namespaces.WithNamespace(context.Background(), r.namespace)
		_, _ = task.Delete(cleanupCtx, containerd.WithProcessKill)
	}()

	statusC, err := task.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start task: %w", err)
	}

	select {
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return nil, fmt.Errorf("one-shot container %s: %w", name, err)
		}
		// Let the IO copiers drain before reading the buffers
		task.IO().Wait()
		if code != 0 {
			return nil, fmt.Errorf("one-shot container %s: exit status %d: %s", name, code, bytes.TrimSpace(stderr.Bytes()))
		}
		return stdout.Bytes(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("one-shot container %s: %w", name, ctx.Err())
	}
}

/*
Package runtime provides the container engines BrainBox runs deciders on.

A Runtime knows how to make a decider image available, start a long-lived
container for a web-service decider, run a one-shot container for an
on-demand decider, and stop or remove containers again. Controllers own
instances; the runtime only moves containers.

# Engines

	┌──────────────────── RUNTIMES ─────────────────────┐
	│                                                    │
	│  DockerRuntime                                     │
	│    docker build | pull | run | stop | rm | inspect │
	│    driven through an executor.Executor, so the     │
	│    daemon may be remote (DOCKER_HOST=ssh://...)    │
	│                                                    │
	│  ContainerdRuntime                                 │
	│    containerd client, namespace "brainbox"         │
	│    host network namespace, pull only (no build)    │
	│    stop: SIGTERM, then SIGKILL after the timeout   │
	└────────────────────────────────────────────────────┘

# Entry Document

Decider images carry a fixed entry command. Everything that command needs
to know about the instance it serves arrives as a versioned JSON document in
the BRAINBOX_ENTRY environment variable:

	BRAINBOX_ENTRY={"version":1,"decider":"whisper","parameter":"en","port":20100}

Environment renders the variables of a RunConfiguration in sorted order with
the entry document last, so command lines are reproducible.

# Usage

	exec := executor.NewLocalExecutor("DOCKER_HOST=ssh://gpu-box")
	rt := runtime.NewDockerRuntime(exec)

	if err := rt.EnsureImage(ctx, "brainbox/whisper:latest", nil); err != nil {
		return err
	}
	handle, err := rt.StartContainer(ctx, "brainbox-whisper-en", rc)
	if err != nil {
		return err
	}
	defer rt.StopContainer(ctx, handle.ContainerID, runtime.DefaultStopTimeout)

# See Also

  - pkg/controller for the instance lifecycle built on top of a Runtime
  - pkg/executor for command execution
*/
package runtime

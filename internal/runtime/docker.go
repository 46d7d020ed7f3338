package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

var _ Runtime = (*DockerRuntime)(nil)

const stopTimeoutSeconds = 10

// DockerRuntime drives named containers through the docker daemon.
// Containers are addressed by compose service/container name, not ID.
type DockerRuntime struct {
	client *client.Client
	logger *slog.Logger
}

func NewDockerRuntime(client *client.Client, logger *slog.Logger) *DockerRuntime {
	return &DockerRuntime{
		client: client,
		logger: logger.With("component", "docker-runtime"),
	}
}

func (d *DockerRuntime) Start(ctx context.Context, names []string, sink LineSink) error {
	for _, name := range names {
		emit(sink, "Starting container "+name)

		if err := d.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
			d.logger.Error("Failed to start container", "name", name, "error", err)
			return fmt.Errorf("%w: %s: %v", ErrContainerStartFailed, name, err)
		}

		inspect, err := d.client.ContainerInspect(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrContainerStartFailed, name, err)
		}
		if inspect.State == nil || !inspect.State.Running {
			return fmt.Errorf("%w: %s exited immediately", ErrContainerStartFailed, name)
		}

		d.logger.Info("Container started", "name", name, "id", inspect.ID)
		emit(sink, "Container "+name+" is running")
	}
	return nil
}

func (d *DockerRuntime) Stop(ctx context.Context, names []string, sink LineSink) error {
	timeout := stopTimeoutSeconds
	for _, name := range names {
		emit(sink, "Stopping container "+name)

		err := d.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
		if errdefs.IsNotFound(err) {
			// 容器不存在视为已停止
			d.logger.Warn("Container not found on stop", "name", name)
			emit(sink, "Container "+name+" already stopped")
			continue
		}
		if err != nil {
			d.logger.Error("Failed to stop container", "name", name, "error", err)
			return fmt.Errorf("%w: %s: %v", ErrContainerStopFailed, name, err)
		}

		d.logger.Info("Container stopped", "name", name)
		emit(sink, "Container "+name+" stopped")
	}
	return nil
}

func (d *DockerRuntime) Remove(ctx context.Context, names []string) error {
	for _, name := range names {
		err := d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
		if errdefs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrContainerRemoveFailed, name, err)
		}
		d.logger.Info("Container removed", "name", name)
	}
	return nil
}

func (d *DockerRuntime) QueryState(ctx context.Context, names []string) (map[string]State, error) {
	states := make(map[string]State, len(names))
	for _, name := range names {
		inspect, err := d.client.ContainerInspect(ctx, name)
		if errdefs.IsNotFound(err) {
			states[name] = StateAbsent
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", name, err)
		}
		if inspect.State != nil && inspect.State.Running {
			states[name] = StateRunning
		} else {
			states[name] = StateExited
		}
	}
	return states, nil
}

func emit(sink LineSink, line string) {
	if sink != nil {
		sink(line)
	}
}

// Package client wraps the external collaborators the controller consumes:
// the container runtime and the network fetch of source images.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"go.uber.org/zap"
)

// ErrContainerNotFound indicates the runtime knows no container by the given
// reference or name.
var ErrContainerNotFound = errors.New("container not found")

// BindMount is one bind mount of an inspected container.
type BindMount struct {
	Source      string
	Destination string
}

// ContainerState is the slice of runtime state the controller consumes.
type ContainerState struct {
	Ref            string
	Name           string
	Running        bool
	HasHealthcheck bool
	Healthy        bool
	Mounts         []BindMount
}

// Event is one reduced lifecycle event from the runtime stream.
type Event struct {
	Action       string
	ContainerRef string
	Name         string
}

// Runtime is the container runtime surface the controller depends on.
// DockerRuntime implements it against the Docker Engine API.
type Runtime interface {
	Inspect(ctx context.Context, ref string) (*ContainerState, error)
	FindByName(ctx context.Context, name string) (*ContainerState, error)
	Events(ctx context.Context) (<-chan Event, <-chan error)
	Stop(ctx context.Context, ref string) error
	Start(ctx context.Context, ref string) error
	Restart(ctx context.Context, ref string) error
	CopyTo(ctx context.Context, ref, dstDir string, archive io.Reader) error
	WaitHealthy(ctx context.Context, ref string) error
	Ping(ctx context.Context) error
	Close() error
}

// RuntimeOptions hold the timeouts applied to runtime calls.
type RuntimeOptions struct {
	CallTimeout        time.Duration
	StopTimeout        time.Duration
	HealthWaitTimeout  time.Duration
	HealthPollInterval time.Duration
}

// DockerRuntime implements Runtime against a Docker engine, resolved from the
// environment (DOCKER_HOST etc.) with API version negotiation.
type DockerRuntime struct {
	cli    *dockerclient.Client
	opts   RuntimeOptions
	logger *zap.Logger
}

// NewDockerRuntime connects to the engine the environment points at.
func NewDockerRuntime(opts RuntimeOptions, logger *zap.Logger) (*DockerRuntime, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime client: %w", err)
	}
	return &DockerRuntime{cli: cli, opts: opts, logger: logger}, nil
}

// Inspect returns the container's current state and bind mounts.
func (r *DockerRuntime) Inspect(ctx context.Context, ref string) (*ContainerState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	info, err := r.cli.ContainerInspect(ctx, ref)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, ref)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", ref, err)
	}
	return stateFromInspect(info), nil
}

func stateFromInspect(info types.ContainerJSON) *ContainerState {
	st := &ContainerState{
		Ref:  info.ID,
		Name: strings.TrimPrefix(info.Name, "/"),
	}
	if info.State != nil {
		st.Running = info.State.Running
		if info.State.Health != nil && info.State.Health.Status != "none" {
			st.HasHealthcheck = true
			st.Healthy = info.State.Health.Status == "healthy"
		}
	}
	for _, m := range info.Mounts {
		if m.Type == mount.TypeBind {
			st.Mounts = append(st.Mounts, BindMount{Source: m.Source, Destination: m.Destination})
		}
	}
	return st
}

// FindByName resolves a container by its exact name, running or not.
func (r *DockerRuntime) FindByName(ctx context.Context, name string) (*ContainerState, error) {
	listCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	containers, err := r.cli.ContainerList(listCtx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	for _, c := range containers {
		for _, n := range c.Names {
			if n == "/"+name {
				return r.Inspect(ctx, c.ID)
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
}

// Events subscribes to container lifecycle events. The returned channels stay
// open until the stream breaks or ctx is cancelled; on stream failure one
// error is delivered and both channels go quiet, at which point the caller
// resubscribes.
func (r *DockerRuntime) Events(ctx context.Context) (<-chan Event, <-chan error) {
	msgCh, errCh := r.cli.Events(ctx, events.ListOptions{
		Filters: filters.NewArgs(filters.Arg("type", "container")),
	})

	out := make(chan Event)
	errOut := make(chan error, 1)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-msgCh:
				ev := Event{
					Action:       string(msg.Action),
					ContainerRef: msg.Actor.ID,
					Name:         msg.Actor.Attributes["name"],
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case err := <-errCh:
				if err != nil && !errors.Is(err, context.Canceled) {
					errOut <- err
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errOut
}

// Stop stops the container, giving it the configured grace period.
func (r *DockerRuntime) Stop(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.StopTimeout+r.opts.CallTimeout)
	defer cancel()

	seconds := int(r.opts.StopTimeout.Seconds())
	if err := r.cli.ContainerStop(ctx, ref, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", ref, err)
	}
	return nil
}

// Start starts the container.
func (r *DockerRuntime) Start(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	if err := r.cli.ContainerStart(ctx, ref, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", ref, err)
	}
	return nil
}

// Restart restarts the container with the configured stop grace period.
func (r *DockerRuntime) Restart(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.StopTimeout+r.opts.CallTimeout)
	defer cancel()

	seconds := int(r.opts.StopTimeout.Seconds())
	if err := r.cli.ContainerRestart(ctx, ref, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("failed to restart container %s: %w", ref, err)
	}
	return nil
}

// CopyTo extracts a tar archive into dstDir inside the container. The
// directory must already exist in the container.
func (r *DockerRuntime) CopyTo(ctx context.Context, ref, dstDir string, archive io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	if err := r.cli.CopyToContainer(ctx, ref, dstDir, archive, types.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy into container %s at %s: %w", ref, dstDir, err)
	}
	return nil
}

// WaitHealthy polls until the container is running and, when it defines a
// healthcheck, reports healthy. Containers without a healthcheck count as
// healthy once running.
func (r *DockerRuntime) WaitHealthy(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.HealthWaitTimeout)
	defer cancel()

	ticker := time.NewTicker(r.opts.HealthPollInterval)
	defer ticker.Stop()

	for {
		st, err := r.Inspect(ctx, ref)
		if err != nil {
			if errors.Is(err, ErrContainerNotFound) {
				return err
			}
			r.logger.Debug("health poll failed", zap.String("container", ref), zap.Error(err))
		} else if st.Running && (!st.HasHealthcheck || st.Healthy) {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("container %s did not become healthy within %s: %w",
				ref, r.opts.HealthWaitTimeout, ctx.Err())
		}
	}
}

// Ping verifies the runtime endpoint is reachable.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("runtime unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying HTTP client.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package docker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// Container is a running container as the fleet sees it.
type Container struct {
	ID          string
	Image       string
	Command     []string
	Labels      map[string]string
	MemoryLimit int64
}

// ContainerSpec describes a container to start.
type ContainerSpec struct {
	Image       string
	Command     []string
	Env         []string
	Labels      map[string]string
	MemoryLimit int64
	Network     string
}

// Engine is the subset of a Docker engine the fleet drives. Connect
// returns the implementation backed by the Docker API.
type Engine interface {
	// MemoryTotal is the engine host's physical memory in bytes.
	MemoryTotal(ctx context.Context) (int64, error)
	// ListContainers returns running containers carrying label
	// key=value.
	ListContainers(ctx context.Context, key, value string) ([]Container, error)
	RunContainer(ctx context.Context, spec ContainerSpec) (string, error)
	// RemoveContainer force-removes a container. Removing one that no
	// longer exists is not an error.
	RemoveContainer(ctx context.Context, id string) error
	// ImageID resolves an image reference to its ID.
	ImageID(ctx context.Context, ref string) (id string, found bool, err error)
	SaveImage(ctx context.Context, ref string) (io.ReadCloser, error)
	LoadImage(ctx context.Context, archive io.Reader) error
	Close() error
}

type apiEngine struct {
	cli *client.Client
}

// Connect returns an Engine for the Docker API at endpoint, for
// example unix:///var/run/docker.sock or tcp://10.0.0.5:2375. An empty
// endpoint uses DOCKER_HOST and the other standard variables.
func Connect(endpoint string) (Engine, error) {
	options := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if endpoint != "" {
		options = append(options, client.WithHost(endpoint))
	}
	cli, err := client.NewClientWithOpts(options...)
	if err != nil {
		return nil, fmt.Errorf("connecting to docker at %q: %w", endpoint, err)
	}
	return &apiEngine{cli: cli}, nil
}

func (e *apiEngine) MemoryTotal(ctx context.Context) (int64, error) {
	info, err := e.cli.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.MemTotal, nil
}

func (e *apiEngine) ListContainers(ctx context.Context, key, value string) ([]Container, error) {
	listed, err := e.cli.ContainerList(ctx, types.ContainerListOptions{
		Filters: filters.NewArgs(filters.Arg("label", key+"="+value)),
	})
	if err != nil {
		return nil, err
	}
	containers := make([]Container, 0, len(listed))
	for _, summary := range listed {
		// The list endpoint flattens the command into one string and
		// omits resource limits.
		inspect, err := e.cli.ContainerInspect(ctx, summary.ID)
		if client.IsErrNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found := Container{ID: summary.ID, Image: summary.Image, Labels: summary.Labels}
		if inspect.Config != nil {
			found.Command = inspect.Config.Cmd
		}
		if inspect.ContainerJSONBase != nil && inspect.HostConfig != nil {
			found.MemoryLimit = inspect.HostConfig.Memory
		}
		containers = append(containers, found)
	}
	return containers, nil
}

func (e *apiEngine) RunContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	created, err := e.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  spec.Image,
			Cmd:    spec.Command,
			Env:    spec.Env,
			Labels: spec.Labels,
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(spec.Network),
			Resources:   container.Resources{Memory: spec.MemoryLimit},
		},
		nil, nil, "")
	if err != nil {
		return "", err
	}
	start := func(ctx context.Context, id string) error {
		return e.cli.ContainerStart(ctx, id, types.ContainerStartOptions{})
	}
	if err := startOrRemove(ctx, created.ID, start, e.RemoveContainer); err != nil {
		return "", err
	}
	return created.ID, nil
}

// startOrRemove starts a created container and removes it again if the
// start fails. A failed removal is reported alongside the start error,
// since the container is then left behind on the host.
func startOrRemove(ctx context.Context, id string, start, remove func(context.Context, string) error) error {
	err := start(ctx, id)
	if err == nil {
		return nil
	}
	if removeErr := remove(context.WithoutCancel(ctx), id); removeErr != nil {
		return errors.Join(err, fmt.Errorf("removing unstarted container %s: %w", id, removeErr))
	}
	return err
}

func (e *apiEngine) RemoveContainer(ctx context.Context, id string) error {
	err := e.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
	if client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (e *apiEngine) ImageID(ctx context.Context, ref string) (string, bool, error) {
	inspect, _, err := e.cli.ImageInspectWithRaw(ctx, ref)
	if client.IsErrNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return inspect.ID, true, nil
}

func (e *apiEngine) SaveImage(ctx context.Context, ref string) (io.ReadCloser, error) {
	return e.cli.ImageSave(ctx, []string{ref})
}

func (e *apiEngine) LoadImage(ctx context.Context, archive io.Reader) error {
	response, err := e.cli.ImageLoad(ctx, archive, true)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	_, err = io.Copy(io.Discard, response.Body)
	return err
}

func (e *apiEngine) Close() error { return e.cli.Close() }

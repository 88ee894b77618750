// Package docker runs statements with psql inside a running Postgres container.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/picklr-io/strata/internal/adapter"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
)

// Name is the adapter name used in target configuration.
const Name = "docker"

type execAPI interface {
	ContainerExecCreate(ctx context.Context, container string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	Close() error
}

// Adapter executes statements through docker exec.
//
// Target options: container (required), user (default "postgres"), psql
// (default "psql"). The target database is passed to psql -d.
type Adapter struct {
	client    execAPI
	container string
	user      string
	psql      string
	database  string
}

// Factory connects to the Docker daemon from the environment.
func Factory(target *ir.Target) (adapter.Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	a, err := newAdapter(cli, target)
	if err != nil {
		cli.Close()
		return nil, err
	}
	return a, nil
}

func newAdapter(cli execAPI, target *ir.Target) (*Adapter, error) {
	name := target.Options["container"]
	if name == "" {
		return nil, fmt.Errorf("docker adapter requires the 'container' option")
	}
	a := &Adapter{
		client:    cli,
		container: name,
		user:      target.Options["user"],
		psql:      target.Options["psql"],
		database:  target.Database,
	}
	if a.user == "" {
		a.user = "postgres"
	}
	if a.psql == "" {
		a.psql = "psql"
	}
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Execute(ctx context.Context, req *adapter.Request) (*adapter.Response, error) {
	stmt := adapter.Materialize(req)
	if stmt == "" {
		return &adapter.Response{Message: "SKIP ephemeral"}, nil
	}

	if req.Relation.Schema != "" && req.Resource.Kind != ir.KindTest {
		stmt = fmt.Sprintf("create schema if not exists %q;\n%s", req.Relation.Schema, stmt)
	}

	stdout, stderr, code, err := a.exec(ctx, a.psqlCommand(stmt, req.Resource.Kind == ir.KindTest))
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("psql exited with code %d: %s", code, strings.TrimSpace(stderr))
	}

	if req.Resource.Kind == ir.KindTest {
		failures, err := strconv.ParseInt(strings.TrimSpace(stdout), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected test output %q: %w", stdout, err)
		}
		if failures > 0 {
			return nil, fmt.Errorf("test failed: %d failing rows", failures)
		}
		return &adapter.Response{Message: "PASS", Rows: 0}, nil
	}

	return &adapter.Response{Message: lastLine(stdout)}, nil
}

func (a *Adapter) psqlCommand(stmt string, tuplesOnly bool) []string {
	cmd := []string{a.psql, "-v", "ON_ERROR_STOP=1", "-U", a.user}
	if a.database != "" {
		cmd = append(cmd, "-d", a.database)
	}
	if tuplesOnly {
		cmd = append(cmd, "-t", "-A")
	}
	return append(cmd, "-c", stmt)
}

func (a *Adapter) exec(ctx context.Context, cmd []string) (string, string, int, error) {
	created, err := a.client.ContainerExecCreate(ctx, a.container, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create exec in %s: %w", a.container, err)
	}

	attach, err := a.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to attach to exec %s: %w", created.ID, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return "", "", 0, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := a.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to inspect exec %s: %w", created.ID, err)
	}
	logging.FromContext(ctx).Debug("docker exec finished", "container", a.container, "exit_code", inspect.ExitCode)
	return stdout.String(), stderr.String(), inspect.ExitCode, nil
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

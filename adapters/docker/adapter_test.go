package docker

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/picklr-io/strata/internal/adapter"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	stdout   string
	stderr   string
	exitCode int
	cmds     [][]string
	closed   bool
}

func (f *fakeExec) ContainerExecCreate(ctx context.Context, name string, options container.ExecOptions) (types.IDResponse, error) {
	f.cmds = append(f.cmds, options.Cmd)
	return types.IDResponse{ID: "exec-1"}, nil
}

func (f *fakeExec) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	conn, peer := net.Pipe()
	peer.Close()
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeExec) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return container.ExecInspect{ExecID: execID, ExitCode: f.exitCode}, nil
}

func (f *fakeExec) Close() error {
	f.closed = true
	return nil
}

var target = &ir.Target{Name: "dev", Adapter: Name, Database: "dbt", Schema: "dev",
	Options: map[string]string{"container": "pg"}}

func req(kind ir.Kind) *adapter.Request {
	return &adapter.Request{
		Target:    target,
		Resource:  &ir.Resource{UniqueID: "model.test.a", Kind: kind, Name: "a"},
		Statement: "select 1",
		Relation:  ir.Relation{Database: "dbt", Schema: "dev", Identifier: "a"},
	}
}

func TestNewAdapter_RequiresContainer(t *testing.T) {
	_, err := newAdapter(&fakeExec{}, &ir.Target{Name: "dev"})
	assert.ErrorContains(t, err, "container")
}

func TestExecute_Model(t *testing.T) {
	fake := &fakeExec{stdout: "CREATE SCHEMA\nCREATE VIEW\n"}
	a, err := newAdapter(fake, target)
	require.NoError(t, err)

	resp, err := a.Execute(context.Background(), req(ir.KindModel))
	require.NoError(t, err)
	assert.Equal(t, "CREATE VIEW", resp.Message)

	require.Len(t, fake.cmds, 1)
	cmd := fake.cmds[0]
	assert.Equal(t, []string{"psql", "-v", "ON_ERROR_STOP=1", "-U", "postgres", "-d", "dbt", "-c"}, cmd[:len(cmd)-1])
	assert.Contains(t, cmd[len(cmd)-1], `create schema if not exists "dev"`)
	assert.Contains(t, cmd[len(cmd)-1], `create or replace view "dbt"."dev"."a"`)
}

func TestExecute_PsqlError(t *testing.T) {
	fake := &fakeExec{stderr: "ERROR:  relation \"x\" does not exist\n", exitCode: 1}
	a, err := newAdapter(fake, target)
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), req(ir.KindModel))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
	assert.Contains(t, err.Error(), "does not exist")
}

func TestExecute_Test(t *testing.T) {
	fake := &fakeExec{stdout: "0\n"}
	a, err := newAdapter(fake, target)
	require.NoError(t, err)

	resp, err := a.Execute(context.Background(), req(ir.KindTest))
	require.NoError(t, err)
	assert.Equal(t, "PASS", resp.Message)
	assert.Contains(t, fake.cmds[0], "-t")

	fake.stdout = "3\n"
	_, err = a.Execute(context.Background(), req(ir.KindTest))
	assert.ErrorContains(t, err, "3 failing rows")
}

func TestClose(t *testing.T) {
	fake := &fakeExec{}
	a, err := newAdapter(fake, target)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.True(t, fake.closed)
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectYAML = `
name: shop
default_target: dev
targets:
  - name: dev
    adapter: "null"
    database: wh
    schema: dev
  - name: prod
    adapter: "null"
    database: wh
    schema: prod
sources:
  - name: orders
    schema: raw
    identifier: orders
models:
  - name: stg_orders
    sql: select * from {{ source "orders" }}
  - name: order_totals
    sql: select sum(amount) from {{ ref "stg_orders" }}
    tags: [finance]
`

// resetFlags restores every flag to its default so commands can run repeatedly.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	// cobra only hands the parent context to a subcommand whose context is
	// still nil, so clear whatever a previous Execute left behind.
	cmd.SetContext(nil) //nolint:staticcheck
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	properties = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeProject(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strata.yml"), []byte(content), 0644))
	return dir
}

func TestColorize(t *testing.T) {
	noColor = false
	assert.Equal(t, "\033[31m", colorize("\033[31m"))

	noColor = true
	assert.Equal(t, "", colorize("\033[31m"))

	noColor = false
}

func TestLs(t *testing.T) {
	dir := writeProject(t, projectYAML)

	out, err := execute(t, "--project-dir", dir, "ls", "-s", "stg_orders+")
	require.NoError(t, err)
	assert.Equal(t, "model.shop.order_totals\nmodel.shop.stg_orders\n", out)

	out, err = execute(t, "--project-dir", dir, "ls", "--resource-type", "source", "-o", "json")
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal([]byte(out), &ids))
	assert.Equal(t, []string{"source.shop.orders"}, ids)
}

func TestLs_StateWithoutSnapshot(t *testing.T) {
	dir := writeProject(t, projectYAML)
	_, err := execute(t, "--project-dir", dir, "ls", "-s", "state:modified")
	assert.ErrorContains(t, err, "selection input missing")
}

func TestRunThenDeferredRun(t *testing.T) {
	dir := writeProject(t, projectYAML)
	prodState := filepath.Join(dir, ".strata", "prod")

	out, err := execute(t, "--project-dir", dir, "--no-color", "run", "--target", "prod")
	require.NoError(t, err)
	assert.Contains(t, out, "2 succeeded, 0 failed, 0 skipped")
	assert.FileExists(t, filepath.Join(prodState, "manifest.json"))

	changed := strings.Replace(projectYAML, "select sum(amount)", "select sum(amount) as total", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strata.yml"), []byte(changed), 0644))

	out, err = execute(t, "--project-dir", dir, "ls", "-s", "state:modified", "--state", prodState)
	require.NoError(t, err)
	assert.Equal(t, "model.shop.order_totals\n", out)

	out, err = execute(t, "--project-dir", dir, "--no-color", "compile", "-s", "state:modified",
		"--state", prodState, "--defer")
	require.NoError(t, err)
	assert.Contains(t, out, `from "wh"."prod"."stg_orders"`)
	assert.Contains(t, out, "deferred model.shop.stg_orders")

	out, err = execute(t, "--project-dir", dir, "runs", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"method": "run"`)
	assert.Contains(t, out, `"method": "compile"`)
}

func TestSnapshotShow(t *testing.T) {
	dir := writeProject(t, projectYAML)
	_, err := execute(t, "--project-dir", dir, "run")
	require.NoError(t, err)

	out, err := execute(t, "--project-dir", dir, "snapshot", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "target=dev")
	assert.Contains(t, out, `relation    = "wh"."dev"."order_totals"`)
}

func TestGraph(t *testing.T) {
	dir := writeProject(t, projectYAML)

	out, err := execute(t, "--project-dir", dir, "graph", "-s", "tag:finance")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph strata {")
	assert.Contains(t, out, `"model.shop.order_totals" [shape = box, style = filled];`)
	assert.Contains(t, out, `"model.shop.stg_orders" [shape = box];`)
	assert.Contains(t, out, `"model.shop.stg_orders" -> "model.shop.order_totals";`)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, loadDotEnv(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STRATA_TEST_DOTENV=loaded\n"), 0644))
	t.Setenv("STRATA_TEST_DOTENV", "")
	os.Unsetenv("STRATA_TEST_DOTENV")
	require.NoError(t, loadDotEnv(dir))
	assert.Equal(t, "loaded", os.Getenv("STRATA_TEST_DOTENV"))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "strata version dev"))
}

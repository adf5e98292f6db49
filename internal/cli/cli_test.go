package cli_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/likearthian/multistore"
	"github.com/likearthian/multistore/internal/cli"
)

// writeConfig writes a config with one file-backed SQLite datasource per
// name and a schema script, and returns the config path.
func writeConfig(t *testing.T, mode string, names ...string) (string, string) {
	t.Helper()
	dir := t.TempDir()

	schema := filepath.Join(dir, "schema.sql")
	require.NoError(t, os.WriteFile(schema, []byte("CREATE TABLE note (id INTEGER PRIMARY KEY, body TEXT);\n"), 0o600))

	var buf bytes.Buffer
	buf.WriteString("logging:\n  level: error\ndatasources:\n")
	for _, name := range names {
		fmt.Fprintf(&buf, "  %s:\n    driver: sqlite\n    url: %s\n", name, filepath.Join(dir, name+".db"))
		fmt.Fprintf(&buf, "    initialization:\n      mode: %s\n      schema-locations: [%s]\n", mode, schema)
	}

	path := filepath.Join(dir, "multistore.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := cli.NewRootCmd("test")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func hasTable(t *testing.T, dbPath, table string) bool {
	t.Helper()

	db, err := multistore.ConnectSqlite(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table))
	return n == 1
}

func TestValidateCmd(t *testing.T) {
	path, _ := writeConfig(t, multistore.InitModeNever, "main", "reports")

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{name: "valid", args: []string{"validate", "-c", path}, want: []string{"Configuration is valid"}},
		{
			name: "verbose",
			args: []string{"validate", "-c", path, "--verbose"},
			want: []string{"Datasources: 2", "- main: sqlite (primary)", "- reports: sqlite", "initialization: never"},
		},
		{name: "missing file", args: []string{"validate", "-c", filepath.Join(t.TempDir(), "none.yaml")}, wantErr: true},
		{name: "extra args", args: []string{"validate", "-c", path, "main"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestValidateCmd_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasources:\n  main: {driver: oracle, url: x}\n"), 0o600))

	_, err := execute(t, "validate", "-c", path)
	require.ErrorIs(t, err, multistore.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestPingCmd(t *testing.T) {
	path, dir := writeConfig(t, multistore.InitModeAlways, "main", "reports")

	out, err := execute(t, "ping", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "main: ok")
	assert.Contains(t, out, "reports: ok")

	assert.False(t, hasTable(t, filepath.Join(dir, "main.db"), "note"), "ping does not run scripts")

	out, err = execute(t, "ping", "-c", path, "main", "ghost")
	require.Error(t, err)
	assert.Contains(t, out, "main: ok")
	assert.Contains(t, out, "ghost:")
	assert.Contains(t, err.Error(), "1 of 2 datasources failed")
}

func TestInitCmd(t *testing.T) {
	t.Run("selected datasource", func(t *testing.T) {
		path, dir := writeConfig(t, multistore.InitModeAlways, "main", "reports")

		out, err := execute(t, "init", "-c", path, "reports")
		require.NoError(t, err)
		assert.Contains(t, out, "reports: initialized")
		assert.NotContains(t, out, "main: initialized")

		assert.True(t, hasTable(t, filepath.Join(dir, "reports.db"), "note"))
	})

	t.Run("force overrides never", func(t *testing.T) {
		path, dir := writeConfig(t, multistore.InitModeNever, "main")

		_, err := execute(t, "init", "-c", path)
		require.NoError(t, err)
		assert.False(t, hasTable(t, filepath.Join(dir, "main.db"), "note"))

		_, err = execute(t, "init", "-c", path, "--force")
		require.NoError(t, err)
		assert.True(t, hasTable(t, filepath.Join(dir, "main.db"), "note"))
	})

	t.Run("unknown datasource", func(t *testing.T) {
		path, _ := writeConfig(t, multistore.InitModeAlways, "main")

		_, err := execute(t, "init", "-c", path, "ghost")
		require.ErrorIs(t, err, multistore.ErrDataSourceNotFound)
	})
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := cli.NewRootCmd("1.2.3")
	assert.Equal(t, "1.2.3", cmd.Version)

	cfgFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfgFlag)
	assert.Equal(t, "multistore.yaml", cfgFlag.DefValue)
	assert.Equal(t, "c", cfgFlag.Shorthand)

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"validate", "ping", "init"})
}

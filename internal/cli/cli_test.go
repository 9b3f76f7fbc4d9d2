package cli

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/mobu/internal/config"
)

const idleYAML = `name: idle
count: 2
user_spec:
  username_prefix: bot-mobu-idle
  uid_start: 1000
business:
  type: Idle
  options:
    idle_time: 10ms
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(args)
	err := RootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// startServer runs a mobu server on a loopback port and returns its URL.
func startServer(t *testing.T, settings config.Settings) string {
	t.Helper()
	srv, err := newServer(settings, zerolog.Nop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.run(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return "http://" + ln.Addr().String()
}

func TestSplitFlocks(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "single", input: idleYAML, want: 1},
		{name: "list", input: "- name: a\n- name: b\n- name: c\n", want: 3},
		{name: "documents", input: "name: a\n---\nname: b\n", want: 2},
		{name: "empty", input: "", wantErr: true},
		{name: "invalid", input: "name: [", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := splitFlocks([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, docs, tt.want)
		})
	}
}

func TestFlockCommands(t *testing.T) {
	server := startServer(t, config.DefaultSettings())
	file := writeFile(t, "idle.yaml", idleYAML)

	out, err := execute(t, "flock", "create", "-f", file, "--server", server, "--output", "table", "--no-color")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Created flock idle (/mobu/flocks/idle)")

	_, err = execute(t, "flock", "create", "-f", file, "--server", server, "--output", "table", "--no-color")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 409")

	out, err = execute(t, "flock", "list", "--server", server, "--output", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `["idle"]`, out)

	out, err = execute(t, "flock", "get", "idle", "--server", server, "--output", "table", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "bot-mobu-idle01")
	assert.Contains(t, out, "bot-mobu-idle02")

	out, err = execute(t, "summary", "--server", server, "--output", "table", "--status-lines", "--no-color")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "*idle*: 2 monkey(s) started "), out)

	out, err = execute(t, "flock", "delete", "idle", "--server", server, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted flock idle")

	_, err = execute(t, "flock", "get", "idle", "--server", server, "--output", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")

	out, err = execute(t, "summary", "--server", server, "--output", "table", "--status-lines=false", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "No flocks running")
}

func TestFlockCreate_ValidationDetails(t *testing.T) {
	server := startServer(t, config.DefaultSettings())
	file := writeFile(t, "bad.yaml", strings.Replace(idleYAML, "type: Idle", "type: NoSuchBusiness", 1))

	_, err := execute(t, "flock", "create", "-f", file, "--server", server, "--output", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
	assert.Contains(t, err.Error(), "business.type")
}

func TestServe_Autostart(t *testing.T) {
	settings := config.DefaultSettings()
	settings.AutostartPath = writeFile(t, "autostart.yaml", idleYAML+"---\n"+strings.Replace(idleYAML, "name: idle", "name: second", 1))
	server := startServer(t, settings)

	out, err := execute(t, "flock", "list", "--server", server, "--output", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `["idle","second"]`, out)
}

func TestServe_AutostartFailure(t *testing.T) {
	settings := config.DefaultSettings()
	settings.AutostartPath = filepath.Join(t.TempDir(), "missing.yaml")

	srv, err := newServer(settings, zerolog.Nop())
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	err = srv.run(context.Background(), ln)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "autostart failed")
}

func TestAPIError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := execute(t, "flock", "list", "--server", ts.URL, "--output", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := execute(t, "summary", "--server", "http://127.0.0.1:1", "--output", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

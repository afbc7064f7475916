package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server"
	"github.com/iudanet/gophsync/internal/server/config"
	"github.com/iudanet/gophsync/internal/server/engine"
)

const testPassword = "correct-horse-battery"

func newTestServer(t *testing.T) string {
	t.Helper()

	def := engine.DefaultConfig()
	cfg := &config.Config{
		Address:  "127.0.0.1:0",
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		JWT: config.JWTConfig{
			Secret:     "cli-test-secret-0123456789",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: time.Hour,
		},
		Sync: config.SyncConfig{
			PullPageSize:    def.PullPageSize,
			PullMaxPageSize: def.PullMaxPageSize,
			PullTimeout:     def.PullTimeout,
			PushTimeout:     def.PushTimeout,
			PushMaxBatch:    def.PushMaxBatch,
		},
		RateLimit: config.RateLimitConfig{AuthPerMinute: 100},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := server.New(context.Background(), cfg, logger, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

// device один клиент со своей локальной базой
type device struct {
	t      *testing.T
	server string
	db     string
}

func newDevice(t *testing.T, serverURL string) *device {
	t.Helper()
	return &device{
		t:      t,
		server: serverURL,
		db:     filepath.Join(t.TempDir(), "client.db"),
	}
}

// exec выполняет команду, input подаётся на stdin
func (d *device) exec(ctx context.Context, input string, args ...string) (string, error) {
	d.t.Helper()

	var out, logs bytes.Buffer
	c := New(iocli.NewStdioWith(strings.NewReader(input), &out), &logs, BuildInfo{Version: "test"})
	root := c.RootCommand()
	root.SetArgs(append([]string{"--server", d.server, "--db", d.db}, args...))

	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func (d *device) run(args ...string) string {
	d.t.Helper()
	out, err := d.exec(context.Background(), "", args...)
	require.NoError(d.t, err, "gophsync %s\n%s", strings.Join(args, " "), out)
	return out
}

func (d *device) login(username string, extra ...string) {
	d.t.Helper()
	args := append([]string{"--password", testPassword, "login", username, "--name", "test device"}, extra...)
	out := d.run(args...)
	require.Contains(d.t, out, "Login successful")
}

func (d *device) entity(entityType, id string) models.Entity {
	d.t.Helper()
	var e models.Entity
	require.NoError(d.t, json.Unmarshal([]byte(d.run("get", entityType, id, "--json")), &e))
	return e
}

func TestCli_RegisterLoginSync(t *testing.T) {
	srv := newTestServer(t)
	laptop := newDevice(t, srv)
	phone := newDevice(t, srv)

	out, err := laptop.exec(context.Background(), "alice\n"+testPassword+"\n", "register")
	require.NoError(t, err)
	assert.Contains(t, out, "Registration successful")

	out = laptop.run("status")
	assert.Contains(t, out, "Not authenticated")

	laptop.login("alice")
	phone.login("alice")

	out = laptop.run("status")
	assert.Contains(t, out, "Username:  alice")
	assert.Contains(t, out, "Pending:   0")
	assert.Contains(t, out, "Last sync: never")

	out = laptop.run("put", "note", "n1", "--set", "title=Groceries", "--set", "items=[\"milk\"]")
	assert.Contains(t, out, "Saved note/n1")
	assert.Contains(t, laptop.run("status"), "Pending:   1")

	out = laptop.run("list", "note")
	assert.Contains(t, out, "note/n1 (not synced)")

	out = laptop.run("sync")
	assert.Contains(t, out, "Pulled: 0, pushed: 1")
	assert.Contains(t, out, "Accepted: 1, merged: 0")
	assert.Contains(t, laptop.run("status"), "Pending:   0")

	out = phone.run("sync")
	assert.Contains(t, out, "Pulled: 1, pushed: 0")

	got := phone.entity("note", "n1")
	assert.Equal(t, "Groceries", got.Payload["title"])
	assert.Equal(t, []any{"milk"}, got.Payload["items"])
	assert.NotZero(t, got.SyncVersion)

	out = phone.run("get", "note", "n1")
	assert.Contains(t, out, "=== note/n1 ===")
	assert.Contains(t, out, "title: Groceries")
	assert.Contains(t, out, `items: ["milk"]`)

	out = laptop.run("devices")
	assert.Contains(t, out, "(this device)")
	assert.Equal(t, 2, strings.Count(out, "name: test device"))
}

func TestCli_ConcurrentEditsMerge(t *testing.T) {
	srv := newTestServer(t)
	laptop := newDevice(t, srv)
	phone := newDevice(t, srv)

	laptop.run("--password", testPassword, "register", "bob")
	laptop.login("bob")
	phone.login("bob")

	laptop.run("put", "note", "n1", "--json", `{"title":"draft","body":"hello"}`)
	laptop.run("sync")
	phone.run("sync")

	// оба устройства правят разные поля без связи с сервером
	laptop.run("put", "note", "n1", "--json", `{"title":"final","body":"hello"}`)
	phone.run("put", "note", "n1", "--json", `{"title":"draft","body":"hello world"}`)

	laptop.run("sync")
	phone.run("sync")
	laptop.run("sync")

	for _, d := range []*device{laptop, phone} {
		got := d.entity("note", "n1")
		assert.Equal(t, "final", got.Payload["title"])
		assert.Equal(t, "hello world", got.Payload["body"])
	}
}

func TestCli_DeletePropagates(t *testing.T) {
	srv := newTestServer(t)
	laptop := newDevice(t, srv)
	phone := newDevice(t, srv)

	laptop.run("--password", testPassword, "register", "carol")
	laptop.login("carol")
	phone.login("carol")

	laptop.run("put", "task", "t1", "--set", "done=false")
	laptop.run("sync")
	phone.run("sync")

	out := phone.run("delete", "task", "t1")
	assert.Contains(t, out, "Deleted task/t1")
	phone.run("sync")
	laptop.run("sync")

	_, err := laptop.exec(context.Background(), "", "get", "task", "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	out = laptop.run("list", "task")
	assert.Contains(t, out, "No entities found.")

	out = laptop.run("list", "task", "--deleted")
	assert.Contains(t, out, "task/t1 (deleted)")
}

func TestCli_CaptureDevicePushesOnly(t *testing.T) {
	srv := newTestServer(t)
	laptop := newDevice(t, srv)
	watch := newDevice(t, srv)

	laptop.run("--password", testPassword, "register", "dave")
	laptop.login("dave")
	watch.login("dave", "--kind", "capture")

	laptop.run("put", "note", "from-laptop", "--set", "text=a")
	laptop.run("sync")

	watch.run("put", "note", "from-watch", "--set", "text=b")
	out := watch.run("sync")
	assert.Contains(t, out, "Pulled: 0, pushed: 1")

	out = watch.run("list")
	assert.Contains(t, out, "note/from-watch")
	assert.NotContains(t, out, "note/from-laptop")

	laptop.run("sync")
	got := laptop.entity("note", "from-watch")
	assert.Equal(t, "b", got.Payload["text"])
}

func TestCli_WatchPullsChanges(t *testing.T) {
	srv := newTestServer(t)
	laptop := newDevice(t, srv)
	phone := newDevice(t, srv)

	laptop.run("--password", testPassword, "register", "erin")
	laptop.login("erin")
	phone.login("erin")

	laptop.run("put", "note", "n1", "--set", "title=hi")
	laptop.run("sync")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out, err := phone.exec(ctx, "", "watch", "--interval", "100ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Watching")
	assert.Contains(t, out, "Pulled: 1, pushed: 0")

	assert.Equal(t, "hi", phone.entity("note", "n1").Payload["title"])
}

func TestCli_RequiresLogin(t *testing.T) {
	srv := newTestServer(t)
	d := newDevice(t, srv)

	tests := [][]string{
		{"put", "note", "--set", "a=1"},
		{"delete", "note", "n1"},
		{"sync"},
		{"devices"},
		{"conflicts"},
	}
	for _, args := range tests {
		t.Run(args[0], func(t *testing.T) {
			_, err := d.exec(context.Background(), "", args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not authenticated")
		})
	}
}

func TestCli_LogoutAndConflicts(t *testing.T) {
	srv := newTestServer(t)
	d := newDevice(t, srv)

	d.run("--password", testPassword, "register", "frank")
	d.login("frank")

	out := d.run("conflicts")
	assert.Contains(t, out, "No conflicts.")
	out = d.run("conflicts", "--local")
	assert.Contains(t, out, "No conflicts.")

	_, err := d.exec(context.Background(), "", "conflicts", "clear", "missing-id")
	require.Error(t, err)

	out = d.run("logout")
	assert.Contains(t, out, "Logged out.")
	out = d.run("logout")
	assert.Contains(t, out, "Not logged in.")
}

func TestCli_Version(t *testing.T) {
	var out bytes.Buffer
	c := New(iocli.NewStdioWith(strings.NewReader(""), &out), io.Discard, BuildInfo{
		Version:   "1.2.3",
		BuildDate: "2026-01-01",
		GitCommit: "abc123",
	})
	root := c.RootCommand()
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "Version:    1.2.3")
	assert.Contains(t, out.String(), "Git Commit: abc123")
}

func TestGetPassword(t *testing.T) {
	dir := t.TempDir()
	passwordFile := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(passwordFile, []byte("from-file-password\n"), 0600))
	emptyFile := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(emptyFile, []byte("\n"), 0600))

	tests := []struct {
		name    string
		env     string
		opts    Options
		input   string
		want    string
		wantErr bool
	}{
		{
			name: "env wins over everything",
			env:  "from-env-password",
			opts: Options{PasswordFile: passwordFile, Password: "from-flag"},
			want: "from-env-password",
		},
		{
			name: "file wins over flag",
			opts: Options{PasswordFile: passwordFile, Password: "from-flag"},
			want: "from-file-password",
		},
		{
			name: "flag",
			opts: Options{Password: "from-flag"},
			want: "from-flag",
		},
		{
			name:  "prompt",
			input: "typed-password\n",
			want:  "typed-password",
		},
		{
			name:    "empty file",
			opts:    Options{PasswordFile: emptyFile},
			wantErr: true,
		},
		{
			name:    "missing file",
			opts:    Options{PasswordFile: filepath.Join(dir, "nope")},
			wantErr: true,
		},
		{
			name:    "empty prompt",
			input:   "\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(PasswordEnv, tt.env)

			c := New(iocli.NewStdioWith(strings.NewReader(tt.input), io.Discard), io.Discard, BuildInfo{})
			c.opts = tt.opts

			got, err := c.getPassword("Password: ")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		rawJSON string
		fields  []string
		want    models.Payload
		wantErr bool
	}{
		{
			name:    "json object",
			rawJSON: `{"title":"x","n":2}`,
			want:    models.Payload{"title": "x", "n": float64(2)},
		},
		{
			name:   "set fields with typed values",
			fields: []string{"title=Groceries", "done=false", "count=3", "tags=[\"a\"]", "empty="},
			want: models.Payload{
				"title": "Groceries",
				"done":  false,
				"count": float64(3),
				"tags":  []any{"a"},
				"empty": "",
			},
		},
		{
			name:   "value with equals sign",
			fields: []string{"expr=a=b"},
			want:   models.Payload{"expr": "a=b"},
		},
		{name: "json array", rawJSON: `[1,2]`, wantErr: true},
		{name: "json null", rawJSON: `null`, wantErr: true},
		{name: "broken json", rawJSON: `{`, wantErr: true},
		{name: "set without value", fields: []string{"title"}, wantErr: true},
		{name: "set without name", fields: []string{"=x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePayload(tt.rawJSON, tt.fields)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

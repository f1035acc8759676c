package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/client/iocli"
	"github.com/iudanet/offsync/internal/client/offline"
	"github.com/iudanet/offsync/pkg/api"
)

// fakeRemote минимальное удалённое хранилище для проверки команд
type fakeRemote struct {
	records  map[string][]json.RawMessage
	requests []string
	mu       sync.Mutex
	down     bool
}

func newFakeRemote(t *testing.T) (*fakeRemote, *httptest.Server) {
	t.Helper()

	remote := &fakeRemote{records: make(map[string][]json.RawMessage)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.HealthResponse{Status: "ok"})
	})
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/{resource}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		remote.record(r)
		remote.mu.Lock()
		remote.records[r.PathValue("resource")] = append(remote.records[r.PathValue("resource")], body)
		remote.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.RecordResponse{Record: body})
	})
	mux.HandleFunc("PUT /api/v1/tenants/{tenant}/{resource}/{id}", func(w http.ResponseWriter, r *http.Request) {
		remote.record(r)
		_ = json.NewEncoder(w).Encode(api.RecordResponse{Record: json.RawMessage(`{}`)})
	})
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/{collection}", func(w http.ResponseWriter, r *http.Request) {
		remote.mu.Lock()
		records := remote.records[r.PathValue("collection")]
		remote.mu.Unlock()
		if records == nil {
			records = []json.RawMessage{}
		}
		_ = json.NewEncoder(w).Encode(api.ListResponse{Records: records})
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remote.mu.Lock()
		down := remote.down
		remote.mu.Unlock()
		if down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	return remote, server
}

func (f *fakeRemote) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path+" key="+r.Header.Get(api.HeaderIdempotencyKey))
}

func (f *fakeRemote) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeRemote) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

type testEnv struct {
	server string
	dir    string
}

func newTestEnv(t *testing.T, server string) testEnv {
	return testEnv{server: server, dir: t.TempDir()}
}

// run выполняет одну команду так же, как её выполнил бы бинарник
func (e testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return e.runContext(context.Background(), t, stdin, args...)
}

func (e testEnv) runContext(ctx context.Context, t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	c := New(iocli.New(strings.NewReader(stdin), &out), io.Discard)

	root := c.RootCommand()
	root.SetArgs(append([]string{
		"--config", filepath.Join(e.dir, "config.toml"),
		"--server", e.server,
		"--store", "bolt",
		"--db", filepath.Join(e.dir, "offsync.db"),
	}, args...))

	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func signToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, api.Claims{
		TenantID: "tenant-1",
		UserID:   "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}).SignedString([]byte("dev-secret"))
	require.NoError(t, err)
	return token
}

func login(t *testing.T, env testEnv) {
	t.Helper()
	_, err := env.run(t, "", "login", "--token", signToken(t, time.Now().Add(time.Hour)))
	require.NoError(t, err)
}

func TestLogin_WithFlag(t *testing.T) {
	_, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)

	out, err := env.run(t, "", "login", "--token", signToken(t, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Contains(t, out, "Login successful")
	assert.Contains(t, out, "Tenant: tenant-1")

	out, err = env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session:  tenant-1 / user-1")
	assert.Contains(t, out, "(online)")
}

func TestLogin_Prompt(t *testing.T) {
	_, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)

	out, err := env.run(t, signToken(t, time.Now().Add(time.Hour))+"\n", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Access token: ")
	assert.Contains(t, out, "User:   user-1")
}

func TestLogin_ExpiredToken(t *testing.T) {
	_, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)

	_, err := env.run(t, "", "login", "--token", signToken(t, time.Now().Add(-time.Hour)))
	assert.ErrorContains(t, err, "expired")
}

func TestAdd_RequiresLogin(t *testing.T) {
	_, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)

	_, err := env.run(t, "", "add", "create", "lists", `{"name":"A"}`)
	assert.ErrorContains(t, err, "not authenticated")
}

func TestAdd_InvalidInput(t *testing.T) {
	_, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)

	_, err := env.run(t, "", "add", "upsert", "lists", `{}`)
	assert.ErrorContains(t, err, "unknown action kind")

	_, err = env.run(t, "", "add", "create", "lists", `{broken`)
	assert.ErrorContains(t, err, "not valid JSON")

	_, err = env.run(t, "", "add", "create", "lists")
	assert.Error(t, err)
}

func TestAdd_OnlineIsSentImmediately(t *testing.T) {
	remote, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)
	login(t, env)

	out, err := env.run(t, "", "add", "create", "lists", `{"name":"Groceries"}`, "--priority", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Action queued")

	// команда дожидается фоновой синхронизации при закрытии
	mutations := remote.mutations()
	require.Len(t, mutations, 1)
	assert.True(t, strings.HasPrefix(mutations[0], "POST /api/v1/tenants/tenant-1/lists key="))

	out, err = env.run(t, "", "actions")
	require.NoError(t, err)
	assert.Contains(t, out, "=== Pending actions (0) ===")
}

func TestAdd_OfflineThenSync(t *testing.T) {
	remote, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)
	login(t, env)

	remote.setDown(true)

	out, err := env.run(t, "", "add", "create", "lists", `{"name":"A"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Server unreachable")

	_, err = env.run(t, "", "add", "update", "lists", `{"id":"l1","name":"B"}`, "-p", "1")
	require.NoError(t, err)

	out, err = env.run(t, "", "actions")
	require.NoError(t, err)
	assert.Contains(t, out, "=== Pending actions (2) ===")
	assert.Contains(t, out, "update")

	_, err = env.run(t, "", "sync")
	assert.ErrorIs(t, err, offline.ErrOffline)

	remote.setDown(false)

	out, err = env.run(t, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "All actions synchronized")

	// priority 1 уходит первым
	mutations := remote.mutations()
	require.Len(t, mutations, 2)
	assert.True(t, strings.HasPrefix(mutations[0], "PUT /api/v1/tenants/tenant-1/lists/l1"))
	assert.True(t, strings.HasPrefix(mutations[1], "POST /api/v1/tenants/tenant-1/lists"))
}

func TestSync_NothingQueued(t *testing.T) {
	_, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)
	login(t, env)

	out, err := env.run(t, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to synchronize")
}

func TestSync_OnlyFailedActions(t *testing.T) {
	remote, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)
	login(t, env)

	// удалённое хранилище не принимает DELETE: действие исчерпает попытки
	remote.setDown(true)
	_, err := env.run(t, "", "add", "delete", "lists", `{"id":"l9"}`)
	require.NoError(t, err)
	remote.setDown(false)

	for range 3 {
		_, err = env.run(t, "", "sync")
		require.ErrorContains(t, err, "some actions were not synchronized")
	}

	out, err := env.run(t, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "1 failed action(s)")
	assert.Contains(t, out, "offsync retry")
	assert.NotContains(t, out, "Synchronizing")
}

func TestDownloadAndStatus(t *testing.T) {
	remote, server := newFakeRemote(t)
	remote.records["lists"] = []json.RawMessage{json.RawMessage(`{"id":"l1"}`), json.RawMessage(`{"id":"l2"}`)}
	remote.records["baskets"] = []json.RawMessage{json.RawMessage(`{"id":"b1"}`)}

	env := newTestEnv(t, server.URL)
	login(t, env)

	out, err := env.run(t, "", "download")
	require.NoError(t, err)
	assert.Contains(t, out, "[1/5] Downloading lists...")
	assert.Contains(t, out, "[5/5] Download complete")
	assert.Contains(t, out, "Snapshot: 3 record(s) in 5 collection(s)")

	out, err = env.run(t, "", "status", "--json")
	require.NoError(t, err)

	var stats struct {
		Data struct {
			Counts map[string]int `json:"counts"`
		} `json:"data"`
		IsOnline bool `json:"is_online"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.True(t, stats.IsOnline)
	assert.Equal(t, 2, stats.Data.Counts["lists"])
	assert.Equal(t, 1, stats.Data.Counts["baskets"])
}

func TestDownload_Offline(t *testing.T) {
	remote, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)
	login(t, env)
	remote.setDown(true)

	_, err := env.run(t, "", "download")
	assert.ErrorIs(t, err, offline.ErrOffline)
}

func TestFullSync(t *testing.T) {
	remote, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)
	login(t, env)

	remote.setDown(true)
	_, err := env.run(t, "", "add", "create", "lists", `{"id":"l1","name":"A"}`)
	require.NoError(t, err)
	remote.setDown(false)

	out, err := env.run(t, "", "full-sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue: 0 pending, 0 failed")
	// созданная запись уже в снимке
	assert.Contains(t, out, "Snapshot: 1 record(s)")
}

func TestClear_RequiresConfirmation(t *testing.T) {
	_, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)

	_, err := env.run(t, "", "clear")
	assert.ErrorContains(t, err, "--yes")

	out, err := env.run(t, "", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Offline data cleared")
}

func TestLogout_ProtectsQueuedActions(t *testing.T) {
	remote, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)
	login(t, env)

	remote.setDown(true)
	_, err := env.run(t, "", "add", "create", "lists", `{}`)
	require.NoError(t, err)

	_, err = env.run(t, "", "logout")
	assert.ErrorContains(t, err, "1 queued action(s) would be lost")

	out, err := env.run(t, "", "logout", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	out, err = env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session:  not authenticated")
	assert.Contains(t, out, "Queue:    0 pending, 0 failed, 0 total")
}

func TestConfigCommand(t *testing.T) {
	_, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)

	out, err := env.run(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "server_url = '"+server.URL+"'")
	assert.Contains(t, out, "store = 'bolt'")
}

func TestInvalidStoreFlag(t *testing.T) {
	_, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)

	_, err := env.run(t, "", "--store", "redis", "status")
	assert.ErrorContains(t, err, "invalid store")
}

func TestWatch_FlushesQueueAndStops(t *testing.T) {
	remote, server := newFakeRemote(t)
	env := newTestEnv(t, server.URL)
	login(t, env)

	remote.setDown(true)
	_, err := env.run(t, "", "add", "create", "lists", `{"name":"A"}`)
	require.NoError(t, err)
	remote.setDown(false)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out, err := env.runContext(ctx, t, "", "watch")
	require.NoError(t, err)
	assert.Contains(t, out, "Watching "+server.URL)
	assert.Contains(t, out, "server reachable")
	assert.Contains(t, out, "Stopped. 0 pending, 0 failed")
	assert.Len(t, remote.mutations(), 1)
}

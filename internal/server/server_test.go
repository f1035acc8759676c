package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/client/api"
	"github.com/iudanet/offsync/internal/client/auth"
	"github.com/iudanet/offsync/internal/client/datasync"
	"github.com/iudanet/offsync/internal/client/network"
	"github.com/iudanet/offsync/internal/client/offline"
	"github.com/iudanet/offsync/internal/client/queue"
	"github.com/iudanet/offsync/internal/client/storage/memory"
	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/internal/server"
	"github.com/iudanet/offsync/internal/server/handlers"
	"github.com/iudanet/offsync/internal/server/storage/sqlite"
)

type tokenFunc func(ctx context.Context) (string, error)

func (f tokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

func newTestServer(t *testing.T, rateLimit int) (*httptest.Server, *api.Client) {
	t.Helper()

	ctx := context.Background()
	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	jwtCfg := handlers.JWTConfig{Secret: []byte("dev-secret"), AccessTokenTTL: time.Hour}
	srv := server.New(server.Config{
		Storage:   store,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		JWT:       jwtCfg,
		RateLimit: rateLimit,
	})
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	token, _, err := handlers.GenerateAccessToken(jwtCfg, "tenant-1", "user-1")
	require.NoError(t, err)

	client := api.NewClient(ts.URL, tokenFunc(func(context.Context) (string, error) { return token, nil }))
	return ts, client
}

func TestServer_HealthIsPublic(t *testing.T) {
	ts, client := newTestServer(t, 0)

	require.NoError(t, client.Ping(context.Background()))

	resp, err := http.Get(ts.URL + "/api/v1/tenants/tenant-1/lists")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_ReplayIsIdempotent(t *testing.T) {
	_, client := newTestServer(t, 0)
	ctx := context.Background()

	action := &models.Action{
		ID:       "action-1",
		Kind:     models.ActionCreate,
		Resource: "lists",
		Payload:  json.RawMessage(`{"id":"l1","name":"Groceries"}`),
		TenantID: "tenant-1",
		ActorID:  "user-1",
	}
	exec := client.Executor("lists")

	require.NoError(t, exec(ctx, action))
	// ответ на первую попытку «потерялся», клиент повторяет то же действие
	require.NoError(t, exec(ctx, action))

	records, err := client.Fetch(ctx, datasync.FetchRequest{TenantID: "tenant-1", Collection: "lists"})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// удаление несуществующей записи - ошибка сервера
	missing := &models.Action{
		ID:       "action-2",
		Kind:     models.ActionDelete,
		Resource: "lists",
		Payload:  json.RawMessage(`{"id":"nope"}`),
		TenantID: "tenant-1",
		ActorID:  "user-1",
	}
	err = exec(ctx, missing)
	var statusErr *api.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestServer_ForeignTenantForbidden(t *testing.T) {
	_, client := newTestServer(t, 0)

	_, err := client.Fetch(context.Background(), datasync.FetchRequest{TenantID: "tenant-2", Collection: "lists"})
	var statusErr *api.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestServer_RateLimit(t *testing.T) {
	_, client := newTestServer(t, 2)
	ctx := context.Background()
	req := datasync.FetchRequest{TenantID: "tenant-1", Collection: "lists"}

	for i := 0; i < 2; i++ {
		_, err := client.Fetch(ctx, req)
		require.NoError(t, err)
	}

	_, err := client.Fetch(ctx, req)
	var statusErr *api.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)

	// health не ограничивается
	require.NoError(t, client.Ping(ctx))
}

// TestServer_OfflineRoundTrip проходит весь путь: действия копятся офлайн,
// уходят на сервер при появлении связи, затем снимок скачивается обратно.
func TestServer_OfflineRoundTrip(t *testing.T) {
	_, client := newTestServer(t, 0)
	ctx := context.Background()
	store := memory.New()

	q, err := queue.New(ctx, queue.Config{Store: store})
	require.NoError(t, err)
	data, err := datasync.New(ctx, datasync.Config{Store: store, Fetcher: client})
	require.NoError(t, err)
	monitor := network.NewMonitor(network.Config{Prober: client, ProbeAttempts: 1})

	executors := make(map[string]queue.Executor)
	for _, resource := range []string{"lists", "list_items", "products", "baskets", "basket_items"} {
		executors[resource] = client.Executor(resource)
	}

	service, err := offline.New(offline.Config{
		Queue:        q,
		Data:         data,
		Monitor:      monitor,
		Auth:         auth.Static{TenantID: "tenant-1", ActorID: "user-1"},
		Executors:    executors,
		SyncInterval: -1,
	})
	require.NoError(t, err)
	defer service.Destroy()

	require.False(t, service.IsOnline())

	adds := []struct {
		resource string
		payload  string
		priority int
	}{
		{"products", `{"id":"p1","name":"Milk"}`, models.PriorityNormal},
		{"list_items", `{"id":"i1","list_id":"l1","product_id":"p1"}`, models.PriorityLow},
		{"lists", `{"id":"l1","name":"Groceries"}`, models.PriorityHigh},
		{"lists", `{"id":"l2","name":"Scratch"}`, models.PriorityNormal},
	}
	for _, a := range adds {
		_, err := service.AddAction(ctx, models.ActionCreate, a.resource, json.RawMessage(a.payload), a.priority)
		require.NoError(t, err)
	}
	_, err = service.AddAction(ctx, models.ActionDelete, "lists", json.RawMessage(`{"id":"l2"}`), models.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, 5, service.PendingActionsCount())

	// переход в онлайн запускает фоновую синхронизацию
	require.True(t, monitor.Refresh(ctx))
	require.Eventually(t, func() bool {
		return service.PendingActionsCount() == 0 && !service.IsSyncing()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, service.FailedActions())

	require.NoError(t, service.DownloadData(ctx, nil))

	counts := service.Stats().Data.Counts
	assert.Equal(t, 1, counts["lists"])
	assert.Equal(t, 1, counts["list_items"])
	assert.Equal(t, 1, counts["products"])
	assert.Equal(t, 0, counts["baskets"])
	assert.Equal(t, 0, counts["basket_items"])

	lists := data.Collection("lists")
	require.Len(t, lists, 1)
	assert.JSONEq(t, `{"id":"l1","name":"Groceries"}`, string(lists[0]))
}

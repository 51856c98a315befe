package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor/config"
	"github.com/sthembisoo/api-error-monitor/monitor/retry"
	"github.com/sthembisoo/api-error-monitor/monitor/store"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

// webhook records the endpoints of delivered reports and fails the first `fail` requests.
type webhook struct {
	mu        sync.Mutex
	fail      int
	endpoints []string
}

func (w *webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var payload struct {
		Report struct {
			Endpoint string `json:"endpoint"`
		} `json:"report"`
	}
	_ = json.Unmarshal(body, &payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail > 0 {
		w.fail--
		rw.WriteHeader(http.StatusBadGateway)
		return
	}
	w.endpoints = append(w.endpoints, payload.Report.Endpoint)
	rw.WriteHeader(http.StatusOK)
}

func setup(t *testing.T, hook *webhook) config.Config {
	t.Helper()
	srv := httptest.NewServer(hook)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.AppName = "shop"
	cfg.StorageDir = t.TempDir()
	cfg.WebhookURL = srv.URL
	cfg.WebhookRatePerMinute = 0
	cfg.RetryDelay = 0
	cfg.MaxRetries = 2

	st, err := store.NewFileStore(cfg.StorageDir, zap.NewNop())
	require.NoError(t, err)
	now := time.Now().Truncate(time.Second)
	for i, endpoint := range []string{"/v1/products", "/v1/cart", "/v1/products"} {
		require.NoError(t, st.Persist(context.Background(), types.ApiErrorReport{
			ID:           endpoint,
			AppName:      "shop",
			Endpoint:     endpoint,
			ErrorMessage: "type 'String' is not a subtype of type 'num'",
			Timestamp:    now.Add(-time.Duration(3-i) * time.Hour),
		}))
	}
	return cfg
}

func execute(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	cmd := NewCmdReplay(func() (config.Config, error) { return cfg, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReplay_OldestFirst(t *testing.T) {
	hook := &webhook{}
	cfg := setup(t, hook)

	out, err := execute(t, cfg)
	require.NoError(t, err)

	assert.Contains(t, out, "Delivered 3, dropped 0 of 3 report(s)")
	assert.Equal(t, []string{"/v1/products", "/v1/cart", "/v1/products"}, hook.endpoints)
}

func TestReplay_Filters(t *testing.T) {
	hook := &webhook{}
	cfg := setup(t, hook)

	out, err := execute(t, cfg, "--endpoint", "/v1/products", "--since", "150m", "--json")
	require.NoError(t, err)

	var res retry.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, retry.Result{Delivered: 1}, res)
	assert.Equal(t, []string{"/v1/products"}, hook.endpoints)
}

func TestReplay_RetriesThenClears(t *testing.T) {
	hook := &webhook{fail: 1}
	cfg := setup(t, hook)

	out, err := execute(t, cfg, "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Delivered 3, dropped 0")

	st, err := store.NewFileStore(cfg.StorageDir, zap.NewNop())
	require.NoError(t, err)
	left, err := st.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestReplay_DroppedKeepsStore(t *testing.T) {
	hook := &webhook{fail: 100}
	cfg := setup(t, hook)

	out, err := execute(t, cfg, "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Delivered 0, dropped 3")

	st, err := store.NewFileStore(cfg.StorageDir, zap.NewNop())
	require.NoError(t, err)
	left, err := st.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestReplay_NoSink(t *testing.T) {
	cfg := setup(t, &webhook{})
	cfg.WebhookURL = ""

	_, err := execute(t, cfg)
	assert.ErrorContains(t, err, "no sink configured")
}

func TestReplay_Empty(t *testing.T) {
	cfg := config.Default()
	cfg.AppName = "shop"
	cfg.StorageDir = t.TempDir()

	out, err := execute(t, cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "No reports to replay."))
}

func TestReplay_StorageDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.EnableLocalStorage = false

	_, err := execute(t, cfg)
	assert.ErrorContains(t, err, "local storage is disabled")
}

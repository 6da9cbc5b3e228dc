package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/config"
	"offerbot/internal/cycle"
	"offerbot/internal/pipeline"
	"offerbot/internal/storage"
)

func feedServer(t *testing.T, items int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>deals</title>`)
		for i := 1; i <= items; i++ {
			fmt.Fprintf(w, `<item><title>Wireless earbuds deal number %d for $%d.99</title><link>https://shop.example/p/%d?utm_source=rss</link></item>`, i, 10+i, i)
		}
		fmt.Fprint(w, `</channel></rss>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func offlineConfig(feedURL string) *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Channel: "@deals"},
		Logging:  config.LoggingConfig{Level: "error"},
		Storage:  config.StorageConfig{Driver: "memory"},
		Pipeline: config.PipelineConfig{Schedule: "60m", BatchSize: 3},
		Sources: []config.SourceConfig{
			{Name: "feed", Kind: "rss", URL: feedURL, Category: "Audio"},
		},
		Render: config.RenderConfig{Mode: "never"},
	}
}

func TestOfflineCoreIngests(t *testing.T) {
	t.Parallel()
	srv := feedServer(t, 4)
	cfg := offlineConfig(srv.URL + "/rss")
	require.NoError(t, config.Validate(cfg))

	core, err := Open(cfg, Options{Store: storage.NewMemory()})
	require.NoError(t, err)
	defer core.Close()
	assert.Nil(t, core.Bot)

	ctx := context.Background()
	rep, err := core.Pipe.RunIngestion(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.New)

	rep, err = core.Pipe.RunIngestion(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.New)
	assert.Equal(t, 4, rep.Duplicates)

	st, err := core.Pipe.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Pending)
	assert.NoError(t, core.Health(ctx))
}

func TestOnceWithoutPublisherKeepsOffersPending(t *testing.T) {
	t.Parallel()
	srv := feedServer(t, 2)
	core, err := Open(offlineConfig(srv.URL), Options{Store: storage.NewMemory()})
	require.NoError(t, err)
	defer core.Close()

	res, err := core.Once(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrNoPublisher))
	assert.Equal(t, cycle.ReasonCLI, res.Reason)
	assert.Equal(t, 2, res.Report.Ingest.New)

	st, err := core.Pipe.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Pending)
}

func TestOpenRequiresTelegramSettings(t *testing.T) {
	t.Parallel()
	cfg := offlineConfig("https://feed.example/rss")
	_, err := Open(cfg, Options{Telegram: true, Store: storage.NewMemory()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token")
}

func TestCoreApplySwapsSources(t *testing.T) {
	t.Parallel()
	a, b := feedServer(t, 1), feedServer(t, 2)
	cfg := offlineConfig(a.URL)
	core, err := Open(cfg, Options{Store: storage.NewMemory()})
	require.NoError(t, err)
	defer core.Close()

	next := offlineConfig(a.URL)
	next.Sources = append(next.Sources, config.SourceConfig{Name: "second", Kind: "rss", URL: b.URL + "/other"})
	next.Pipeline.BatchSize = 7
	require.NoError(t, core.Apply(next))

	assert.Len(t, core.Pipe.Adapters(), 2)
	assert.Equal(t, 7, core.Pipe.Options().BatchSize)
	assert.Same(t, next, core.Config())
}

func TestMappingDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram: config.TelegramConfig{Channel: " @deals ", GroupLog: "-100500"},
		Logging:  config.LoggingConfig{Telegram: config.LoggingTelegram{Enabled: true}},
		Storage:  config.StorageConfig{Driver: "SQLite"},
		Pipeline: config.PipelineConfig{CycleTimeout: "10m"},
		Render:   config.RenderConfig{Mode: "with_image"},
	}

	sc := mapStorage(cfg)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, defaultDBPath, sc.Path)
	assert.Equal(t, defaultBusyTimeout, sc.BusyTimeout)

	lc := mapLogging(cfg)
	assert.True(t, lc.Telegram.Enabled)
	assert.Equal(t, int64(-100500), lc.Telegram.ChatID)

	assert.Equal(t, "@deals", mapPipeline(cfg).Target)
	assert.Equal(t, pipeline.DefaultFetchTimeout, mapPipeline(cfg).FetchTimeout)

	cc := mapCycle(cfg)
	assert.Equal(t, config.DefaultSchedule, cc.Schedule)
	assert.Equal(t, 10*time.Minute, cc.Timeout)

	assert.Equal(t, "with_image", string(mapRender(cfg).Mode))
	assert.False(t, mapObservability(cfg).Enabled)
}

func TestDaemonStartReloadStop(t *testing.T) {
	srv := feedServer(t, 1)
	path := filepath.Join(t.TempDir(), "offerbot.json")
	write := func(batch int) {
		body := fmt.Sprintf(`{
  "telegram": {"channel": "@deals", "owner_user_ids": [1]},
  "logging": {"level": "error"},
  "storage": {"driver": "memory"},
  "pipeline": {"schedule": "60m", "batch_size": %d},
  "sources": [{"name": "feed", "kind": "rss", "url": %q}],
  "render": {"mode": "never"}
}`, batch, srv.URL)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write(3)

	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	require.NoError(t, err)
	core, err := Open(cfg, Options{Store: storage.NewMemory()})
	require.NoError(t, err)
	a, err := assemble(cfgm, core)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, "every 1h0m0s", a.sched.Status().Schedule)

	next, err := cfgm.Parse()
	require.NoError(t, err)
	next.Pipeline.BatchSize = 9
	next.Pipeline.Schedule = "30m"
	next.Telegram.OwnerUserIDs = []int64{1, 2}
	a.apply(ctx, cfg, next)

	assert.Equal(t, 9, core.Pipe.Options().BatchSize)
	assert.Equal(t, "every 30m0s", a.sched.Status().Schedule)
	assert.True(t, a.handlers.IsOwner(2))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopCompleted))
	select {
	case <-a.Done():
	default:
		t.Fatal("supervisor context still live after Stop")
	}
	assert.NoError(t, a.Err())
}

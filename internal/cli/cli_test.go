package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/pipeline"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "offerbot", cmd.Use)
	for _, name := range []string{"run", "once", "ingest", "deliver", "stats", "purge", "validate"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestFlags(t *testing.T) {
	cmd := NewRootCommand()
	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)

	deliver, _, err := cmd.Find([]string{"deliver"})
	require.NoError(t, err)
	require.NotNil(t, deliver.Flags().Lookup("limit"))

	purgeCmd, _, err := cmd.Find([]string{"purge"})
	require.NoError(t, err)
	assert.Equal(t, "false", purgeCmd.Flags().Lookup("yes").DefValue)
}

func TestPurgeNeedsConfirmation(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"purge", "--config", "does-not-matter.yaml"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

type fakePurger struct {
	n   int64
	err error
}

func (f fakePurger) PurgeAll(context.Context) (int64, error) { return f.n, f.err }

func TestPurgeOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, purge(context.Background(), &buf, fakePurger{n: 12345}))
	assert.Equal(t, "purged 12,345 offers\n", buf.String())

	assert.Error(t, purge(context.Background(), &buf, fakePurger{err: errors.New("locked")}))
}

func TestReportPrinting(t *testing.T) {
	var buf bytes.Buffer
	printIngest(&buf, pipeline.IngestReport{
		Fetched: 5, New: 2, Duplicates: 3, Failed: 1,
		Sources: []pipeline.SourceReport{
			{Source: "slickdeals", Fetched: 5, New: 2, Duration: 1500 * time.Millisecond},
			{Source: "coupons", Err: errors.New("status 503")},
		},
	})
	printDeliver(&buf, pipeline.DeliverReport{Attempted: 2, Delivered: 1, ViaText: 1, Failed: 1})

	out := buf.String()
	assert.Contains(t, out, "ingest: 5 fetched, 2 new, 3 duplicates, 0 rejected, 1 sources failed")
	assert.Contains(t, out, "took=1.5s")
	assert.Contains(t, out, "err=status 503")
	assert.Contains(t, out, "deliver: 1/2 posted (0 photo, 1 text), 1 failed")
}

func TestValidateCommand(t *testing.T) {
	t.Setenv("OFFERBOT_TELEGRAM_TOKEN", "")
	t.Setenv("OFFERBOT_CHANNEL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "telegram:\n  token: \"1:x\"\n  channel: \"@deals\"\nstorage:\n  driver: memory\nsources:\n  - name: feed\n    kind: rss\n    url: https://deals.example/rss\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", "--config", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ok (1 sources, schedule 60m)")

	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  channel: nope\n"), 0o600))
	cmd = NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", "--config", path})
	assert.Error(t, cmd.Execute())
}

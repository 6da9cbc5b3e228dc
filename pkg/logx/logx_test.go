package logx

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSender struct {
	mu    sync.Mutex
	lines []string
	chat  int64
}

func (c *captureSender) SendLog(_ context.Context, chatID int64, _ int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat = chatID
	c.lines = append(c.lines, text)
	return nil
}

func (c *captureSender) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}

func TestFormatLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","caller":"a.go:1","message":"source failed","source":"deals","err":"timeout"}`)
	got := FormatLine(line)
	want := "[WARN] source failed\n- err=timeout\n- source=deals"
	if got != want {
		t.Fatalf("FormatLine = %q, want %q", got, want)
	}
	if got := FormatLine([]byte("  not json  ")); got != "not json" {
		t.Fatalf("raw line = %q", got)
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("عرض", 10)
	got := truncate(s, 10)
	if !strings.HasSuffix(got, "...") || len(got) > 10 {
		t.Fatalf("truncate = %q", got)
	}
	if strings.ContainsRune(got, '�') {
		t.Fatalf("truncate produced invalid rune: %q", got)
	}
}

func TestTelegramSinkForwardsWarnings(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     -100123,
			MinLevel:   "warn",
			RatePerSec: 50,
		},
	})
	defer svc.Close()
	sender := &captureSender{}
	svc.SetSender(sender)

	log.Info("routine")
	log.With(String("comp", "deliver")).Warn("delivery failed", Err(errors.New("chat not found")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lines := sender.snapshot(); len(lines) > 0 {
			if len(lines) != 1 {
				t.Fatalf("lines = %v", lines)
			}
			if !strings.HasPrefix(lines[0], "[WARN] delivery failed") || !strings.Contains(lines[0], "comp=deliver") {
				t.Fatalf("line = %q", lines[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("warning was not forwarded")
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"offerbot/internal/cycle"
	"offerbot/internal/offer"
	"offerbot/internal/pipeline"
	logx "offerbot/pkg/logx"
)

func nilLog() logx.Logger { return logx.Nop() }

type fakeBackend struct {
	pending []offer.Offer
	stats   offer.Stats
	err     error
	purged  int
}

func (f *fakeBackend) ListPending(_ context.Context, limit int) ([]offer.Offer, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeBackend) Stats(context.Context) (offer.Stats, error) { return f.stats, f.err }

func (f *fakeBackend) PurgeAll(context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.purged++
	return int64(f.stats.Total), nil
}

type fakeCycler struct {
	res    cycle.Result
	err    error
	status cycle.Status
	calls  int
}

func (f *fakeCycler) Trigger(context.Context, cycle.Reason) (cycle.Result, error) {
	f.calls++
	return f.res, f.err
}

func (f *fakeCycler) Status() cycle.Status { return f.status }

const owner = int64(42)

func run(t *testing.T, h *Handlers, name string, from int64, args ...string) Reply {
	t.Helper()
	for _, c := range h.Commands() {
		if c.Name == name {
			rep, err := h.Wrap(c)(context.Background(), &Request{Command: name, FromID: from, Args: args})
			require.NoError(t, err)
			return rep
		}
	}
	t.Fatalf("no command %q", name)
	return Reply{}
}

func TestLatestShowsCaptionsWithoutMarking(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	for i := 0; i < 7; i++ {
		b.pending = append(b.pending, offer.Offer{
			Title: fmt.Sprintf("Deal %d", i), Link: fmt.Sprintf("https://x.test/%d", i), Source: "deals",
		})
	}
	h := NewHandlers(b, &fakeCycler{}, nil, nilLog())

	rep := run(t, h, "latest", 7)
	assert.Equal(t, "5 pending offer(s), newest first:", rep.Text)
	require.Len(t, rep.More, 5)
	assert.Contains(t, rep.More[0], "<b>Deal 0</b>")
	assert.Contains(t, rep.More[0], `<a href="https://x.test/0">View Offer</a>`)

	b.pending = nil
	assert.Equal(t, "No pending offers.", run(t, h, "latest", 7).Text)
}

func TestStatsFormatsCounts(t *testing.T) {
	t.Parallel()
	h := NewHandlers(&fakeBackend{stats: offer.Stats{Total: 12500, Sent: 4, Pending: 12496}}, &fakeCycler{}, nil, nilLog())
	rep := run(t, h, "stats", 1)
	assert.Contains(t, rep.Text, "<b>Total:</b> 12,500")
	assert.Contains(t, rep.Text, "<b>Sent:</b> 4")
	assert.Contains(t, rep.Text, "<b>Pending:</b> 12,496")
}

func TestRefreshIsOwnerOnlyAndReportsCoalescing(t *testing.T) {
	t.Parallel()
	c := &fakeCycler{err: cycle.ErrCycleInProgress}
	h := NewHandlers(&fakeBackend{}, c, []int64{owner}, nilLog())

	assert.Equal(t, ownerOnlyText, run(t, h, "refresh", 7).Text)
	assert.Zero(t, c.calls)

	assert.Contains(t, run(t, h, "refresh", owner).Text, "already running")
	assert.Equal(t, 1, c.calls)

	start := time.Now().Add(-2 * time.Second)
	c.err = nil
	c.res = cycle.Result{
		ID: "0123456789abcdef", Reason: cycle.ReasonManual, Outcome: cycle.OutcomeOK,
		Started: start, Finished: start.Add(1500 * time.Millisecond),
		Report: pipeline.CycleReport{
			Ingest:  pipeline.IngestReport{New: 3},
			Deliver: pipeline.DeliverReport{Delivered: 2, ViaPhoto: 1, ViaText: 1},
		},
	}
	rep := run(t, h, "refresh", owner)
	assert.Contains(t, rep.Text, "<b>ID:</b> 01234567")
	assert.Contains(t, rep.Text, "<b>New offers:</b> 3")
	assert.Contains(t, rep.Text, "<b>Delivered:</b> 2 (photo 1, text 1, failed 0)")
	assert.Contains(t, rep.Text, "<b>Took:</b> 1.5s")

	c.err = fmt.Errorf("%w: insert: disk I/O error", pipeline.ErrStoreUnavailable)
	c.res = cycle.Result{Outcome: cycle.OutcomeStoreUnavailable}
	rep = run(t, h, "refresh", owner)
	assert.Contains(t, rep.Text, "Cycle aborted")
	assert.Contains(t, rep.Text, "store_unavailable")
}

func TestClearAsksThenPurges(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{stats: offer.Stats{Total: 3}}
	h := NewHandlers(b, &fakeCycler{}, []int64{owner}, nilLog())

	assert.Equal(t, ownerOnlyText, run(t, h, "clear", 7, "yes").Text)
	assert.Zero(t, b.purged)

	rep := run(t, h, "clear", owner)
	require.NotNil(t, rep.Markup)
	assert.Len(t, rep.Markup.Buttons, 2)
	assert.Zero(t, b.purged)

	rep, err := h.PurgeCallback(context.Background(), &Request{FromID: owner, Args: []string{purgeCancel}})
	require.NoError(t, err)
	assert.Equal(t, "Purge cancelled.", rep.Text)
	assert.Zero(t, b.purged)

	assert.Equal(t, "Deleted 3 offer(s).", run(t, h, "clear", owner, "YES").Text)
	assert.Equal(t, 1, b.purged)
}

func TestStatusAndHelp(t *testing.T) {
	t.Parallel()
	c := &fakeCycler{status: cycle.Status{State: cycle.Idle, Schedule: "every 1h0m0s", Runs: 2, Coalesced: 1}}
	h := NewHandlers(&fakeBackend{}, c, []int64{owner}, nilLog())

	rep := run(t, h, "status", 1)
	assert.Contains(t, rep.Text, "<b>State:</b> idle")
	assert.Contains(t, rep.Text, "<b>Next run:</b> not scheduled")
	assert.Contains(t, rep.Text, "<b>Runs:</b> 2 (coalesced 1)")
	assert.Contains(t, rep.Text, "No cycle has run yet.")

	public := run(t, h, "help", 1).Text
	assert.NotContains(t, public, "/refresh")
	ownerHelp := run(t, h, "help", owner).Text
	assert.Contains(t, ownerHelp, "<code>/refresh</code>")
	assert.Contains(t, ownerHelp, "<i>(owner)</i>")

	h.SetOwners(nil)
	assert.False(t, h.IsOwner(owner))
}

func TestMiddlewareRecoversPanics(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) (Reply, error) { panic("boom") }, MWPanicRecover(nilLog()))
	_, err := h(context.Background(), &Request{Command: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestErrorText(t *testing.T) {
	t.Parallel()
	assert.Contains(t, ErrorText(fmt.Errorf("%w: stats", pipeline.ErrStoreUnavailable)), "store is unavailable")
	assert.Contains(t, ErrorText(context.DeadlineExceeded), "too long")
	assert.Contains(t, ErrorText(errors.New("x")), "Command failed")
}

type sent struct {
	to   string
	what interface{}
	opts []interface{}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to: to.Recipient(), what: what, opts: opts})
	if f.err != nil {
		return nil, f.err
	}
	return &tele.Message{ID: len(f.sent)}, nil
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	to, err := ParseTarget(" @deals_channel ")
	require.NoError(t, err)
	assert.Equal(t, "@deals_channel", to.Recipient())

	to, err = ParseTarget("-1001234567890")
	require.NoError(t, err)
	assert.Equal(t, "-1001234567890", to.Recipient())

	for _, bad := range []string{"", "@", "channel", "0"} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, bad)
	}
}

func TestPublisherSends(t *testing.T) {
	t.Parallel()
	f := &fakeSender{}
	p := newPublisher(f, 0, nilLog())

	require.NoError(t, p.SendPhoto(context.Background(), "@deals", []byte{0x89, 'P', 'N', 'G'}, "<b>x</b>"))
	require.NoError(t, p.SendText(context.Background(), "@deals", "<b>x</b>"))
	require.NoError(t, p.SendLog(context.Background(), -100, 7, "[WARN] hi"))

	require.Len(t, f.sent, 3)
	photo, ok := f.sent[0].what.(*tele.Photo)
	require.True(t, ok)
	assert.Equal(t, "<b>x</b>", photo.Caption)
	assert.Equal(t, tele.ModeHTML, f.sent[0].opts[0].(*tele.SendOptions).ParseMode)
	assert.Equal(t, "<b>x</b>", f.sent[1].what)
	assert.Equal(t, "-100", f.sent[2].to)
	assert.Equal(t, 7, f.sent[2].opts[0].(*tele.SendOptions).ThreadID)
}

func TestPublisherWrapsTransportErrors(t *testing.T) {
	t.Parallel()
	f := &fakeSender{err: errors.New("chat not found")}
	p := newPublisher(f, 0, nilLog())

	err := p.SendPhoto(context.Background(), "@deals", []byte{1}, "c")
	var te *pipeline.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, pipeline.OpPhoto, te.Op)

	err = p.SendText(context.Background(), "not a target", "c")
	require.ErrorAs(t, err, &te)
	assert.Equal(t, pipeline.OpText, te.Op)

	err = p.SendPhoto(context.Background(), "@deals", nil, "c")
	require.ErrorAs(t, err, &te)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.SendText(ctx, "@deals", "c")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, strings.Contains(err.Error(), "send text"))
}

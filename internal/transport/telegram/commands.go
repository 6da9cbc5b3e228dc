package telegram

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"offerbot/internal/cycle"
	"offerbot/internal/offer"
	"offerbot/internal/pipeline"
	"offerbot/internal/render"
	logx "offerbot/pkg/logx"
	"offerbot/pkg/tgui"
)

const (
	latestLimit    = 5
	commandTimeout = 30 * time.Second

	purgeAction  = "purge"
	purgeConfirm = "confirm"
	purgeCancel  = "cancel"
)

// Backend is the part of the pipeline commands read and purge through.
type Backend interface {
	ListPending(ctx context.Context, limit int) ([]offer.Offer, error)
	Stats(ctx context.Context) (offer.Stats, error)
	PurgeAll(ctx context.Context) (int64, error)
}

// Cycler runs manual cycles and reports scheduler state.
type Cycler interface {
	Trigger(ctx context.Context, reason cycle.Reason) (cycle.Result, error)
	Status() cycle.Status
}

type Button struct {
	Text   string
	Unique string
	Data   string
	URL    string
}

// Keyboard is a single row of inline buttons.
type Keyboard struct{ Buttons []Button }

type Command struct {
	Name        string
	Description string
	OwnerOnly   bool
	// Timeout overrides the default; negative disables it.
	Timeout time.Duration
	Run     HandlerFunc
}

type Handlers struct {
	backend Backend
	cycler  Cycler
	log     logx.Logger
	owners  atomic.Pointer[[]int64]
}

func NewHandlers(backend Backend, cycler Cycler, owners []int64, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handlers{backend: backend, cycler: cycler, log: log.With(logx.String("comp", "commands"))}
	h.SetOwners(owners)
	return h
}

// SetOwners replaces the owner list; used on config reload.
func (h *Handlers) SetOwners(ids []int64) {
	cp := slices.Clone(ids)
	h.owners.Store(&cp)
}

func (h *Handlers) IsOwner(id int64) bool {
	if p := h.owners.Load(); p != nil {
		return id != 0 && slices.Contains(*p, id)
	}
	return false
}

func (h *Handlers) Commands() []Command {
	return []Command{
		{Name: "start", Description: "Welcome message", Run: h.start},
		{Name: "help", Description: "List commands", Run: h.help},
		{Name: "latest", Description: "Show the newest pending offers", Run: h.latest},
		{Name: "refresh", Description: "Run a fetch and post cycle now", OwnerOnly: true, Timeout: -1, Run: h.refresh},
		{Name: "stats", Description: "Offer counts", Run: h.stats},
		{Name: "status", Description: "Scheduler state and last cycle", Run: h.status},
		{Name: "clear", Description: "Delete every stored offer", OwnerOnly: true, Run: h.clear},
	}
}

// Wrap applies the standard middleware stack to cmd.
func (h *Handlers) Wrap(cmd Command) HandlerFunc {
	mws := []Middleware{MWPanicRecover(h.log), MWRequestLog(h.log)}
	if cmd.OwnerOnly {
		mws = append(mws, MWOwnerOnly(h.IsOwner))
	}
	switch {
	case cmd.Timeout > 0:
		mws = append(mws, MWTimeout(cmd.Timeout))
	case cmd.Timeout == 0:
		mws = append(mws, MWTimeout(commandTimeout))
	}
	return Chain(cmd.Run, mws...)
}

func (h *Handlers) start(context.Context, *Request) (Reply, error) {
	text := tgui.Lines(
		tgui.B("Offer bot"),
		tgui.Esc("I collect deals and coupons from the configured sources and post new ones to the channel."),
		tgui.Esc("Send /help to see what I can do."),
	)
	return Reply{Text: string(text)}, nil
}

func (h *Handlers) help(_ context.Context, req *Request) (Reply, error) {
	owner := h.IsOwner(req.FromID)
	lines := []tgui.H{tgui.B("Commands")}
	for _, c := range h.Commands() {
		if c.OwnerOnly && !owner {
			continue
		}
		line := tgui.Raw(string(tgui.Code("/"+c.Name)) + " " + string(tgui.Esc(c.Description)))
		if c.OwnerOnly {
			line += " " + tgui.I("(owner)")
		}
		lines = append(lines, line)
	}
	return Reply{Text: string(tgui.Lines(lines...))}, nil
}

// latest shows captions only and never marks anything sent.
func (h *Handlers) latest(ctx context.Context, _ *Request) (Reply, error) {
	offers, err := h.backend.ListPending(ctx, latestLimit)
	if err != nil {
		return Reply{}, err
	}
	if len(offers) == 0 {
		return Reply{Text: "No pending offers."}, nil
	}
	rep := Reply{Text: fmt.Sprintf("%d pending offer(s), newest first:", len(offers))}
	for _, o := range offers {
		rep.More = append(rep.More, render.Caption(o, ""))
	}
	return rep, nil
}

func (h *Handlers) refresh(ctx context.Context, _ *Request) (Reply, error) {
	res, err := h.cycler.Trigger(ctx, cycle.ReasonManual)
	if errors.Is(err, cycle.ErrCycleInProgress) {
		return Reply{Text: "A cycle is already running; your request was merged into it."}, nil
	}
	if err != nil {
		text := tgui.Lines(
			tgui.B("Cycle aborted"),
			tgui.Field("Outcome", res.Outcome),
			tgui.Field("Error", err.Error()),
		)
		return Reply{Text: string(text)}, nil
	}
	return Reply{Text: string(formatResult("Cycle finished", res))}, nil
}

func (h *Handlers) stats(ctx context.Context, _ *Request) (Reply, error) {
	st, err := h.backend.Stats(ctx)
	if err != nil {
		return Reply{}, err
	}
	text := tgui.Lines(
		tgui.B("Offer store"),
		tgui.Field("Total", humanize.Comma(int64(st.Total))),
		tgui.Field("Sent", humanize.Comma(int64(st.Sent))),
		tgui.Field("Pending", humanize.Comma(int64(st.Pending))),
	)
	return Reply{Text: string(text)}, nil
}

func (h *Handlers) status(context.Context, *Request) (Reply, error) {
	st := h.cycler.Status()
	next := "not scheduled"
	if !st.Next.IsZero() {
		next = st.Next.Format("2006-01-02 15:04 MST") + " (" + humanize.Time(st.Next) + ")"
	}
	sched := tgui.Lines(
		tgui.B("Scheduler"),
		tgui.Field("State", st.State.String()),
		tgui.Field("Schedule", st.Schedule),
		tgui.Field("Next run", next),
		tgui.Field("Runs", fmt.Sprintf("%d (coalesced %d)", st.Runs, st.Coalesced)),
	)
	last := tgui.I("No cycle has run yet.")
	if st.Last != nil {
		last = formatResult("Last cycle", *st.Last)
	}
	return Reply{Text: string(tgui.JoinH("\n\n", sched, last))}, nil
}

// clear asks for confirmation unless called as "/clear yes".
func (h *Handlers) clear(ctx context.Context, req *Request) (Reply, error) {
	if len(req.Args) > 0 && strings.EqualFold(req.Args[0], "yes") {
		return h.purge(ctx, req)
	}
	return Reply{
		Text: "Delete every stored offer? Already posted offers may be posted again.",
		Markup: &Keyboard{Buttons: []Button{
			{Text: "Yes, delete all", Unique: purgeAction, Data: purgeConfirm},
			{Text: "Cancel", Unique: purgeAction, Data: purgeCancel},
		}},
	}, nil
}

// PurgeCallback handles the confirmation buttons of /clear.
func (h *Handlers) PurgeCallback(ctx context.Context, req *Request) (Reply, error) {
	if len(req.Args) == 0 || req.Args[0] != purgeConfirm {
		return Reply{Text: "Purge cancelled."}, nil
	}
	return h.purge(ctx, req)
}

func (h *Handlers) purge(ctx context.Context, req *Request) (Reply, error) {
	n, err := h.backend.PurgeAll(ctx)
	if err != nil {
		return Reply{}, err
	}
	h.log.Warn("offers purged by operator", logx.Int64("from_id", req.FromID), logx.Int64("deleted", n))
	return Reply{Text: fmt.Sprintf("Deleted %s offer(s).", humanize.Comma(n))}, nil
}

func formatResult(title string, res cycle.Result) tgui.H {
	rep := res.Report
	id := res.ID
	if len(id) > 8 {
		id = id[:8]
	}
	lines := []tgui.H{
		tgui.B(title),
		tgui.Field("ID", id),
		tgui.Field("Reason", string(res.Reason)),
		tgui.Field("Outcome", res.Outcome),
		tgui.Field("New offers", fmt.Sprint(rep.Ingest.New)),
		tgui.Field("Delivered", fmt.Sprintf("%d (photo %d, text %d, failed %d)",
			rep.Deliver.Delivered, rep.Deliver.ViaPhoto, rep.Deliver.ViaText, rep.Deliver.Failed)),
		tgui.Field("Failed sources", fmt.Sprint(rep.Ingest.Failed)),
		tgui.Field("Took", res.Finished.Sub(res.Started).Round(time.Millisecond).String()),
	}
	if !res.Finished.IsZero() {
		lines = append(lines, tgui.Field("Finished", humanize.Time(res.Finished)))
	}
	return tgui.Lines(lines...)
}

// ErrorText is what a user sees when a command fails.
func ErrorText(err error) string {
	if pipeline.IsStoreUnavailable(err) {
		return "The offer store is unavailable right now. Try again later."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "That took too long. Try again later."
	}
	return "Command failed. Check the logs for details."
}

package pipeline

import (
	"context"
	"errors"
	"time"

	"offerbot/internal/offer"
	logx "offerbot/pkg/logx"
)

const markTimeout = 5 * time.Second

type DeliverReport struct {
	Attempted int
	Delivered int
	ViaPhoto  int
	ViaText   int
	Failed    int
}

// RunDelivery publishes up to limit pending offers (the configured batch
// size when limit <= 0), newest first and strictly one at a time. Each
// offer is marked sent right after its first successful send; an offer
// that fails both tiers stays pending for the next cycle.
func (p *Pipeline) RunDelivery(ctx context.Context, limit int) (DeliverReport, error) {
	opts, _, _, render := p.snapshot()
	if limit <= 0 {
		limit = opts.BatchSize
	}
	log := p.log.With(logx.String("comp", "deliver"))

	var rep DeliverReport
	if p.pub == nil {
		return rep, ErrNoPublisher
	}
	pending, err := p.store.ListPending(ctx, limit)
	if err != nil {
		return rep, storeErr("list pending", err)
	}
	if len(pending) == 0 {
		log.Debug("nothing to deliver")
		return rep, nil
	}

	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Attempted++

		tier, ok := p.deliverOne(ctx, o, render, opts, log)
		if !ok {
			rep.Failed++
			p.obs.DeliveryFailed()
			continue
		}
		if err := p.markSent(ctx, o.Link); err != nil {
			log.Error("mark sent failed after delivery", logx.String("link", o.Link), logx.Err(err))
			return rep, storeErr("mark sent", err)
		}
		rep.Delivered++
		if tier == OpPhoto {
			rep.ViaPhoto++
		} else {
			rep.ViaText++
		}
		p.obs.Delivered(tier)
	}

	log.Info("delivery done",
		logx.Int("attempted", rep.Attempted),
		logx.Int("delivered", rep.Delivered),
		logx.Int("photo", rep.ViaPhoto),
		logx.Int("text", rep.ViaText),
		logx.Int("failed", rep.Failed),
	)
	return rep, nil
}

func (p *Pipeline) deliverOne(ctx context.Context, o offer.Offer, r Renderer, opts Options, log logx.Logger) (Op, bool) {
	payload := offer.Payload{Caption: o.Title}
	if r != nil {
		payload = r.Render(ctx, o)
	}

	if payload.HasImage() {
		err := p.send(ctx, opts.SendTimeout, func(sctx context.Context) error {
			return p.pub.SendPhoto(sctx, opts.Target, payload.Image, payload.Caption)
		})
		if err == nil {
			return OpPhoto, true
		}
		if OutcomeUnknown(err) {
			log.Warn("photo outcome unknown, offer stays pending without text fallback",
				logx.String("link", o.Link), logx.Err(err))
			return "", false
		}
		log.Debug("photo send failed, falling back to text", logx.String("link", o.Link), logx.Err(err))
	}

	err := p.send(ctx, opts.SendTimeout, func(sctx context.Context) error {
		return p.pub.SendText(sctx, opts.Target, payload.Caption)
	})
	if err == nil {
		return OpText, true
	}
	var te *TransportError
	op := OpText
	if errors.As(err, &te) {
		op = te.Op
	}
	log.Warn("delivery failed, offer stays pending",
		logx.String("link", o.Link),
		logx.String("op", string(op)),
		logx.Err(err),
	)
	return "", false
}

// markSent records a confirmed send. The post already exists in the
// channel, so cycle cancellation (shutdown, cycle timeout) must not drop
// the record; only markTimeout bounds it.
func (p *Pipeline) markSent(ctx context.Context, link string) error {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	return p.store.MarkSent(mctx, link)
}

func (p *Pipeline) send(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(sctx)
}

package telegram

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "offerbot/pkg/logx"
)

// Request is one command invocation, independent of telebot.
type Request struct {
	Command string
	ChatID  int64
	FromID  int64
	Args    []string
	Log     logx.Logger
}

// Reply is what a command answers with. More are sent as follow-up
// messages without markup.
type Reply struct {
	Text   string
	More   []string
	Markup *Keyboard
}

type HandlerFunc func(ctx context.Context, req *Request) (Reply, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (Reply, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (rep Reply, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("command panicked",
						logx.String("cmd", req.Command),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (Reply, error) {
			start := time.Now()
			rep, err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{
				logx.String("cmd", req.Command),
				logx.Int64("chat_id", req.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				log.Warn("command failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				log.Info("command ok", fields...)
			default:
				log.Debug("command ok", fields...)
			}
			return rep, err
		}
	}
}

const ownerOnlyText = "This command is restricted to the bot owner."

// MWOwnerOnly answers non-owners with a fixed refusal and never calls next.
func MWOwnerOnly(isOwner func(int64) bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (Reply, error) {
			if !isOwner(req.FromID) {
				req.Log.Info("owner-only command refused", logx.String("cmd", req.Command), logx.Int64("from_id", req.FromID))
				return Reply{Text: ownerOnlyText}, nil
			}
			return next(ctx, req)
		}
	}
}

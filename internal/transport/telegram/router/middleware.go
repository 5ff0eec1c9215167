package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "announcebot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Bool("admin", req.IsAdmin),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				req.Logger.Info("request ok", fields...)
			default:
				req.Logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWAccess rejects non-admins from admin-only handlers.
func MWAccess(level Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if level != AccessAdmin {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			if req.IsAdmin {
				return next(ctx, req)
			}
			req.Logger.Info("access denied")
			if req.Callback != nil {
				return req.Answer(ctx, "Access denied")
			}
			_, err := req.Reply(ctx, AccessDeniedText, nil)
			return err
		}
	}
}

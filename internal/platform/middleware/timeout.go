package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on the request context and runs the
// handler on the request goroutine. A response the handler starts after
// the deadline is discarded and replaced with 504. A zero timeout disables
// it.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			res := c.Response()
			orig := res.Writer
			dw := &deadlineWriter{ResponseWriter: orig, ctx: ctx}
			res.Writer = dw
			defer func() { res.Writer = orig }()

			err := next(c)

			if dw.timedOut {
				orig.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
				orig.WriteHeader(http.StatusGatewayTimeout)
				res.Status = http.StatusGatewayTimeout
				_, werr := orig.Write([]byte(`{"message":"request timed out"}` + "\n"))
				return werr
			}
			if !res.Committed && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
			}
			return err
		}
	}
}

// deadlineWriter drops a response whose header is written after ctx is done.
type deadlineWriter struct {
	http.ResponseWriter
	ctx         context.Context
	wroteHeader bool
	timedOut    bool
}

func (w *deadlineWriter) WriteHeader(code int) {
	if w.wroteHeader || w.timedOut {
		return
	}
	if w.ctx.Err() != nil {
		w.timedOut = true
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *deadlineWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.timedOut {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

func (w *deadlineWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Package echoambar serves an ambar data destination with echo
package echoambar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aneshas/eventlog"
	"github.com/aneshas/eventlog/ambar"
)

// DefaultMaxBodyBytes bounds the size of a pushed request
const DefaultMaxBodyBytes int64 = 4 << 20

var _ Projector = (*ambar.Ambar)(nil)

// Projector is an interface for projecting events
type Projector interface {
	Project(ctx context.Context, cb eventlog.EventsReceivedFunc, data []byte) error
}

// Cfg represents handler configuration
type Cfg struct {
	Logger       *slog.Logger
	MaxBodyBytes int64
}

// Option represents handler option
type Option func(Cfg) Cfg

// WithLogger sets the logger failed projections are reported to
func WithLogger(l *slog.Logger) Option {
	return func(cfg Cfg) Cfg {
		cfg.Logger = l

		return cfg
	}
}

// WithMaxBodyBytes sets the largest accepted request body
func WithMaxBodyBytes(n int64) Option {
	return func(cfg Cfg) Cfg {
		cfg.MaxBodyBytes = n

		return cfg
	}
}

// Wrap adapts a Projector to echo. The returned func binds the callback
// every pushed event is projected to.
func Wrap(a Projector, opts ...Option) func(cb eventlog.EventsReceivedFunc) echo.HandlerFunc {
	cfg := Cfg{
		Logger:       slog.Default(),
		MaxBodyBytes: DefaultMaxBodyBytes,
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(cb eventlog.EventsReceivedFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()

			data, err := io.ReadAll(http.MaxBytesReader(c.Response(), r.Body, cfg.MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError

				if errors.As(err, &tooLarge) {
					cfg.Logger.Warn("ambar payload too large, skipping", "limit", tooLarge.Limit)

					return c.JSONBlob(http.StatusOK, []byte(ambar.KeepGoingResp))
				}

				return err
			}

			return c.JSONBlob(http.StatusOK, []byte(response(cfg.Logger, a.Project(r.Context(), cb, data))))
		}
	}
}

// response maps a projection outcome to the ambar result policy
func response(logger *slog.Logger, err error) string {
	switch {
	case err == nil:
		return ambar.SuccessResp

	case errors.Is(err, ambar.ErrNoRetry):
		logger.Warn("ambar projection failed, not retrying", "error", err)

		return ambar.SuccessResp

	case errors.Is(err, ambar.ErrKeepItGoing):
		logger.Warn("ambar projection failed, keep going", "error", err)

		return ambar.KeepGoingResp

	default:
		logger.Error("ambar projection failed, asking for retry", "error", err)

		return ambar.RetryResp
	}
}

// Package server assembles the eventlogd process: storage engine, metrics,
// HTTP API and the stream index projection
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/aneshas/eventlog"
	"github.com/aneshas/eventlog/gormstore"
	"github.com/aneshas/eventlog/inmemory"
	"github.com/aneshas/eventlog/internal/config"
	"github.com/aneshas/eventlog/internal/httpapi"
	"github.com/aneshas/eventlog/metrics"
)

const shutdownTimeout = 10 * time.Second

// Server is the eventlogd process
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	store     *eventlog.EventStore
	closer    func() error
	echo      *echo.Echo
	projector *eventlog.Projector
}

// New builds the server described by cfg
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := metrics.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	enc := eventlog.NewJsonEncoder(httpapi.Types()...)

	engine, closer, err := newEngine(cfg.Storage, enc, logger)
	if err != nil {
		return nil, fmt.Errorf("storage engine: %w", err)
	}

	store, err := eventlog.New(metrics.Instrument(engine, m), eventlog.WithLogger(logger))
	if err != nil {
		_ = closer()

		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	h := httpapi.NewHandler(store, logger)
	h.Register(e, reg)

	if cfg.Replication.Enabled {
		h.RegisterReplication(e, enc, httpapi.ReplicationCfg{
			SourceBucket: cfg.Replication.SourceBucket,
			Username:     cfg.Replication.Username,
			Password:     cfg.Replication.Password,
		})
	}

	index := NewStreamIndex()

	e.GET("/streams", func(c echo.Context) error {
		return c.JSON(http.StatusOK, index.Snapshot())
	})

	projector := eventlog.NewProjector(store, eventlog.NewMemoryCheckpointStore(), eventlog.WithLogger(logger))
	projector.Add("stream_index", index.Project)

	return &Server{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		closer:    closer,
		echo:      e,
		projector: projector,
	}, nil
}

func newEngine(cfg config.StorageConfig, enc eventlog.Encoder, logger *slog.Logger) (eventlog.StorageEngine, func() error, error) {
	if cfg.Engine == config.EngineMemory {
		e := inmemory.New(
			inmemory.WithBucket(cfg.Bucket),
			inmemory.WithPollInterval(cfg.PollInterval),
			inmemory.WithLogger(logger),
		)

		return e, func() error { return nil }, nil
	}

	db := gormstore.WithSQLiteDB(cfg.Path)

	if cfg.Engine == config.EnginePostgres {
		db = gormstore.WithPostgresDB(cfg.DSN)
	}

	e, err := gormstore.New(enc,
		db,
		gormstore.WithBucket(cfg.Bucket),
		gormstore.WithPartitions(cfg.Partitions),
		gormstore.WithSubscriptionOptions(gormstore.SubscriptionOptions{
			MaxItemCount: cfg.PageSize,
			PollEvery:    cfg.PollInterval,
		}),
		gormstore.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}

	return e, e.Close, nil
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler { return s.echo }

// Store returns the event store served
func (s *Server) Store() *eventlog.EventStore { return s.store }

// Run serves HTTP and runs the projector until ctx is cancelled or one of
// them fails
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", "addr", s.cfg.HTTPAddr)

		err := s.echo.Start(s.cfg.HTTPAddr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		return s.projector.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return s.echo.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	if closeErr := s.closer(); closeErr != nil {
		s.logger.Error("closing storage engine", "error", closeErr)
	}

	return err
}

// Package gormstore provides a storage engine backed by sqlite or postgres
// (through gorm). It reproduces the behavior of the in memory reference
// engine. Subscriptions read a partitioned feed of the events table and
// emit partition checkpoints.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aneshas/eventlog"
)

var _ eventlog.StorageEngine = (*Engine)(nil)

var errConflict = errors.New("concurrency conflict")

const logLockKey = "eventlog/event"

const (
	// DefaultPartitions is the number of feed partitions streams are hashed into
	DefaultPartitions = 4

	// DefaultMaxItemCount is the page size of subscription reads
	DefaultMaxItemCount = 100

	// DefaultPollEvery is the subscription poll interval
	DefaultPollEvery = 5 * time.Second
)

// SubscriptionOptions configures subscriptions created by the engine
type SubscriptionOptions struct {
	MaxItemCount int
	PollEvery    time.Duration
}

// Cfg represents engine configuration
type Cfg struct {
	PostgresDSN  string
	SQLitePath   string
	DB           *gorm.DB
	Bucket       string
	Partitions   int
	Subscription SubscriptionOptions
	Logger       *slog.Logger
}

// Option represents engine configuration option
type Option func(Cfg) Cfg

// WithPostgresDB is an option that can be used to configure
// the engine to use postgres as a backing storage (pgx driver)
func WithPostgresDB(dsn string) Option {
	return func(cfg Cfg) Cfg {
		cfg.PostgresDSN = dsn

		return cfg
	}
}

// WithSQLiteDB is an option that can be used to configure
// the engine to use sqlite as a backing storage
func WithSQLiteDB(path string) Option {
	return func(cfg Cfg) Cfg {
		cfg.SQLitePath = path

		return cfg
	}
}

// WithGormDB makes the engine use an already opened connection
func WithGormDB(db *gorm.DB) Option {
	return func(cfg Cfg) Cfg {
		cfg.DB = db

		return cfg
	}
}

// WithBucket binds the engine to a bucket (eventlog.DefaultBucket if blank)
func WithBucket(bucket string) Option {
	return func(cfg Cfg) Cfg {
		cfg.Bucket = bucket

		return cfg
	}
}

// WithPartitions sets the number of partitions new streams are hashed into
func WithPartitions(n int) Option {
	return func(cfg Cfg) Cfg {
		cfg.Partitions = n

		return cfg
	}
}

// WithSubscriptionOptions configures page size and poll interval of subscriptions
func WithSubscriptionOptions(opts SubscriptionOptions) Option {
	return func(cfg Cfg) Cfg {
		cfg.Subscription = opts

		return cfg
	}
}

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(cfg Cfg) Cfg {
		cfg.Logger = l

		return cfg
	}
}

// New constructs a new engine
// enc - a specific encoder implementation (see eventlog.JsonEncoder)
func New(enc eventlog.Encoder, opts ...Option) (*Engine, error) {
	if enc == nil {
		return nil, fmt.Errorf("encoder implementation must be provided")
	}

	cfg := Cfg{
		Partitions: DefaultPartitions,
		Subscription: SubscriptionOptions{
			MaxItemCount: DefaultMaxItemCount,
			PollEvery:    DefaultPollEvery,
		},
		Logger: slog.Default(),
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.Partitions < 1 {
		return nil, fmt.Errorf("partition count should be at least 1")
	}

	if cfg.Subscription.MaxItemCount < 1 {
		return nil, fmt.Errorf("max item count should be at least 1")
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db := cfg.DB

	if db == nil {
		var err error

		db, err = open(cfg)
		if err != nil {
			return nil, err
		}
	}

	if err := db.AutoMigrate(&gormEvent{}, &gormCheckpoint{}); err != nil {
		return nil, err
	}

	cfg.Bucket = eventlog.ResolveBucket(cfg.Bucket)

	return &Engine{
		db:     db,
		enc:    enc,
		cfg:    cfg,
		logger: cfg.Logger.With("engine", "gorm", "dialect", db.Dialector.Name(), "bucket", cfg.Bucket),
	}, nil
}

func open(cfg Cfg) (*gorm.DB, error) {
	if cfg.PostgresDSN == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("either postgres dsn or sqlite path must be provided")
	}

	var dial gorm.Dialector

	if cfg.PostgresDSN != "" {
		dial = postgres.Open(cfg.PostgresDSN)
	}

	if cfg.SQLitePath != "" {
		dial = sqlite.Open(cfg.SQLitePath)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if cfg.SQLitePath != "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}

		// sqlite allows a single writer, serialize at the pool
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// Engine represents a gorm storage engine bound to a single bucket
type Engine struct {
	db     *gorm.DB
	enc    eventlog.Encoder
	cfg    Cfg
	logger *slog.Logger
}

// InBucket returns an engine sharing the connection of e but bound to bucket
func (e *Engine) InBucket(bucket string) *Engine {
	cfg := e.cfg
	cfg.Bucket = eventlog.ResolveBucket(bucket)

	return &Engine{
		db:     e.db,
		enc:    e.enc,
		cfg:    cfg,
		logger: cfg.Logger.With("engine", "gorm", "dialect", e.db.Dialector.Name(), "bucket", cfg.Bucket),
	}
}

// Close should be called as a part of cleanup process
// in order to close the underlying sql connection
func (e *Engine) Close() error {
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// AppendToStream checks the stream length and inserts the batch inside one
// transaction. On postgres every appender takes the same transaction scoped
// advisory lock, so sequence order equals commit order and a feed reading
// sequence > token never passes over a row committed later.
func (e *Engine) AppendToStream(ctx context.Context, streamID string, events []eventlog.StorageEvent) (eventlog.AppendResult, error) {
	if len(events) == 0 {
		return eventlog.AppendResult{}, fmt.Errorf("%w: no events to append", eventlog.ErrInvalidArgument)
	}

	expected := events[0].EventNumber

	rows, err := e.toRows(streamID, events, &e.cfg.Bucket)
	if err != nil {
		return eventlog.AppendResult{}, err
	}

	var res eventlog.AppendResult

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockLog(tx); err != nil {
			return err
		}

		actual, err := e.streamLength(tx, streamID)
		if err != nil {
			return err
		}

		if actual != expected-1 {
			res = eventlog.Conflict(expected, actual)

			return errConflict
		}

		if err := tx.Create(&rows).Error; err != nil {
			return err
		}

		res = eventlog.Committed(expected)

		return nil
	})

	if errors.Is(err, errConflict) {
		return res, nil
	}

	if isUniqueViolation(err) {
		actual, lenErr := e.streamLength(e.db.WithContext(ctx), streamID)
		if lenErr != nil {
			return eventlog.AppendResult{}, lenErr
		}

		return eventlog.Conflict(expected, actual), nil
	}

	if err != nil {
		return eventlog.AppendResult{}, err
	}

	return res, nil
}

// ImportUntagged writes events without a bucket tag and without a
// concurrency check, the way rows were stored before bucket separation
// existed. Such rows are read as part of eventlog.DefaultBucket.
func (e *Engine) ImportUntagged(ctx context.Context, events ...eventlog.StorageEvent) error {
	for _, evt := range events {
		rows, err := e.toRows(evt.StreamID, []eventlog.StorageEvent{evt}, nil)
		if err != nil {
			return err
		}

		err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := lockLog(tx); err != nil {
				return err
			}

			return tx.Create(&rows).Error
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// ReadStreamForwards returns events numbered start..start+count-1
func (e *Engine) ReadStreamForwards(ctx context.Context, streamID string, start, count int) ([]eventlog.StorageEvent, error) {
	var rows []gormEvent

	q := e.inBucket(e.db.WithContext(ctx)).
		Where("stream_id = ?", streamID).
		Where("event_number >= ?", start)

	if count <= eventlog.AllEvents-start {
		q = q.Where("event_number < ?", start+count)
	}

	if err := q.
		Order("event_number asc").
		Order("sequence asc").
		Find(&rows).Error; err != nil {

		return nil, err
	}

	return e.decodeRows(rows)
}

// SubscribeToAll starts a subscription bound to ctx. checkpoint must be empty
// or a checkpoint previously produced by this engine.
func (e *Engine) SubscribeToAll(ctx context.Context, cb eventlog.EventsReceivedFunc, checkpoint string) (*eventlog.Subscription, error) {
	f, err := e.newFeed(cb, checkpoint)
	if err != nil {
		return nil, err
	}

	sub := eventlog.NewSubscription(
		f.drain,
		eventlog.WithPollInterval(e.cfg.Subscription.PollEvery),
		eventlog.WithSubscriptionLogger(e.logger),
	)

	sub.Start(ctx)

	return sub, nil
}

// ReadAllForwards drains every partition once
func (e *Engine) ReadAllForwards(ctx context.Context, cb eventlog.EventsReceivedFunc, sinceCheckpoint string) error {
	f, err := e.newFeed(cb, sinceCheckpoint)
	if err != nil {
		return err
	}

	return f.drain(ctx)
}

// lockLog serializes writers of the event table until the transaction ends.
// sqlite already allows a single writer.
func lockLog(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}

	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", logLockKey).Error
}

func (e *Engine) streamLength(tx *gorm.DB, streamID string) (int, error) {
	var n int64

	if err := e.inBucket(tx.Model(&gormEvent{})).
		Where("stream_id = ?", streamID).
		Count(&n).Error; err != nil {

		return 0, err
	}

	return int(n), nil
}

// inBucket scopes a query to the engine bucket, untagged rows
// count as the default bucket
func (e *Engine) inBucket(tx *gorm.DB) *gorm.DB {
	return tx.Where("COALESCE(bucket, ?) = ?", eventlog.DefaultBucket, e.cfg.Bucket)
}

func (e *Engine) partitionOf(streamID string) int {
	h := fnv.New32a()
	h.Write([]byte(streamID))

	return int(h.Sum32() % uint32(e.cfg.Partitions))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var sqliteErr sqlite3.Error

	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

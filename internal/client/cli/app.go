package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/archive"
	"github.com/dmitrijs2005/memovault/internal/client/blobstore"
	"github.com/dmitrijs2005/memovault/internal/client/changes"
	"github.com/dmitrijs2005/memovault/internal/client/config"
	"github.com/dmitrijs2005/memovault/internal/client/database"
	"github.com/dmitrijs2005/memovault/internal/client/events"
	"github.com/dmitrijs2005/memovault/internal/client/metrics"
	"github.com/dmitrijs2005/memovault/internal/client/remote"
	"github.com/dmitrijs2005/memovault/internal/client/remote/providers"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/client/resolver"
	"github.com/dmitrijs2005/memovault/internal/client/search"
	"github.com/dmitrijs2005/memovault/internal/client/services"
	"github.com/dmitrijs2005/memovault/internal/client/syncer"
	"github.com/dmitrijs2005/memovault/internal/logging"
	"github.com/dmitrijs2005/memovault/internal/timex"
)

type App struct {
	config   *config.Config
	db       *sql.DB
	log      logging.Logger
	metrics  *metrics.Metrics
	bus      *events.Bus
	repos    repomanager.RepositoryManager
	records  services.RecordService
	index    *search.Index
	blobs    *blobstore.Store
	remote   remote.Store
	queue    *syncer.Queue
	engine   *syncer.Engine
	archives *archive.Service

	reader *bufio.Reader
	out    io.Writer
}

// NewApp opens the local store under c.DataDir and wires every component.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	logFile := c.LogFile
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(c.DataDir, logFile)
	}
	log := logging.New(logging.Options{File: logFile, Level: c.LogLevel, MaxSizeMB: 10, MaxBackups: 3})

	database.SetLogger(log)
	db, err := database.InitDatabase(ctx, c.DatabasePath())
	if err != nil {
		log.Error(ctx, "error initializing database", "err", err)
		return nil, err
	}

	store, err := providers.New(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a, err := newApp(c, db, store, log, timex.System)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// newApp builds the component graph over an open database.
func newApp(c *config.Config, db *sql.DB, store remote.Store, log logging.Logger, clock timex.Clock) (*App, error) {
	repos := repomanager.NewSQLiteRepositoryManager()
	m := metrics.New()
	bus := events.NewBus()

	blobs, err := blobstore.New(filepath.Join(c.DataDir, "blobs"))
	if err != nil {
		return nil, err
	}

	index := search.NewIndex(db, repos, m, log)
	tracker := changes.NewTracker(db, repos)
	records := services.NewRecordService(db, repos, resolver.New(repos, clock, m, log), log,
		services.WithClock(clock), services.WithBlobs(blobs), services.WithObservers(index, tracker))

	queue := syncer.NewQueue(db, repos, syncer.QueueConfig{
		BaseBackoff:  c.QueueBaseBackoff,
		MaxRetries:   c.QueueMaxRetries,
		PollInterval: c.QueuePollInterval,
	}, clock, m, log)

	engine, err := syncer.NewEngine(syncer.Deps{
		DB: db, Repos: repos, Records: records, Tracker: tracker, Remote: store,
		Blobs: blobs, Queue: queue, Bus: bus, Metrics: m, Log: log, Clock: clock,
	}, syncer.Options{BatchSize: c.SyncBatchSize})
	if err != nil {
		return nil, err
	}

	archives, err := archive.NewService(archive.Deps{
		DB: db, Repos: repos, Records: records, Blobs: blobs, Dir: c.ExportPath(),
		Bus: bus, Metrics: m, Log: log, Clock: clock,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		config: c, db: db, log: log, metrics: m, bus: bus, repos: repos,
		records: records, index: index, blobs: blobs, remote: store,
		queue: queue, engine: engine, archives: archives,
		reader: bufio.NewReader(os.Stdin), out: os.Stdout,
	}, nil
}

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the background workers and blocks in the REPL until the user
// exits or a signal arrives.
func (a *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	a.initSignalHandler(cancelFunc)

	a.log.Info(ctx, "starting memovault", "data_dir", a.config.DataDir, "remote", a.config.RemoteType)

	var wg sync.WaitGroup
	a.startBackground(ctx, &wg)

	fmt.Fprintln(a.out, "memovault CLI (type 'help' for commands)")
	runREPL(ctx, a, a.status, a.reader)

	cancelFunc()
	wg.Wait()
	a.Close()
}

func (a *App) startBackground(ctx context.Context, wg *sync.WaitGroup) {
	_, ch := a.bus.Subscribe(64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.printEvents(ctx, ch)
	}()

	if a.remote != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error(ctx, "queue worker stopped", "err", err)
			}
		}()
	}

	if a.remote != nil && a.config.AutoSyncSchedule != "" {
		s, err := syncer.NewScheduler(a.engine, a.config.AutoSyncSchedule)
		if err != nil {
			a.log.Error(ctx, "auto sync disabled", "err", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Run(ctx)
			}()
		}
	}

	if a.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.serveMetrics(ctx)
		}()
	}
}

func (a *App) printEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != events.Progress {
				fmt.Fprintln(a.out, ev.String())
			}
		}
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	srv := &http.Server{
		Addr:              a.config.MetricsAddr,
		Handler:           a.metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.Info(ctx, "serving metrics", "addr", a.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error(ctx, "metrics server failed", "err", err)
	}
}

// status renders the prompt suffix: remote type and sync state.
func (a *App) status() string {
	if a.remote == nil {
		return "(local)"
	}
	return fmt.Sprintf("(%s %s)", a.config.RemoteType, a.engine.State())
}

func (a *App) Close() {
	a.bus.Close()
	if err := a.db.Close(); err != nil {
		a.log.Error(context.Background(), "failed to close database", "err", err)
	}
}

// internal/collector/collector.go
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github-geo-collector/internal/config"
	custom_errors "github-geo-collector/internal/errors"
	"github-geo-collector/internal/github"
	"github-geo-collector/internal/model"
	"github-geo-collector/internal/store"
)

// Stats summarizes one collection run.
type Stats struct {
	Repos   int   `json:"repos"`
	Failed  int   `json:"failed"`
	Fetched int64 `json:"fetched"`
	Skipped int64 `json:"skipped"`
	Saved   int64 `json:"saved"`
	Writes  int64 `json:"writes"`
	Dropped int64 `json:"dropped"`
}

type counters struct {
	fetched atomic.Int64
	skipped atomic.Int64
	saved   atomic.Int64
	writes  atomic.Int64
	dropped atomic.Int64
}

// Engine fetches commit history from a source and stores it through a single batching writer.
type Engine struct {
	cfg    config.Collector
	source github.HistorySource
	store  store.Store
	logger logrus.FieldLogger
	now    func() time.Time
}

// New creates an Engine.
func New(cfg config.Collector, source github.HistorySource, st store.Store, logger logrus.FieldLogger) *Engine {
	cfg.Concurrency = max(cfg.Concurrency, 1)
	cfg.QueueCapacity = max(cfg.QueueCapacity, 1)
	cfg.BatchSize = max(cfg.BatchSize, 1)
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		source: source,
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Start runs a collection immediately and then every interval until ctx is done.
// Each cycle covers the configured window length ending at the cycle's start.
func (e *Engine) Start(ctx context.Context, repos []string, interval time.Duration) {
	span := e.cfg.Until.Sub(e.cfg.Since)
	e.logger.WithFields(logrus.Fields{
		"interval":    interval.String(),
		"concurrency": e.cfg.Concurrency,
	}).Info("Starting collector")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		until := e.now().UTC()
		if _, err := e.RunWindow(ctx, repos, until.Add(-span), until); err != nil {
			e.logger.WithError(err).Warn("Collection cycle finished with errors")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			e.logger.WithField("reason", ctx.Err()).Info("Collector shutting down")
			return
		}
	}
}

// Run collects the configured window.
func (e *Engine) Run(ctx context.Context, repos []string) (Stats, error) {
	return e.RunWindow(ctx, repos, e.cfg.Since, e.cfg.Until)
}

// RunWindow collects commits committed in [since, until) for every repository.
// Per-repository failures are aggregated into the returned error and never stop other repositories.
// Cancelling ctx stops producers at their next page; batches already queued are still written
// within the shutdown grace period.
func (e *Engine) RunWindow(ctx context.Context, repos []string, since, until time.Time) (Stats, error) {
	started := e.now()
	var c counters
	var mu sync.Mutex
	var errs *multierror.Error
	failed := 0
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = multierror.Append(errs, err)
		failed++
	}

	// writes outlive ctx so a stop signal does not cut a transaction short
	writeCtx, cancelWrites := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWrites()

	queue := make(chan []model.Commit, e.cfg.QueueCapacity)
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- e.consume(writeCtx, queue, &c)
	}()

	locations := newLocationCache(e.source, e.logger)

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, name := range repos {
		repo, err := model.ParseRepo(name)
		if err != nil {
			e.logger.WithError(err).Error("Skipping repository")
			fail(err)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := e.collectRepo(ctx, repo, since, until, queue, locations, &c)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				e.logger.WithField("repo", repo.FullName()).Info("Repository collection interrupted")
			default:
				e.logger.WithError(err).WithFields(logrus.Fields{
					"repo":     repo.FullName(),
					"terminal": custom_errors.IsTerminal(err),
				}).Error("Failed to collect repository")
				fail(fmt.Errorf("%s: %w", repo.FullName(), err))
			}
			return nil
		})
	}
	_ = g.Wait()
	close(queue)

	if ctx.Err() != nil {
		e.logger.WithField("grace", e.cfg.ShutdownGrace.String()).Info("Stop requested, flushing queued records")
		timer := time.AfterFunc(e.cfg.ShutdownGrace, cancelWrites)
		defer timer.Stop()
	}
	if err := <-consumerDone; err != nil {
		mu.Lock()
		errs = multierror.Append(errs, err)
		mu.Unlock()
	}

	stats := Stats{
		Repos:   len(repos),
		Failed:  failed,
		Fetched: c.fetched.Load(),
		Skipped: c.skipped.Load(),
		Saved:   c.saved.Load(),
		Writes:  c.writes.Load(),
		Dropped: c.dropped.Load(),
	}
	e.logger.WithFields(logrus.Fields{
		"repos":    stats.Repos,
		"failed":   stats.Failed,
		"fetched":  stats.Fetched,
		"skipped":  stats.Skipped,
		"saved":    stats.Saved,
		"writes":   stats.Writes,
		"dropped":  stats.Dropped,
		"duration": e.now().Sub(started).String(),
	}).Info("Collection finished")

	return stats, errs.ErrorOrNil()
}

// collectRepo pages through one repository's history and queues every unseen commit.
func (e *Engine) collectRepo(ctx context.Context, repo model.Repo, since, until time.Time, queue chan<- []model.Commit, locations *locationCache, c *counters) error {
	logger := e.logger.WithField("repo", repo.FullName())
	logger.Info("Collecting repository")

	known, err := e.store.KnownSHAs(ctx, repo.FullName())
	if err != nil {
		return fmt.Errorf("load known commits: %w", err)
	}

	cursor := ""
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := e.source.CommitHistory(ctx, repo, since, until, cursor)
		if err != nil {
			return err
		}
		pages++
		c.fetched.Add(int64(len(page.Commits)))

		batch := make([]model.Commit, 0, len(page.Commits))
		for _, commit := range page.Commits {
			if !commit.Valid() {
				continue
			}
			if _, seen := known[commit.SHA]; seen {
				c.skipped.Add(1)
				continue
			}
			known[commit.SHA] = struct{}{}
			if e.cfg.ResolveLocations {
				commit = commit.WithLocation(locations.get(ctx, commit.AuthorLogin))
			}
			batch = append(batch, commit)
		}

		if len(batch) > 0 {
			// blocks while the queue is full
			select {
			case queue <- batch:
			case <-ctx.Done():
				c.dropped.Add(int64(len(batch)))
				return ctx.Err()
			}
		}

		if !page.HasNext || page.EndCursor == "" {
			break
		}
		cursor = page.EndCursor
	}

	logger.WithFields(logrus.Fields{"pages": pages, "known": len(known)}).Info("Repository collected")
	return nil
}

// consume drains the queue, writing exactly BatchSize records per full flush and the remainder
// when FlushInterval elapses or the queue is closed.
func (e *Engine) consume(ctx context.Context, queue <-chan []model.Commit, c *counters) error {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	size := e.cfg.BatchSize
	var buf []model.Commit
	var errs *multierror.Error

	flush := func(n int) {
		batch := make([]model.Commit, n)
		copy(batch, buf[:n])
		buf = append(buf[:0], buf[n:]...)

		saved, err := e.store.SaveCommits(ctx, batch)
		if err != nil {
			c.dropped.Add(int64(len(batch)))
			e.logger.WithError(err).WithField("records", len(batch)).Error("Failed to write batch")
			errs = multierror.Append(errs, fmt.Errorf("write batch of %d: %w", len(batch), err))
			return
		}
		c.writes.Add(1)
		c.saved.Add(saved)
		e.logger.WithFields(logrus.Fields{"records": len(batch), "inserted": saved}).Debug("Batch written")
	}

	for {
		select {
		case batch, ok := <-queue:
			if !ok {
				for len(buf) > 0 {
					flush(min(size, len(buf)))
				}
				return errs.ErrorOrNil()
			}
			buf = append(buf, batch...)
			for len(buf) >= size {
				flush(size)
			}
		case <-ticker.C:
			if len(buf) > 0 {
				flush(len(buf))
			}
		}
	}
}

// locationCache remembers profile locations per login for the duration of a run.
type locationCache struct {
	source github.HistorySource
	logger logrus.FieldLogger

	mu   sync.Mutex
	byID map[string]string
}

func newLocationCache(source github.HistorySource, logger logrus.FieldLogger) *locationCache {
	return &locationCache{source: source, logger: logger, byID: make(map[string]string)}
}

func (l *locationCache) get(ctx context.Context, login string) string {
	if login == "" {
		return ""
	}
	l.mu.Lock()
	loc, ok := l.byID[login]
	l.mu.Unlock()
	if ok {
		return loc
	}

	loc, err := l.source.UserLocation(ctx, login)
	if err != nil {
		l.logger.WithError(err).WithField("login", login).Warn("Failed to look up user location")
		return ""
	}

	l.mu.Lock()
	l.byID[login] = loc
	l.mu.Unlock()
	return loc
}

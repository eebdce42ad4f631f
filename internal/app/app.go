// Package app owns the process lifecycle: schema bootstrap, the first
// ingestion cycle, the background loops and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"neurodigest/internal/fetcher"
	"sync"
)

var ErrAlreadyStarted = errors.New("service already started")

type Store interface {
	Ensure(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

type Ingester interface {
	Fetch(ctx context.Context) (fetcher.Report, error)
	Run(ctx context.Context) error
}

type Runner interface {
	Run(ctx context.Context) error
}

// Server is satisfied by *http.Server.
type Server interface {
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
}

type Service struct {
	store    Store
	ingester Ingester
	notifier Runner
	server   Server
	addr     string
	closer   io.Closer
	log      *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	failed  chan error
}

type Options struct {
	Store    Store
	Ingester Ingester
	// Notifier and Server are optional.
	Notifier Runner
	Server   Server
	// Addr is the TCP address Server listens on.
	Addr string
	// Closer releases the store handle on Stop.
	Closer io.Closer
	Log    *slog.Logger
}

func New(opts Options) *Service {
	return &Service{
		store:    opts.Store,
		ingester: opts.Ingester,
		notifier: opts.Notifier,
		server:   opts.Server,
		addr:     opts.Addr,
		closer:   opts.Closer,
		log:      opts.Log.With("component", "app"),
		failed:   make(chan error, 3),
	}
}

// Start prepares the schema, ingests synchronously when the store is empty,
// then starts the scheduler, the notifier and the HTTP server.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.store.Ensure(ctx); err != nil {
		return err
	}

	var ln net.Listener

	if s.server != nil {
		var err error

		ln, err = net.Listen("tcp", s.addr)

		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.addr, err)
		}
	}

	if err := s.bootstrap(ctx); err != nil {
		if ln != nil {
			ln.Close()
		}

		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.goRun("fetcher", func() error { return s.ingester.Run(runCtx) })

	if s.notifier != nil {
		s.goRun("notifier", func() error { return s.notifier.Run(runCtx) })
	}

	if s.server != nil {
		s.goRun("http server", func() error {
			if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return context.Canceled
		})
	}

	s.started = true

	return nil
}

func (s *Service) bootstrap(ctx context.Context) error {
	n, err := s.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count articles: %w", err)
	}

	if n > 0 {
		return nil
	}

	s.log.Info("store is empty, running first ingestion cycle")

	report, err := s.ingester.Fetch(ctx)
	if err != nil {
		// An unreachable feed must not keep the site down; the scheduler retries.
		s.log.Error("first ingestion cycle failed", "error", err)
		return nil
	}

	s.log.Info("first ingestion cycle done", "stored", report.Stored, "failed_sources", report.FailedSources)

	return nil
}

func (s *Service) goRun(name string, run func() error) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if err := run(); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("background task failed", "task", name, "error", err)

			select {
			case s.failed <- fmt.Errorf("%s: %w", name, err):
			default:
			}

			return
		}

		s.log.Info("background task has stopped", "task", name)
	}()
}

// Failed reports background tasks that stopped with an error while the
// service was running.
func (s *Service) Failed() <-chan error {
	return s.failed
}

// Stop cancels the background loops, drains the HTTP server and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.started = false
	s.cancel()

	var errs []error

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for background tasks: %w", ctx.Err()))
	}

	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}

	return errors.Join(errs...)
}

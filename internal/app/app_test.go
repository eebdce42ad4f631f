package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"neurodigest/internal/fetcher"
	"neurodigest/internal/logger"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStore struct {
	count     int64
	ensureErr error
	ensured   bool
}

func (f *fakeStore) Ensure(context.Context) error {
	f.ensured = true
	return f.ensureErr
}

func (f *fakeStore) Count(context.Context) (int64, error) {
	return f.count, nil
}

type fakeIngester struct {
	fetches  atomic.Int32
	fetchErr error
	running  chan struct{}
	once     sync.Once
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{running: make(chan struct{})}
}

func (f *fakeIngester) Fetch(context.Context) (fetcher.Report, error) {
	f.fetches.Add(1)
	return fetcher.Report{Stored: 3}, f.fetchErr
}

func (f *fakeIngester) Run(ctx context.Context) error {
	f.once.Do(func() { close(f.running) })
	<-ctx.Done()

	return ctx.Err()
}

type fakeServer struct {
	stop     chan struct{}
	serveErr error
	shutdown atomic.Bool
}

func (f *fakeServer) Serve(ln net.Listener) error {
	if f.serveErr != nil {
		ln.Close()
		return f.serveErr
	}

	<-f.stop
	ln.Close()

	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	if f.shutdown.CompareAndSwap(false, true) && f.stop != nil {
		close(f.stop)
	}

	return nil
}

type fakeCloser struct{ closed atomic.Bool }

func (f *fakeCloser) Close() error {
	f.closed.Store(true)
	return nil
}

func waitRunning(t *testing.T, ing *fakeIngester) {
	t.Helper()

	select {
	case <-ing.running:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop was not started")
	}
}

func TestStart_BootstrapsEmptyStore(t *testing.T) {
	store := &fakeStore{}
	ing := newFakeIngester()
	svc := New(Options{Store: store, Ingester: ing, Log: logger.Discard()})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	if !store.ensured {
		t.Error("schema was not ensured")
	}

	if ing.fetches.Load() != 1 {
		t.Errorf("bootstrap fetches = %d, want 1", ing.fetches.Load())
	}

	waitRunning(t, ing)
}

func TestStart_SkipsBootstrapWhenPopulated(t *testing.T) {
	ing := newFakeIngester()
	svc := New(Options{Store: &fakeStore{count: 10}, Ingester: ing, Log: logger.Discard()})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	if ing.fetches.Load() != 0 {
		t.Errorf("fetches = %d, want none for a populated store", ing.fetches.Load())
	}
}

func TestStart_BootstrapFailureDoesNotBlockServing(t *testing.T) {
	ing := newFakeIngester()
	ing.fetchErr = errors.New("commit failed")
	svc := New(Options{Store: &fakeStore{}, Ingester: ing, Log: logger.Discard()})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	waitRunning(t, ing)
}

func TestStart_EnsureFailure(t *testing.T) {
	svc := New(Options{Store: &fakeStore{ensureErr: errors.New("no database")}, Ingester: newFakeIngester(), Log: logger.Discard()})

	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when the schema cannot be created")
	}
}

func TestStart_Twice(t *testing.T) {
	svc := New(Options{Store: &fakeStore{count: 1}, Ingester: newFakeIngester(), Log: logger.Discard()})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	if err := svc.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStop_TearsEverythingDown(t *testing.T) {
	ing := newFakeIngester()
	server := &fakeServer{stop: make(chan struct{})}
	closer := &fakeCloser{}
	notifier := newFakeIngester()

	svc := New(Options{
		Store:    &fakeStore{count: 1},
		Ingester: ing,
		Notifier: notifier,
		Server:   server,
		Addr:     "127.0.0.1:0",
		Closer:   closer,
		Log:      logger.Discard(),
	})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitRunning(t, ing)
	waitRunning(t, notifier)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if !server.shutdown.Load() {
		t.Error("http server was not shut down")
	}

	if !closer.closed.Load() {
		t.Error("store handle was not closed")
	}

	if err := svc.Stop(ctx); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
}

func TestStart_AddressInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")

	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	ing := newFakeIngester()
	svc := New(Options{
		Store:    &fakeStore{},
		Ingester: ing,
		Server:   &fakeServer{stop: make(chan struct{})},
		Addr:     busy.Addr().String(),
		Log:      logger.Discard(),
	})

	if err := svc.Start(context.Background()); err == nil {
		svc.Stop(context.Background())
		t.Fatal("Start should fail when the address is already bound")
	}

	if ing.fetches.Load() != 0 {
		t.Errorf("fetches = %d, want none before the server is bound", ing.fetches.Load())
	}
}

func TestFailed_ReportsServerError(t *testing.T) {
	svc := New(Options{
		Store:    &fakeStore{count: 1},
		Ingester: newFakeIngester(),
		Server:   &fakeServer{serveErr: errors.New("accept: too many open files")},
		Addr:     "127.0.0.1:0",
		Log:      logger.Discard(),
	})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	select {
	case err := <-svc.Failed():
		if err == nil {
			t.Fatal("Failed() delivered a nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("server failure was not reported")
	}
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dnstrail/dnstrail/record"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func TestListener(t *testing.T) {
	for _, payload := range []string{"garbage", "queryname:foo\npid:1\n", "queryname:foo\npid:1\npath:/bin/a\ntimestamp:yesterday\nIp:10.0.0.5"} {
		payload := payload
		t.Run("malformed chunk is skipped and the listener keeps serving: "+strconv.Quote(payload), func(t *testing.T) {
			r := require.New(t)
			store := &mockInserter{}
			addr, stop := serve(t, Config{}, store)
			defer stop()

			write(t, addr, []byte(payload))
			rec := record.Record{QueryName: "b.com", ProcessID: 2, Path: "/bin/b", Timestamp: t0, SourceAddress: "10.0.0.5"}
			write(t, addr, record.Encode(rec))

			r.Eventually(func() bool { return len(store.records()) == 1 }, 5*time.Second, 10*time.Millisecond)
			r.Equal(rec, store.records()[0])
			r.Equal(1, store.attempts())
		})
	}

	t.Run("each read is decoded on its own", func(t *testing.T) {
		r := require.New(t)
		store := &mockInserter{}
		addr, stop := serve(t, Config{ReadBufferSize: 16}, store)
		defer stop()

		// No 16 byte slice of the payload holds five lines.
		write(t, addr, record.Encode(record.Record{QueryName: "long-enough.example.com", Timestamp: t0}))

		time.Sleep(50 * time.Millisecond)
		r.Empty(store.records())
	})

	t.Run("store failure drops the record", func(t *testing.T) {
		r := require.New(t)
		store := &mockInserter{failFirst: 1}
		addr, stop := serve(t, Config{}, store)
		defer stop()

		write(t, addr, record.Encode(record.Record{QueryName: "a.com", Timestamp: t0}))
		write(t, addr, record.Encode(record.Record{QueryName: "b.com", Timestamp: t0}))

		r.Eventually(func() bool { return len(store.records()) == 1 }, 5*time.Second, 10*time.Millisecond)
		r.Equal("b.com", store.records()[0].QueryName)
		r.Equal(2, store.attempts())
	})

	t.Run("worker pool drains concurrent connections", func(t *testing.T) {
		r := require.New(t)
		store := &mockInserter{}
		addr, stop := serve(t, Config{Workers: 4}, store)
		defer stop()

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- send(addr, record.Encode(record.Record{QueryName: fmt.Sprintf("q%d.com", i), ProcessID: i, Timestamp: t0}))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			r.NoError(err)
		}

		r.Eventually(func() bool { return len(store.records()) == 20 }, 5*time.Second, 10*time.Millisecond)
	})
}

func TestListenerAcceptErrorBackoff(t *testing.T) {
	r := require.New(t)

	ln := &failingListener{err: errors.New("accept: too many open files")}
	l := New(Config{}, logrus.New(), &mockInserter{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := l.Serve(ctx, ln)
	r.ErrorIs(err, context.DeadlineExceeded)

	// 5ms doubling delays fit about six attempts into 200ms.
	r.Greater(ln.accepts(), 1)
	r.Less(ln.accepts(), 15)
}

func TestListenerStopsOnCancel(t *testing.T) {
	r := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	l := New(Config{}, logrus.New(), &mockInserter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Serve(ctx, ln)
	}()

	// An idle peer must not keep the listener alive.
	conn, err := net.Dial("tcp", ln.Addr().String())
	r.NoError(err)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		r.ErrorIs(err, context.Canceled)
	case <-time.After(5 * time.Second):
		r.FailNow("listener did not stop")
	}
}

func serve(t *testing.T, cfg Config, store Inserter) (string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	l := New(cfg, logrus.New(), store)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Serve(ctx, ln)
	}()
	return ln.Addr().String(), func() {
		cancel()
		<-done
	}
}

func write(t *testing.T, addr string, payload []byte) {
	t.Helper()
	require.NoError(t, send(addr, payload))
}

func send(addr string, payload []byte) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		conn.Close()
		return err
	}
	return conn.Close()
}

type mockInserter struct {
	mu        sync.Mutex
	stored    []record.Record
	tries     int
	failFirst int
}

func (m *mockInserter) Insert(_ context.Context, rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tries++
	if m.tries <= m.failFirst {
		return errors.New("connection reset by peer")
	}
	m.stored = append(m.stored, rec)
	return nil
}

func (m *mockInserter) records() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.Record(nil), m.stored...)
}

func (m *mockInserter) attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tries
}

type failingListener struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *failingListener) Accept() (net.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, f.err
}

func (f *failingListener) Close() error {
	return nil
}

func (f *failingListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

func (f *failingListener) accepts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dnstrail/dnstrail/metrics"
	"github.com/dnstrail/dnstrail/record"
)

const maxAcceptDelay = time.Second

type Inserter interface {
	Insert(ctx context.Context, rec record.Record) error
}

type Config struct {
	ListenAddr     string
	ReadBufferSize int
	// Workers above 1 drains that many connections at once.
	Workers int
	// ReadTimeout of zero waits for the peer indefinitely.
	ReadTimeout time.Duration
}

type Listener struct {
	cfg   Config
	log   logrus.FieldLogger
	store Inserter
}

func New(cfg Config, log logrus.FieldLogger, store Inserter) *Listener {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Listener{
		cfg:   cfg,
		log:   log,
		store: store,
	}
}

func (l *Listener) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.cfg.ListenAddr, err)
	}
	l.log.Infof("listening for records on %s", ln.Addr())
	return l.Serve(ctx, ln)
}

// Serve accepts connections until ctx is done. The listener is closed on return.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()
	defer ln.Close()

	var pool *errgroup.Group
	if l.cfg.Workers > 1 {
		pool = &errgroup.Group{}
		pool.SetLimit(l.cfg.Workers)
		defer pool.Wait() //nolint:errcheck
	}

	var acceptDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if acceptDelay == 0 {
				acceptDelay = 5 * time.Millisecond
			} else {
				acceptDelay = min(2*acceptDelay, maxAcceptDelay)
			}
			l.log.Errorf("accepting connection: %v; retrying in %s", err, acceptDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(acceptDelay):
			}
			continue
		}
		acceptDelay = 0

		if pool == nil {
			l.drain(ctx, conn)
			continue
		}
		pool.Go(func() error {
			l.drain(ctx, conn)
			return nil
		})
	}
}

// drain reads the connection to EOF. Every read is decoded as one record.
func (l *Listener) drain(ctx context.Context, conn net.Conn) {
	log := l.log.WithField("peer", conn.RemoteAddr().String())
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	buf := make([]byte, l.cfg.ReadBufferSize)
	for {
		if l.cfg.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
				log.Errorf("setting read deadline: %v", err)
				return
			}
		}
		n, err := conn.Read(buf)
		if n > 0 {
			l.handleChunk(ctx, log, buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Errorf("reading connection: %v", err)
			}
			return
		}
	}
}

func (l *Listener) handleChunk(ctx context.Context, log logrus.FieldLogger, chunk []byte) {
	metrics.IncReceivedChunks()
	rec, err := record.Decode(chunk)
	if err != nil {
		metrics.IncMalformedChunks()
		log.Warnf("skipping chunk: %v", err)
		return
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		metrics.IncStoreFailures()
		log.Errorf("dropping record, query=%s, pid=%d: %v", rec.QueryName, rec.ProcessID, err)
		return
	}
	metrics.IncStoredRecords()
	log.Debugf("stored record, query=%s, pid=%d", rec.QueryName, rec.ProcessID)
}

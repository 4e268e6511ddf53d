package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dnstrail/dnstrail/eventsource"
	"github.com/dnstrail/dnstrail/metrics"
	"github.com/dnstrail/dnstrail/record"
)

type Sender interface {
	Send(ctx context.Context, rec record.Record) error
}

type AddressProvider interface {
	Addresses(ctx context.Context) string
}

func New(
	cfg Config,
	log logrus.FieldLogger,
	source eventsource.Source,
	addresses AddressProvider,
	sender Sender,
	currentTimeGetter func() time.Time,
) *Extractor {
	if cfg.ReadInterval <= 0 {
		cfg.ReadInterval = time.Minute
	}
	if cfg.TickQueueSize <= 0 {
		cfg.TickQueueSize = 16
	}
	return &Extractor{
		cfg:               cfg,
		log:               log,
		source:            source,
		addresses:         addresses,
		sender:            sender,
		currentTimeGetter: currentTimeGetter,
	}
}

func CurrentTimeGetter() func() time.Time {
	return func() time.Time {
		return time.Now()
	}
}

type Config struct {
	ReadInterval  time.Duration
	TickQueueSize int
	Fields        eventsource.FieldMap
}

type Extractor struct {
	cfg               Config
	log               logrus.FieldLogger
	source            eventsource.Source
	addresses         AddressProvider
	sender            Sender
	currentTimeGetter func() time.Time

	// mu serializes ticks so the watermark read, sends and update happen as one step.
	mu        sync.Mutex
	watermark Watermark
}

// Start ticks immediately and then every ReadInterval until ctx is done.
func (e *Extractor) Start(ctx context.Context) error {
	ticks := make(chan struct{}, e.cfg.TickQueueSize)
	ticks <- struct{}{}
	go e.schedule(ctx, ticks)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			start := e.currentTimeGetter()
			e.log.Debug("extracting dns query events")
			if err := e.Tick(ctx); err != nil {
				e.log.Errorf("extract error: %v", err)
			} else {
				e.log.Debugf("extraction done in %s", e.currentTimeGetter().Sub(start))
			}
		}
	}
}

func (e *Extractor) schedule(ctx context.Context, ticks chan<- struct{}) {
	ticker := time.NewTicker(e.cfg.ReadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case ticks <- struct{}{}:
			default:
				metrics.IncSkippedTicks()
				e.log.Warnf("skipping tick, queue is full. "+
					"Consider increasing tick queue size from current value: %d", e.cfg.TickQueueSize)
			}
		}
	}
}

// Tick sends every event newer than the watermark and moves the watermark to the newest one seen.
// Records that fail to send are dropped.
func (e *Extractor) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	metrics.IncTicks()
	events, err := e.source.Events(ctx)
	if err != nil {
		metrics.IncSourceErrors()
		if errors.Is(err, eventsource.ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", eventsource.ErrUnavailable, err)
	}

	sourceAddress := e.addresses.Addresses(ctx)
	current := e.watermark
	next := current
	accepted := 0
	for _, ev := range events {
		if !current.Admits(ev.TimeCreated) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		accepted++
		next = next.Advance(ev.TimeCreated)

		rec := e.cfg.Fields.Record(ev, sourceAddress)
		if err := e.sender.Send(ctx, rec); err != nil {
			metrics.IncSendFailures()
			e.log.Errorf("dropping record, query=%s, pid=%d: %v", rec.QueryName, rec.ProcessID, err)
			continue
		}
		metrics.IncSentRecords()
	}

	e.watermark = next
	metrics.IncExtractedRecords(accepted)
	if at, ok := next.Time(); ok {
		metrics.SetWatermark(float64(at.Unix()))
	}
	e.log.Debugf("tick done, events=%d, accepted=%d", len(events), accepted)
	return ctx.Err()
}

func (e *Extractor) Watermark() Watermark {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watermark
}

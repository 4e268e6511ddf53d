package ingest_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dnstrail/dnstrail/eventsource"
	"github.com/dnstrail/dnstrail/extractor"
	"github.com/dnstrail/dnstrail/ingest"
	"github.com/dnstrail/dnstrail/record"
	"github.com/dnstrail/dnstrail/store"
	"github.com/dnstrail/dnstrail/transport"
)

func TestPipeline(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := logrus.New()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	mem := store.NewMemoryStore()
	listener := ingest.New(ingest.Config{}, log, mem)
	go func() {
		_ = listener.Serve(ctx, ln)
	}()

	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Second)
	src := &scriptedSource{batches: [][]eventsource.Event{
		{sysmonEvent(t1, "4321", "example.com", `C:\app.exe`)},
		{sysmonEvent(t1, "4321", "example.com", `C:\app.exe`), sysmonEvent(t2, "99", "other.org", `C:\b.exe`)},
	}}
	ext := extractor.New(
		extractor.Config{Fields: eventsource.DefaultFieldMap(eventsource.KindSysmon)},
		log,
		src,
		staticAddress("10.0.0.5"),
		transport.NewClient(transport.Config{Addr: ln.Addr().String()}),
		extractor.CurrentTimeGetter(),
	)

	r.NoError(ext.Tick(ctx))
	r.Eventually(func() bool { return len(mem.Records()) == 1 }, 5*time.Second, 10*time.Millisecond)
	r.Equal(record.Record{
		QueryName:     "example.com",
		ProcessID:     4321,
		Path:          `C:\app.exe`,
		Timestamp:     t1,
		SourceAddress: "10.0.0.5",
	}, mem.Records()[0])

	r.NoError(ext.Tick(ctx))
	r.Eventually(func() bool { return len(mem.Records()) == 2 }, 5*time.Second, 10*time.Millisecond)
	r.Equal("other.org", mem.Records()[1].QueryName)

	time.Sleep(50 * time.Millisecond)
	r.Len(mem.Records(), 2)
}

func sysmonEvent(ts time.Time, pid, query, image string) eventsource.Event {
	return eventsource.Event{
		TimeCreated: ts,
		Properties:  []string{"-", "", "", pid, query, "0", "", image, ""},
	}
}

type staticAddress string

func (s staticAddress) Addresses(_ context.Context) string {
	return string(s)
}

type scriptedSource struct {
	batches [][]eventsource.Event
	calls   int
}

func (s *scriptedSource) Events(_ context.Context) ([]eventsource.Event, error) {
	if s.calls >= len(s.batches) {
		return nil, nil
	}
	b := s.batches[s.calls]
	s.calls++
	return b, nil
}

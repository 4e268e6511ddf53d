//go:build windows

package eventsource

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/bi-zone/etw"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

type etwSource struct {
	log     logrus.FieldLogger
	session *etw.Session

	mu      sync.Mutex
	pending []Event
	err     error
}

func newETWSource(ctx context.Context, log logrus.FieldLogger) (Source, error) {
	guid, err := windows.GUIDFromString(dnsClientProviderGUID)
	if err != nil {
		return nil, err
	}
	session, err := etw.NewSession(guid)
	if err != nil {
		return nil, fmt.Errorf("creating etw session: %w", err)
	}

	s := &etwSource{log: log, session: session}
	go func() {
		// Process blocks until the session is closed.
		if err := session.Process(s.handle); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			log.Errorf("etw processing: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		if err := session.Close(); err != nil {
			log.Errorf("closing etw session: %v", err)
		}
	}()
	return s, nil
}

func (s *etwSource) handle(e *etw.Event) {
	if e.Header.ID != dnsQueryRequestEventID {
		return
	}
	data, err := e.EventProperties()
	if err != nil {
		s.log.Debugf("reading etw event properties: %v", err)
		return
	}

	props := make([]string, etwImagePathIndex+1)
	props[etwProcessIDIndex] = strconv.FormatUint(uint64(e.Header.ProcessID), 10)
	props[etwQueryNameIndex] = fmt.Sprint(data["QueryName"])
	props[etwImagePathIndex] = processImagePath(e.Header.ProcessID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= maxBufferedETWEvents {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, Event{TimeCreated: e.Header.TimeStamp, Properties: props})
}

// Events hands over everything buffered since the previous call.
func (s *etwSource) Events(_ context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, s.err)
	}
	events := s.pending
	s.pending = nil
	return events, nil
}

func processImagePath(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h) //nolint:errcheck

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}

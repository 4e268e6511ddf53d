//go:build windows

package eventsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

var (
	modwevtapi = windows.NewLazySystemDLL("wevtapi.dll")

	procEvtQuery  = modwevtapi.NewProc("EvtQuery")
	procEvtNext   = modwevtapi.NewProc("EvtNext")
	procEvtRender = modwevtapi.NewProc("EvtRender")
	procEvtClose  = modwevtapi.NewProc("EvtClose")
)

const (
	evtQueryChannelPath      = 0x1
	evtQueryForwardDirection = 0x100
	evtRenderEventXML        = 1
	evtNextBatchSize         = 64
)

// sysmonSource queries the event log channel in full on every call.
type sysmonSource struct {
	log     logrus.FieldLogger
	channel string
	query   string
}

func newSysmonSource(channel, query string, log logrus.FieldLogger) (Source, error) {
	if err := modwevtapi.Load(); err != nil {
		return nil, fmt.Errorf("loading wevtapi.dll: %w", err)
	}
	return &sysmonSource{log: log, channel: channel, query: query}, nil
}

func (s *sysmonSource) Events(ctx context.Context) ([]Event, error) {
	channel, err := windows.UTF16PtrFromString(s.channel)
	if err != nil {
		return nil, err
	}
	query, err := windows.UTF16PtrFromString(s.query)
	if err != nil {
		return nil, err
	}

	rs, _, err := procEvtQuery.Call(
		0,
		uintptr(unsafe.Pointer(channel)),
		uintptr(unsafe.Pointer(query)),
		evtQueryChannelPath|evtQueryForwardDirection,
	)
	if rs == 0 {
		return nil, fmt.Errorf("%w: querying %s: %v", ErrUnavailable, s.channel, err)
	}
	defer evtClose(rs)

	var rendered bytes.Buffer
	handles := make([]uintptr, evtNextBatchSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var returned uint32
		ok, _, err := procEvtNext.Call(
			rs,
			evtNextBatchSize,
			uintptr(unsafe.Pointer(&handles[0])),
			windows.INFINITE,
			0,
			uintptr(unsafe.Pointer(&returned)),
		)
		if ok == 0 {
			if errors.Is(err, windows.ERROR_NO_MORE_ITEMS) {
				break
			}
			return nil, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, s.channel, err)
		}

		var renderErr error
		for _, h := range handles[:returned] {
			if renderErr == nil {
				var text string
				text, renderErr = renderEventXML(h)
				rendered.WriteString(text)
			}
			evtClose(h)
		}
		if renderErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, renderErr)
		}
	}

	return ParseEvents(&rendered, sysmonDNSQueryEventID)
}

func renderEventXML(h uintptr) (string, error) {
	var used, props uint32
	ok, _, err := procEvtRender.Call(0, h, evtRenderEventXML, 0, 0,
		uintptr(unsafe.Pointer(&used)), uintptr(unsafe.Pointer(&props)))
	if ok == 0 && !errors.Is(err, windows.ERROR_INSUFFICIENT_BUFFER) {
		return "", fmt.Errorf("rendering event: %w", err)
	}

	buf := make([]uint16, used/2+1)
	ok, _, err = procEvtRender.Call(0, h, evtRenderEventXML, uintptr(len(buf)*2),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&used)), uintptr(unsafe.Pointer(&props)))
	if ok == 0 {
		return "", fmt.Errorf("rendering event: %w", err)
	}
	return windows.UTF16ToString(buf), nil
}

func evtClose(h uintptr) {
	_, _, _ = procEvtClose.Call(h)
}

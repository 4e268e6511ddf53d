package eventsource

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

type xmlEvent struct {
	System struct {
		EventID     int `xml:"EventID"`
		TimeCreated struct {
			SystemTime string `xml:"SystemTime,attr"`
		} `xml:"TimeCreated"`
	} `xml:"System"`
	EventData struct {
		Data []struct {
			Name  string `xml:"Name,attr"`
			Value string `xml:",chardata"`
		} `xml:"Data"`
	} `xml:"EventData"`
}

// ParseEvents reads rendered Windows event XML. Any number of Event elements is accepted,
// with or without an enclosing root. eventID 0 keeps every event.
func ParseEvents(r io.Reader, eventID int) ([]Event, error) {
	var events []Event
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading event xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Event" {
			continue
		}

		var raw xmlEvent
		if err := dec.DecodeElement(&raw, &start); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		if eventID != 0 && raw.System.EventID != eventID {
			continue
		}
		created, err := time.Parse(time.RFC3339Nano, raw.System.TimeCreated.SystemTime)
		if err != nil {
			return nil, fmt.Errorf("parsing event time %q: %w", raw.System.TimeCreated.SystemTime, err)
		}

		props := make([]string, 0, len(raw.EventData.Data))
		for _, d := range raw.EventData.Data {
			props = append(props, d.Value)
		}
		events = append(events, Event{TimeCreated: created, Properties: props})
	}
}

// XMLFileSource replays an exported event log file. The whole file is read on every call.
type XMLFileSource struct {
	path    string
	eventID int
}

func NewXMLFileSource(path string, eventID int) *XMLFileSource {
	return &XMLFileSource{path: path, eventID: eventID}
}

func (s *XMLFileSource) Events(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	events, err := ParseEvents(f, s.eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, s.path, err)
	}
	return events, nil
}

package eventsource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dnstrail/dnstrail/record"
)

var ErrUnavailable = errors.New("event source unavailable")

type Kind string

const (
	KindSysmon  Kind = "sysmon"
	KindXMLFile Kind = "xmlfile"
	KindETW     Kind = "etw"
)

const (
	sysmonChannel         = "Microsoft-Windows-Sysmon/Operational"
	sysmonDNSQueryEventID = 22
)

// Event is a raw DNS query event: creation time plus the provider's ordered properties.
type Event struct {
	TimeCreated time.Time
	Properties  []string
}

type Source interface {
	// Events returns every matching event the source currently retains.
	Events(ctx context.Context) ([]Event, error)
}

type Config struct {
	Kind    Kind   `envconfig:"KIND" yaml:"kind"`
	Path    string `envconfig:"PATH" yaml:"path"`
	Channel string `envconfig:"CHANNEL" yaml:"channel"`
	Query   string `envconfig:"QUERY" yaml:"query"`

	// Fields overrides the kind's default property positions.
	Fields *FieldMap `ignored:"true" yaml:"fields,omitempty"`
}

// FieldMap holds the positions of the record fields in Event.Properties.
type FieldMap struct {
	QueryName int `yaml:"queryName"`
	ProcessID int `yaml:"processId"`
	Path      int `yaml:"path"`
}

func DefaultFieldMap(kind Kind) FieldMap {
	if kind == KindETW {
		return FieldMap{QueryName: etwQueryNameIndex, ProcessID: etwProcessIDIndex, Path: etwImagePathIndex}
	}
	// Sysmon event 22 data: RuleName, UtcTime, ProcessGuid, ProcessId, QueryName,
	// QueryStatus, QueryResults, Image, User.
	return FieldMap{QueryName: 4, ProcessID: 3, Path: 7}
}

// FieldMapFor returns the configured field map or the kind's default.
func FieldMapFor(cfg Config) FieldMap {
	if cfg.Fields != nil {
		return *cfg.Fields
	}
	return DefaultFieldMap(cfg.Kind)
}

// Record builds a record from the event. Missing properties map to zero values.
func (m FieldMap) Record(ev Event, sourceAddress string) record.Record {
	return record.Record{
		QueryName:     property(ev.Properties, m.QueryName),
		ProcessID:     record.ParseProcessID(property(ev.Properties, m.ProcessID)),
		Path:          property(ev.Properties, m.Path),
		Timestamp:     ev.TimeCreated.UTC().Truncate(time.Second),
		SourceAddress: sourceAddress,
	}
}

func property(props []string, idx int) string {
	if idx < 0 || idx >= len(props) {
		return ""
	}
	return props[idx]
}

func New(ctx context.Context, cfg Config, log logrus.FieldLogger) (Source, error) {
	log = log.WithField("source_kind", cfg.Kind)
	switch cfg.Kind {
	case KindSysmon:
		channel, query := cfg.Channel, cfg.Query
		if channel == "" {
			channel = sysmonChannel
		}
		if query == "" {
			query = fmt.Sprintf("*[System/EventID=%d]", sysmonDNSQueryEventID)
		}
		return newSysmonSource(channel, query, log)
	case KindXMLFile:
		if cfg.Path == "" {
			return nil, errors.New("xmlfile source requires a path")
		}
		return NewXMLFileSource(cfg.Path, sysmonDNSQueryEventID), nil
	case KindETW:
		return newETWSource(ctx, log)
	default:
		return nil, fmt.Errorf("unknown event source kind %q", cfg.Kind)
	}
}

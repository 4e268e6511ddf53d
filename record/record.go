package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the wire and storage rendering of Record.Timestamp.
const TimeLayout = "2006-01-02 15:04:05"

const fieldCount = 5

var ErrMalformedRecord = errors.New("malformed record")

// Record is a single observed DNS query.
type Record struct {
	QueryName     string    `json:"queryname" bson:"queryname"`
	ProcessID     int       `json:"pid" bson:"pid"`
	Path          string    `json:"path" bson:"path"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	SourceAddress string    `json:"Ip" bson:"Ip"`
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Encode renders the record as five label:value lines without a trailing newline.
func Encode(r Record) []byte {
	var b strings.Builder
	b.WriteString("queryname:")
	b.WriteString(lineBreaks.Replace(r.QueryName))
	b.WriteString("\npid:")
	b.WriteString(strconv.Itoa(r.ProcessID))
	b.WriteString("\npath:")
	b.WriteString(lineBreaks.Replace(r.Path))
	b.WriteString("\ntimestamp:")
	b.WriteString(r.Timestamp.UTC().Format(TimeLayout))
	b.WriteString("\nIp:")
	b.WriteString(lineBreaks.Replace(r.SourceAddress))
	return []byte(b.String())
}

// Decode parses a chunk produced by Encode. Fields are positional, labels are not checked.
func Decode(chunk []byte) (Record, error) {
	lines := strings.Split(string(chunk), "\n")
	if len(lines) < fieldCount {
		return Record{}, fmt.Errorf("%w: expected %d lines, got %d", ErrMalformedRecord, fieldCount, len(lines))
	}

	values := make([]string, fieldCount)
	for i := 0; i < fieldCount; i++ {
		_, value, found := strings.Cut(strings.TrimSuffix(lines[i], "\r"), ":")
		if !found {
			return Record{}, fmt.Errorf("%w: line %d has no label separator", ErrMalformedRecord, i+1)
		}
		values[i] = value
	}

	ts, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(values[3]), time.UTC)
	if err != nil {
		return Record{}, fmt.Errorf("%w: parsing timestamp: %v", ErrMalformedRecord, err)
	}

	return Record{
		QueryName:     values[0],
		ProcessID:     ParseProcessID(values[1]),
		Path:          values[2],
		Timestamp:     ts,
		SourceAddress: values[4],
	}, nil
}

// ParseProcessID returns 0 for anything that is not a non-negative integer.
func ParseProcessID(s string) int {
	pid, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || pid < 0 {
		return 0
	}
	return pid
}

package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"

	"github.com/cilium/lumberjack/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/dnstrail/dnstrail/record"
)

type FileConfig struct {
	Filename   string `envconfig:"FILENAME" yaml:"filename"`
	MaxSizeMB  int    `envconfig:"MAX_SIZE_MB" yaml:"maxSizeMB"`
	MaxBackups int    `envconfig:"MAX_BACKUPS" yaml:"maxBackups"`
	Compress   bool   `envconfig:"COMPRESS" yaml:"compress"`
}

// FileStore appends records as JSON lines to a size rotated file.
// Find only sees the active file, rotated backups are not searched.
type FileStore struct {
	cfg FileConfig
	log logrus.FieldLogger

	mu      sync.Mutex
	writer  *lumberjack.Logger
	encoder *jsoniter.Encoder
}

func NewFileStore(cfg FileConfig, log logrus.FieldLogger) (*FileStore, error) {
	if cfg.Filename == "" {
		return nil, errors.New("file store: filename is required")
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	return &FileStore{
		cfg:     cfg,
		log:     log,
		writer:  writer,
		encoder: jsoniter.NewEncoder(writer),
	}, nil
}

func (s *FileStore) Insert(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(rec); err != nil {
		return fmt.Errorf("writing record to %s: %w", s.cfg.Filename, err)
	}
	return nil
}

func (s *FileStore) Find(ctx context.Context, q Query) ([]record.Record, error) {
	var addressRe *regexp.Regexp
	if q.AddressPattern != "" {
		var err error
		addressRe, err = regexp.Compile(q.AddressPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid address pattern: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.cfg.Filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var res []record.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec record.Record
		if err := jsoniter.Unmarshal(scanner.Bytes(), &rec); err != nil {
			s.log.Warnf("skipping unreadable line in %s: %v", s.cfg.Filename, err)
			continue
		}
		if q.matches(rec, addressRe) {
			res = append(res, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Timestamp.Before(res[j].Timestamp)
	})
	return res, nil
}

func (s *FileStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}

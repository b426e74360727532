package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink receives copies of appended entries.
type Sink interface {
	Emit(ctx context.Context, entry Entry)
}

// NoOpSink drops entries.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Entry) {}

// MultiSink fans each entry out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, entry Entry) {
	for _, s := range m {
		s.Emit(ctx, entry)
	}
}

// ChannelSink writes entries into a buffered channel. An entry that cannot be
// placed before ctx is done is counted in Dropped.
type ChannelSink struct {
	entries chan Entry
	dropped atomic.Uint64
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{entries: make(chan Entry, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, entry Entry) {
	select {
	case s.entries <- entry:
	case <-ctx.Done():
		s.dropped.Add(1)
	}
}

func (s *ChannelSink) Entries() <-chan Entry {
	return s.entries
}

func (s *ChannelSink) Dropped() uint64 {
	return s.dropped.Load()
}

// JSONWriterSink writes one exported entry per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, entry Entry) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
}

// FileSinkConfig configures a rotating JSON-lines file.
type FileSinkConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FileSink appends JSON lines to a size-rotated file.
type FileSink struct {
	*JSONWriterSink
	file *lumberjack.Logger
}

// NewFileSink creates the parent directory and opens a rotating writer.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.Filename == "" {
		return nil, errors.New("audit file sink requires a filename")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0o755); err != nil {
		return nil, err
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	file := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &FileSink{JSONWriterSink: NewJSONWriterSink(file), file: file}, nil
}

// Rotate closes the current file and starts a new one.
func (s *FileSink) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Rotate()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// DefaultStream is the Redis stream key used by [RedisStreamSink].
const DefaultStream = "audit:chain"

// RedisStreamSink mirrors entries onto a capped Redis stream for off-host retention.
type RedisStreamSink struct {
	redis     redis.UniversalClient
	stream    string
	maxLen    int64
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewRedisStreamSink builds a stream sink. maxLen <= 0 leaves the stream uncapped.
func NewRedisStreamSink(client redis.UniversalClient, stream string, maxLen int64, logger *slog.Logger) *RedisStreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStreamSink{
		redis:     client,
		stream:    stream,
		maxLen:    maxLen,
		opTimeout: 500 * time.Millisecond,
		logger:    logger,
	}
}

func (s *RedisStreamSink) Emit(ctx context.Context, entry Entry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"entry_id":   entry.EntryID(),
			"entry_hash": entry.EntryHash(),
			"action":     entry.Action(),
			"payload":    string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.redis.XAdd(ctx, args).Err(); err != nil {
		s.logger.Warn("audit stream write failed",
			"stream", s.stream,
			"entry_id", entry.EntryID(),
			"error", err,
		)
	}
}

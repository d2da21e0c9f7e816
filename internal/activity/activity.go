// Package activity is the append-only activity log kept next to the waterer.
// Every line is prefixed with a bracketed local timestamp:
//
//	[2026-10-17 12:00:00.000123] Started watering
package activity

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is the layout of the bracketed line prefix.
const TimestampFormat = "2006-01-02 15:04:05.000000"

// Log writes activity lines to a file (or any writer in tests).
type Log struct {
	logger *logrus.Logger
	file   *os.File
}

// Open opens path for appending, creating it if needed. If truncate is set
// the previous contents are discarded.
func Open(path string, truncate bool) (*Log, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	l := New(f, time.Now)
	l.file = f
	return l, nil
}

// New returns a Log writing to w. now stamps each line.
func New(w io.Writer, now func() time.Time) *Log {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&lineFormatter{now: now})
	return &Log{logger: logger}
}

// Printf appends one informational line.
func (l *Log) Printf(format string, args ...any) {
	l.logger.Infof(format, args...)
}

// Errorf appends one error line.
func (l *Log) Errorf(format string, args ...any) {
	l.logger.Errorf(format, args...)
}

// With returns an entry that appends fields after the message.
func (l *Log) With(fields map[string]any) *logrus.Entry {
	return l.logger.WithFields(logrus.Fields(fields))
}

// Sync flushes the file to stable storage. It is a no-op for plain writers.
func (l *Log) Sync() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync activity log: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// lineFormatter renders "[timestamp] message key=value ...".
// The level is not printed; the log reads as a plain diary.
type lineFormatter struct {
	now func() time.Time
}

func (f *lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	ts := e.Time
	if f.now != nil {
		ts = f.now()
	}
	b.WriteByte('[')
	b.WriteString(ts.Format(TimestampFormat))
	b.WriteString("] ")
	b.WriteString(e.Message)

	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
		}
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

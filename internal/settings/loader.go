package settings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// DefaultURL is where the settings document is published.
const DefaultURL = "https://raw.githubusercontent.com/wshand/rpi-watering/master/settings.json"

// maxDocumentSize caps the downloaded body.
const maxDocumentSize = 64 << 10

// Source tells where a loaded Config came from.
type Source string

const (
	SourceRemote  Source = "remote"
	SourceDefault Source = "default"
)

// Result is the outcome of one Load. Config is always usable.
type Result struct {
	Config Config
	Source Source
	// Err is the reason the defaults were used; nil for SourceRemote.
	Err error
	At  time.Time
}

// Diary receives the human-readable failure lines.
type Diary interface {
	Printf(format string, args ...any)
}

// Options configures a Loader. Zero values select the defaults.
type Options struct {
	URL  string
	Path string // local copy of the downloaded document

	Timeout time.Duration // whole fetch, retries included
	Retries uint64
	Client  *http.Client

	// Circuit breaker: after MaxFailures consecutive failed downloads the
	// network is skipped for OpenFor.
	MaxFailures uint32
	OpenFor     time.Duration

	// NewBackOff overrides the retry policy (tests).
	NewBackOff func() backoff.BackOff
}

// Loader downloads, stores and parses the settings document, falling back to
// Default on any failure.
type Loader struct {
	opts    Options
	diary   Diary
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
}

// NewLoader creates a Loader. diary may be nil.
func NewLoader(opts Options, diary Diary) *Loader {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Path == "" {
		opts.Path = "settings.json"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries == 0 {
		opts.Retries = 4
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 3
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 15 * time.Minute
	}
	if opts.NewBackOff == nil {
		timeout := opts.Timeout
		opts.NewBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxElapsedTime = timeout
			return bo
		}
	}

	maxFailures := opts.MaxFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "settings",
		Timeout: opts.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		// A caller giving up is not a failure of the settings server.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("settings: circuit %s %s -> %s", name, from, to)
		},
	})

	return &Loader{
		opts:    opts,
		diary:   diary,
		breaker: breaker,
		now:     time.Now,
	}
}

// Path returns the local settings file path.
func (l *Loader) Path() string {
	return l.opts.Path
}

// Load fetches the current settings. It never fails: on any error the
// failure is written to the diary and the defaults are returned.
//
// A load cut short by ctx is not a settings failure: nothing is written to
// the diary and the circuit breaker does not count it.
func (l *Loader) Load(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Result{Config: Default(), Source: SourceDefault, Err: err, At: l.now()}
	}
	cfg, err := l.fetch(ctx)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			log.Printf("settings: fetch interrupted: %v", err)
			return Result{Config: Default(), Source: SourceDefault, Err: cerr, At: l.now()}
		}
		log.Printf("settings: %v; using defaults", err)
		if l.diary != nil {
			l.diary.Printf("%v", err)
			l.diary.Printf("Unable to read %s; using defaults", filepath.Base(l.opts.Path))
		}
		return Result{Config: Default(), Source: SourceDefault, Err: err, At: l.now()}
	}
	return Result{Config: cfg, Source: SourceRemote, At: l.now()}
}

func (l *Loader) fetch(ctx context.Context) (Config, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	// A stale copy must never be parsed in place of a failed download.
	if err := os.Remove(l.opts.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("remove old settings: %w", err)
	}

	body, err := l.breaker.Execute(func() (interface{}, error) {
		return l.download(ctx)
	})
	if err != nil {
		return Config{}, err
	}

	if err := writeFileAtomic(l.opts.Path, body.([]byte)); err != nil {
		return Config{}, err
	}

	f, err := os.Open(l.opts.Path)
	if err != nil {
		return Config{}, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (l *Loader) download(ctx context.Context) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.opts.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := l.opts.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			err := fmt.Errorf("settings status %d: %s", resp.StatusCode, string(b))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return err
			}
			return backoff.Permanent(err)
		}

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		if err != nil {
			return fmt.Errorf("read settings body: %w", err)
		}
		body = b
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(l.opts.NewBackOff(), l.opts.Retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("download %s: %w", l.opts.URL, err)
	}
	return body, nil
}

// writeFileAtomic replaces path with data via a temporary file in the same
// directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

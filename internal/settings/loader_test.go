package settings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kernelmethod/rpi-watering/internal/schedule"
)

const validDoc = `{"watering_time": "20", "watering_hour": "7", "watering_days": "Monday,Thursday"}`

type fakeDiary struct {
	lines []string
}

func (d *fakeDiary) Printf(format string, args ...any) {
	d.lines = append(d.lines, fmt.Sprintf(format, args...))
}

// newTestLoader returns a loader pointed at h with instant retries.
func newTestLoader(t *testing.T, h http.Handler, opts Options) (*Loader, *fakeDiary, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	opts.URL = ts.URL + "/settings.json"
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "settings.json")
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}
	diary := &fakeDiary{}
	return NewLoader(opts, diary), diary, &hits
}

func serve(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func assertDefaults(t *testing.T, res Result) {
	t.Helper()
	if res.Source != SourceDefault {
		t.Errorf("Source: got %q, want default", res.Source)
	}
	if res.Err == nil {
		t.Error("expected Err to be set")
	}
	want := Default()
	if res.Config.Duration != want.Duration || res.Config.Hour != want.Hour ||
		schedule.FormatDays(res.Config.Days) != schedule.FormatDays(want.Days) {
		t.Errorf("expected full default config, got %s", res.Config)
	}
}

func TestLoadSuccess(t *testing.T) {
	l, diary, hits := newTestLoader(t, serve(200, validDoc), Options{})

	res := l.Load(context.Background())
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Source != SourceRemote {
		t.Errorf("Source: got %q, want remote", res.Source)
	}
	if res.Config.Duration != 20*time.Second || res.Config.Hour != 7 {
		t.Errorf("unexpected config: %s", res.Config)
	}
	if schedule.FormatDays(res.Config.Days) != "Monday,Thursday" {
		t.Errorf("Days: got %s", schedule.FormatDays(res.Config.Days))
	}
	if len(diary.lines) != 0 {
		t.Errorf("expected no diary lines, got %q", diary.lines)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("settings file not written: %v", err)
	}
	if string(data) != validDoc {
		t.Errorf("settings file content: got %q", data)
	}
}

func TestLoadNotFoundUsesDefaults(t *testing.T) {
	l, diary, hits := newTestLoader(t, serve(404, "not found"), Options{})

	res := l.Load(context.Background())
	assertDefaults(t, res)

	if hits.Load() != 1 {
		t.Errorf("4xx must not be retried: got %d requests", hits.Load())
	}
	if len(diary.lines) != 2 {
		t.Fatalf("expected 2 diary lines, got %q", diary.lines)
	}
	if !strings.Contains(diary.lines[0], "404") {
		t.Errorf("first line should carry the error, got %q", diary.lines[0])
	}
	if diary.lines[1] != "Unable to read settings.json; using defaults" {
		t.Errorf("second line: got %q", diary.lines[1])
	}
}

func TestLoadMalformedIsNotMerged(t *testing.T) {
	// Valid time and days, missing hour: nothing from the document survives.
	doc := `{"watering_time": "99", "watering_days": "sunday"}`
	l, diary, _ := newTestLoader(t, serve(200, doc), Options{})

	res := l.Load(context.Background())
	assertDefaults(t, res)
	if !strings.Contains(res.Err.Error(), KeyWateringHour) {
		t.Errorf("error should name the missing key: %v", res.Err)
	}
	if len(diary.lines) != 2 {
		t.Errorf("expected 2 diary lines, got %q", diary.lines)
	}
}

func TestLoadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(validDoc))
	})
	l, _, hits := newTestLoader(t, h, Options{})

	res := l.Load(context.Background())
	if res.Err != nil {
		t.Fatalf("expected success after retries, got %v", res.Err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}
}

func TestLoadRetriesAreBounded(t *testing.T) {
	l, _, hits := newTestLoader(t, serve(500, "boom"), Options{Retries: 2})

	res := l.Load(context.Background())
	assertDefaults(t, res)
	if hits.Load() != 3 {
		t.Errorf("expected 1 attempt + 2 retries, got %d", hits.Load())
	}
}

func TestLoadTimeout(t *testing.T) {
	block := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-block:
		}
	})
	l, _, _ := newTestLoader(t, h, Options{Timeout: 50 * time.Millisecond, Retries: 1})
	// Registered after the server so it runs before the server closes.
	t.Cleanup(func() { close(block) })

	start := time.Now()
	res := l.Load(context.Background())
	assertDefaults(t, res)
	if time.Since(start) > 5*time.Second {
		t.Errorf("Load blocked for %v despite timeout", time.Since(start))
	}
}

func TestLoadRemovesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(validDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	l, _, _ := newTestLoader(t, serve(503, ""), Options{Path: path, Retries: 1})

	res := l.Load(context.Background())
	assertDefaults(t, res)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("stale settings file should be removed, stat err = %v", err)
	}
}

func TestLoadCircuitOpens(t *testing.T) {
	l, diary, hits := newTestLoader(t, serve(404, ""), Options{MaxFailures: 2, OpenFor: time.Hour})

	for i := 0; i < 2; i++ {
		assertDefaults(t, l.Load(context.Background()))
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 requests before the circuit opens, got %d", hits.Load())
	}

	res := l.Load(context.Background())
	assertDefaults(t, res)
	if hits.Load() != 2 {
		t.Errorf("open circuit must skip the network, got %d requests", hits.Load())
	}
	if len(diary.lines) != 6 {
		t.Errorf("every fallback is logged: expected 6 lines, got %d", len(diary.lines))
	}
}

func TestLoadNilDiary(t *testing.T) {
	ts := httptest.NewServer(serve(404, ""))
	defer ts.Close()

	l := NewLoader(Options{
		URL:        ts.URL,
		Path:       filepath.Join(t.TempDir(), "settings.json"),
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}, nil)
	assertDefaults(t, l.Load(context.Background()))
}

func TestLoadInterruptedIsNotAFailure(t *testing.T) {
	started := make(chan struct{}, 1)
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-r.Context().Done()
			return
		}
		w.Write([]byte(validDoc))
	})
	l, diary, _ := newTestLoader(t, h, Options{MaxFailures: 1, OpenFor: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res := l.Load(ctx)
	if res.Source != SourceDefault {
		t.Errorf("Source: got %s, want default", res.Source)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err: got %v, want context.Canceled", res.Err)
	}
	if len(diary.lines) != 0 {
		t.Errorf("an interrupted load must not be logged as a settings failure: %q", diary.lines)
	}

	// MaxFailures is 1: a counted failure would have opened the circuit.
	res = l.Load(context.Background())
	if res.Source != SourceRemote {
		t.Errorf("expected remote settings after an interrupted load, got %s (%v)", res.Source, res.Err)
	}
}

func TestLoadCancelledContextSkipsFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(validDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	l, diary, hits := newTestLoader(t, serve(200, validDoc), Options{Path: path})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := l.Load(ctx)
	if res.Source != SourceDefault || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("got source %s err %v", res.Source, res.Err)
	}
	if hits.Load() != 0 {
		t.Errorf("expected no request, got %d", hits.Load())
	}
	if len(diary.lines) != 0 {
		t.Errorf("unexpected diary lines: %q", diary.lines)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("settings file should be left alone: %v", err)
	}
}

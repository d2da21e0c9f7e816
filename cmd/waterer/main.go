// Command waterer drives a garden watering relay on a weekly schedule
// fetched from a remote settings document.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kernelmethod/rpi-watering/internal/activity"
	"github.com/kernelmethod/rpi-watering/internal/gpio"
	"github.com/kernelmethod/rpi-watering/internal/metrics"
	"github.com/kernelmethod/rpi-watering/internal/mqtt"
	"github.com/kernelmethod/rpi-watering/internal/schedule"
	"github.com/kernelmethod/rpi-watering/internal/settings"
	"github.com/kernelmethod/rpi-watering/internal/status"
	"github.com/kernelmethod/rpi-watering/internal/waterer"
	"github.com/kernelmethod/rpi-watering/internal/web"
)

const (
	modeLoop   = "loop"
	modeOnce   = "once"
	modePrompt = "prompt"
)

type options struct {
	mode         string
	settingsURL  string
	settingsFile string
	fetchTimeout time.Duration
	logFile      string
	freshLog     bool
	pin          int
	chip         string
	broker       string
	httpAddr     string
	printConfig  bool
}

func main() {
	var o options
	flag.StringVar(&o.mode, "mode", modeLoop, `Run mode: "loop", "once" (water until Enter) or "prompt" (ask)`)
	flag.StringVar(&o.settingsURL, "settings-url", settings.DefaultURL, "Settings document URL")
	flag.StringVar(&o.settingsFile, "settings-file", "settings.json", "Local copy of the settings document")
	flag.DurationVar(&o.fetchTimeout, "fetch-timeout", 30*time.Second, "Settings download timeout, retries included")
	flag.StringVar(&o.logFile, "log-file", "waterer.log", "Activity log file")
	flag.BoolVar(&o.freshLog, "fresh-log", false, "Truncate the activity log at start")
	flag.IntVar(&o.pin, "pin", gpio.DefaultPin, "BCM pin number for the relay")
	flag.StringVar(&o.chip, "chip", gpio.DefaultChip, "GPIO chip name")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address (empty to disable)")
	flag.StringVar(&o.httpAddr, "http", "", "HTTP status address (empty to disable)")
	flag.BoolVar(&o.printConfig, "print-config", false, "Load settings, print them with the next session and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) error {
	switch o.mode {
	case modeLoop, modeOnce, modePrompt:
	default:
		return fmt.Errorf("unknown mode %q", o.mode)
	}

	if o.printConfig {
		loader := settings.NewLoader(settings.Options{
			URL:     o.settingsURL,
			Path:    o.settingsFile,
			Timeout: o.fetchTimeout,
		}, nil)
		return printConfig(context.Background(), loader, time.Now(), os.Stdout)
	}

	diary, err := activity.Open(o.logFile, o.freshLog)
	if err != nil {
		return err
	}
	defer diary.Close()

	// Initialize GPIO; the line starts low.
	relay, err := gpio.NewRealRelay(o.chip, o.pin)
	if err != nil {
		err = fmt.Errorf("init gpio: %w", err)
		diary.Printf("%v", err)
		diary.Printf("Error; exiting.")
		return err
	}
	defer relay.Close()

	// Initialize MQTT
	var publisher mqtt.Publisher = mqtt.Nop()
	var mqttStatus mqtt.ConnectionStatus
	if o.broker != "" {
		p := mqtt.NewRealPublisher(o.broker, clientID())
		publisher, mqttStatus = p, p
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		Mode:        o.mode,
		Pin:         o.pin,
		SettingsURL: o.settingsURL,
		LogFile:     o.logFile,
		Broker:      o.broker,
		HTTPAddr:    o.httpAddr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	m := metrics.New()

	// Start HTTP status server
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	loader := settings.NewLoader(settings.Options{
		URL:     o.settingsURL,
		Path:    o.settingsFile,
		Timeout: o.fetchTimeout,
	}, diary)

	sched := waterer.New(waterer.Options{
		Relay:     relay,
		Loader:    loader,
		Diary:     diary,
		Publisher: publisher,
		MQTT:      mqttStatus,
		Tracker:   tracker,
		Metrics:   m,
	})

	log.Printf("started: mode=%s pin=%s/%d settings=%s log=%s", o.mode, o.chip, o.pin, o.settingsURL, o.logFile)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(sched, o.mode, os.Stdin, os.Stdout, publisher, mqttStatus, tracker, time.Now, sigCh)
}

// runLoop runs sched in mode until it returns or a signal cancels it, and
// brackets the run with STARTUP and SHUTDOWN system events.
func runLoop(sched *waterer.Scheduler, mode string, in io.Reader, out io.Writer, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The signal watcher runs before anything reads stdin so an interrupt at
	// the prompt is not lost.
	var (
		wg     sync.WaitGroup
		reason string
	)
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			reason = signalName(s)
			cancel()
		case <-done:
		}
	}()
	stopWatching := func() {
		close(done)
		wg.Wait()
	}

	stdin := bufio.NewReader(in)
	if mode == modePrompt {
		var err error
		mode, err = askMode(ctx, stdin, out)
		if err != nil {
			stopWatching()
			if ctx.Err() != nil {
				return sched.Abort(ctx)
			}
			return err
		}
	}

	publishSystem(publisher, mqttStatus, tracker, now, "STARTUP", "")

	var err error
	switch mode {
	case modeOnce:
		stop := make(chan struct{})
		fmt.Fprintln(out, "Watering; press Enter to stop")
		go waitForEnter(stdin, stop)
		err = sched.RunOnce(ctx, stop)
	default:
		err = sched.Run(ctx)
	}

	stopWatching()

	switch {
	case err != nil:
		reason = err.Error()
	case reason == "":
		reason = "COMPLETE"
	}
	publishSystem(publisher, mqttStatus, tracker, now, "SHUTDOWN", reason)
	return err
}

// askMode runs promptMode until it answers or ctx is cancelled. On
// cancellation the reader goroutine is left blocked on r.
func askMode(ctx context.Context, r *bufio.Reader, w io.Writer) (string, error) {
	type answer struct {
		mode string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		mode, err := promptMode(r, w)
		ch <- answer{mode, err}
	}()
	select {
	case a := <-ch:
		return a.mode, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func publishSystem(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, event, reason string) {
	e := mqtt.SystemEvent{
		Timestamp: now(),
		Event:     event,
		Reason:    reason,
		Retained:  true,
	}
	if tracker != nil {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		if net := readNetworkInfo(); net != nil {
			tracker.SetNetwork(net)
		}
		e.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), event, reason)
	}
	if err := publisher.PublishSystem(e); err != nil {
		log.Printf("failed to publish %s event: %v", strings.ToLower(event), err)
	} else {
		log.Printf("published %s event", strings.ToLower(event))
	}
}

// promptMode asks the operator for the run mode. An empty answer selects
// the loop.
func promptMode(r *bufio.Reader, w io.Writer) (string, error) {
	fmt.Fprint(w, "Water once (o) or run the weekly loop (l)? [l] ")
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read mode: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "l", modeLoop:
		return modeLoop, nil
	case "o", modeOnce:
		return modeOnce, nil
	default:
		return "", fmt.Errorf("unknown mode %q", strings.TrimSpace(line))
	}
}

// waitForEnter closes stop once a full line is read. End of input does not
// stop watering; only a signal can then.
func waitForEnter(r *bufio.Reader, stop chan<- struct{}) {
	if _, err := r.ReadString('\n'); err == nil {
		close(stop)
	}
}

// upcomingShown is how many sessions -print-config lists.
const upcomingShown = 4

// printConfig loads the settings once and reports them with the upcoming
// sessions.
func printConfig(ctx context.Context, loader waterer.Loader, now time.Time, w io.Writer) error {
	res := loader.Load(ctx)
	fmt.Fprintf(w, "settings: %v (%s)\n", res.Config, res.Source)
	if res.Err != nil {
		fmt.Fprintf(w, "error: %v\n", res.Err)
	}
	sessions := schedule.Upcoming(now, res.Config.Days, res.Config.Hour, upcomingShown)
	if len(sessions) == 0 {
		return fmt.Errorf("no watering slot for settings %v", res.Config)
	}
	for i, t := range sessions {
		label := "then"
		if i == 0 {
			label = "next session"
		}
		fmt.Fprintf(w, "%s: %s %s\n", label, schedule.WeekdayOf(t), t.Format(waterer.TimeLayout))
	}
	return nil
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func clientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "waterer"
	}
	return "waterer-" + host
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// Command s0-meter counts S0 impulses from a serial line or GPIO pin and
// logs the derived power readings.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/s0-meter/internal/hwif"
	"github.com/sweeney/s0-meter/internal/logging"
	"github.com/sweeney/s0-meter/internal/meter"
	"github.com/sweeney/s0-meter/internal/option"
	"github.com/sweeney/s0-meter/internal/reading"
	"github.com/sweeney/s0-meter/internal/status"
)

const (
	// readErrorBackoff spaces out consecutive failed reads.
	readErrorBackoff = time.Second
	// shutdownGrace bounds how long shutdown waits for a blocked read.
	shutdownGrace = time.Second
)

// errStopped reports a signal received before the meter was running.
var errStopped = errors.New("stopped")

// assignments collects repeated -set key=value flags.
type assignments []option.Option

func (a *assignments) String() string {
	parts := make([]string, 0, len(*a))
	for _, o := range *a {
		parts = append(parts, fmt.Sprintf("%s=%v", o.Key, o.Value))
	}
	return strings.Join(parts, ",")
}

func (a *assignments) Set(s string) error {
	o, err := option.ParseAssignment(s)
	if err != nil {
		return err
	}
	*a = append(*a, o)
	return nil
}

func main() {
	configPath := flag.String("config", "", "TOML settings file")
	var sets assignments
	flag.Var(&sets, "set", "Setting override as key=value (repeatable, wins over -config)")
	logLevel := flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	logFormat := flag.String("log-format", logging.FormatConsole, `Log format ("console" or "json")`)
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Status heartbeat interval (0 to disable)")
	retry := flag.Duration("retry", 5*time.Second, "Delay between open attempts (0 to fail on the first error)")
	once := flag.Bool("once", false, "Wait for one impulse, print the readings and exit")

	flag.Parse()

	log, err := logging.New(*logLevel, *logFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}

	opts, err := loadOptions(*configPath, sets)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load settings")
	}

	if err := run(opts, log, *heartbeat, *retry, *once); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

// loadOptions merges -set overrides with the settings file. Overrides come
// first so they win the first-match lookup.
func loadOptions(path string, sets []option.Option) (option.List, error) {
	opts := append(option.List(nil), sets...)
	if path == "" {
		return opts, nil
	}
	file, err := option.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return append(opts, file...), nil
}

func run(opts option.List, log zerolog.Logger, heartbeat, retry time.Duration, once bool) error {
	d, err := meter.New(opts, log)
	if err != nil {
		return fmt.Errorf("init meter: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := openWithRetry(d, log, retry, sigCh); err != nil {
		if errors.Is(err, errStopped) {
			return nil
		}
		return err
	}

	if once {
		defer d.Close()
		return readOnce(d, os.Stdout)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Source:      sourceName(d.Source()),
		Resolution:  d.Resolution(),
		DebounceMs:  d.Debounce().Milliseconds(),
		HeartbeatMs: heartbeat.Milliseconds(),
	})
	tracker.SetOpen(true)

	log.Info().
		Str("source", sourceName(d.Source())).
		Int("resolution", d.Resolution()).
		Dur("debounce", d.Debounce()).
		Dur("heartbeat", heartbeat).
		Msg("started")

	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	return runLoop(d, tracker, log, tick, sigCh, readErrorBackoff)
}

// openWithRetry opens the meter, retrying soft failures every retry until a
// signal arrives. Configuration failures are returned immediately.
func openWithRetry(d *meter.Driver, log zerolog.Logger, retry time.Duration, sig <-chan os.Signal) error {
	for attempt := 1; ; attempt++ {
		err := d.Open()
		if err == nil {
			log.Info().Int("attempt", attempt).Msg("hardware opened")
			return nil
		}
		if errors.Is(err, hwif.ErrFatal) || retry <= 0 {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry", retry).Msg("open failed, retrying")

		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("interrupted while opening")
			return errStopped
		case <-time.After(retry):
		}
	}
}

// readOnce waits for the next impulse and prints its readings.
func readOnce(d *meter.Driver, out io.Writer) error {
	rds := make([]reading.Reading, meter.MinReadings)
	n, err := d.Read(rds)
	if err != nil {
		return err
	}
	for _, rd := range rds[:n] {
		fmt.Fprintf(out, "%s %s %g\n", rd.Time.Format(time.RFC3339Nano), rd.Identifier, rd.Value)
	}
	return nil
}

// impulseReader is the part of meter.Driver the read loop needs.
type impulseReader interface {
	Read(rds []reading.Reading) (int, error)
	Close() error
}

type readResult struct {
	rds []reading.Reading
	err error
}

// runLoop reads on a dedicated goroutine and handles readings, heartbeats
// and shutdown signals until a signal arrives or the hardware goes away.
func runLoop(m impulseReader, tracker *status.Tracker, log zerolog.Logger, tick <-chan time.Time, sig <-chan os.Signal, backoff time.Duration) error {
	results := make(chan readResult)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		rds := make([]reading.Reading, meter.MinReadings)
		for {
			n, err := m.Read(rds)
			res := readResult{rds: append([]reading.Reading(nil), rds[:n]...), err: err}
			select {
			case results <- res:
			case <-done:
				return
			}
			if err == nil {
				continue
			}
			if errors.Is(err, hwif.ErrNotOpen) || errors.Is(err, meter.ErrNoHardware) {
				return
			}
			select {
			case <-time.After(backoff):
			case <-done:
				return
			}
		}
	}()

	stop := func() error {
		close(done)
		err := m.Close()
		tracker.SetOpen(false)
		select {
		case <-exited:
		case <-time.After(shutdownGrace):
			log.Warn().Msg("read still blocked at shutdown")
		}
		return err
	}

	for {
		select {
		case s := <-sig:
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if err := stop(); err != nil {
				log.Warn().Err(err).Msg("close failed")
			}
			log.Info().
				RawJSON("status", status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", signalName)).
				Msg("shutting down")
			return nil

		case <-tick:
			log.Info().
				RawJSON("status", status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")).
				Msg("heartbeat")

		case res := <-results:
			if res.err != nil {
				tracker.RecordError(res.err)
				if errors.Is(res.err, hwif.ErrNotOpen) || errors.Is(res.err, meter.ErrNoHardware) {
					if err := stop(); err != nil && !errors.Is(err, hwif.ErrNotOpen) {
						log.Warn().Err(err).Msg("close failed")
					}
					return fmt.Errorf("read: %w", res.err)
				}
				log.Debug().Err(res.err).Msg("read failed")
				continue
			}
			tracker.Record(res.rds)
			for _, rd := range res.rds {
				log.Info().
					Str("id", string(rd.Identifier)).
					Float64("value", rd.Value).
					Time("at", rd.Time).
					Msg("reading")
			}
		}
	}
}

func sourceName(src hwif.Source) string {
	switch src.(type) {
	case *hwif.Serial:
		return "serial"
	case *hwif.SysfsGPIO:
		return "sysfs"
	case *hwif.CdevGPIO:
		return "cdev"
	case *hwif.Fake:
		return "fake"
	default:
		return "unknown"
	}
}

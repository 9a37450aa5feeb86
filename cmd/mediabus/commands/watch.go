package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediabus/internal/cli/output"
	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/client"
	"github.com/marmos91/mediabus/pkg/config"
	"github.com/marmos91/mediabus/pkg/metrics"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/protocol"
)

var watchCmd = &cobra.Command{
	Use:   "watch [provider]",
	Short: "Print bus events until interrupted",
	Long: `Print providers appearing on the bus. With a provider argument, also
print the provider's root, its container updates and its disappearance.
--names selects the properties printed for the root and for every updated
container.

With --metrics-port the client-side metrics (property fan-out and
notification delivery) are served on that port at /metrics.

Examples:
  mediabus watch
  mediabus watch library -g 1 -o json
  mediabus watch library --names DisplayName,ChildCount --metrics-port 9191`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var (
	watchNames       []string
	watchMetricsPort int
)

func init() {
	watchCmd.Flags().StringSliceVar(&watchNames, "names", nil, "properties to print for the root and updated containers (default DisplayName)")
	watchCmd.Flags().IntVar(&watchMetricsPort, "metrics-port", 0, "serve client metrics on this port (0 = disabled)")
}

// WatchEvent is one event printed by the watch command.
type WatchEvent struct {
	Time       string         `json:"time" yaml:"time"`
	Event      string         `json:"event" yaml:"event"`
	Generation string         `json:"generation" yaml:"generation"`
	Provider   string         `json:"provider" yaml:"provider"`
	Path       string         `json:"path,omitempty" yaml:"path,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel, s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer cancel()
	defer s.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := make(chan WatchEvent, 64)
	emit := func(e WatchEvent) {
		e.Time = time.Now().Format(time.RFC3339)
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}

	observers := client.ObserverFor(s.conn)
	defer client.ForgetObserver(s.conn)

	fanout, err := startWatchMetrics(ctx, s.cfg, observers)
	if err != nil {
		return err
	}
	cancelNew := observers.OnNewProvider(func(gen protocol.Generation, provider string) {
		emit(WatchEvent{Event: "appeared", Generation: gen.String(), Provider: provider})
	})
	defer cancelNew()

	if len(args) == 1 {
		callCtx, callCancel := context.WithTimeout(ctx, s.cfg.Bus.CallTimeout)
		c, err := client.Connect(callCtx, s.conn, s.gen, args[0], fanout)
		callCancel()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		names := []property.Name{property.DisplayName}
		if len(watchNames) > 0 {
			names = parseNames(cmd, watchNames)
		}
		gen, provider := c.Generation().String(), c.Provider()
		// Callbacks hand events to emit on their own goroutines: emit may
		// block, and Close waits for running callbacks.
		describe := func(event, path string) {
			c.GetPropertiesAsync(ctx, path, names, func(t property.Table, err error) {
				e := WatchEvent{Event: event, Generation: gen, Provider: provider, Path: path}
				if err != nil {
					logger.Warn("Property fetch failed", logger.KeyPath, path, logger.KeyError, err)
				}
				if t != nil {
					e.Properties = tableView(t)
				}
				go emit(e)
			})
		}
		describe("watching", c.Root())

		cancelUpdated := c.OnUpdated(func(path string) {
			describe("updated", path)
		})
		defer cancelUpdated()
		cancelDestroyed := c.OnDestroyed(func() {
			go emit(WatchEvent{Event: "destroyed", Generation: gen, Provider: provider})
		})
		defer cancelDestroyed()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.conn.Done():
			return errBusClosed
		case e := <-events:
			if err := printEvent(s.printer, e); err != nil {
				return err
			}
		}
	}
}

var errBusClosed = errors.New("bus connection closed")

// startWatchMetrics serves the client metrics when --metrics-port is set
// and returns the fan-out collector for the watched client. The observer
// registry reports into the same registry. Without the flag it returns nil.
func startWatchMetrics(ctx context.Context, cfg *config.Config, observers *client.ObserverRegistry) (metrics.FanoutMetrics, error) {
	if watchMetricsPort <= 0 {
		return nil, nil
	}
	cfg.Server.Metrics.Enabled = true
	cfg.Server.Metrics.Port = watchMetricsPort
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	result := config.InitializeMetrics(cfg)
	observers.SetMetrics(result.Observer)
	go func() {
		if err := result.Server.Start(ctx); err != nil {
			logger.Error("Metrics server failed", logger.KeyError, err)
		}
	}()
	return result.Fanout, nil
}

func printEvent(p *output.Printer, e WatchEvent) error {
	switch p.Format() {
	case output.FormatJSON:
		return output.PrintJSONLine(p.Writer(), e)
	case output.FormatYAML:
		p.Printf("---\n")
		return output.PrintYAML(p.Writer(), e)
	}
	if len(e.Properties) > 0 {
		p.Printf("%s  %-9s %s %s %s %v\n", e.Time, e.Event, e.Generation, e.Provider, e.Path, e.Properties)
		return nil
	}
	if e.Path != "" {
		p.Printf("%s  %-9s %s %s %s\n", e.Time, e.Event, e.Generation, e.Provider, e.Path)
		return nil
	}
	p.Printf("%s  %-9s %s %s\n", e.Time, e.Event, e.Generation, e.Provider)
	return nil
}

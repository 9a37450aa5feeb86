package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediabus/internal/cli/output"
	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/bus/wsbus"
	"github.com/marmos91/mediabus/pkg/config"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/protocol"
)

// InitLogger initializes the logger with configuration settings.
func InitLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// clientSession holds what a client command needs to talk to the bus.
type clientSession struct {
	cfg     *config.Config
	gen     protocol.Generation
	conn    *bus.Endpoint
	printer *output.Printer
}

// openSession loads the configuration, dials the bus and resolves the
// global flags. The returned context is bounded by bus.call_timeout unless
// noTimeout is set.
func openSession(cmd *cobra.Command, noTimeout bool) (context.Context, context.CancelFunc, *clientSession, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, nil, nil, err
	}
	// Command output goes to stdout; keep log lines out of it.
	if strings.EqualFold(cfg.Logging.Output, "stdout") {
		cfg.Logging.Output = "stderr"
	}
	if err := InitLogger(cfg); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	gen, err := protocol.ParseGeneration(generation)
	if err != nil {
		return nil, nil, nil, err
	}
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	if !noTimeout {
		cancel()
		ctx, cancel = context.WithTimeout(cmd.Context(), cfg.Bus.CallTimeout)
	}

	url := busURL
	if url == "" {
		url = cfg.Bus.BusURL()
	}
	conn, err := wsbus.Dial(ctx, url)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to connect to bus at %s: %w", url, err)
	}
	logger.Debug("Connected to bus", logger.KeyAddress, url, "unique_name", conn.UniqueName())

	s := &clientSession{
		cfg:     cfg,
		gen:     gen,
		conn:    conn,
		printer: output.NewPrinter(cmd.OutOrStdout(), format),
	}
	return ctx, cancel, s, nil
}

// Close drops the bus connection.
func (s *clientSession) Close() {
	_ = s.conn.Close()
}

// parseNames resolves --names, warning about names that are not part of the
// schema. An empty list selects every known property.
func parseNames(cmd *cobra.Command, raw []string) []property.Name {
	var split []string
	for _, r := range raw {
		for _, n := range strings.Split(r, ",") {
			if n = strings.TrimSpace(n); n != "" {
				split = append(split, n)
			}
		}
	}
	if len(split) == 0 {
		return property.All()
	}
	names, unknown := property.ParseNames(split)
	for _, u := range unknown {
		PrintErr("warning: ignoring unknown property %q", u)
	}
	return names
}

// resolvePath returns path, or the provider root when path is empty.
func resolvePath(path, root string) string {
	if path == "" {
		return root
	}
	return path
}

// tableView converts a property table into plain values for JSON and YAML
// output.
func tableView(t property.Table) map[string]any {
	view := make(map[string]any, len(t))
	for _, name := range t.Names() {
		v, _ := t.Get(name)
		view[string(name)] = v.Interface()
	}
	return view
}

// propertyRows renders a single table as NAME/VALUE rows.
type propertyRows struct {
	table property.Table
}

func (p propertyRows) Headers() []string { return []string{"NAME", "VALUE"} }

func (p propertyRows) Rows() [][]string {
	rows := make([][]string, 0, len(p.table))
	for _, name := range p.table.Names() {
		v, _ := p.table.Get(name)
		rows = append(rows, []string{string(name), v.String()})
	}
	return rows
}

// objectRows renders a list of tables one object per row.
type objectRows struct {
	tables []property.Table
}

func (o objectRows) Headers() []string { return []string{"PATH", "TYPE", "NAME"} }

func (o objectRows) Rows() [][]string {
	rows := make([][]string, 0, len(o.tables))
	for _, t := range o.tables {
		rows = append(rows, []string{t.Path(), t.Type(), t.DisplayName()})
	}
	return rows
}

// printTables prints a list of objects as a table or as plain values.
func (s *clientSession) printTables(tables []property.Table) error {
	if s.printer.Format() == output.FormatTable {
		return s.printer.Print(objectRows{tables: tables})
	}
	views := make([]map[string]any, 0, len(tables))
	for _, t := range tables {
		views = append(views, tableView(t))
	}
	return s.printer.Print(views)
}

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediabus/pkg/config"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
	"github.com/marmos91/mediabus/pkg/source/badger"
	"github.com/marmos91/mediabus/pkg/source/memory"
)

var (
	importDB     string
	importSource string
)

var importCmd = &cobra.Command{
	Use:   "import <fixture.yaml>",
	Short: "Import a catalog fixture into a badger database",
	Long: `Copy the catalog described by a YAML fixture into a badger database,
below its root container. The database is either given with --db or taken
from a configured badger source with --source. The daemon must not be
serving the database while importing.

Examples:
  mediabus import library.yaml --db /var/lib/mediabus/library
  mediabus import library.yaml --source archive`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importDB, "db", "", "badger database directory")
	importCmd.Flags().StringVar(&importSource, "source", "", "configured badger source to import into")
	importCmd.MarkFlagsMutuallyExclusive("db", "source")
}

// importTarget resolves the database directory from the flags.
func importTarget() (string, error) {
	if importDB != "" {
		return importDB, nil
	}
	if importSource == "" {
		return "", fmt.Errorf("one of --db or --source is required")
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return "", err
	}
	src, ok := cfg.Sources[strings.ToLower(importSource)]
	if !ok {
		return "", fmt.Errorf("source %q is not configured", importSource)
	}
	if src.Type != "badger" {
		return "", fmt.Errorf("source %q is a %s source, not badger", importSource, src.Type)
	}
	path, _ := src.Badger["db_path"].(string)
	if path == "" {
		return "", fmt.Errorf("source %q has no db_path", importSource)
	}
	return path, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	dbPath, err := importTarget()
	if err != nil {
		return err
	}

	fixture, err := memory.LoadFile(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = fixture.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	root, err := fixture.Resolve(ctx, source.RootID, []property.Name{property.DisplayName})
	if err != nil {
		return err
	}
	dst, err := badger.NewBadgerSource(ctx, badger.BadgerSourceConfig{
		DBPath:   dbPath,
		RootName: root.Properties.DisplayName(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	n, err := source.Copy(ctx, dst, fixture, source.RootID, source.RootID)
	if err != nil {
		return fmt.Errorf("import stopped after %d objects: %w", n, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d objects from %s into %s\n", n, args[0], dbPath)
	return nil
}

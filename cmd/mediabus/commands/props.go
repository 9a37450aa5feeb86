package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediabus/internal/cli/output"
	"github.com/marmos91/mediabus/pkg/client"
)

var propsNames []string

var propsCmd = &cobra.Command{
	Use:   "props <provider> [path]",
	Short: "Show the properties of an object",
	Long: `Fetch the properties of one object of a provider. Without a path the
provider's root container is used.

Examples:
  # Every property of the root container
  mediabus props library

  # Selected properties of an item over MediaServer1
  mediabus props library /org/gnome/UPnP/MediaServer1/library/items/3 -g 1 \
      --names DisplayName,URLs`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runProps,
}

func init() {
	propsCmd.Flags().StringSliceVar(&propsNames, "names", nil, "properties to fetch (default: all)")
}

func runProps(cmd *cobra.Command, args []string) error {
	ctx, cancel, s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer cancel()
	defer s.Close()

	c, err := client.Connect(ctx, s.conn, s.gen, args[0], nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	path := c.Root()
	if len(args) > 1 {
		path = resolvePath(args[1], c.Root())
	}

	table, err := c.GetProperties(ctx, path, parseNames(cmd, propsNames))
	if err != nil {
		return fmt.Errorf("get properties of %s: %w", path, err)
	}

	if s.printer.Format() == output.FormatTable {
		return s.printer.Print(propertyRows{table: table})
	}
	return s.printer.Print(tableView(table))
}

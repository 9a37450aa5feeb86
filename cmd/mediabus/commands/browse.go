package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediabus/pkg/client"
	"github.com/marmos91/mediabus/pkg/property"
)

var (
	browseOffset uint32
	browseMax    uint32
	browseNames  []string
)

var browseCmd = &cobra.Command{
	Use:   "browse <provider> [path]",
	Short: "List the children of a container",
	Long: `List the children of a container of a provider. Without a path the
provider's root container is listed.

Examples:
  # The root's children
  mediabus browse library

  # The second page of ten children, as YAML
  mediabus browse library /org/gnome/UPnP/MediaServer2/library/containers/2 \
      --offset 10 --max 10 -o yaml`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runBrowse,
}

func init() {
	browseCmd.Flags().Uint32Var(&browseOffset, "offset", 0, "index of the first child")
	browseCmd.Flags().Uint32Var(&browseMax, "max", 0, "maximum number of children (0 = no limit)")
	browseCmd.Flags().StringSliceVar(&browseNames, "names", nil, "properties to fetch per child (default: all)")
}

// withListColumns makes sure the columns of the table view are fetched.
func withListColumns(names []property.Name) []property.Name {
	for _, required := range []property.Name{property.Path, property.Type, property.DisplayName} {
		found := false
		for _, n := range names {
			if n == required {
				found = true
				break
			}
		}
		if !found {
			names = append(names, required)
		}
	}
	return names
}

func runBrowse(cmd *cobra.Command, args []string) error {
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

	names := parseNames(cmd, browseNames)
	if s.printer.Format() == "table" {
		names = withListColumns(names)
	}

	children, err := c.ListChildren(ctx, path, browseOffset, browseMax, names)
	if err != nil {
		return fmt.Errorf("list children of %s: %w", path, err)
	}
	return s.printTables(children)
}

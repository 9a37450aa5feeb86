package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediabus/pkg/client"
)

var (
	searchPath   string
	searchOffset uint32
	searchMax    uint32
	searchNames  []string
)

var searchCmd = &cobra.Command{
	Use:   "search <provider> <query>",
	Short: "Search the objects below a container",
	Long: `Run a search query against a searchable container of a MediaServer2
provider. The root container is searched unless --path is given.

Queries compare properties with =, != and contains, combined with "and",
"or" and parentheses. A bare word matches display names containing it and
"*" matches everything.

Examples:
  mediabus search library 'Artist contains "Miles"'
  mediabus search library 'Genre = "Jazz" or Genre = "Blues"' --max 20
  mediabus search library kind`,
	Args: cobra.ExactArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchPath, "path", "", "container to search (default: the root)")
	searchCmd.Flags().Uint32Var(&searchOffset, "offset", 0, "index of the first match")
	searchCmd.Flags().Uint32Var(&searchMax, "max", 0, "maximum number of matches (0 = no limit)")
	searchCmd.Flags().StringSliceVar(&searchNames, "names", nil, "properties to fetch per match (default: all)")
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	path := resolvePath(searchPath, c.Root())
	names := parseNames(cmd, searchNames)
	if s.printer.Format() == "table" {
		names = withListColumns(names)
	}

	matches, err := c.Search(ctx, path, args[1], searchOffset, searchMax, names)
	if err != nil {
		return fmt.Errorf("search %s: %w", path, err)
	}
	return s.printTables(matches)
}

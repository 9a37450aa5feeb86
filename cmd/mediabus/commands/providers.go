package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/mediabus/pkg/client"
	"github.com/marmos91/mediabus/pkg/protocol"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the providers on the bus",
	Long: `List the providers currently owning a MediaServer bus name.

Both generations are listed unless --generation is given.

Examples:
  # List every provider
  mediabus providers

  # Only MediaServer1 providers, as JSON
  mediabus providers -g 1 -o json`,
	Args: cobra.NoArgs,
	RunE: runProviders,
}

// ProviderEntry is one provider as printed by the providers command.
type ProviderEntry struct {
	Generation string `json:"generation" yaml:"generation"`
	Provider   string `json:"provider" yaml:"provider"`
	BusName    string `json:"bus_name" yaml:"bus_name"`
}

// ProviderList is the providers command output.
type ProviderList []ProviderEntry

// Headers implements output.TableRenderer.
func (l ProviderList) Headers() []string {
	return []string{"GENERATION", "PROVIDER", "BUS NAME"}
}

// Rows implements output.TableRenderer.
func (l ProviderList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rows = append(rows, []string{e.Generation, e.Provider, e.BusName})
	}
	return rows
}

func runProviders(cmd *cobra.Command, args []string) error {
	ctx, cancel, s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer cancel()
	defer s.Close()

	gens := protocol.Generations
	if cmd.Flags().Changed("generation") {
		gens = []protocol.Generation{s.gen}
	}

	list := ProviderList{}
	for _, gen := range gens {
		providers, err := client.ListProviders(ctx, s.conn, gen)
		if err != nil {
			return err
		}
		for _, p := range providers {
			list = append(list, ProviderEntry{
				Generation: gen.String(),
				Provider:   p,
				BusName:    gen.BusName(p),
			})
		}
	}

	if len(list) == 0 && s.printer.Format() == "table" {
		s.printer.Printf("No providers on the bus.\n")
		return nil
	}
	return s.printer.Print(list)
}

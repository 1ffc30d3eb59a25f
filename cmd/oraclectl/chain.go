package main

import (
	"crypto/rand"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/chainoracle/internal/hashlink"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Generate and inspect hash chains offline",
}

var (
	chainLength int
	chainHash   string
	chainOut    string
	chainFile   string
	chainAll    bool
)

var chainGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new hash chain and save it to a file",
	Long: `generate draws a random tail and folds it backwards into a chain of
--length links. Publish the printed genesis commitment with 'oraclectl init';
each 'oraclectl advance' then reveals the next link.

--hash must match the oracle's program.hash_link setting.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		linker, err := hashlink.ByName(chainHash)
		if err != nil {
			return err
		}
		chain, err := hashlink.GenerateChain(linker, chainLength, rand.Reader)
		if err != nil {
			return err
		}
		if err := hashlink.SaveChain(chainOut, chain); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "generated %d-link %s chain\ngenesis: %s\nwritten to: %s\n",
			len(chain.Links), chain.Construction, chain.Genesis(), chainOut)
		return nil
	},
}

var chainShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Verify a chain file and print its links",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, err := hashlink.LoadChain(chainFile)
		if err != nil {
			return err
		}
		linker, err := hashlink.ByName(chain.Construction)
		if err != nil {
			return err
		}
		if err := chain.Verify(linker); err != nil {
			return fmt.Errorf("chain %s is invalid: %w", chainFile, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "construction: %s\nlinks: %d\ngenesis: %s\n", chain.Construction, len(chain.Links), chain.Genesis())
		if !chainAll {
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "POINTER\tCOMMITMENT\tNEXT")
		for i, ln := range chain.Links {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, ln.Commitment, ln.Next)
		}
		return tw.Flush()
	},
}

func init() {
	chainGenerateCmd.Flags().IntVar(&chainLength, "length", 1000, "Number of links")
	chainGenerateCmd.Flags().StringVar(&chainHash, "hash", "blake2b", "Link construction: blake2b or sha3")
	chainGenerateCmd.Flags().StringVar(&chainOut, "out", "chain.yaml", "Output file")

	chainShowCmd.Flags().StringVar(&chainFile, "chain", "chain.yaml", "Chain file")
	chainShowCmd.Flags().BoolVar(&chainAll, "links", false, "Print every link")

	chainCmd.AddCommand(chainGenerateCmd, chainShowCmd)
	rootCmd.AddCommand(chainCmd)
}

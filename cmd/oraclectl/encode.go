package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/chainoracle/internal/instruction"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

var encodeHex bool

var encodeCmd = &cobra.Command{
	Use:   "encode <init|advance|bump|register> [args...]",
	Short: "Print the wire bytes of an instruction",
	Long: `encode packs an instruction without contacting an oracle:

  oraclectl encode init <commitment>
  oraclectl encode advance <next> <secret>
  oraclectl encode bump
  oraclectl encode register <address>

Keys are base58 or 64-character hex. Output is base64 unless --hex is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ix, err := parseInstruction(args[0], args[1:])
		if err != nil {
			return err
		}
		data := instruction.Pack(ix)
		if encodeHex {
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(data))
		}
		return nil
	},
}

func init() {
	encodeCmd.Flags().BoolVar(&encodeHex, "hex", false, "Print hex instead of base64")
	rootCmd.AddCommand(encodeCmd)
}

// parseInstruction builds an instruction from its CLI name and key arguments.
func parseInstruction(name string, args []string) (instruction.Instruction, error) {
	want := map[string]int{"init": 1, "advance": 2, "bump": 0, "register": 1}
	n, ok := want[name]
	if !ok {
		return nil, fmt.Errorf("unknown instruction %q (want init, advance, bump or register)", name)
	}
	if len(args) != n {
		return nil, fmt.Errorf("%s takes %d key argument(s), got %d", name, n, len(args))
	}

	keys := make([]key.Key32, len(args))
	for i, a := range args {
		k, err := key.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		keys[i] = k
	}

	switch name {
	case "init":
		return instruction.Init{InitialCommitment: keys[0]}, nil
	case "advance":
		return instruction.Advance{Next: keys[0], Secret: keys[1]}, nil
	case "bump":
		return instruction.BumpPointer{}, nil
	default:
		return instruction.RegisterCallback{Address: keys[0]}, nil
	}
}

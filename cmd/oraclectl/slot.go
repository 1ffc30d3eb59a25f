package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/chainoracle/internal/authority"
	"github.com/jmerrifield20/chainoracle/internal/hashlink"
	"github.com/jmerrifield20/chainoracle/pkg/client"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

var (
	slotFlag      string
	slotChainFile string
	slotBalance   uint64
	advanceCount  int
	showFormat    string
	requestTTL    time.Duration
)

// resolveSlot returns --slot if set, otherwise the slot derived from the
// key file's public key with the oracle's program parameters.
func resolveSlot(ctx context.Context, c *client.Client) (key.Key32, error) {
	if slotFlag != "" {
		return key.Parse(slotFlag)
	}
	kf, err := loadKeyFile(keyFile)
	if err != nil {
		return key.Key32{}, err
	}
	info, err := c.Program(ctx)
	if err != nil {
		return key.Key32{}, fmt.Errorf("fetch program: %w", err)
	}
	return authority.SeedDeriver{}.DeriveAddress(kf.PublicKey, info.SlotSeed, info.ProgramID)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTTL)
}

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Allocate the slot controlled by the key file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(true)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		rec, err := c.Allocate(ctx, slotBalance)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "allocated slot %s (balance %d)\n", rec.Slot, rec.Balance)
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialise the slot with a chain's genesis commitment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, err := hashlink.LoadChain(slotChainFile)
		if err != nil {
			return err
		}
		c, err := newClient(true)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		slot, err := resolveSlot(ctx, c)
		if err != nil {
			return err
		}
		res, err := c.Init(ctx, slot, chain.Genesis())
		if err != nil {
			return explain(err)
		}
		return printRecord(cmd.OutOrStdout(), &res.Record, showFormat)
	},
}

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Reveal the next link(s) of the chain",
	Long: `advance reads the slot's pointer, looks up the matching link in the
chain file and reveals it. --count reveals several links in sequence.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, err := hashlink.LoadChain(slotChainFile)
		if err != nil {
			return err
		}
		c, err := newClient(false)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		slot, err := resolveSlot(ctx, c)
		if err != nil {
			return err
		}
		rec, err := c.Record(ctx, slot)
		if err != nil {
			return err
		}

		for i := 0; i < advanceCount; i++ {
			link, err := nextLink(chain, rec)
			if err != nil {
				return err
			}
			res, err := c.Advance(ctx, slot, link.Next, link.Secret)
			if err != nil {
				return explain(err)
			}
			rec = &res.Record
		}
		return printRecord(cmd.OutOrStdout(), rec, showFormat)
	},
}

var bumpCmd = &cobra.Command{
	Use:   "bump",
	Short: "Increment the slot's pointer without revealing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(true)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		slot, err := resolveSlot(ctx, c)
		if err != nil {
			return err
		}
		res, err := c.BumpPointer(ctx, slot)
		if err != nil {
			return explain(err)
		}
		return printRecord(cmd.OutOrStdout(), &res.Record, showFormat)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <callback-address>",
	Short: "Register a callback address on the slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := key.Parse(args[0])
		if err != nil {
			return fmt.Errorf("callback address: %w", err)
		}
		c, err := newClient(false)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		slot, err := resolveSlot(ctx, c)
		if err != nil {
			return err
		}
		res, err := c.RegisterCallback(ctx, slot, addr)
		if err != nil {
			return explain(err)
		}
		return printRecord(cmd.OutOrStdout(), &res.Record, showFormat)
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the slot's record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(false)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		slot, err := resolveSlot(ctx, c)
		if err != nil {
			return err
		}
		rec, err := c.Record(ctx, slot)
		if err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), rec, showFormat)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{allocateCmd, initCmd, advanceCmd, bumpCmd, registerCmd, showCmd} {
		cmd.Flags().DurationVar(&requestTTL, "timeout", 15*time.Second, "Request timeout")
		if cmd != allocateCmd {
			cmd.Flags().StringVar(&slotFlag, "slot", "", "Slot address (default: derived from the key file)")
			cmd.Flags().StringVar(&showFormat, "format", "text", "Output format: text, json or yaml")
		}
		rootCmd.AddCommand(cmd)
	}
	allocateCmd.Flags().Uint64Var(&slotBalance, "balance", 0, "Slot balance (default: rent-exempt minimum)")
	initCmd.Flags().StringVar(&slotChainFile, "chain", "chain.yaml", "Chain file")
	advanceCmd.Flags().StringVar(&slotChainFile, "chain", "chain.yaml", "Chain file")
	advanceCmd.Flags().IntVar(&advanceCount, "count", 1, "Number of links to reveal")
}

// nextLink returns the link whose commitment the record currently holds.
// The pointer is tried first; bumps move the pointer without moving the
// commitment, so the chain is scanned when they disagree.
func nextLink(chain *hashlink.Chain, rec *client.Record) (hashlink.Link, error) {
	if link, err := chain.Step(rec.Pointer); err == nil && link.Commitment == rec.Commitment {
		return link, nil
	}
	for _, link := range chain.Links {
		if link.Commitment == rec.Commitment {
			return link, nil
		}
	}
	if last := chain.Links[len(chain.Links)-1]; last.Next == rec.Commitment {
		return hashlink.Link{}, fmt.Errorf("%s: %w; generate a new chain", slotChainFile, hashlink.ErrChainExhausted)
	}
	return hashlink.Link{}, fmt.Errorf("slot commitment %s is not in %s", rec.Commitment, slotChainFile)
}

// explain adds the stable code to program errors.
func explain(err error) error {
	var perr *client.ProgramError
	if errors.As(err, &perr) {
		kind := "program error"
		if perr.Custom {
			kind = "custom program error"
		}
		return fmt.Errorf("rejected: %s %d (%s)", kind, perr.Code, perr.Name)
	}
	return err
}

func printRecord(w io.Writer, rec *client.Record, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(rec)
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "SLOT\t%s\n", rec.Slot)
		fmt.Fprintf(tw, "OWNER\t%s\n", rec.Owner)
		fmt.Fprintf(tw, "BALANCE\t%d\n", rec.Balance)
		fmt.Fprintf(tw, "INITIALIZED\t%t\n", rec.Initialized)
		fmt.Fprintf(tw, "COMMITMENT\t%s\n", rec.Commitment)
		fmt.Fprintf(tw, "POINTER\t%d\n", rec.Pointer)
		fmt.Fprintf(tw, "CALLBACKS\t%d\n", rec.CallbackCount)
		for i, cb := range rec.Callbacks {
			fmt.Fprintf(tw, "  [%d]\t%s\n", i, cb)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/RichardKnop/machinery/v2/tasks"
	"github.com/spf13/cobra"
)

var canvasWait bool

// canvasCmd represents the canvas command
var canvasCmd = &cobra.Command{
	Use:   "canvas",
	Short: "Compose and dispatch chains, groups and chords",
	Long: `Compose probe tasks into a canvas and dispatch it.

Each task token is name:arg:arg, so "add:1:2" is add(1, 2). Examples:

  probectl canvas chain add:1:1 add:2 --wait
  probectl canvas group redis_echo:one redis_echo:two
  probectl canvas chord tsum add:1:2 add:3:4 --wait`,
}

var canvasChainCmd = &cobra.Command{
	Use:   "chain <task> <task> ...",
	Short: "Dispatch tasks sequentially, each result feeding the next",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sigs, err := parseSignatures(args)
		if err != nil {
			return err
		}
		chain, err := tasks.NewChain(sigs...)
		if err != nil {
			return err
		}

		server := getServer()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		res, err := server.SendChainWithContext(ctx, chain)
		if err != nil {
			return fmt.Errorf("send chain failed: %w", err)
		}
		if !canvasWait {
			printOutput(map[string]string{"first_task_id": chain.Tasks[0].UUID, "state": "sent"})
			return nil
		}

		values, err := res.GetWithTimeout(timeout, 100*time.Millisecond)
		if err != nil {
			return fmt.Errorf("chain failed: %w", err)
		}
		fmt.Printf("chain = %s\n", tasks.HumanReadableResults(values))
		return nil
	},
}

var canvasGroupCmd = &cobra.Command{
	Use:   "group <task> <task> ...",
	Short: "Dispatch tasks in parallel",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sigs, err := parseSignatures(args)
		if err != nil {
			return err
		}
		group, err := tasks.NewGroup(sigs...)
		if err != nil {
			return err
		}

		server := getServer()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		results, err := server.SendGroupWithContext(ctx, group, len(sigs))
		if err != nil {
			return fmt.Errorf("send group failed: %w", err)
		}
		if !canvasWait {
			printOutput(map[string]string{"group_id": group.GroupUUID, "state": "sent"})
			return nil
		}

		for _, res := range results {
			values, err := res.GetWithTimeout(timeout, 100*time.Millisecond)
			if err != nil {
				return fmt.Errorf("group member %s failed: %w", res.Signature.Name, err)
			}
			fmt.Printf("%s = %s\n", res.Signature.Name, tasks.HumanReadableResults(values))
		}
		return nil
	},
}

var canvasChordCmd = &cobra.Command{
	Use:   "chord <callback> <task> <task> ...",
	Short: "Dispatch tasks in parallel with a completion callback",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		callback, err := parseSignature(args[0])
		if err != nil {
			return err
		}
		sigs, err := parseSignatures(args[1:])
		if err != nil {
			return err
		}
		group, err := tasks.NewGroup(sigs...)
		if err != nil {
			return err
		}
		chord, err := tasks.NewChord(group, callback)
		if err != nil {
			return err
		}

		server := getServer()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		res, err := server.SendChordWithContext(ctx, chord, len(sigs))
		if err != nil {
			return fmt.Errorf("send chord failed: %w", err)
		}
		if !canvasWait {
			printOutput(map[string]string{"group_id": group.GroupUUID, "state": "sent"})
			return nil
		}

		values, err := res.GetWithTimeout(timeout, 100*time.Millisecond)
		if err != nil {
			return fmt.Errorf("chord failed: %w", err)
		}
		fmt.Printf("%s = %s\n", callback.Name, tasks.HumanReadableResults(values))
		return nil
	},
}

func parseSignatures(tokens []string) ([]*tasks.Signature, error) {
	sigs := make([]*tasks.Signature, 0, len(tokens))
	for _, t := range tokens {
		sig, err := parseSignature(t)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func init() {
	rootCmd.AddCommand(canvasCmd)
	canvasCmd.AddCommand(canvasChainCmd, canvasGroupCmd, canvasChordCmd)

	canvasCmd.PersistentFlags().BoolVar(&canvasWait, "wait", false, "wait for the result")
}

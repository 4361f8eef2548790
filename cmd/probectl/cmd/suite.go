package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/RichardKnop/machinery/v2/tasks"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// suiteCmd represents the suite command
var suiteCmd = &cobra.Command{
	Use:   "suite",
	Short: "Run bundled probe scenarios against the worker",
}

var suiteSmokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Run a quick end-to-end smoke check",
	Long: `Run a quick end-to-end smoke check: a value probe, a chain, a retried
probe and a side-channel echo, verifying results and side effects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := getServer()
		side := getSideChannel()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// Value probe
		res, err := server.SendTaskWithContext(ctx, &tasks.Signature{
			Name: "add",
			Args: []tasks.Arg{{Type: "int64", Value: 1}, {Type: "int64", Value: 2}},
		})
		if err != nil {
			return fmt.Errorf("send add failed: %w", err)
		}
		values, err := res.GetWithTimeout(timeout, 100*time.Millisecond)
		if err != nil {
			return fmt.Errorf("add failed: %w", err)
		}
		fmt.Printf("add(1, 2) = %s\n", tasks.HumanReadableResults(values))

		// Chain
		chain, err := tasks.NewChain(
			&tasks.Signature{Name: "add", Args: []tasks.Arg{{Type: "int64", Value: 1}, {Type: "int64", Value: 1}}},
			&tasks.Signature{Name: "add", Args: []tasks.Arg{{Type: "int64", Value: 2}}},
		)
		if err != nil {
			return err
		}
		chainRes, err := server.SendChainWithContext(ctx, chain)
		if err != nil {
			return fmt.Errorf("send chain failed: %w", err)
		}
		values, err = chainRes.GetWithTimeout(timeout, 100*time.Millisecond)
		if err != nil {
			return fmt.Errorf("chain failed: %w", err)
		}
		fmt.Printf("add(1, 1) | add(2) = %s\n", tasks.HumanReadableResults(values))

		// Retried probe
		retryRes, err := server.SendTaskWithContext(ctx, &tasks.Signature{
			Name:       "retry_once",
			RetryCount: 1,
		})
		if err != nil {
			return fmt.Errorf("send retry_once failed: %w", err)
		}
		values, err = retryRes.GetWithTimeout(timeout, 100*time.Millisecond)
		if err != nil {
			return fmt.Errorf("retry_once failed: %w", err)
		}
		fmt.Printf("retry_once performed %s retries\n", tasks.HumanReadableResults(values))

		// Side-channel echo
		marker := "smoke-" + uuid.NewString()
		echoRes, err := server.SendTaskWithContext(ctx, &tasks.Signature{
			Name: "redis_echo",
			Args: []tasks.Arg{{Type: "string", Value: marker}},
		})
		if err != nil {
			return fmt.Errorf("send redis_echo failed: %w", err)
		}
		if _, err := echoRes.GetWithTimeout(timeout, 100*time.Millisecond); err != nil {
			return fmt.Errorf("redis_echo failed: %w", err)
		}
		echoed, err := side.Range(ctx, cliConfig().Probes.EchoKey)
		if err != nil {
			return fmt.Errorf("side channel read failed: %w", err)
		}
		found := false
		for _, m := range echoed {
			if m == marker {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("echo marker %q not found in side channel", marker)
		}
		fmt.Println("redis_echo landed in the side channel")

		fmt.Println("smoke suite passed")
		return nil
	},
}

var suiteClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the side-channel keys between runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		side := getSideChannel()
		keys := cliConfig().Probes
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := side.Clear(ctx, keys.EchoKey, keys.CountKey, keys.GroupKey); err != nil {
			return fmt.Errorf("clear failed: %w", err)
		}
		fmt.Println("side channel cleared")
		return nil
	},
}

var suiteShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the side-channel contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		side := getSideChannel()
		keys := cliConfig().Probes
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		echoed, err := side.Range(ctx, keys.EchoKey)
		if err != nil {
			return fmt.Errorf("read echo list failed: %w", err)
		}
		count, err := side.CountValue(ctx, keys.CountKey)
		if err != nil {
			return fmt.Errorf("read counter failed: %w", err)
		}
		groups, err := side.Range(ctx, keys.GroupKey)
		if err != nil {
			return fmt.Errorf("read group list failed: %w", err)
		}

		if outputJSON {
			printOutput(map[string]interface{}{
				"echo":      echoed,
				"count":     count,
				"group_ids": groups,
			})
			return nil
		}
		fmt.Printf("echo (%s): %v\n", keys.EchoKey, echoed)
		fmt.Printf("count (%s): %d\n", keys.CountKey, count)
		fmt.Printf("group ids (%s): %v\n", keys.GroupKey, groups)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(suiteCmd)
	suiteCmd.AddCommand(suiteSmokeCmd, suiteClearCmd, suiteShowCmd)
}

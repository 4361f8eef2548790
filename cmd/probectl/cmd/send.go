package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/RichardKnop/machinery/v2/tasks"
	"github.com/spf13/cobra"
)

var (
	sendPriority   uint8
	sendHeaders    []string
	sendRetryCount int
	sendRoutingKey string
	sendWait       bool
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <task> [arg ...]",
	Short: "Send a single probe task",
	Long: `Send a single probe task to the worker queue.

Arguments that parse as integers are sent as int64, everything else as
string. Examples:

  probectl send add 1 2 --wait
  probectl send retry_once --retry-count 1 --wait
  probectl send redis_echo "before start"
  probectl send return_priority --priority 9 --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig := &tasks.Signature{
			Name:       args[0],
			Priority:   sendPriority,
			RetryCount: sendRetryCount,
			RoutingKey: sendRoutingKey,
		}
		for _, a := range args[1:] {
			sig.Args = append(sig.Args, parseArg(a))
		}
		headers, err := parseHeaders(sendHeaders)
		if err != nil {
			return err
		}
		sig.Headers = headers

		server := getServer()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		res, err := server.SendTaskWithContext(ctx, sig)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		if !sendWait {
			printOutput(map[string]string{"task_id": sig.UUID, "state": "sent"})
			return nil
		}

		values, err := res.GetWithTimeout(timeout, 100*time.Millisecond)
		if err != nil {
			return fmt.Errorf("task failed: %w", err)
		}
		if outputJSON {
			printOutput(map[string]string{
				"task_id": sig.UUID,
				"state":   "success",
				"result":  tasks.HumanReadableResults(values),
			})
		} else {
			fmt.Printf("%s = %s\n", sig.Name, tasks.HumanReadableResults(values))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().Uint8Var(&sendPriority, "priority", 0, "delivery priority (0-9)")
	sendCmd.Flags().StringArrayVar(&sendHeaders, "header", nil, "signature header as key=value (repeatable)")
	sendCmd.Flags().IntVar(&sendRetryCount, "retry-count", 0, "retries the worker may perform on failure")
	sendCmd.Flags().StringVar(&sendRoutingKey, "routing-key", "", "override the routing key")
	sendCmd.Flags().BoolVar(&sendWait, "wait", false, "wait for the result")
}

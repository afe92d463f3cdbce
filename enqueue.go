package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"decline-notifier/internal/worker"
)

var enqueueFlags struct {
	callID      string
	baseURL     string
	receiverID  string
	actionToken string
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a decline notification for a call",
	Example: `  decline-notifier enqueue --call-id c1 --base-url https://api.example.com
  decline-notifier enqueue --call-id c1 --base-url https://api.example.com --receiver-id r1 --action-token t1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Queue.Backend == "memory" {
			return errors.WithHint(errors.New("enqueue needs a shared queue"), "set queue.backend = \"redis\"")
		}

		s := buildStack(cfg)
		defer s.close()

		f := enqueueFlags
		task, ok, err := worker.Submit(cmd.Context(), s.queue, f.callID, f.baseURL, f.receiverID, f.actionToken)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !ok {
			fmt.Fprintf(out, "decline for call %s already queued, keeping existing job\n", f.callID)
			return nil
		}
		fmt.Fprintf(out, "queued decline for call %s (task %s)\n", f.callID, task.ID)
		return nil
	},
}

func init() {
	fl := enqueueCmd.Flags()
	fl.StringVar(&enqueueFlags.callID, "call-id", "", "call identifier (required)")
	fl.StringVar(&enqueueFlags.baseURL, "base-url", "", "endpoint base URL (required)")
	fl.StringVar(&enqueueFlags.receiverID, "receiver-id", "", "receiver identifier")
	fl.StringVar(&enqueueFlags.actionToken, "action-token", "", "action token forwarded to the endpoint")
	_ = enqueueCmd.MarkFlagRequired("call-id")
	_ = enqueueCmd.MarkFlagRequired("base-url")
}

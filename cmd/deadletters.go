package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usagi-dev/usagi/core/queue"
	"github.com/usagi-dev/usagi/core/storage"
)

var deadLettersLimit int

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List analysis messages that exhausted their delivery attempts",
	RunE:  runDeadLetters,
}

func init() {
	rootCmd.AddCommand(deadLettersCmd)
	deadLettersCmd.Flags().IntVar(&deadLettersLimit, "limit", 50, "maximum letters to show")
}

func runDeadLetters(cmd *cobra.Command, _ []string) error {
	setupLogger()
	ctx := cmd.Context()

	dirs, err := storage.ResolveDirs()
	if err != nil {
		return err
	}

	dlq, err := queue.NewDeadLetterStore(dirs.StateDir("dead_letters.db"))
	if err != nil {
		return err
	}
	defer dlq.Close()

	letters, err := dlq.List(ctx, deadLettersLimit)
	if err != nil {
		return err
	}
	if len(letters) == 0 {
		fmt.Println("no dead letters")
		return nil
	}

	for _, l := range letters {
		fmt.Printf("%s  session=%s attempts=%d failed=%s\n  error: %s\n  payload: %s\n",
			l.MessageID, l.SessionID, l.Attempts,
			l.FailedAt.Format("2006-01-02 15:04:05"), l.LastError, l.Payload)
	}
	return nil
}

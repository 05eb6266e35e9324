package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push SESSION TYPE [PAYLOAD]",
	Short: "Push a message to a session",
	Long: `Push a message to a session bus. PAYLOAD is a JSON value; it is sent
as a string when it does not parse, and as null when omitted. Use - to read
the payload from stdin.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload json.RawMessage
		if len(args) == 3 {
			raw := args[2]
			if raw == "-" {
				data, err := readStdin()
				if err != nil {
					return err
				}
				raw = data
			}
			payload = toJSON(raw)
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		var body any
		if payload != nil {
			body = payload
		}
		id, err := c.Push(cmd.Context(), args[0], args[1], body)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var updatesCmd = &cobra.Command{
	Use:   "updates SESSION [LAST_ID]",
	Short: "Read the messages of a session",
	Long: `Print the messages of a session newer than LAST_ID (default 0), one JSON
object per line. With --follow the command keeps long polling for new
messages until interrupted.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		wait, _ := cmd.Flags().GetDuration("wait")
		if !follow && !cmd.Flags().Changed("wait") {
			wait = 0
		}

		var lastID int64
		if len(args) == 2 {
			if _, err := fmt.Sscan(args[1], &lastID); err != nil {
				return fmt.Errorf("invalid last id %q", args[1])
			}
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		enc := json.NewEncoder(os.Stdout)
		for {
			msgs, err := c.Updates(cmd.Context(), args[0], lastID, wait)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				if err := enc.Encode(m); err != nil {
					return err
				}
				lastID = m.ID
			}
			if !follow {
				return nil
			}
		}
	},
}

func init() {
	updatesCmd.Flags().BoolP("follow", "f", false, "Keep polling for new messages")
	updatesCmd.Flags().Duration("wait", 30*time.Second, "Long poll duration per request")

	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(updatesCmd)
}

func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

// toJSON keeps valid JSON as is and encodes anything else as a string
func toJSON(raw string) json.RawMessage {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	data, _ := json.Marshal(raw)
	return data
}

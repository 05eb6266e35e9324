package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/brainbox/pkg/api"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit DECIDER METHOD [ARG...]",
	Short: "Submit a task",
	Long: `Submit a task to a decider. Arguments are parsed as JSON values and
fall back to plain strings, so 3 is a number and hello is a string.

Use --file to submit a whole task graph from a JSON file shaped like
{"tasks": [{"id": "a", "decider": "...", "method": "...", "prerequisites": []}]}.

Examples:
  # Run a method and wait for the result
  brainbox submit whisper transcribe '"talk.wav"' --parameter large --wait 5m

  # Submit a task graph
  brainbox submit --file pipeline.json`,
	RunE: runSubmit,
}

var jobCmd = &cobra.Command{
	Use:   "job ID",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		job, err := c.GetJob(cmd.Context(), args[0], wait)
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		jobs, err := c.ListJobs(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "ID\tDECIDER\tMETHOD\tPARAMETER\tSTATUS\tCREATED")
		for _, job := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				job.TaskID, job.Decider, job.Method, dash(job.Parameter), jobStatus(job),
				job.CreatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

func init() {
	submitCmd.Flags().StringP("file", "f", "", "JSON file with a task graph")
	submitCmd.Flags().String("id", "", "Task id (generated when empty)")
	submitCmd.Flags().StringP("parameter", "p", "", "Decider parameter selecting the instance")
	submitCmd.Flags().String("session", "", "Bus session that receives the result")
	submitCmd.Flags().StringSlice("after", nil, "Prerequisite job ids")
	submitCmd.Flags().String("timeout", "", "Invocation timeout, such as 30s")
	submitCmd.Flags().Duration("wait", 0, "Wait up to this long for a single task's result")

	jobCmd.Flags().Duration("wait", 0, "Wait up to this long for the job to finish")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	wait, _ := cmd.Flags().GetDuration("wait")

	var tasks []api.TaskRequest
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		var req api.SubmitRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse task graph: %w", err)
		}
		tasks = req.Tasks
	} else {
		if len(args) < 2 {
			return fmt.Errorf("DECIDER and METHOD are required without --file")
		}
		task := api.TaskRequest{Decider: args[0], Method: args[1], Arguments: parseArguments(args[2:])}
		task.ID, _ = cmd.Flags().GetString("id")
		task.Parameter, _ = cmd.Flags().GetString("parameter")
		task.Session, _ = cmd.Flags().GetString("session")
		task.Prerequisites, _ = cmd.Flags().GetStringSlice("after")
		task.Timeout, _ = cmd.Flags().GetString("timeout")
		tasks = []api.TaskRequest{task}
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ids, err := c.Submit(cmd.Context(), tasks...)
	if err != nil {
		return err
	}
	if wait <= 0 || len(ids) != 1 {
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	job, err := c.GetJob(cmd.Context(), ids[0], wait)
	if err != nil {
		return err
	}
	if err := printJSON(job); err != nil {
		return err
	}
	if job.Status == types.JobStatusFailed {
		return fmt.Errorf("job %s failed", job.TaskID)
	}
	return nil
}

// parseArguments reads each argument as JSON, falling back to a string
func parseArguments(args []string) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err != nil {
			v = a
		}
		out = append(out, v)
	}
	return out
}

func jobStatus(job *types.Job) string {
	if job.Error != nil {
		return fmt.Sprintf("%s (%s)", job.Status, job.Error.Kind)
	}
	return string(job.Status)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/spf13/cobra"
)

var decidersCmd = &cobra.Command{
	Use:   "deciders",
	Short: "List deciders and their instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		statuses, err := c.ListDeciders(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "NAME\tMODE\tSTATUS\tINSTANCES")
		for _, st := range statuses {
			status := string(st.Status)
			if st.Error != "" {
				status += ": " + st.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Name, st.Mode, status, instanceSummary(st.Instances))
		}
		return tw.Flush()
	},
}

var installCmd = &cobra.Command{
	Use:   "install NAME",
	Short: "Install a decider again",
	Long: `Build or pull a decider's image on the server. A previously recorded
install failure is cleared first, so this is also how a fixed image is
retried.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		fmt.Printf("Installing decider %s...\n", args[0])
		resp, err := c.Install(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Decider %s is %s\n", resp.Name, resp.Status)
		return nil
	},
}

var selftestCmd = &cobra.Command{
	Use:   "selftest NAME",
	Short: "Run a decider's self-test locally",
	Long: `Install, start and warm up a decider on the local container runtime, run
the self_test cases from the configuration file, then cool it down and stop
it. The server is not involved.

Example:
  brainbox selftest whisper --config brainbox.yaml --parameter small`,
	Args: cobra.ExactArgs(1),
	RunE: runSelftest,
}

func init() {
	selftestCmd.Flags().StringP("config", "c", "", "Configuration file declaring the decider (required)")
	selftestCmd.Flags().StringP("parameter", "p", "", "Decider parameter to test")
	selftestCmd.Flags().Duration("timeout", 10*time.Minute, "Overall deadline of the self-test")
	_ = selftestCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(decidersCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(selftestCmd)
}

func runSelftest(cmd *cobra.Command, args []string) error {
	parameter, _ := cmd.Flags().GetString("parameter")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d, ok := cfg.Decider(args[0])
	if !ok {
		return &types.UnknownDeciderError{Decider: args[0]}
	}
	if len(d.SelfTest) == 0 {
		return fmt.Errorf("decider %s has no self_test cases", d.Name)
	}

	rt, err := openRuntime(cfg.Runtime)
	if err != nil {
		return fmt.Errorf("failed to open runtime: %w", err)
	}
	defer rt.Close()

	ctx, cancel := contextWithTimeout(cmd, timeout)
	defer cancel()

	ctrl := controller.NewContainerController(d.ContainerSpec(cfg.Runtime.StopTimeout), rt)
	report := controller.RunSelfTest(ctx, ctrl, parameter, d.SelfTest)

	for _, step := range report.Steps {
		mark := "✓"
		if step.Error != "" {
			mark = "✗"
		}
		fmt.Printf("%s %-24s %s\n", mark, step.Name, step.Duration.Round(time.Millisecond))
		if step.Error != "" {
			fmt.Printf("    %s\n", step.Error)
		}
	}
	if !report.Passed {
		return fmt.Errorf("self-test of %s failed", d.Name)
	}
	fmt.Printf("\n✓ Self-test of %s passed\n", d.Name)
	return nil
}

func instanceSummary(instances []types.Instance) string {
	if len(instances) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(instances))
	for _, inst := range instances {
		parts = append(parts, fmt.Sprintf("%s=%s", inst.Key, inst.State))
	}
	return strings.Join(parts, ", ")
}

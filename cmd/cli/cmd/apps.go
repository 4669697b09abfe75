package cmd

import (
	"fmt"
	"io"
	"time"

	"deployplane/pkg/api"

	"github.com/spf13/cobra"
)

var reassignCmd = &cobra.Command{
	Use:   "reassign [app_id]",
	Short: "Move one app to another node",
	Long: `Point an app's sticky placement at another enabled node. The next deploy
of the app goes to the new node.

Example:
  deployctl reassign app-123 --to 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetInt64("to")
		if target <= 0 {
			return fmt.Errorf("--to is required")
		}

		if err := newClient().Reassign(args[0], target); err != nil {
			return err
		}
		cmd.Printf("✓ App %s reassigned to node %d\n", args[0], target)
		return nil
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Move a batch of apps off a node",
	Long: `Move up to --limit placements from one node to another, oldest app id
first. Run it repeatedly until it reports 0 moved.

Example:
  deployctl drain --from 1 --to 2 --limit 100`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetInt64("from")
		to, _ := cmd.Flags().GetInt64("to")
		if from <= 0 || to <= 0 {
			return fmt.Errorf("--from and --to are required")
		}
		req := api.DrainRequest{SourceNodeID: from, TargetNodeID: to}
		if cmd.Flags().Changed("limit") {
			limit, _ := cmd.Flags().GetInt("limit")
			req.Limit = &limit
		}

		res, err := newClient().Drain(req)
		if err != nil {
			return err
		}
		if !tableOutput() {
			return render(cmd, res, nil)
		}
		cmd.Printf("✓ Moved %d apps from node %d to node %d\n", res.Moved, res.SourceNodeID, res.TargetNodeID)
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge [app_id]",
	Short: "Delete every job, run record and placement of an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().PurgeApp(args[0])
		if err != nil {
			return err
		}
		if !tableOutput() {
			return render(cmd, res, nil)
		}
		cmd.Printf("✓ Purged %s: %d jobs, %d app runs, %d placements\n",
			res.AppID, res.DeletedJobs, res.DeletedAppRuns, res.DeletedPlacements)
		return nil
	},
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Inspect and stop deployed apps",
}

var appsStatusCmd = &cobra.Command{
	Use:   "status [app_id]",
	Short: "Show an app's placement and last run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().AppStatus(args[0])
		if err != nil {
			return err
		}
		return render(cmd, st, func(w io.Writer) {
			fmt.Fprintf(w, "App:\t%s\n", st.AppID)
			if st.Placement != nil {
				fmt.Fprintf(w, "Node:\t%d\n", st.Placement.NodeID)
				fmt.Fprintf(w, "Last active:\t%s\n", st.Placement.LastActiveAt.Format(time.RFC3339))
			} else {
				fmt.Fprintln(w, "Node:\t-")
			}
			if r := st.Run; r != nil {
				fmt.Fprintf(w, "Last job:\t%s\n", orDash(r.LastJobID))
				fmt.Fprintf(w, "Last status:\t%s\n", orDash(r.LastJobStatus))
				if r.LastDeployedAt != nil {
					fmt.Fprintf(w, "Last deployed:\t%s\n", r.LastDeployedAt.Format(time.RFC3339))
				}
				if r.LastError != "" {
					fmt.Fprintf(w, "Last error:\t%s\n", r.LastError)
				}
			}
		})
	},
}

var appsStopCmd = &cobra.Command{
	Use:   "stop [app_id]",
	Short: "Stop an app on its runtime node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().StopApp(args[0])
		if err != nil {
			return err
		}
		if !tableOutput() {
			return render(cmd, res, nil)
		}
		cmd.Printf("✓ Stopped %s on node %d (%s)\n", res.AppID, res.NodeID, res.AgentBaseURL)
		return nil
	},
}

var runnersCmd = &cobra.Command{
	Use:   "runners",
	Short: "List runners recently seen by the controller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runners, err := newClient().ListRunners()
		if err != nil {
			return err
		}
		if len(runners) == 0 && tableOutput() {
			cmd.Println("No runners seen since the controller started.")
			return nil
		}
		return render(cmd, runners, func(w io.Writer) {
			fmt.Fprintln(w, "RUNNER\tHEALTH\tLAST SEEN")
			for _, r := range runners {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.RunnerID, r.Health, relativeTime(time.UnixMilli(r.LastSeenAtMs))+" ago")
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(reassignCmd, drainCmd, purgeCmd, appsCmd, runnersCmd)
	appsCmd.AddCommand(appsStatusCmd, appsStopCmd)

	reassignCmd.Flags().Int64("to", 0, "Target node id (required)")

	drainCmd.Flags().Int64("from", 0, "Source node id (required)")
	drainCmd.Flags().Int64("to", 0, "Target node id (required)")
	drainCmd.Flags().IntP("limit", "l", 100, "Maximum number of apps to move")
}

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"deployplane/pkg/api"

	"github.com/spf13/cobra"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Manage runtime nodes",
	Long:  `Inspect runtime nodes and their health, edit them and page through the apps placed on each.`,
}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runtime nodes with their health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodes, err := newClient().ListNodes()
		if err != nil {
			return err
		}
		if len(nodes) == 0 && tableOutput() {
			cmd.Println("No runtime nodes registered.")
			return nil
		}

		return render(cmd, nodes, func(w io.Writer) {
			fmt.Fprintln(w, "ID\tNAME\tHEALTH\tENABLED\tWEIGHT\tDISK FREE\tCONTAINERS\tLAST HEARTBEAT\tGATEWAY")
			for _, n := range nodes {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\t%s\t%s\t%s\t%s\n",
					n.NodeID,
					n.Name,
					n.Health,
					n.Enabled,
					n.Weight,
					formatPct(n.DiskFreePct),
					formatCount(n.ContainerCount),
					formatHeartbeat(n.LastHeartbeatAt),
					orDash(n.GatewayBaseURL),
				)
			}
		})
	},
}

var nodesUpsertCmd = &cobra.Command{
	Use:   "upsert [name]",
	Short: "Create or edit a runtime node",
	Long: `Create a runtime node, or edit an existing one by name. Flags that are
not given leave the stored value unchanged.

Example:
  deployctl nodes upsert node-a --agent-url http://10.0.0.5:7001 --gateway-url https://a.preview.example.com
  deployctl nodes upsert node-a --weight 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		req := api.UpsertNodeRequest{Name: args[0]}
		req.AgentBaseURL, _ = flags.GetString("agent-url")
		req.GatewayBaseURL, _ = flags.GetString("gateway-url")
		if flags.Changed("weight") {
			weight, _ := flags.GetInt("weight")
			req.Weight = &weight
		}
		if flags.Changed("enabled") {
			enabled, _ := flags.GetBool("enabled")
			req.Enabled = &enabled
		}

		n, err := newClient().UpsertNode(req)
		if err != nil {
			return err
		}
		if !tableOutput() {
			return render(cmd, n, nil)
		}
		cmd.Printf("✓ Node %s saved (id %d, health %s)\n", n.Name, n.NodeID, n.Health)
		return nil
	},
}

func setEnabledCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [name]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := newClient().SetNodeEnabled(args[0], enabled)
			if err != nil {
				return err
			}
			if !tableOutput() {
				return render(cmd, n, nil)
			}
			state := "disabled"
			if n.Enabled {
				state = "enabled"
			}
			cmd.Printf("Node %s is %s\n", n.Name, state)
			return nil
		},
	}
}

var nodesPlacementsCmd = &cobra.Command{
	Use:   "placements [node_id]",
	Short: "List apps placed on a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("node_id must be a number: %q", args[0])
		}
		offset, _ := cmd.Flags().GetInt("offset")
		limit, _ := cmd.Flags().GetInt("limit")

		page, err := newClient().ListPlacements(nodeID, offset, limit)
		if err != nil {
			return err
		}
		if !tableOutput() {
			return render(cmd, page, nil)
		}
		if len(page.Items) == 0 {
			if offset > 0 {
				cmd.Printf("No more placements on node %d (total %d).\n", nodeID, page.Total)
			} else {
				cmd.Printf("No apps placed on node %d.\n", nodeID)
			}
			return nil
		}

		cmd.Printf("Node %d: showing %d-%d of %d\n", nodeID, offset+1, offset+len(page.Items), page.Total)
		return render(cmd, page, func(w io.Writer) {
			fmt.Fprintln(w, "APP\tLAST ACTIVE")
			for _, p := range page.Items {
				fmt.Fprintf(w, "%s\t%s\n", p.AppID, p.LastActiveAt.Format(time.RFC3339))
			}
		})
	},
}

func formatPct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func formatCount(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func formatHeartbeat(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return relativeTime(*t) + " ago"
}

func init() {
	rootCmd.AddCommand(nodesCmd)
	nodesCmd.AddCommand(
		nodesListCmd,
		nodesUpsertCmd,
		setEnabledCmd("enable", "Put a node back into placement rotation", true),
		setEnabledCmd("disable", "Stop placing new apps on a node", false),
		nodesPlacementsCmd,
	)

	flags := nodesUpsertCmd.Flags()
	flags.String("agent-url", "", "Base URL of the node's runtime agent")
	flags.String("gateway-url", "", "Public base URL of the node's preview gateway")
	flags.Int("weight", 100, "Placement weight")
	flags.Bool("enabled", true, "Whether the node takes new placements")

	nodesPlacementsCmd.Flags().Int("offset", 0, "Offset for pagination")
	nodesPlacementsCmd.Flags().IntP("limit", "l", 200, "Number of placements to show (1-1000)")
}

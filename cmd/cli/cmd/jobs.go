package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"deployplane/pkg/api"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage deploy jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := newClient().ListJobs(limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 && tableOutput() {
			cmd.Println("No jobs found.")
			return nil
		}

		return render(cmd, jobs, func(w io.Writer) {
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tAPP\tRUNNER\tUPDATED\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ID,
					j.Type,
					j.Status,
					orDash(payloadString(j.Payload, "appId")),
					orDash(j.RunnerID),
					j.UpdatedAt.Format(time.RFC3339),
					truncateText(j.ErrorMessage, 50),
				)
			}
		})
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get [job_id]",
	Short: "Show a job",
	Long:  `Show a single job, including its status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED), lease, reported phase and payload.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := newClient().GetJob(args[0])
		if err != nil {
			return err
		}
		if !tableOutput() {
			return render(cmd, j, nil)
		}
		printJob(cmd, *j)
		return nil
	},
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Queue a deploy job",
	Long: `Queue a new deploy job. The payload is built from --payload (a JSON object),
then --app and every --set key=value are layered on top.

Example:
  deployctl jobs create --app app-123
  deployctl jobs create --app app-123 --set basePath=/preview/app-123/ --set ref=main
  deployctl jobs create --payload '{"appId":"app-123","buildNo":42}'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		jobType, _ := flags.GetString("type")
		raw, _ := flags.GetString("payload")
		appID, _ := flags.GetString("app")
		sets, _ := flags.GetStringArray("set")

		payload, err := buildPayload(raw, appID, sets)
		if err != nil {
			return err
		}

		j, err := newClient().CreateJob(api.CreateJobRequest{Type: jobType, Payload: payload})
		if err != nil {
			return err
		}
		if !tableOutput() {
			return render(cmd, j, nil)
		}
		cmd.Printf("✓ Job queued!\nID: %s\nStatus: %s\n", j.ID, j.Status)
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel [job_id]",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := newClient().CancelJob(args[0])
		if err != nil {
			return err
		}
		if !tableOutput() {
			return render(cmd, j, nil)
		}
		cmd.Printf("Job %s is %s\n", j.ID, colorizeStatus(j.Status))
		return nil
	},
}

// buildPayload merges the raw JSON object, the app id and key=value pairs.
func buildPayload(raw, appID string, sets []string) (json.RawMessage, error) {
	payload := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return nil, fmt.Errorf("--payload must be a JSON object: %w", err)
		}
	}
	if appID != "" {
		payload["appId"] = appID
	}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("--set expects key=value, got %q", kv)
		}
		payload[strings.TrimSpace(k)] = v
	}
	if len(payload) == 0 {
		return nil, nil
	}
	return json.Marshal(payload)
}

// payloadString reads a string field from a job payload.
func payloadString(raw json.RawMessage, key string) string {
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func printJob(cmd *cobra.Command, j api.JobResponse) {
	icon := statusIcon(j.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, j.ID)
	cmd.Printf("%sType:%s        %s\n", colorDim, colorReset, j.Type)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(j.Status))
	if app := payloadString(j.Payload, "appId"); app != "" {
		cmd.Printf("%sApp:%s         %s\n", colorDim, colorReset, app)
	}
	if phase := payloadString(j.Payload, "phase"); phase != "" {
		msg := payloadString(j.Payload, "phaseMessage")
		cmd.Printf("%sPhase:%s       %s %s%s%s\n", colorDim, colorReset, phase, colorDim, msg, colorReset)
	}
	if j.RunnerID != "" {
		cmd.Printf("%sRunner:%s      %s\n", colorDim, colorReset, j.RunnerID)
		cmd.Printf("%sLease:%s       %s\n", colorDim, colorReset, formatTimeUntil(j.LeaseExpireAt))
	}
	if j.RuntimeNode != nil {
		cmd.Printf("%sNode:%s        %s (%s)\n", colorDim, colorReset, j.RuntimeNode.Name, j.RuntimeNode.GatewayBaseURL)
	}
	if j.PreviewURL != "" {
		cmd.Printf("%sPreview:%s     %s%s%s\n", colorDim, colorReset, colorCyan, j.PreviewURL, colorReset)
	}
	if j.ErrorMessage != "" {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, j.ErrorMessage, colorReset)
	}

	created := j.CreatedAt
	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&created))
	if isTerminal(j.Status) {
		updated := j.UpdatedAt
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(&updated),
			colorCyan, formatDuration(j.UpdatedAt.Sub(j.CreatedAt)), colorReset)
	}
}

func isTerminal(status string) bool {
	switch status {
	case "SUCCEEDED", "FAILED", "CANCELLED":
		return true
	}
	return false
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "SUCCEEDED":
		return colorGreen + "✓" + colorReset
	case "FAILED":
		return colorRed + "✗" + colorReset
	case "RUNNING":
		return colorYellow + "⏳" + colorReset
	case "PENDING":
		return colorCyan + "◯" + colorReset
	case "CANCELLED":
		return colorDim + "⊘" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "SUCCEEDED":
		return icon + " " + colorGreen + status + colorReset
	case "FAILED":
		return icon + " " + colorRed + status + colorReset
	case "RUNNING":
		return icon + " " + colorYellow + status + colorReset
	case "PENDING":
		return icon + " " + colorCyan + status + colorReset
	case "CANCELLED":
		return icon + " " + colorDim + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func formatTimeUntil(t *time.Time) string {
	if t == nil {
		return "-"
	}
	d := time.Until(*t)
	if d <= 0 {
		return fmt.Sprintf("%s %s(expired)%s", t.Format(time.RFC3339), colorRed, colorReset)
	}
	return fmt.Sprintf("%s %s(in %s)%s", t.Format(time.RFC3339), colorDim, formatDuration(d), colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsCreateCmd, jobsCancelCmd)

	jobsListCmd.Flags().IntP("limit", "l", 50, "Number of jobs to show (1-200)")

	flags := jobsCreateCmd.Flags()
	flags.String("type", "BUILD_AND_DEPLOY", "Job type")
	flags.StringP("app", "a", "", "App id to deploy")
	flags.String("payload", "", "Payload as a JSON object")
	flags.StringArray("set", nil, "Payload field as key=value (repeatable)")
}

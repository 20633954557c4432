package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Challenge commands ─────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(challengeCmd)
	challengeCmd.AddCommand(challengeListCmd)
	challengeCmd.AddCommand(challengeGetCmd)
	challengeCmd.AddCommand(challengeStatsCmd)

	challengeListCmd.Flags().String("status", "", "Only challenges in this status (CREATED, ACTIVE, ...)")
	challengeListCmd.Flags().String("owner", "", "Only challenges owned by this identity")
	challengeListCmd.Flags().Int("limit", 0, "Maximum number of challenges (default server cap)")
}

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Inspect bounty challenges",
}

var challengeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List challenges",
	Args:  cobra.NoArgs,
	RunE:  runChallengeList,
}

func runChallengeList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		q.Set("status", s)
	}
	if o, _ := cmd.Flags().GetString("owner"); o != "" {
		q.Set("owner", o)
	}
	if l, _ := cmd.Flags().GetInt("limit"); l > 0 {
		q.Set("limit", strconv.Itoa(l))
	}
	path := "/challenges"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Challenges []domain.Challenge `json:"challenges"`
	}
	if err := newClient(cmd).get(path, &out); err != nil {
		return err
	}
	if len(out.Challenges) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No challenges.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tSTATUS\tBOUNTY\tASSET\tENDS")
	for _, c := range out.Challenges {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", c.ID, c.Owner, c.Status, c.Bounty, c.Asset, c.EndTime.Format(time.RFC3339))
	}
	return tw.Flush()
}

var challengeGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid challenge id %q", args[0])
		}
		var c domain.Challenge
		if err := newClient(cmd).get(fmt.Sprintf("/challenges/%d", id), &c); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Challenge %d\n", c.ID)
		fmt.Fprintf(w, "  Owner:       %s\n", c.Owner)
		fmt.Fprintf(w, "  Status:      %s\n", c.Status)
		fmt.Fprintf(w, "  Bounty:      %d %s\n", c.Bounty, c.Asset)
		fmt.Fprintf(w, "  Difficulty:  %d\n", c.Difficulty)
		fmt.Fprintf(w, "  Window:      %s → %s\n", c.StartTime.Format(time.RFC3339), c.EndTime.Format(time.RFC3339))
		if c.Deployed() {
			fmt.Fprintf(w, "  Target:      %s\n", c.TargetAddress)
		}
		if c.Description != "" {
			fmt.Fprintf(w, "  Description: %s\n", c.Description)
		}
		return nil
	},
}

var challengeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count challenges per status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var s domain.ChallengeStats
		if err := newClient(cmd).get("/challenges/stats", &s); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Total:     %d\n", s.Total)
		fmt.Fprintf(w, "Created:   %d\n", s.Created)
		fmt.Fprintf(w, "Active:    %d\n", s.Active)
		fmt.Fprintf(w, "Completed: %d\n", s.Completed)
		fmt.Fprintf(w, "Expired:   %d\n", s.Expired)
		fmt.Fprintf(w, "Cancelled: %d\n", s.Cancelled)
		return nil
	},
}

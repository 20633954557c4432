package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Dispute commands ───────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(disputeCmd)
	disputeCmd.AddCommand(disputeListCmd)

	disputeListCmd.Flags().Bool("open", false, "Only disputes still open or under review")
}

var disputeCmd = &cobra.Command{
	Use:   "dispute",
	Short: "Inspect evaluation disputes",
}

var disputeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List disputes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/judge/disputes"
		if open, _ := cmd.Flags().GetBool("open"); open {
			path += "?open=true"
		}
		var out struct {
			Disputes []domain.DisputeCase `json:"disputes"`
		}
		if err := newClient(cmd).get(path, &out); err != nil {
			return err
		}
		if len(out.Disputes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No disputes.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCHALLENGE\tATTEMPT\tDISPUTER\tSTATUS\tOPENED\tREASON")
		for _, d := range out.Disputes {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
				d.ID, d.ChallengeID, d.AttemptID, d.Disputer, d.Status, d.CreatedAt.Format(time.RFC3339), d.Reason)
		}
		return tw.Flush()
	},
}

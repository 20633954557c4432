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

// ─── Vault commands ─────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(vaultCmd)
	vaultCmd.AddCommand(vaultBalanceCmd)
	vaultCmd.AddCommand(vaultDepositCmd)
	vaultCmd.AddCommand(vaultHistoryCmd)

	for _, c := range []*cobra.Command{vaultBalanceCmd, vaultDepositCmd} {
		c.Flags().String("asset", string(domain.AssetNative), "Asset (ICP or ICRC1:<ledger>)")
	}
	vaultHistoryCmd.Flags().Int("offset", 0, "Skip this many transactions")
	vaultHistoryCmd.Flags().Int("limit", 20, "Maximum number of transactions")
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Balances, deposits and ledger history",
}

var vaultBalanceCmd = &cobra.Command{
	Use:   "balance OWNER",
	Short: "Show an owner's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, _ := cmd.Flags().GetString("asset")
		var b domain.Balance
		path := fmt.Sprintf("/vault/balances/%s/%s", url.PathEscape(args[0]), url.PathEscape(asset))
		if err := newClient(cmd).get(path, &b); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s (%s)\n", b.Owner, b.Asset)
		fmt.Fprintf(w, "  Available: %d\n", b.Available)
		fmt.Fprintf(w, "  Locked:    %d\n", b.Locked)
		fmt.Fprintf(w, "  Total:     %d\n", b.Total)
		return nil
	},
}

var vaultDepositCmd = &cobra.Command{
	Use:   "deposit AMOUNT",
	Short: "Deposit funds as the --as identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[0])
		}
		asset, _ := cmd.Flags().GetString("asset")
		var out struct {
			TransactionID uint64         `json:"transaction_id"`
			Balance       domain.Balance `json:"balance"`
		}
		if err := newClient(cmd).post("/vault/deposits", map[string]any{"asset": asset, "amount": amount}, &out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deposited %d %s (transaction %d). Available: %d\n",
			amount, asset, out.TransactionID, out.Balance.Available)
		return nil
	},
}

var vaultHistoryCmd = &cobra.Command{
	Use:   "history OWNER",
	Short: "List an owner's ledger transactions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, _ := cmd.Flags().GetInt("offset")
		limit, _ := cmd.Flags().GetInt("limit")
		path := fmt.Sprintf("/vault/transactions/%s?offset=%d&limit=%d", url.PathEscape(args[0]), offset, limit)
		var out struct {
			Transactions []domain.Transaction `json:"transactions"`
		}
		if err := newClient(cmd).get(path, &out); err != nil {
			return err
		}
		if len(out.Transactions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No transactions.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tCHALLENGE\tFROM\tTO\tAMOUNT\tASSET\tTIME")
		for _, t := range out.Transactions {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
				t.ID, t.Type, t.ChallengeID, t.From, t.To, t.Amount, t.Asset, t.Timestamp.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

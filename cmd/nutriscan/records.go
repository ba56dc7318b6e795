package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var recordsUser string

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and prune stored prediction results",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List results recorded for a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.ledger.ListFor(cmd.Context(), recordsUser)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDEFICIENCY\tCREATED")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.MappedDeficiency, r.Timestamp)
		}
		return w.Flush()
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete one of a user's results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid record id %q", args[0])
		}
		st, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ledger.Delete(cmd.Context(), recordsUser, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted record %d\n", id)
		return nil
	},
}

func init() {
	recordsCmd.PersistentFlags().StringVarP(&recordsUser, "user", "u", "", "User email the records belong to")
	_ = recordsCmd.MarkPersistentFlagRequired("user")
	recordsCmd.AddCommand(recordsListCmd, recordsDeleteCmd)
}

package main

import (
	"encoding/json"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"collectroute/internal/lifecycle"
)

func historyCmd() *cobra.Command {
	var asc bool
	cmd := &cobra.Command{
		Use:   "history <routeId>",
		Short: "Show the audit trail of a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			items, err := lifecycle.New(st, nil).History(cmd.Context(), args[0], asc)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Time", "Action", "User", "House", "Notes"})
			for _, it := range items {
				user := it.UserID
				if it.User != nil && it.User.DisplayName != "" {
					user = it.User.DisplayName
				}
				house := it.HouseID
				if it.House != nil {
					house = it.House.Address
				}
				tw.AppendRow(table.Row{it.Timestamp.Format(time.RFC3339), it.Action, user, house, it.Notes})
			}
			tw.AppendFooter(table.Row{"", "", "", "Entries", len(items)})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asc, "asc", false, "oldest first")
	return cmd
}

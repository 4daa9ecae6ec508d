package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"collectroute/internal/lifecycle"
	"collectroute/internal/stats"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print team or driver statistics",
	}
	var houses string
	cmd.PersistentFlags().StringVar(&houses, "houses", "completed", "house scope: completed or all")

	run := func(byUser bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			scope, err := stats.ParseScope(houses)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			eng := lifecycle.New(st, nil)

			var sum stats.Summary
			if byUser {
				sum, err = eng.UserStats(cmd.Context(), args[0], scope)
			} else {
				sum, err = eng.TeamStats(cmd.Context(), args[0], scope)
			}
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), sum, viper.GetBool("json"))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "team <teamId>",
		Short: "Statistics over every route of a team",
		Args:  cobra.ExactArgs(1),
		RunE:  run(false),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "user <userId>",
		Short: "Statistics over the routes assigned to a driver",
		Args:  cobra.ExactArgs(1),
		RunE:  run(true),
	})
	return cmd
}

func printSummary(w io.Writer, s stats.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	out, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	_, err = w.Write(out)
	return err
}

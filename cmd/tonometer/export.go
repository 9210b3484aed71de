package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/tonometer/internal/series"
)

const (
	formatCSV   = "csv"
	formatTable = "table"
)

func newExportCmd(v *viper.Viper) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <user-id>",
		Short: "Print a user's stored readings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatCSV && format != formatTable {
				return fmt.Errorf("unknown format %q (want %s or %s)", format, formatCSV, formatTable)
			}

			cfg, _, err := loadConfig(v)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, closer, err := openStore(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			userID := args[0]
			out := cmd.OutOrStdout()

			if format == formatCSV {
				data, err := store.Export(ctx, userID)
				if errors.Is(err, series.ErrNotFound) {
					return fmt.Errorf("no readings for %s", userID)
				}
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			readings, err := store.Series(ctx, userID)
			if errors.Is(err, series.ErrNotFound) {
				return fmt.Errorf("no readings for %s", userID)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIMESTAMP\tREADING")
			for _, r := range readings {
				fmt.Fprintf(tw, "%s\t%s\n", r.Timestamp.Format(series.TimestampLayout), r.Value)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&format, "format", formatCSV, "output format (csv|table)")
	return cmd
}

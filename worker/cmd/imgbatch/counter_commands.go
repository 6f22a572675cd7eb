package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"imgbatch/internal/counter"
)

func newCounterCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Inspect the processed files counter",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the current totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.counterBackend(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := b.Get(cmd.Context())
			if err != nil {
				return err
			}
			printCounts(cmd.OutOrStdout(), counts)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset the totals to zero",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.counterBackend(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := b.Reset(cmd.Context())
			if err != nil {
				return err
			}
			printCounts(cmd.OutOrStdout(), counts)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print totals as other clients update them",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.counterBackend(cmd.Context())
			if err != nil {
				return err
			}
			sub, ok := b.Subscriber()
			if !ok {
				return fmt.Errorf("the %s counter does not push updates", b.Kind)
			}
			out := cmd.OutOrStdout()
			s, err := sub.Subscribe(cmd.Context(), func(c counter.Counts) { printCounts(out, c) })
			if err != nil {
				return err
			}
			defer s.Unsubscribe()
			<-cmd.Context().Done()
			return nil
		},
	})

	return cmd
}

func printCounts(w io.Writer, c counter.Counts) {
	updated := "never"
	if !c.LastUpdated.IsZero() {
		updated = humanize.Time(c.LastUpdated)
	}
	fmt.Fprintf(w, "%s files, %s (updated %s)\n",
		counter.FormatNumber(c.TotalFiles), counter.FormatSize(c.TotalSizeBytes), updated)
}

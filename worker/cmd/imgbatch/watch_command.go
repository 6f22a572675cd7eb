package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"imgbatch/worker/converter"
	"imgbatch/worker/service"
	"imgbatch/worker/watch"
	"imgbatch/worker/workflow"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var kind, format string
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Process images as they are dropped into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			conv := converter.NewConverter(ctx.logger)
			wf, err := workflow.Parse(kind, conv, format)
			if err != nil {
				return err
			}
			if c, ok := wf.(workflow.Compress); ok {
				c.Quality = cfg.Image.Quality
				c.MaxDimension = cfg.Image.MaxDimension
				wf = c
			}

			p, err := ctx.processor(cmd.Context(), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			outputDir := cfg.Output.Dir

			onDrop := func(runCtx context.Context, paths []string) {
				files, rejected := service.LoadFiles(paths)
				ctx.logger.Info("Processing drop", zap.String("dir", dir), zap.Int("files", len(files)))
				report, err := p.Process(runCtx, wf, files)
				if report != nil {
					report.Rejected = append(rejected, report.Rejected...)
					renderReport(out, report)
				}
				if err != nil {
					ctx.logger.Warn("Drop failed", zap.Error(err))
				}
			}

			w := watch.New(dir, onDrop, watch.Options{
				Debounce: cfg.Debounce(),
				Ignore: func(path string) bool {
					return outputDir != "" && strings.HasPrefix(path, outputDir+string(filepath.Separator))
				},
			}, ctx.logger)
			ctx.logger.Info("Watching directory", zap.String("dir", dir), zap.String("workflow", string(wf.Kind())))
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&kind, "workflow", "w", string(workflow.KindCompress), "Workflow to run on each drop (compress, convert, edit)")
	cmd.Flags().StringVarP(&format, "format", "f", "png", "Target format for the convert workflow")
	return cmd
}

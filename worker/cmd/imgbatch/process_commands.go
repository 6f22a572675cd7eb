package main

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"imgbatch/worker/converter"
	"imgbatch/worker/workflow"
)

func newCompressCommand(ctx *commandContext) *cobra.Command {
	var quality, maxDim int
	cmd := &cobra.Command{
		Use:   "compress <file|dir>...",
		Short: "Recompress images and bundle them into an archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("quality") {
				quality = cfg.Image.Quality
			}
			if !cmd.Flags().Changed("max-dimension") {
				maxDim = cfg.Image.MaxDimension
			}
			wf := workflow.Compress{
				Converter:    converter.NewConverter(ctx.logger),
				Quality:      quality,
				MaxDimension: maxDim,
			}
			return runWorkflow(cmd, ctx, wf, args)
		},
	}
	cmd.Flags().IntVarP(&quality, "quality", "q", converter.DefaultQuality, "JPEG quality (1-100)")
	cmd.Flags().IntVar(&maxDim, "max-dimension", converter.DefaultMaxDimension, "Longest output side in pixels")
	return cmd
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "convert <file|dir>...",
		Short: "Convert images to another format",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Parse(string(workflow.KindConvert), converter.NewConverter(ctx.logger), format)
			if err != nil {
				return err
			}
			return runWorkflow(cmd, ctx, wf, args)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "png", fmt.Sprintf("Target format (%s)", strings.Join(converter.Formats, ", ")))
	return cmd
}

func newEditCommand(ctx *commandContext) *cobra.Command {
	var (
		crop   string
		scale  float64
		rotate int
	)
	cmd := &cobra.Command{
		Use:   "edit <file|dir>...",
		Short: "Crop, scale and rotate images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g := converter.Geometry{Scale: scale, Rotate: rotate}
			if crop != "" {
				rect, err := parseCrop(crop)
				if err != nil {
					return err
				}
				g.Crop = &rect
			}
			wf := workflow.Edit{Converter: converter.NewConverter(ctx.logger), Geometry: g}
			return runWorkflow(cmd, ctx, wf, args)
		},
	}
	cmd.Flags().StringVar(&crop, "crop", "", "Crop rectangle as x,y,width,height")
	cmd.Flags().Float64Var(&scale, "scale", 1, "Scale factor applied after cropping")
	cmd.Flags().IntVar(&rotate, "rotate", 0, "Rotation in degrees (multiple of 90)")
	return cmd
}

func parseCrop(value string) (image.Rectangle, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("invalid crop %q: want x,y,width,height", value)
	}
	var n [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 {
			return image.Rectangle{}, fmt.Errorf("invalid crop %q: %q is not a non-negative integer", value, p)
		}
		n[i] = v
	}
	if n[2] == 0 || n[3] == 0 {
		return image.Rectangle{}, fmt.Errorf("invalid crop %q: width and height must be positive", value)
	}
	return image.Rect(n[0], n[1], n[0]+n[2], n[1]+n[3]), nil
}

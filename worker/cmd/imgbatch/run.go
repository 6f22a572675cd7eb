package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"imgbatch/internal/counter"
	"imgbatch/worker/admission"
	"imgbatch/worker/batch"
	"imgbatch/worker/service"
	"imgbatch/worker/validation"
	"imgbatch/worker/workflow"
)

func runWorkflow(cmd *cobra.Command, ctx *commandContext, wf workflow.Workflow, paths []string) error {
	out := cmd.OutOrStdout()
	files, rejected := service.LoadFiles(paths)
	report, err := processFiles(cmd, ctx, wf, files)
	if report != nil {
		report.Rejected = append(rejected, report.Rejected...)
		renderReport(out, report)
	}
	return err
}

func processFiles(cmd *cobra.Command, ctx *commandContext, wf workflow.Workflow, files []validation.File) (*service.Report, error) {
	bar := newProgress(cmd.ErrOrStderr(), len(files))
	p, err := ctx.processor(cmd.Context(), bar.observe)
	if err != nil {
		return nil, err
	}
	report, err := p.Process(cmd.Context(), wf, files)
	bar.finish()

	var admErr *admission.AdmissionError
	switch {
	case errors.As(err, &admErr):
		fmt.Fprintf(cmd.ErrOrStderr(), "Batch rejected: %v\n", admErr)
	case errors.Is(err, service.ErrNoFiles):
		fmt.Fprintln(cmd.ErrOrStderr(), "No acceptable image files were given")
	}
	return report, err
}

func renderReport(w io.Writer, report *service.Report) {
	if report.Decision.Warning != "" {
		fmt.Fprintln(w, report.Decision.Warning)
	}
	for _, r := range report.Rejected {
		fmt.Fprintf(w, "Skipped %s: %v\n", r.Name, r.Err)
	}
	res := report.Result
	if res == nil {
		return
	}

	rows := make([][]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		rows = append(rows, []string{e.Name, e.Cause})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable([]string{"File", "Error"}, rows, nil))
	}

	fmt.Fprintln(w, renderTable(
		[]string{"Completed", "Failed", "Skipped", "Original", "Output", "Saved"},
		[][]string{{
			strconv.Itoa(res.Completed),
			strconv.Itoa(res.Failed),
			strconv.Itoa(res.Skipped),
			counter.FormatSize(res.TotalOriginalBytes),
			counter.FormatSize(res.TotalOutputBytes),
			savedPercent(res),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))

	if report.Location != "" {
		fmt.Fprintf(w, "Saved %s\n", report.Location)
	}
	if report.Peak.Budget > 0 {
		fmt.Fprintf(w, "Peak memory %s of %s\n", counter.FormatSize(report.Peak.Used), counter.FormatSize(report.Peak.Budget))
	}
	fmt.Fprintf(w, "Total processed: %s files, %s\n",
		counter.FormatNumber(res.Counts.TotalFiles), counter.FormatSize(res.Counts.TotalSizeBytes))
}

func savedPercent(res *batch.Result) string {
	if res.TotalOriginalBytes == 0 || res.TotalOutputBytes == 0 {
		return "-"
	}
	saved := 100 * (1 - float64(res.TotalOutputBytes)/float64(res.TotalOriginalBytes))
	return fmt.Sprintf("%.1f%%", saved)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isTerminalFd(f.Fd())
}

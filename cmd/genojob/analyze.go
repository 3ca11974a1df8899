package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/genojob/internal/genomics"
	"github.com/CZERTAINLY/genojob/internal/log"
)

type analyzeFlags struct {
	sequence     string
	input        string
	intervals    []string
	variants     []string
	organism     string
	outputTypes  []string
	allOutputs   bool
	maxWorkers   int
	analysisType string
	output       string
}

func (f analyzeFlags) request(kind string) genomics.Request {
	req := genomics.Request{
		Sequence:     f.sequence,
		InputFile:    f.input,
		Organism:     f.organism,
		OutputTypes:  f.outputTypes,
		AllOutputs:   f.allOutputs,
		MaxWorkers:   f.maxWorkers,
		AnalysisType: f.analysisType,
	}
	switch kind {
	case genomics.BatchVariantAnalysis:
		req.Variants = f.variants
		req.Intervals = f.intervals
	default:
		if len(f.variants) > 0 {
			req.Variant = f.variants[0]
		}
		if len(f.intervals) > 0 {
			req.Interval = f.intervals[0]
		}
	}
	return req
}

func newAnalyzeCmd() *cobra.Command {
	var flags analyzeFlags
	cmd := &cobra.Command{
		Use:    genomics.AnalyzeCommand + " <kind>",
		Short:  "internal command",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doAnalyze(cmd, args[0], flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.sequence, "sequence", "", "DNA sequence")
	f.StringVar(&flags.input, "input", "", "file with sequences")
	f.StringArrayVar(&flags.intervals, "interval", nil, "genomic interval chr:start-end")
	f.StringArrayVar(&flags.variants, "variant", nil, "variant chr:posREF>ALT")
	f.StringVar(&flags.organism, "organism", genomics.DefaultOrganism, "organism")
	f.StringArrayVar(&flags.outputTypes, "output-types", nil, "prediction tracks")
	f.BoolVar(&flags.allOutputs, "all-outputs", false, "predict every track")
	f.IntVar(&flags.maxWorkers, "max-workers", genomics.DefaultMaxWorkers, "parallel predictions")
	f.StringVar(&flags.analysisType, "analysis-type", genomics.AnalysisEffects, "effects or scoring")
	f.StringVar(&flags.output, "output", "", "result file, stdout when empty")
	return cmd
}

func doAnalyze(cmd *cobra.Command, kind string, flags analyzeFlags) error {
	ctx := cmd.Context()
	attrs := slog.Group("genojob",
		slog.String("cmd", genomics.AnalyzeCommand),
		slog.String("kind", kind),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	var predictor genomics.Predictor
	result, err := predictor.Analyze(ctx, kind, flags.request(kind))
	if err != nil {
		return err
	}

	if flags.output == "" {
		return writeResult(cmd.OutOrStdout(), result)
	}
	if err := os.MkdirAll(filepath.Dir(flags.output), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(flags.output), err)
	}
	f, err := os.Create(flags.output)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", flags.output, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := writeResult(f, result); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "result written", "path", flags.output)
	return nil
}

func writeResult(w io.Writer, result any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return nil
}

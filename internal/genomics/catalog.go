// Package genomics is the catalog of analyses genojob runs as jobs and a
// deterministic predictor executing them as a child process.
package genomics

import (
	"errors"
	"fmt"

	"github.com/CZERTAINLY/genojob/internal/jobs"
)

const (
	DNASequencePrediction   = "dna_sequence_prediction"
	GenomicIntervalAnalysis = "genomic_interval_analysis"
	VariantEffectPrediction = "variant_effect_prediction"
	VariantScoring          = "variant_scoring"
	BatchSequenceAnalysis   = "batch_sequence_analysis"
	BatchVariantAnalysis    = "batch_variant_analysis"
	OutputMetadata          = "output_metadata"
)

// AnalyzeCommand is the hidden subcommand of the genojob binary running a kind.
const AnalyzeCommand = "_analyze"

const (
	AnalysisEffects = "effects"
	AnalysisScoring = "scoring"
)

var (
	organism = jobs.Param{Name: "organism", Flag: "--organism", Type: jobs.String,
		Description: "target organism: human, mouse or fly (default human)"}
	outputTypes = jobs.Param{Name: "output_types", Flag: "--output-types", Type: jobs.StringList,
		Description: "prediction tracks: atac, cage, dnase, histone_marks, gene_expression"}
	allOutputs = jobs.Param{Name: "all_outputs", Flag: "--all-outputs", Type: jobs.Bool,
		Description: "predict every available track"}
	maxWorkers = jobs.Param{Name: "max_workers", Flag: "--max-workers", Type: jobs.Int,
		Description: "parallel predictions within the job (default 5)"}
	outputDir = jobs.Param{Name: "output_dir", Flag: "--output", Type: jobs.OutputDir,
		Description: "directory the result is written to as <job_id>.json"}
)

// Kinds returns the analysis catalog.
func Kinds() []jobs.Kind {
	return []jobs.Kind{
		{
			Name:        DNASequencePrediction,
			Description: "Predict regulatory tracks of a DNA sequence",
			Params: []jobs.Param{
				{Name: "sequence", Flag: "--sequence", Type: jobs.String, Description: "DNA sequence of A, T, G, C and N"},
				{Name: "input_file", Flag: "--input", Type: jobs.String, Description: "file whose first line is the sequence"},
				organism, outputTypes, allOutputs, outputDir,
			},
			Validate: validateSequencePrediction,
		},
		{
			Name:        GenomicIntervalAnalysis,
			Description: "Predict accessibility and peaks of a genomic interval",
			Params: []jobs.Param{
				{Name: "interval", Flag: "--interval", Type: jobs.String, Required: true, Description: "chr:start-end"},
				organism, outputTypes, allOutputs, outputDir,
			},
			Validate: validateInterval,
		},
		{
			Name:        VariantEffectPrediction,
			Description: "Predict the effect of a variant on regulatory tracks",
			Params: []jobs.Param{
				{Name: "variant", Flag: "--variant", Type: jobs.String, Required: true, Description: "chr:posREF>ALT"},
				{Name: "interval", Flag: "--interval", Type: jobs.String, Required: true, Description: "chr:start-end containing the variant"},
				organism, outputTypes, allOutputs, outputDir,
			},
			Validate: validateVariant,
		},
		{
			Name:        VariantScoring,
			Description: "Score variant pathogenicity with multiple scorers",
			Params: []jobs.Param{
				{Name: "variant", Flag: "--variant", Type: jobs.String, Required: true, Description: "chr:posREF>ALT"},
				{Name: "interval", Flag: "--interval", Type: jobs.String, Required: true, Description: "chr:start-end containing the variant"},
				organism, outputDir,
			},
			Validate: validateVariant,
		},
		{
			Name:        BatchSequenceAnalysis,
			Description: "Predict regulatory tracks of every sequence in a file",
			Params: []jobs.Param{
				{Name: "input_file", Flag: "--input", Type: jobs.String, Required: true, Description: "file with one sequence per line"},
				organism, outputTypes, allOutputs, maxWorkers, outputDir,
			},
			Validate: validateCommon,
		},
		{
			Name:        BatchVariantAnalysis,
			Description: "Predict effects or scores of many variants",
			Params: []jobs.Param{
				{Name: "variants", Flag: "--variant", Type: jobs.StringList, Required: true, Description: "chr:posREF>ALT list"},
				{Name: "intervals", Flag: "--interval", Type: jobs.StringList, Required: true, Description: "one interval per variant"},
				{Name: "analysis_type", Flag: "--analysis-type", Type: jobs.String, Description: "effects (default) or scoring"},
				organism, outputTypes, maxWorkers, outputDir,
			},
			Validate: validateBatchVariants,
			JobName:  batchVariantJobName,
		},
		{
			Name:        OutputMetadata,
			Description: "Describe the available prediction tracks",
			Params:      []jobs.Param{organism, outputDir},
			Validate:    validateCommon,
		},
	}
}

// Register adds the catalog to reg. A kind found in targets runs the given
// command, every other kind runs "self _analyze <kind>".
func Register(reg *jobs.Registry, self string, targets map[string]jobs.Target) error {
	for _, kind := range Kinds() {
		target, ok := targets[kind.Name]
		if !ok {
			target = jobs.Target{
				Path: self,
				Args: []string{AnalyzeCommand, kind.Name},
			}
		}
		if err := reg.Register(kind, target); err != nil {
			return err
		}
	}
	for name := range targets {
		if !known(name) {
			return fmt.Errorf("command for unknown kind %q", name)
		}
	}
	return nil
}

func known(name string) bool {
	for _, k := range Kinds() {
		if k.Name == name {
			return true
		}
	}
	return false
}

func optionalString(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", nil
	}
	return jobs.StringValue(v)
}

func optionalList(args map[string]any, name string) ([]string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	return jobs.StringListValue(v)
}

func validateCommon(args map[string]any) error {
	org, err := optionalString(args, "organism")
	if err != nil {
		return fmt.Errorf("organism: %w", err)
	}
	if err := validateOrganism(org); err != nil {
		return err
	}
	types, err := optionalList(args, "output_types")
	if err != nil {
		return fmt.Errorf("output_types: %w", err)
	}
	_, err = NormalizeOutputTypes(types)
	return err
}

func validateSequencePrediction(args map[string]any) error {
	seq, err := optionalString(args, "sequence")
	if err != nil {
		return fmt.Errorf("sequence: %w", err)
	}
	input, err := optionalString(args, "input_file")
	if err != nil {
		return fmt.Errorf("input_file: %w", err)
	}
	switch {
	case seq == "" && input == "":
		return errors.New("one of sequence or input_file is required")
	case seq != "" && input != "":
		return errors.New("sequence and input_file are mutually exclusive")
	case seq != "":
		if err := ValidateSequence(seq); err != nil {
			return err
		}
	}
	return validateCommon(args)
}

func validateInterval(args map[string]any) error {
	s, err := optionalString(args, "interval")
	if err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	if s != "" {
		if _, err := ParseInterval(s); err != nil {
			return err
		}
	}
	return validateCommon(args)
}

func validateVariant(args map[string]any) error {
	vs, err := optionalString(args, "variant")
	if err != nil {
		return fmt.Errorf("variant: %w", err)
	}
	is, err := optionalString(args, "interval")
	if err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	if vs != "" && is != "" {
		if err := checkVariant(vs, is); err != nil {
			return err
		}
	}
	return validateCommon(args)
}

func checkVariant(variant, interval string) error {
	v, err := ParseVariant(variant)
	if err != nil {
		return err
	}
	i, err := ParseInterval(interval)
	if err != nil {
		return err
	}
	return v.Within(i)
}

func validateBatchVariants(args map[string]any) error {
	variants, err := optionalList(args, "variants")
	if err != nil {
		return fmt.Errorf("variants: %w", err)
	}
	intervals, err := optionalList(args, "intervals")
	if err != nil {
		return fmt.Errorf("intervals: %w", err)
	}
	if len(variants) != len(intervals) {
		return fmt.Errorf("number of variants (%d) must match number of intervals (%d)", len(variants), len(intervals))
	}
	for i := range variants {
		if err := checkVariant(variants[i], intervals[i]); err != nil {
			return fmt.Errorf("variant %d: %w", i, err)
		}
	}
	analysis, err := optionalString(args, "analysis_type")
	if err != nil {
		return fmt.Errorf("analysis_type: %w", err)
	}
	if analysis != "" && analysis != AnalysisEffects && analysis != AnalysisScoring {
		return fmt.Errorf("analysis_type must be %q or %q, got %q", AnalysisEffects, AnalysisScoring, analysis)
	}
	return validateCommon(args)
}

func batchVariantJobName(args map[string]any) string {
	analysis, _ := optionalString(args, "analysis_type")
	if analysis == "" {
		analysis = AnalysisEffects
	}
	variants, _ := optionalList(args, "variants")
	return fmt.Sprintf("batch_variant_%s_%d_variants", analysis, len(variants))
}

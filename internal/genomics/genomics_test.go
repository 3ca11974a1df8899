package genomics_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/genojob/internal/genomics"
	"github.com/CZERTAINLY/genojob/internal/jobs"

	"github.com/stretchr/testify/require"
)

func TestParseVariant(t *testing.T) {
	t.Parallel()

	v, err := genomics.ParseVariant(" chr1:1001000a>g ")
	require.NoError(t, err)
	require.Equal(t, genomics.Variant{Chromosome: "CHR1", Position: 1001000, Ref: "A", Alt: "G"}, v)
	require.Equal(t, "CHR1:1001000A>G", v.String())

	i, err := genomics.ParseInterval("chr1:1000000-1002048")
	require.NoError(t, err)
	require.Equal(t, int64(2048), i.Len())
	require.NoError(t, v.Within(i))

	other, err := genomics.ParseInterval("chr2:1000000-1002048")
	require.NoError(t, err)
	require.ErrorContains(t, v.Within(other), "must match interval chromosome")

	far, err := genomics.ParseInterval("chr1:0-100")
	require.NoError(t, err)
	require.ErrorContains(t, v.Within(far), "must be within interval")
}

func TestParseError(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"chr1:100", "chr1:200-100", "chr1:100-100", "1000-2000"} {
		_, err := genomics.ParseInterval(s)
		require.Error(t, err, s)
	}
	for _, s := range []string{"chr1:100A", "chr1:100A>", "chr1:A>G", "chr1:100X>G"} {
		_, err := genomics.ParseVariant(s)
		require.Error(t, err, s)
	}
}

func TestSequences(t *testing.T) {
	t.Parallel()

	require.NoError(t, genomics.ValidateSequence("acgtN"))
	require.Error(t, genomics.ValidateSequence(""))
	require.Error(t, genomics.ValidateSequence("ACGU"))
	require.Equal(t, "ACGTN", genomics.CleanSequence("a c-g t n\n"))

	dir := t.TempDir()
	path := filepath.Join(dir, "sequences.txt")
	require.NoError(t, os.WriteFile(path, []byte("ATGC\n\n gattaca \nNNNN\n"), 0o644))
	seqs, err := genomics.LoadSequences(path)
	require.NoError(t, err)
	require.Equal(t, []string{"ATGC", "GATTACA", "NNNN"}, seqs)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("ATGC\n1234\n"), 0o644))
	_, err = genomics.LoadSequences(bad)
	require.ErrorContains(t, err, "bad.txt:2")

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = genomics.LoadSequences(empty)
	require.ErrorContains(t, err, "no DNA sequences found")
}

func TestNormalizeOutputTypes(t *testing.T) {
	t.Parallel()

	got, err := genomics.NormalizeOutputTypes([]string{"ATAC", " dnase"})
	require.NoError(t, err)
	require.Equal(t, []string{"atac", "dnase"}, got)

	_, err = genomics.NormalizeOutputTypes([]string{"atac", "rna"})
	require.ErrorContains(t, err, "invalid output types [rna]")
}

func kind(t *testing.T, name string) jobs.Kind {
	t.Helper()
	for _, k := range genomics.Kinds() {
		if k.Name == name {
			return k
		}
	}
	t.Fatalf("kind %s not in catalog", name)
	return jobs.Kind{}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		kind     string
		args     map[string]any
		then     string
	}{
		{
			scenario: "sequence ok",
			kind:     genomics.DNASequencePrediction,
			args:     map[string]any{"sequence": "ATGC", "output_types": []any{"atac"}},
		},
		{
			scenario: "sequence and file",
			kind:     genomics.DNASequencePrediction,
			args:     map[string]any{"sequence": "ATGC", "input_file": "seq.txt"},
			then:     "mutually exclusive",
		},
		{
			scenario: "no sequence",
			kind:     genomics.DNASequencePrediction,
			args:     map[string]any{},
			then:     "one of sequence or input_file is required",
		},
		{
			scenario: "bad organism",
			kind:     genomics.GenomicIntervalAnalysis,
			args:     map[string]any{"interval": "chr1:0-2048", "organism": "zebrafish"},
			then:     `unsupported organism "zebrafish"`,
		},
		{
			scenario: "variant outside interval",
			kind:     genomics.VariantScoring,
			args:     map[string]any{"variant": "chr1:5000A>G", "interval": "chr1:0-2048"},
			then:     "must be within interval",
		},
		{
			scenario: "batch ok",
			kind:     genomics.BatchVariantAnalysis,
			args: map[string]any{
				"variants":      []any{"chr1:100A>G", "chr2:200C>T"},
				"intervals":     []any{"chr1:0-2048", "chr2:0-2048"},
				"analysis_type": "scoring",
			},
		},
		{
			scenario: "batch length mismatch",
			kind:     genomics.BatchVariantAnalysis,
			args: map[string]any{
				"variants":  []any{"chr1:100A>G", "chr2:200C>T"},
				"intervals": []any{"chr1:0-2048"},
			},
			then: "number of variants (2) must match number of intervals (1)",
		},
		{
			scenario: "batch analysis type",
			kind:     genomics.BatchVariantAnalysis,
			args: map[string]any{
				"variants":      []any{"chr1:100A>G"},
				"intervals":     []any{"chr1:0-2048"},
				"analysis_type": "splicing",
			},
			then: "analysis_type must be",
		},
		{
			scenario: "bad output type",
			kind:     genomics.BatchSequenceAnalysis,
			args:     map[string]any{"input_file": "x", "output_types": []any{"rna"}},
			then:     "invalid output types",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			err := kind(t, tc.kind).Validate(tc.args)
			if tc.then == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.then)
		})
	}
}

func TestBatchVariantJobName(t *testing.T) {
	t.Parallel()
	k := kind(t, genomics.BatchVariantAnalysis)
	require.Equal(t, "batch_variant_scoring_2_variants", k.JobName(map[string]any{
		"variants":      []any{"chr1:100A>G", "chr2:200C>T"},
		"analysis_type": "scoring",
	}))
	require.Equal(t, "batch_variant_effects_1_variants", k.JobName(map[string]any{
		"variants": []any{"chr1:100A>G"},
	}))
}

func TestRegister(t *testing.T) {
	t.Parallel()
	self, err := os.Executable()
	require.NoError(t, err)

	reg := jobs.NewRegistry()
	require.NoError(t, genomics.Register(reg, self, map[string]jobs.Target{
		genomics.VariantScoring: {Path: "python3", Args: []string{"variant_scoring.py"}},
	}))
	kinds := reg.Kinds()
	require.Len(t, kinds, 7)
	require.Equal(t, genomics.BatchSequenceAnalysis, kinds[0].Name)

	err = genomics.Register(jobs.NewRegistry(), self, map[string]jobs.Target{
		"alphafold": {Path: "python3"},
	})
	require.ErrorContains(t, err, `unknown kind "alphafold"`)
}

func TestAnalyzeDeterministic(t *testing.T) {
	t.Parallel()
	var p genomics.Predictor
	req := genomics.Request{Variant: "chr22:36201698A>C", Interval: "chr22:36200000-36202048"}

	a, err := p.Analyze(t.Context(), genomics.VariantScoring, req)
	require.NoError(t, err)
	b, err := p.Analyze(t.Context(), genomics.VariantScoring, req)
	require.NoError(t, err)
	require.Equal(t, a, b)

	score, ok := a.(genomics.VariantScore)
	require.True(t, ok)
	require.Len(t, score.Scores, 19)
	s := score.Summary
	require.Equal(t, 19, s.PathogenicCount+s.BenignCount+s.UncertainCount)
	require.LessOrEqual(t, s.MinScore, s.MeanScore)
	require.LessOrEqual(t, s.MeanScore, s.MaxScore)
	require.Equal(t, "human", score.VariantInfo.Organism)
}

func TestAnalyze(t *testing.T) {
	t.Parallel()
	var p genomics.Predictor

	seqs := filepath.Join(t.TempDir(), "sequences.txt")
	require.NoError(t, os.WriteFile(seqs, []byte("ATGCATGCATGCATGCATGCATGCATGCATGCATGCATGC\nGGGGCCCC\n"), 0o644))

	t.Run("sequence", func(t *testing.T) {
		got, err := p.Analyze(t.Context(), genomics.DNASequencePrediction, genomics.Request{Sequence: "GGCCAATT", AllOutputs: true})
		require.NoError(t, err)
		pred := got.(genomics.SequencePrediction)
		require.Equal(t, 50.0, pred.SequenceInfo.GCContent)
		require.Len(t, pred.Predictions, 5)
		require.Len(t, pred.Predictions["atac_accessibility"], 1)
	})

	t.Run("interval", func(t *testing.T) {
		got, err := p.Analyze(t.Context(), genomics.GenomicIntervalAnalysis, genomics.Request{Interval: "chr1:1000000-1020000"})
		require.NoError(t, err)
		pred := got.(genomics.IntervalPrediction)
		require.Len(t, pred.Predictions.Scores, 20)
		require.Equal(t, len(pred.Predictions.Peaks), pred.Predictions.Summary.PeaksDetected)
		for _, peak := range pred.Predictions.Peaks {
			require.Greater(t, peak.Score, 0.7)
		}
	})

	t.Run("effect", func(t *testing.T) {
		got, err := p.Analyze(t.Context(), genomics.VariantEffectPrediction, genomics.Request{
			Variant:     "chr1:1000A>G",
			Interval:    "chr1:0-2048",
			OutputTypes: []string{"cage"},
		})
		require.NoError(t, err)
		pred := got.(genomics.VariantEffect)
		require.Len(t, pred.Predictions.Reference, 1)
		require.Contains(t, pred.Predictions.Effects, "cage_change")
	})

	t.Run("batch sequences", func(t *testing.T) {
		got, err := p.Analyze(t.Context(), genomics.BatchSequenceAnalysis, genomics.Request{InputFile: seqs, MaxWorkers: 2})
		require.NoError(t, err)
		batch := got.(genomics.BatchSequences)
		require.Equal(t, 2, batch.BatchInfo.TotalSequences)
		require.Len(t, batch.Results, 2)
		for i, r := range batch.Results {
			require.Equal(t, i, *r.SequenceIndex)
		}
		require.Equal(t, 8, batch.Statistics.MinLength)
		require.Equal(t, 40, batch.Statistics.MaxLength)
		require.Equal(t, 24.0, batch.Statistics.MeanLength)
	})

	t.Run("batch variants", func(t *testing.T) {
		got, err := p.Analyze(t.Context(), genomics.BatchVariantAnalysis, genomics.Request{
			Variants:     []string{"chr1:100A>G", "chr2:200C>T", "chr3:300G>A"},
			Intervals:    []string{"chr1:0-2048", "chr2:0-2048", "chr3:0-2048"},
			AnalysisType: genomics.AnalysisScoring,
		})
		require.NoError(t, err)
		batch := got.(genomics.BatchVariants)
		require.Len(t, batch.Results, 3)
		for i, want := range []string{"CHR1:100A>G", "CHR2:200C>T", "CHR3:300G>A"} {
			require.Equal(t, want, batch.Results[i].(genomics.VariantScore).Variant)
		}
	})

	t.Run("metadata", func(t *testing.T) {
		got, err := p.Analyze(t.Context(), genomics.OutputMetadata, genomics.Request{Organism: "mouse"})
		require.NoError(t, err)
		b, err := json.Marshal(got)
		require.NoError(t, err)
		require.Contains(t, string(b), `"available_outputs":["atac","cage","dnase","histone_marks","gene_expression"]`)
		require.Contains(t, string(b), `"organism":"mouse"`)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := p.Analyze(t.Context(), genomics.DNASequencePrediction, genomics.Request{Sequence: "XYZ"})
		require.Error(t, err)
		_, err = p.Analyze(t.Context(), genomics.VariantScoring, genomics.Request{Variant: "chr1:100A>G", Interval: "chr2:0-2048"})
		require.Error(t, err)
		_, err = p.Analyze(t.Context(), "protein_folding", genomics.Request{})
		require.ErrorContains(t, err, `unknown analysis "protein_folding"`)
		_, err = p.Analyze(t.Context(), genomics.OutputMetadata, genomics.Request{Organism: "zebrafish"})
		require.Error(t, err)
	})
}

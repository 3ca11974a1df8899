package genomics

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/CZERTAINLY/genojob/internal/parallel"
)

const (
	ModelVersion      = "mock-v1.0"
	DefaultMaxWorkers = 5
	DefaultOrganism   = "human"
)

// Request carries the flags of an analysis, see Kinds for which are used by
// which kind.
type Request struct {
	Sequence     string
	InputFile    string
	Interval     string
	Variant      string
	Variants     []string
	Intervals    []string
	Organism     string
	OutputTypes  []string
	AllOutputs   bool
	MaxWorkers   int
	AnalysisType string
}

// Predictor is a deterministic stand-in for a genomic model: the same input
// always yields the same scores. It lets jobs be exercised end to end
// without access to a model service.
type Predictor struct {
	// Delay is spent on each single prediction.
	Delay time.Duration
}

type Metadata struct {
	Organism     string   `json:"organism,omitempty"`
	ModelVersion string   `json:"model_version"`
	OutputTypes  []string `json:"output_types,omitempty"`
}

type SequenceInfo struct {
	Sequence  string  `json:"sequence"`
	Length    int     `json:"length"`
	GCContent float64 `json:"gc_content"`
}

type SequencePrediction struct {
	Success       bool                 `json:"success"`
	SequenceIndex *int                 `json:"sequence_index,omitempty"`
	SequenceInfo  SequenceInfo         `json:"sequence_info"`
	Predictions   map[string][]float64 `json:"predictions"`
	Metadata      Metadata             `json:"metadata"`
}

type Peak struct {
	Position int64   `json:"position"`
	Score    float64 `json:"score"`
}

type IntervalSummary struct {
	TotalScores       int     `json:"total_scores"`
	PeaksDetected     int     `json:"peaks_detected"`
	MeanAccessibility float64 `json:"mean_accessibility"`
}

type IntervalPrediction struct {
	Success      bool     `json:"success"`
	Interval     string   `json:"interval"`
	IntervalInfo Interval `json:"interval_info"`
	Length       int64    `json:"length"`
	Predictions  struct {
		Scores  []float64       `json:"atac_accessibility_scores"`
		Peaks   []Peak          `json:"peaks"`
		Summary IntervalSummary `json:"summary"`
	} `json:"predictions"`
	Metadata Metadata `json:"metadata"`
}

type VariantInfo struct {
	Variant
	Interval string `json:"interval"`
	Organism string `json:"organism"`
}

type VariantEffect struct {
	Success     bool        `json:"success"`
	Variant     string      `json:"variant"`
	VariantInfo VariantInfo `json:"variant_info"`
	Predictions struct {
		Reference map[string]float64 `json:"reference"`
		Alternate map[string]float64 `json:"alternate"`
		Effects   map[string]float64 `json:"effects"`
	} `json:"predictions"`
	Metadata Metadata `json:"metadata"`
}

type Score struct {
	Score      float64 `json:"score"`
	Prediction string  `json:"prediction"`
}

type ScoreSummary struct {
	MeanScore       float64 `json:"mean_score"`
	MaxScore        float64 `json:"max_score"`
	MinScore        float64 `json:"min_score"`
	PathogenicCount int     `json:"pathogenic_count"`
	BenignCount     int     `json:"benign_count"`
	UncertainCount  int     `json:"uncertain_count"`
}

type VariantScore struct {
	Success        bool             `json:"success"`
	Variant        string           `json:"variant"`
	VariantInfo    VariantInfo      `json:"variant_info"`
	Scores         map[string]Score `json:"scores"`
	Summary        ScoreSummary     `json:"summary"`
	Interpretation struct {
		LikelyPathogenic bool    `json:"likely_pathogenic"`
		Confidence       float64 `json:"confidence"`
	} `json:"interpretation"`
	Metadata Metadata `json:"metadata"`
}

type SequenceStatistics struct {
	MinLength  int     `json:"min_length"`
	MaxLength  int     `json:"max_length"`
	MeanLength float64 `json:"mean_length"`
}

type BatchSequences struct {
	Success   bool `json:"success"`
	BatchInfo struct {
		InputFile      string `json:"input_file"`
		TotalSequences int    `json:"total_sequences"`
		Processed      int    `json:"processed"`
		Organism       string `json:"organism"`
		MaxWorkers     int    `json:"max_workers"`
	} `json:"batch_info"`
	Statistics SequenceStatistics   `json:"sequence_statistics"`
	Results    []SequencePrediction `json:"results"`
	Metadata   Metadata             `json:"metadata"`
}

type BatchVariants struct {
	Success   bool `json:"success"`
	BatchInfo struct {
		TotalVariants int    `json:"total_variants"`
		AnalysisType  string `json:"analysis_type"`
		Organism      string `json:"organism"`
		MaxWorkers    int    `json:"max_workers"`
	} `json:"batch_info"`
	Results  []any    `json:"results"`
	Metadata Metadata `json:"metadata"`
}

type Track struct {
	Description string `json:"description"`
	DataType    string `json:"data_type"`
	Range       string `json:"range"`
	Units       string `json:"units"`
}

type OutputCatalog struct {
	Success            bool             `json:"success"`
	Organism           string           `json:"organism"`
	AvailableOutputs   []string         `json:"available_outputs"`
	OutputDescriptions map[string]Track `json:"output_descriptions"`
	ModelInfo          struct {
		Version            string   `json:"version"`
		Type               string   `json:"type"`
		SupportedOrganisms []string `json:"supported_organisms"`
	} `json:"model_info"`
}

// trackNames maps output types to the names of predicted tracks.
var trackNames = map[string]string{
	"atac":            "atac_accessibility",
	"cage":            "cage_tss",
	"dnase":           "dnase_hypersensitivity",
	"histone_marks":   "histone_marks",
	"gene_expression": "gene_expression",
}

var tracks = map[string]Track{
	"atac":            {"Chromatin accessibility predictions", "float", "[0.0, 1.0]", "accessibility_score"},
	"cage":            {"Transcription start site predictions", "float", "[0.0, 1.0]", "tss_score"},
	"dnase":           {"DNase hypersensitivity predictions", "float", "[0.0, 1.0]", "hypersensitivity_score"},
	"histone_marks":   {"Histone modification predictions", "float", "[0.0, 1.0]", "modification_score"},
	"gene_expression": {"Gene expression predictions", "float", "[0.0, inf]", "expression_level"},
}

var scorers = []string{
	"CADD", "REVEL", "PrimateAI", "SpliceAI", "DANN", "FATHMM",
	"MutationTaster", "PolyPhen2", "SIFT", "LRT", "MutationAssessor",
	"PROVEAN", "VEST4", "MetaSVM", "MetaLR", "Eigen", "GenoCanyon",
	"fitCons", "PhyloP",
}

var classes = []string{"pathogenic", "benign", "uncertain"}

// Analyze runs the analysis of kind and returns a JSON serializable result.
func (p Predictor) Analyze(ctx context.Context, kind string, req Request) (any, error) {
	if req.Organism == "" {
		req.Organism = DefaultOrganism
	}
	if err := validateOrganism(req.Organism); err != nil {
		return nil, err
	}
	types, err := p.outputTypes(req)
	if err != nil {
		return nil, err
	}
	if req.MaxWorkers <= 0 {
		req.MaxWorkers = DefaultMaxWorkers
	}
	slog.DebugContext(ctx, "analyzing", "kind", kind, "organism", req.Organism, "output_types", types)

	switch kind {
	case DNASequencePrediction:
		seq := req.Sequence
		if req.InputFile != "" {
			if seq != "" {
				return nil, fmt.Errorf("sequence and input file are mutually exclusive")
			}
			seq, err = LoadSequence(req.InputFile)
			if err != nil {
				return nil, err
			}
		}
		if err := ValidateSequence(seq); err != nil {
			return nil, err
		}
		return p.PredictSequence(ctx, seq, req.Organism, types)
	case GenomicIntervalAnalysis:
		interval, err := ParseInterval(req.Interval)
		if err != nil {
			return nil, err
		}
		return p.PredictInterval(ctx, interval, req.Organism, types)
	case VariantEffectPrediction, VariantScoring:
		v, i, err := parseVariantInInterval(req.Variant, req.Interval)
		if err != nil {
			return nil, err
		}
		if kind == VariantScoring {
			return p.ScoreVariant(ctx, v, i, req.Organism)
		}
		return p.PredictVariant(ctx, v, i, req.Organism, types)
	case BatchSequenceAnalysis:
		return p.batchSequences(ctx, req, types)
	case BatchVariantAnalysis:
		return p.batchVariants(ctx, req, types)
	case OutputMetadata:
		return p.Catalog(req.Organism), nil
	}
	return nil, fmt.Errorf("unknown analysis %q", kind)
}

func (p Predictor) outputTypes(req Request) ([]string, error) {
	if req.AllOutputs {
		return slices.Clone(OutputTypes), nil
	}
	types, err := NormalizeOutputTypes(req.OutputTypes)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return slices.Clone(DefaultOutputTypes), nil
	}
	return types, nil
}

func parseVariantInInterval(variant, interval string) (Variant, Interval, error) {
	v, err := ParseVariant(variant)
	if err != nil {
		return Variant{}, Interval{}, err
	}
	i, err := ParseInterval(interval)
	if err != nil {
		return Variant{}, Interval{}, err
	}
	if err := v.Within(i); err != nil {
		return Variant{}, Interval{}, err
	}
	return v, i, nil
}

func (p Predictor) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p Predictor) PredictSequence(ctx context.Context, seq, organism string, types []string) (SequencePrediction, error) {
	if err := p.wait(ctx); err != nil {
		return SequencePrediction{}, err
	}
	r := newRand("sequence", seq, organism)
	n := max(1, len(seq)/20)

	ret := SequencePrediction{
		Success: true,
		SequenceInfo: SequenceInfo{
			Sequence:  truncate(seq, 50),
			Length:    len(seq),
			GCContent: round(gcContent(seq), 2),
		},
		Predictions: make(map[string][]float64, len(types)),
		Metadata:    Metadata{Organism: organism, ModelVersion: ModelVersion, OutputTypes: types},
	}
	for _, t := range types {
		values := make([]float64, n)
		for i := range values {
			values[i] = round(r.Float64(), 4)
		}
		ret.Predictions[trackNames[t]] = values
	}
	return ret, nil
}

func (p Predictor) PredictInterval(ctx context.Context, interval Interval, organism string, types []string) (IntervalPrediction, error) {
	if err := p.wait(ctx); err != nil {
		return IntervalPrediction{}, err
	}
	r := newRand("interval", interval.String(), organism)
	n := max(10, int(interval.Len()/1000))
	step := interval.Len() / int64(n)

	var ret IntervalPrediction
	ret.Success = true
	ret.Interval = interval.String()
	ret.IntervalInfo = interval
	ret.Length = interval.Len()
	ret.Metadata = Metadata{Organism: organism, ModelVersion: ModelVersion, OutputTypes: types}

	scores := make([]float64, n)
	peaks := []Peak{}
	var sum float64
	for i := range scores {
		s := round(0.1+0.8*r.Float64(), 4)
		scores[i] = s
		sum += s
		if s > 0.7 {
			peaks = append(peaks, Peak{Position: interval.Start + int64(i)*step, Score: s})
		}
	}
	ret.Predictions.Scores = scores
	ret.Predictions.Peaks = peaks
	ret.Predictions.Summary = IntervalSummary{
		TotalScores:       n,
		PeaksDetected:     len(peaks),
		MeanAccessibility: round(sum/float64(n), 4),
	}
	return ret, nil
}

func (p Predictor) PredictVariant(ctx context.Context, v Variant, interval Interval, organism string, types []string) (VariantEffect, error) {
	if err := p.wait(ctx); err != nil {
		return VariantEffect{}, err
	}
	r := newRand("effect", v.String(), interval.String(), organism)

	var ret VariantEffect
	ret.Success = true
	ret.Variant = v.String()
	ret.VariantInfo = VariantInfo{Variant: v, Interval: interval.String(), Organism: organism}
	ret.Metadata = Metadata{ModelVersion: ModelVersion, OutputTypes: types}
	ret.Predictions.Reference = make(map[string]float64, len(types))
	ret.Predictions.Alternate = make(map[string]float64, len(types))
	ret.Predictions.Effects = make(map[string]float64, len(types))
	for _, t := range types {
		name := trackNames[t]
		ref := 0.2 + 0.6*r.Float64()
		alt := math.Min(1, math.Max(0, ref+0.6*r.Float64()-0.3))
		ret.Predictions.Reference[name] = round(ref, 4)
		ret.Predictions.Alternate[name] = round(alt, 4)
		ret.Predictions.Effects[t+"_change"] = round(alt-ref, 4)
	}
	return ret, nil
}

func (p Predictor) ScoreVariant(ctx context.Context, v Variant, interval Interval, organism string) (VariantScore, error) {
	if err := p.wait(ctx); err != nil {
		return VariantScore{}, err
	}
	r := newRand("score", v.String(), interval.String(), organism)

	var ret VariantScore
	ret.Success = true
	ret.Variant = v.String()
	ret.VariantInfo = VariantInfo{Variant: v, Interval: interval.String(), Organism: organism}
	ret.Metadata = Metadata{ModelVersion: ModelVersion}
	ret.Scores = make(map[string]Score, len(scorers))

	sum := ScoreSummary{MinScore: math.Inf(1), MaxScore: math.Inf(-1)}
	var total float64
	for _, name := range scorers {
		s := Score{Score: round(r.Float64(), 4), Prediction: classes[r.IntN(len(classes))]}
		ret.Scores[name] = s
		total += s.Score
		sum.MinScore = math.Min(sum.MinScore, s.Score)
		sum.MaxScore = math.Max(sum.MaxScore, s.Score)
		switch s.Prediction {
		case "pathogenic":
			sum.PathogenicCount++
		case "benign":
			sum.BenignCount++
		default:
			sum.UncertainCount++
		}
	}
	sum.MeanScore = round(total/float64(len(scorers)), 4)
	ret.Summary = sum
	ret.Interpretation.LikelyPathogenic = sum.PathogenicCount > len(scorers)/2
	ret.Interpretation.Confidence = round(float64(max(sum.PathogenicCount, sum.BenignCount))/float64(len(scorers)), 2)
	return ret, nil
}

// Catalog describes the prediction tracks.
func (p Predictor) Catalog(organism string) OutputCatalog {
	if organism == "" {
		organism = DefaultOrganism
	}
	var ret OutputCatalog
	ret.Success = true
	ret.Organism = organism
	ret.AvailableOutputs = slices.Clone(OutputTypes)
	ret.OutputDescriptions = make(map[string]Track, len(tracks))
	for k, v := range tracks {
		ret.OutputDescriptions[k] = v
	}
	ret.ModelInfo.Version = ModelVersion
	ret.ModelInfo.Type = "mock_model"
	ret.ModelInfo.SupportedOrganisms = slices.Clone(Organisms)
	return ret
}

func (p Predictor) batchSequences(ctx context.Context, req Request, types []string) (BatchSequences, error) {
	seqs, err := LoadSequences(req.InputFile)
	if err != nil {
		return BatchSequences{}, err
	}
	indexes := make([]int, len(seqs))
	for i := range indexes {
		indexes[i] = i
	}
	results, err := parallel.Map(ctx, req.MaxWorkers, indexes, func(ctx context.Context, i int) (SequencePrediction, error) {
		ret, err := p.PredictSequence(ctx, seqs[i], req.Organism, types)
		if err != nil {
			return ret, fmt.Errorf("sequence %d: %w", i, err)
		}
		ret.SequenceIndex = &i
		return ret, nil
	})
	if err != nil {
		return BatchSequences{}, err
	}

	var ret BatchSequences
	ret.Success = true
	ret.BatchInfo.InputFile = req.InputFile
	ret.BatchInfo.TotalSequences = len(seqs)
	ret.BatchInfo.Processed = len(results)
	ret.BatchInfo.Organism = req.Organism
	ret.BatchInfo.MaxWorkers = req.MaxWorkers
	ret.Results = results
	ret.Metadata = Metadata{Organism: req.Organism, ModelVersion: ModelVersion, OutputTypes: types}

	stats := SequenceStatistics{MinLength: math.MaxInt}
	var total int
	for _, s := range seqs {
		stats.MinLength = min(stats.MinLength, len(s))
		stats.MaxLength = max(stats.MaxLength, len(s))
		total += len(s)
	}
	stats.MeanLength = round(float64(total)/float64(len(seqs)), 1)
	ret.Statistics = stats
	return ret, nil
}

func (p Predictor) batchVariants(ctx context.Context, req Request, types []string) (BatchVariants, error) {
	if len(req.Variants) == 0 {
		return BatchVariants{}, fmt.Errorf("no variants given")
	}
	if len(req.Variants) != len(req.Intervals) {
		return BatchVariants{}, fmt.Errorf("number of variants (%d) must match number of intervals (%d)", len(req.Variants), len(req.Intervals))
	}
	analysis := req.AnalysisType
	if analysis == "" {
		analysis = AnalysisEffects
	}
	if analysis != AnalysisEffects && analysis != AnalysisScoring {
		return BatchVariants{}, fmt.Errorf("analysis type must be %q or %q, got %q", AnalysisEffects, AnalysisScoring, analysis)
	}

	type pair struct {
		v Variant
		i Interval
	}
	pairs := make([]pair, len(req.Variants))
	for n := range req.Variants {
		v, i, err := parseVariantInInterval(req.Variants[n], req.Intervals[n])
		if err != nil {
			return BatchVariants{}, fmt.Errorf("variant %d: %w", n, err)
		}
		pairs[n] = pair{v: v, i: i}
	}

	results, err := parallel.Map(ctx, req.MaxWorkers, pairs, func(ctx context.Context, vi pair) (any, error) {
		if analysis == AnalysisScoring {
			return p.ScoreVariant(ctx, vi.v, vi.i, req.Organism)
		}
		return p.PredictVariant(ctx, vi.v, vi.i, req.Organism, types)
	})
	if err != nil {
		return BatchVariants{}, err
	}

	var ret BatchVariants
	ret.Success = true
	ret.BatchInfo.TotalVariants = len(pairs)
	ret.BatchInfo.AnalysisType = analysis
	ret.BatchInfo.Organism = req.Organism
	ret.BatchInfo.MaxWorkers = req.MaxWorkers
	ret.Results = results
	ret.Metadata = Metadata{Organism: req.Organism, ModelVersion: ModelVersion, OutputTypes: types}
	return ret, nil
}

// newRand seeds a generator from the analysis inputs.
func newRand(parts ...string) *rand.Rand {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed>>7|seed<<57))
}

func round(x float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(x*p) / p
}

func gcContent(seq string) float64 {
	if seq == "" {
		return 0
	}
	var gc int
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'G', 'C', 'g', 'c':
			gc++
		}
	}
	return float64(gc) / float64(len(seq)) * 100
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

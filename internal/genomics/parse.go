package genomics

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	intervalRe = regexp.MustCompile(`^([^:]+):(\d+)-(\d+)$`)
	variantRe  = regexp.MustCompile(`^([^:]+):(\d+)([ATGCN]+)>([ATGCN]+)$`)
)

// Interval is a half open genomic region.
type Interval struct {
	Chromosome string `json:"chromosome"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
}

// ParseInterval parses chr:start-end, e.g. chr1:1000-2000.
func ParseInterval(s string) (Interval, error) {
	m := intervalRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Interval{}, fmt.Errorf("invalid interval %q: expected chr:start-end (e.g. chr1:1000-2000)", s)
	}
	start, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	end, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	if start >= end {
		return Interval{}, fmt.Errorf("invalid interval %q: start %d must be less than end %d", s, start, end)
	}
	return Interval{Chromosome: m[1], Start: start, End: end}, nil
}

func (i Interval) Len() int64 {
	return i.End - i.Start
}

func (i Interval) String() string {
	return fmt.Sprintf("%s:%d-%d", i.Chromosome, i.Start, i.End)
}

// Variant is a substitution of Ref by Alt at Position.
type Variant struct {
	Chromosome string `json:"chromosome"`
	Position   int64  `json:"position"`
	Ref        string `json:"reference"`
	Alt        string `json:"alternate"`
}

// ParseVariant parses chr:posREF>ALT, e.g. chr1:1001000A>G. The input is
// upper cased, so CHR1 is returned for chr1.
func ParseVariant(s string) (Variant, error) {
	m := variantRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return Variant{}, fmt.Errorf("invalid variant %q: expected chr:posREF>ALT (e.g. chr1:1001000A>G)", s)
	}
	pos, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Variant{}, fmt.Errorf("invalid variant %q: %w", s, err)
	}
	return Variant{Chromosome: m[1], Position: pos, Ref: m[3], Alt: m[4]}, nil
}

func (v Variant) String() string {
	return fmt.Sprintf("%s:%d%s>%s", v.Chromosome, v.Position, v.Ref, v.Alt)
}

// Within checks the variant lies in the interval, chromosome names are
// compared case insensitively.
func (v Variant) Within(i Interval) error {
	if !strings.EqualFold(v.Chromosome, i.Chromosome) {
		return fmt.Errorf("variant chromosome %s must match interval chromosome %s", v.Chromosome, i.Chromosome)
	}
	if v.Position < i.Start || v.Position > i.End {
		return fmt.Errorf("variant position %d must be within interval %d-%d", v.Position, i.Start, i.End)
	}
	return nil
}

// OutputTypes are the prediction tracks a caller can request.
var OutputTypes = []string{"atac", "cage", "dnase", "histone_marks", "gene_expression"}

// DefaultOutputTypes are predicted when no types were requested.
var DefaultOutputTypes = []string{"atac", "cage", "dnase"}

// Organisms the predictor supports.
var Organisms = []string{"human", "mouse", "fly"}

// NormalizeOutputTypes lower cases and checks requested output types.
func NormalizeOutputTypes(types []string) ([]string, error) {
	if len(types) == 0 {
		return nil, nil
	}
	ret := make([]string, 0, len(types))
	var invalid []string
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if !slices.Contains(OutputTypes, t) {
			invalid = append(invalid, t)
			continue
		}
		ret = append(ret, t)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid output types %v, valid types are %v", invalid, OutputTypes)
	}
	return ret, nil
}

func validateOrganism(organism string) error {
	if organism == "" || slices.Contains(Organisms, organism) {
		return nil
	}
	return fmt.Errorf("unsupported organism %q, supported are %v", organism, Organisms)
}

// CleanSequence upper cases s and drops everything but A, T, G, C and N.
func CleanSequence(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		switch r {
		case 'A', 'T', 'G', 'C', 'N':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateSequence accepts non-empty sequences of A, T, G, C and N in any case.
func ValidateSequence(s string) error {
	if s == "" {
		return errors.New("DNA sequence must not be empty")
	}
	if CleanSequence(s) != strings.ToUpper(s) {
		return fmt.Errorf("DNA sequence contains invalid characters, only A, T, G, C and N are allowed")
	}
	return nil
}

// LoadSequences reads one sequence per line. Empty lines are skipped, every
// other line must contain at least one nucleotide.
func LoadSequences(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading sequences: %w", err)
	}
	defer f.Close()

	var ret []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		seq := CleanSequence(line)
		if seq == "" {
			return nil, fmt.Errorf("%s:%d: no valid DNA characters", path, n)
		}
		ret = append(ret, seq)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading sequences: %w", err)
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("%s: no DNA sequences found", path)
	}
	return ret, nil
}

// LoadSequence reads the first line of path as a single sequence.
func LoadSequence(path string) (string, error) {
	seqs, err := LoadSequences(path)
	if err != nil {
		return "", err
	}
	return seqs[0], nil
}

package jobs

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
)

// ParamType is a serialization rule of a job argument.
type ParamType int

const (
	// String is passed as --flag value.
	String ParamType = iota
	// Int is passed as --flag value, the value must be integral.
	Int
	// StringList is passed as repeated --flag value tokens.
	StringList
	// Bool is passed as a bare --flag when true and omitted when false.
	Bool
	// OutputFile is a path of the result artifact, passed as --flag path.
	OutputFile
	// OutputDir is a directory for the result artifact. The job writes
	// <dir>/<job id>.json, which is passed as --flag.
	OutputDir
)

var paramTypeNames = map[ParamType]string{
	String:     "string",
	Int:        "int",
	StringList: "string_list",
	Bool:       "bool",
	OutputFile: "output_file",
	OutputDir:  "output_dir",
}

func (t ParamType) String() string {
	if s, ok := paramTypeNames[t]; ok {
		return s
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

func (t ParamType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Param maps a named submission argument to a command line flag.
type Param struct {
	Name        string    `json:"name"`
	Flag        string    `json:"flag"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Description string    `json:"description,omitempty"`
}

// buildArgs serializes args following params. Absent and nil values are
// omitted, unknown keys are rejected. It returns the argument vector and the
// path of the declared result artifact, if any.
func buildArgs(params []Param, args map[string]any, jobID string) ([]string, string, error) {
	known := make(map[string]struct{}, len(params))
	for _, p := range params {
		known[p.Name] = struct{}{}
	}
	for name := range args {
		if _, ok := known[name]; !ok {
			return nil, "", fmt.Errorf("unknown argument %q", name)
		}
	}

	var argv []string
	var artifact string
	for _, p := range params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, "", fmt.Errorf("argument %q is required", p.Name)
			}
			continue
		}

		switch p.Type {
		case String:
			s, err := StringValue(v)
			if err != nil {
				return nil, "", fmt.Errorf("argument %q: %w", p.Name, err)
			}
			if s == "" && p.Required {
				return nil, "", fmt.Errorf("argument %q is required", p.Name)
			}
			argv = append(argv, p.Flag, s)
		case Int:
			i, err := IntValue(v)
			if err != nil {
				return nil, "", fmt.Errorf("argument %q: %w", p.Name, err)
			}
			argv = append(argv, p.Flag, strconv.FormatInt(i, 10))
		case StringList:
			list, err := StringListValue(v)
			if err != nil {
				return nil, "", fmt.Errorf("argument %q: %w", p.Name, err)
			}
			if len(list) == 0 && p.Required {
				return nil, "", fmt.Errorf("argument %q is required", p.Name)
			}
			for _, s := range list {
				argv = append(argv, p.Flag, s)
			}
		case Bool:
			b, ok := v.(bool)
			if !ok {
				return nil, "", fmt.Errorf("argument %q: expected bool, got %T", p.Name, v)
			}
			if b {
				argv = append(argv, p.Flag)
			}
		case OutputFile, OutputDir:
			path, err := StringValue(v)
			if err != nil {
				return nil, "", fmt.Errorf("argument %q: %w", p.Name, err)
			}
			if path == "" {
				if p.Required {
					return nil, "", fmt.Errorf("argument %q is required", p.Name)
				}
				continue
			}
			if artifact != "" {
				return nil, "", fmt.Errorf("argument %q: only one output artifact is supported", p.Name)
			}
			if p.Type == OutputDir {
				path = filepath.Join(path, jobID+".json")
			}
			artifact = path
			argv = append(argv, p.Flag, path)
		default:
			return nil, "", fmt.Errorf("argument %q: unsupported type %s", p.Name, p.Type)
		}
	}
	return argv, artifact, nil
}

// StringValue converts a submitted string argument.
func StringValue(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

// IntValue converts a submitted integer argument. JSON numbers arrive as
// float64 and are accepted when integral.
func IntValue(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("expected integer, got %v", x)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which is out of range
		if x >= math.MaxInt64 || x < math.MinInt64 {
			return 0, fmt.Errorf("integer %v out of range", x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

// StringListValue converts a submitted list of strings. A single string is
// treated as a list of one.
func StringListValue(v any) ([]string, error) {
	switch x := v.(type) {
	case string:
		return []string{x}, nil
	case []string:
		return x, nil
	case []any:
		ret := make([]string, 0, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: expected string, got %T", i, e)
			}
			ret = append(ret, s)
		}
		return ret, nil
	}
	return nil, fmt.Errorf("expected list of strings, got %T", v)
}

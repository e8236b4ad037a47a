package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/microsoft/ZooTracer/zt_errors"
)

// Settings are the pipeline parameters. Key names double as the trace file
// variable names.
type Settings struct {
	VideoFilePath              string  `toml:"videofilepath" yaml:"videofilepath"`
	LambdaD                    float64 `toml:"lambda_d" yaml:"lambda_d"`
	LambdaU                    float64 `toml:"lambda_u" yaml:"lambda_u"`
	LambdaO                    float64 `toml:"lambda_o" yaml:"lambda_o"`
	PatchSize                  int     `toml:"patch_size" yaml:"patch_size"`
	NumPCAData                 int     `toml:"num_pca_data" yaml:"num_pca_data"`
	PCADim                     int     `toml:"pca_dim" yaml:"pca_dim"`
	MaxOcclusionDuration       int     `toml:"max_occlusion_duration" yaml:"max_occlusion_duration"`
	MatchesPerKeyframe         int     `toml:"matches_per_keyframe" yaml:"matches_per_keyframe"`
	IndexApproxRatio           float64 `toml:"index_approx_ratio" yaml:"index_approx_ratio"`
	MaxMatchesPerFrame         int     `toml:"max_matches_per_frame" yaml:"max_matches_per_frame"`
	MatchesAppearanceThreshold float64 `toml:"matches_appearance_threshold" yaml:"matches_appearance_threshold"`
	IndexAccuracy              int     `toml:"index_accuracy" yaml:"index_accuracy"`
}

const (
	KeyVideoFilePath              = "videofilepath"
	KeyLambdaD                    = "lambda_d"
	KeyLambdaU                    = "lambda_u"
	KeyLambdaO                    = "lambda_o"
	KeyPatchSize                  = "patch_size"
	KeyNumPCAData                 = "num_pca_data"
	KeyPCADim                     = "pca_dim"
	KeyMaxOcclusionDuration       = "max_occlusion_duration"
	KeyMatchesPerKeyframe         = "matches_per_keyframe"
	KeyIndexApproxRatio           = "index_approx_ratio"
	KeyMaxMatchesPerFrame         = "max_matches_per_frame"
	KeyMatchesAppearanceThreshold = "matches_appearance_threshold"
	KeyIndexAccuracy              = "index_accuracy"
)

func Defaults() Settings {
	return Settings{
		LambdaD:                    0.01,
		LambdaU:                    1.0,
		LambdaO:                    5.0,
		PatchSize:                  16,
		NumPCAData:                 10000,
		PCADim:                     8,
		MaxOcclusionDuration:       100,
		MatchesPerKeyframe:         10,
		IndexApproxRatio:           0.5,
		MaxMatchesPerFrame:         10,
		MatchesAppearanceThreshold: 1.0,
		IndexAccuracy:              2,
	}
}

type field struct {
	key string
	ref func(*Settings) any
}

// fields are in trace file order.
var fields = []field{
	{KeyVideoFilePath, func(s *Settings) any { return &s.VideoFilePath }},
	{KeyLambdaD, func(s *Settings) any { return &s.LambdaD }},
	{KeyLambdaU, func(s *Settings) any { return &s.LambdaU }},
	{KeyLambdaO, func(s *Settings) any { return &s.LambdaO }},
	{KeyPatchSize, func(s *Settings) any { return &s.PatchSize }},
	{KeyNumPCAData, func(s *Settings) any { return &s.NumPCAData }},
	{KeyPCADim, func(s *Settings) any { return &s.PCADim }},
	{KeyMaxOcclusionDuration, func(s *Settings) any { return &s.MaxOcclusionDuration }},
	{KeyMatchesPerKeyframe, func(s *Settings) any { return &s.MatchesPerKeyframe }},
	{KeyIndexApproxRatio, func(s *Settings) any { return &s.IndexApproxRatio }},
	{KeyMaxMatchesPerFrame, func(s *Settings) any { return &s.MaxMatchesPerFrame }},
	{KeyMatchesAppearanceThreshold, func(s *Settings) any { return &s.MatchesAppearanceThreshold }},
	{KeyIndexAccuracy, func(s *Settings) any { return &s.IndexAccuracy }},
}

// Keys lists every setting name in trace file order.
func Keys() []string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.key
	}
	return keys
}

func lookup(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// Kind reports the value type of key: "string", "int" or "float".
func Kind(key string) string {
	f, ok := lookup(key)
	if !ok {
		return ""
	}
	var s Settings
	switch f.ref(&s).(type) {
	case *string:
		return "string"
	case *int:
		return "int"
	default:
		return "float"
	}
}

func (s Settings) Get(key string) (string, error) {
	f, ok := lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", zt_errors.ErrUnknownKey, key)
	}
	switch v := f.ref(&s).(type) {
	case *string:
		return *v, nil
	case *int:
		return strconv.Itoa(*v), nil
	case *float64:
		return strconv.FormatFloat(*v, 'g', -1, 64), nil
	}
	return "", nil
}

// Set parses value into key. Integers written as "16.0" are accepted.
func (s *Settings) Set(key, value string) error {
	f, ok := lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", zt_errors.ErrUnknownKey, key)
	}
	value = strings.TrimSpace(value)
	switch v := f.ref(s).(type) {
	case *string:
		*v = value
	case *int:
		n, err := strconv.Atoi(value)
		if err != nil {
			x, ferr := strconv.ParseFloat(value, 64)
			if ferr != nil || x != math.Trunc(x) {
				return fmt.Errorf("%w: %s=%q", zt_errors.ErrBadValue, key, value)
			}
			n = int(x)
		}
		*v = n
	case *float64:
		x, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", zt_errors.ErrBadValue, key, value)
		}
		*v = x
	}
	return nil
}

// Diff returns the keys whose values differ between a and b.
func Diff(a, b Settings) []string {
	var changed []string
	for _, f := range fields {
		va, _ := a.Get(f.key)
		vb, _ := b.Get(f.key)
		if va != vb {
			changed = append(changed, f.key)
		}
	}
	return changed
}

func (s Settings) Validate() error {
	bad := func(key string, why string) error {
		v, _ := s.Get(key)
		return fmt.Errorf("%w: %s=%s %s", zt_errors.ErrBadValue, key, v, why)
	}
	switch {
	case s.PatchSize < 3:
		return bad(KeyPatchSize, "must be at least 3")
	case s.PCADim < 1:
		return bad(KeyPCADim, "must be positive")
	case s.PCADim > s.PatchSize*s.PatchSize:
		return bad(KeyPCADim, "exceeds the patch dimension")
	case s.NumPCAData < s.PCADim:
		return bad(KeyNumPCAData, "must be at least pca_dim")
	case s.IndexAccuracy < 1:
		return bad(KeyIndexAccuracy, "must be positive")
	case s.IndexApproxRatio <= 0 || s.IndexApproxRatio > 1:
		return bad(KeyIndexApproxRatio, "must be in (0, 1]")
	case s.MatchesPerKeyframe < 1:
		return bad(KeyMatchesPerKeyframe, "must be positive")
	case s.MaxMatchesPerFrame < 1:
		return bad(KeyMaxMatchesPerFrame, "must be positive")
	case s.MaxOcclusionDuration < 1:
		return bad(KeyMaxOcclusionDuration, "must be positive")
	case s.LambdaD < 0 || s.LambdaU < 0 || s.LambdaO < 0:
		return bad(KeyLambdaD, "cost weights must not be negative")
	}
	return nil
}

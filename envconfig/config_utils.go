package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// BoolWithDefault returns a getter for a boolean variable. Values that do
// not parse count as true.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap describes every variable maskdetect reads, with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"MASKDETECT_DEBUG":       {"MASKDETECT_DEBUG", LogLevel(), "Show additional debug information (e.g. MASKDETECT_DEBUG=1)"},
		"MASKDETECT_MODELS":      {"MASKDETECT_MODELS", Models(), "The path to the models directory"},
		"MASKDETECT_NUM_THREADS": {"MASKDETECT_NUM_THREADS", NumThreads(), "Number of threads used by compute kernels (default: one per CPU)"},
		"MASKDETECT_PRETRAIN":    {"MASKDETECT_PRETRAIN", PretrainPath(), "Path to the ImageNet backbone checkpoint"},
		"MASKDETECT_STRICT":      {"MASKDETECT_STRICT", StrictLoad(true), "Reject weight files with unused tensors (default: true)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

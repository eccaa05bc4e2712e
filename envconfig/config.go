// config.go - environment configuration for maskdetect
//
// Settings are read on every call so tests and the CLI can change them
// with os.Setenv. See config_utils.go for the typed getters and AsMap.
package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Models returns the directory searched for detector weights and configs.
// Configurable via MASKDETECT_MODELS, default $HOME/.maskdetect/models.
func Models() string {
	if s := Var("MASKDETECT_MODELS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".maskdetect", "models")
}

// NumThreads returns the kernel thread count. Configurable via
// MASKDETECT_NUM_THREADS; 0 or unset means one thread per CPU.
func NumThreads() int {
	if n := numThreads(); n > 0 {
		return int(n)
	}

	return runtime.NumCPU()
}

var numThreads = Uint("MASKDETECT_NUM_THREADS", 0)

// PretrainPath overrides the location of the ImageNet backbone checkpoint.
var PretrainPath = String("MASKDETECT_PRETRAIN")

// StrictLoad rejects weight files carrying tensors the detector does not use.
var StrictLoad = BoolWithDefault("MASKDETECT_STRICT")

// LogLevel returns the log level. Configurable via MASKDETECT_DEBUG:
// 0 or false is INFO, 1 or true is DEBUG, 2 is TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("MASKDETECT_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var returns an environment variable stripped of surrounding quotes and
// whitespace.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

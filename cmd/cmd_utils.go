// cmd_utils.go - shared helpers for the command handlers
// Main functions: loadConfig, resolvePath, newTable, humanNumber
package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/maskdetect/maskdetect/envconfig"
	"github.com/maskdetect/maskdetect/ml"
	"github.com/maskdetect/maskdetect/model"
)

// loadConfig reads --config, falling back to --preset, and applies
// --weights when the command has it.
func loadConfig(cmd *cobra.Command) (model.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	preset, _ := cmd.Flags().GetString("preset")

	var cfg model.Config
	var err error
	if path != "" {
		cfg, err = model.LoadConfig(path)
	} else {
		cfg, err = model.Preset(preset)
	}
	if err != nil {
		return model.Config{}, err
	}

	if cmd.Flags().Lookup("weights") != nil {
		if weights, _ := cmd.Flags().GetString("weights"); weights != "" {
			cfg.Weights = weights
		}
	}

	if cfg.Weights != "" {
		if cfg.Weights, err = resolvePath(cfg.Weights); err != nil {
			return model.Config{}, err
		}
	}

	return cfg, nil
}

// resolvePath returns name when it exists, otherwise the file of the same
// name in the models directory.
func resolvePath(name string) (string, error) {
	if _, err := os.Stat(name); err == nil || filepath.IsAbs(name) {
		return name, nil
	}

	p := filepath.Join(envconfig.Models(), name)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: not found in working directory or %s", name, envconfig.Models())
		}
		return "", err
	}

	return p, nil
}

func backendParams() ml.BackendParams {
	return ml.BackendParams{NumThreads: envconfig.NumThreads()}
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	if len(header) > 0 {
		table.SetHeader(header)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
	}
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// humanNumber formats n with a K/M/B suffix.
func humanNumber(n uint64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func shapeString(shape []int) string {
	return fmt.Sprint(shape)
}

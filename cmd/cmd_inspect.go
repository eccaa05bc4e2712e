// cmd_inspect.go - inspect and convert commands for checkpoint files
// Main functions: InspectHandler, ConvertHandler
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/maskdetect/maskdetect/fs/checkpoint"
	"github.com/maskdetect/maskdetect/model"
)

// InspectHandler lists the tensors of a checkpoint without building a model.
func InspectHandler(cmd *cobra.Command, args []string) error {
	path, err := resolvePath(args[0])
	if err != nil {
		return err
	}

	sd, err := checkpoint.Open(path)
	if err != nil {
		return err
	}

	if prefix, _ := cmd.Flags().GetString("prefix"); prefix != "" {
		sd = checkpoint.Subset(sd, prefix)
	}

	p := message.NewPrinter(language.English)

	var total uint64
	table := newTable(cmd.OutOrStdout(), "NAME", "TYPE", "SHAPE", "ELEMENTS")
	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		t := pair.Value
		total += uint64(t.NumElements())
		table.Append([]string{t.Name, t.DType.String(), shapeString(t.Shape), p.Sprintf("%d", t.NumElements())})
	}
	table.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d tensors, %s parameters\n", sd.Len(), humanNumber(total))
	return nil
}

// ConvertHandler loads SRC into the configured detector, which checks every
// name and shape, and writes the bound parameters to DST as safetensors.
func ConvertHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Weights, err = resolvePath(args[0]); err != nil {
		return err
	}

	m, err := model.New(cfg, model.ModeInference, backendParams())
	if err != nil {
		return err
	}
	defer m.Backend().Close()

	sd := model.StateDict(m)
	if err := checkpoint.Save(args[1], sd); err != nil {
		return err
	}

	slog.Debug("converted checkpoint", "src", cfg.Weights, "dst", args[1])
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d tensors to %s\n", sd.Len(), args[1])
	return nil
}

// cmd_show.go - show command and model info rendering
// Main functions: ShowHandler, showInfo
package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maskdetect/maskdetect/model"
)

// ShowHandler builds the configured detector and describes it.
func ShowHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")

	m, err := model.New(cfg, model.ModeInference, backendParams())
	if err != nil {
		return err
	}
	defer m.Backend().Close()

	return showInfo(cmd.OutOrStdout(), cfg, model.Parameters(m), verbose)
}

func showInfo(w io.Writer, cfg model.Config, params []model.Parameter, verbose bool) error {
	tableRender := func(header string, rows func() [][]string) {
		fmt.Fprintln(w, " ", header)
		table := newTable(w)
		table.AppendBulk(rows())
		table.Render()
		fmt.Fprintln(w)
	}

	var total uint64
	modules := make(map[string]uint64)
	for _, p := range params {
		n := uint64(p.NumElements())
		total += n
		top, _, _ := strings.Cut(p.Name, ".")
		modules[top] += n
	}

	tableRender("Model", func() (rows [][]string) {
		context := "ssh"
		if cfg.Attention {
			context = "rcam"
		}

		rows = append(rows,
			[]string{"", "name", cfg.Name},
			[]string{"", "context", context},
			[]string{"", "return layers", returnLayers(cfg.ReturnLayers)},
			[]string{"", "in channel", strconv.Itoa(cfg.InChannel)},
			[]string{"", "out channel", strconv.Itoa(cfg.OutChannel)},
			[]string{"", "anchors", strconv.Itoa(cfg.NumAnchors)},
			[]string{"", "classes", strconv.Itoa(cfg.NumClasses)},
			[]string{"", "parameters", humanNumber(total)},
		)

		if cfg.Pretrain {
			rows = append(rows, []string{"", "pretrained", cfg.PretrainPath})
		}
		if cfg.Weights != "" {
			rows = append(rows, []string{"", "weights", cfg.Weights})
		}
		return
	})

	tableRender("Modules", func() (rows [][]string) {
		// field order of the first parameter of each module
		var order []string
		for _, p := range params {
			top, _, _ := strings.Cut(p.Name, ".")
			if !slices.Contains(order, top) {
				order = append(order, top)
			}
		}

		for _, name := range order {
			rows = append(rows, []string{"", name, humanNumber(modules[name])})
		}
		return
	})

	if verbose {
		tableRender("Tensors", func() (rows [][]string) {
			for _, p := range params {
				rows = append(rows, []string{"", p.Name, shapeString(p.Shape)})
			}
			return
		})
	}

	return nil
}

// returnLayers prints taps in level order, e.g. "stage1:1 stage2:2 stage3:3".
func returnLayers(m map[string]int) string {
	names := slices.SortedFunc(maps.Keys(m), func(a, b string) int {
		return m[a] - m[b]
	})

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s:%d", name, m[name])
	}
	return strings.Join(parts, " ")
}

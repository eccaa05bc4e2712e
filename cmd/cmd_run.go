// cmd_run.go - run command: detector forward pass over image files
// Main functions: RunHandler, prepareImage, topAnchors, writeReport
package cmd

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/emirpasic/gods/v2/trees/binaryheap"
	"github.com/spf13/cobra"

	"github.com/maskdetect/maskdetect/ml"
	"github.com/maskdetect/maskdetect/model"
	_ "github.com/maskdetect/maskdetect/model/models"
	"github.com/maskdetect/maskdetect/vision"
)

// defaultStride is used for architectures that do not report their total
// downsampling factor.
const defaultStride = 32

// RunHandler runs the detector once per image argument.
func RunHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	modeFlag, _ := cmd.Flags().GetString("mode")
	mode, err := model.ParseMode(modeFlag)
	if err != nil {
		return err
	}

	dump, _ := cmd.Flags().GetBool("dump")
	size, _ := cmd.Flags().GetInt("size")
	top, _ := cmd.Flags().GetInt("top")
	if size < 0 || top < 0 {
		return errors.New("--size and --top must not be negative")
	}

	m, err := model.New(cfg, mode, backendParams())
	if err != nil {
		return err
	}
	defer m.Backend().Close()

	stride := defaultStride
	if s, ok := m.(interface{ Stride() int }); ok {
		stride = s.Stride()
	}

	w := cmd.OutOrStdout()
	for _, path := range args {
		img, err := prepareImage(path, size, stride)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if err := detect(m, img, func(ctx ml.Context, out model.Output) {
			writeReport(w, path, img, out, top)
			if dump {
				fmt.Fprintf(w, "heatmap\n%s\n\n", ml.Dump(ctx, out.Heatmap, ml.DumpWithPrecision(3)))
			}
		}); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	return nil
}

// prepareImage loads path, optionally fits it into a size x size box and
// pads it so both sides divide stride.
func prepareImage(path string, size, stride int) (*vision.ImageInput, error) {
	img, err := vision.LoadImage(path)
	if err != nil {
		return nil, err
	}

	img = vision.Composite(img)
	if size > 0 {
		if img, err = vision.ResizeWithAspect(img, size, size); err != nil {
			return nil, err
		}
	}

	return vision.PadToMultiple(img, stride)
}

// detect runs m on img and hands the computed outputs to fn before the
// context holding them is closed.
func detect(m model.Model, img *vision.ImageInput, fn func(ml.Context, model.Output)) error {
	ctx := m.Backend().NewContext()
	defer ctx.Close()

	input, err := vision.ToBatch(ctx, vision.Preprocess(img))
	if err != nil {
		return err
	}

	slog.Debug("running detector", "width", img.Width, "height", img.Height, "threads", ctx.NumThreads())

	out, err := model.Forward(ctx, m, input)
	if err != nil {
		return err
	}

	ctx.Compute(out.BBoxRegressions, out.Classifications, out.Heatmap)
	fn(ctx, out)
	return nil
}

// anchorScore is the best non-background class of one prediction row.
type anchorScore struct {
	Index int
	Class int
	Score float32
}

// topAnchors returns the k rows of a (rows, classes) score matrix with the
// highest non-background score, best first. Class 0 is background unless it
// is the only class. Ties keep row order.
func topAnchors(scores []float32, classes, k int) []anchorScore {
	rows := len(scores) / classes
	first := min(1, classes-1)

	// min-heap on rank: the root is the weakest anchor kept so far
	worse := func(a, b anchorScore) int {
		return cmp.Or(cmp.Compare(a.Score, b.Score), cmp.Compare(b.Index, a.Index))
	}
	heap := binaryheap.NewWith[anchorScore](worse)

	for i := range rows {
		row := scores[i*classes : (i+1)*classes]
		best := anchorScore{Index: i, Class: first, Score: row[first]}
		for c := first + 1; c < classes; c++ {
			if row[c] > best.Score {
				best.Class, best.Score = c, row[c]
			}
		}

		if heap.Size() < k {
			heap.Push(best)
		} else if weakest, ok := heap.Peek(); ok && worse(best, weakest) > 0 {
			heap.Pop()
			heap.Push(best)
		}
	}

	ranked := make([]anchorScore, heap.Size())
	for i := len(ranked) - 1; i >= 0; i-- {
		ranked[i], _ = heap.Pop()
	}
	return ranked
}

func writeReport(w io.Writer, path string, img *vision.ImageInput, out model.Output, top int) {
	fmt.Fprintf(w, "%s (%dx%d)\n", path, img.Width, img.Height)

	shapes := newTable(w)
	shapes.AppendBulk([][]string{
		{"", "bbox_regressions", shapeString(out.BBoxRegressions.Shape())},
		{"", "classifications", shapeString(out.Classifications.Shape())},
		{"", "heatmap", shapeString(out.Heatmap.Shape())},
	})
	shapes.Render()
	fmt.Fprintln(w)

	if top == 0 {
		return
	}

	classes := out.Classifications.Dim(2)
	scores := out.Classifications.Floats()
	boxes := out.BBoxRegressions.Floats()

	// only the first image of the batch is reported
	rows := out.Classifications.Dim(1)
	table := newTable(w, "ANCHOR", "CLASS", "SCORE", "DX", "DY", "DW", "DH")
	for _, a := range topAnchors(scores[:rows*classes], classes, top) {
		box := boxes[4*a.Index : 4*a.Index+4]
		table.Append([]string{
			strconv.Itoa(a.Index),
			strconv.Itoa(a.Class),
			formatFloat(a.Score),
			formatFloat(box[0]),
			formatFloat(box[1]),
			formatFloat(box[2]),
			formatFloat(box[3]),
		})
	}
	table.Render()
	fmt.Fprintln(w)
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', 4, 32)
}

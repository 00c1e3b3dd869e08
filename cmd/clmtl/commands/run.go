package commands

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/spf13/cobra"

	"github.com/gogpu/clmtl"
	"github.com/gogpu/clmtl/internal/config"
	"github.com/gogpu/clmtl/device/soft"
	"github.com/gogpu/clmtl/internal/spvtest"
)

var runElements int

var runCmd = &cobra.Command{
	Use:   "run [module.spv]",
	Short: "Run vector_add and check the result",
	Long: `Run dispatches vector_add(a, b, c, n) computing c[i] = a[i] + b[i].

Without an argument a built-in module is used whose kernel is executed by
the software device. A module given as argument must declare vector_add with
the same signature.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		module := spvtest.VectorAdd().Bytes()
		if len(args) == 1 {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			module = data
		} else if cfg.Device.Kind == config.DeviceHAL {
			return errors.New("the built-in module only runs on the soft device; pass a clspv module")
		}
		if runElements <= 0 {
			return fmt.Errorf("--elements must be positive, got %d", runElements)
		}

		reg := soft.NewRegistry()
		reg.Register("vector_add", vectorAdd)
		ctx, release, err := openContext(reg)
		if err != nil {
			return err
		}
		defer release()

		start := time.Now()
		if err := runVectorAdd(ctx, module, runElements); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d elements, %s moved in %s on %s\n",
			okStyle.Render("ok"), runElements, humanize.IBytes(uint64(12*runElements)),
			time.Since(start).Round(time.Microsecond), ctx.Info().Name)
		return nil
	},
}

func init() {
	runCmd.Flags().IntVarP(&runElements, "elements", "n", 1<<16, "number of elements")
}

func vectorAdd(t *soft.Thread) {
	i := t.GlobalID.Width
	if i >= int(binary.LittleEndian.Uint32(t.Bytes(3))) {
		return
	}
	t.SetFloat32(2, i, t.Float32(0, i)+t.Float32(1, i))
}

func runVectorAdd(ctx *clmtl.Context, module []byte, n int) error {
	prog, err := clmtl.NewProgramWithBinary(ctx, module)
	if err != nil {
		return err
	}
	defer prog.Release()
	k, err := clmtl.NewKernel(prog, "vector_add")
	if err != nil {
		return err
	}
	defer k.Release()

	size := uint64(4 * n)
	a, err := clmtl.NewBuffer(ctx, clmtl.MemReadOnly, size)
	if err != nil {
		return err
	}
	defer a.Release()
	b, err := clmtl.NewBuffer(ctx, clmtl.MemReadOnly, size)
	if err != nil {
		return err
	}
	defer b.Release()
	c, err := clmtl.NewBuffer(ctx, clmtl.MemWriteOnly, size)
	if err != nil {
		return err
	}
	defer c.Release()

	q, err := clmtl.NewCommandQueue(ctx)
	if err != nil {
		return err
	}
	defer q.Release()

	ha, hb := make([]byte, size), make([]byte, size)
	for i := range n {
		binary.LittleEndian.PutUint32(ha[4*i:], math.Float32bits(float32(i)))
		binary.LittleEndian.PutUint32(hb[4*i:], math.Float32bits(float32(2*i)))
	}
	if _, err := q.EnqueueWriteBuffer(a, false, 0, ha); err != nil {
		return err
	}
	if _, err := q.EnqueueWriteBuffer(b, false, 0, hb); err != nil {
		return err
	}

	for i, v := range []any{a, b, c, uint32(n)} {
		if err := k.SetArg(i, v); err != nil {
			return err
		}
	}
	// A module with a different signature leaves arguments unset, which
	// panics in EnqueueNDRange.
	if err := exceptions.TryCatch[error](func() {
		_, err = q.EnqueueNDRange(k, clmtl.Size{}, clmtl.Size{Width: n}, clmtl.Size{})
	}); err != nil {
		return err
	}
	if err != nil {
		return err
	}

	out := make([]byte, size)
	if _, err := q.EnqueueReadBuffer(c, true, 0, out); err != nil {
		return err
	}
	for i := range n {
		got := math.Float32frombits(binary.LittleEndian.Uint32(out[4*i:]))
		if got != float32(3*i) {
			return fmt.Errorf("c[%d] = %g, want %g", i, got, float32(3*i))
		}
	}
	return nil
}

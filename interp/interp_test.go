package interp_test

import (
	"context"
	"testing"

	"github.com/notargets/interp/comm"
	"github.com/notargets/interp/distvec"
	"github.com/notargets/interp/indexmap"
	"github.com/notargets/interp/interp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestScenarioS1 checks spec scenario S1: block size 1, single rank.
func TestScenarioS1(t *testing.T) {
	ctx := context.Background()
	c := comm.NewGroup(1).Rank(0)
	inMap, err := indexmap.New("s1", 0, 1, 3, 1)
	require.NoError(t, err)
	outMap, err := indexmap.New("s1", 0, 1, 2, 1)
	require.NoError(t, err)

	op, err := interp.New[float64](inMap, outMap, c)
	require.NoError(t, err)
	require.NoError(t, op.AddRow(0, []float64{1, 1}, []int{0, 1}, 2))
	require.NoError(t, op.AddRow(1, []float64{2}, []int{2}, 1))
	require.NoError(t, op.Finalize(ctx))

	x := distvec.New[float64](inMap)
	copy(x.Local(), []float64{4, 6, 10})
	y := distvec.New[float64](outMap)
	require.NoError(t, op.Apply(ctx, x, y))
	require.Equal(t, []float64{5, 10}, y.Local())
}

// TestScenarioS2 checks spec scenario S2: block size 3, single rank.
func TestScenarioS2(t *testing.T) {
	ctx := context.Background()
	c := comm.NewGroup(1).Rank(0)
	inMap, err := indexmap.New("s2", 0, 1, 2, 3)
	require.NoError(t, err)
	outMap, err := indexmap.New("s2", 0, 1, 1, 3)
	require.NoError(t, err)

	op, err := interp.New[float64](inMap, outMap, c)
	require.NoError(t, err)
	require.NoError(t, op.AddRow(0, []float64{3, 1}, []int{0, 1}, 2))
	require.NoError(t, op.Finalize(ctx))

	x := distvec.New[float64](inMap)
	copy(x.Local(), []float64{1, 2, 3, 4, 5, 6})
	y := distvec.New[float64](outMap)
	require.NoError(t, op.Apply(ctx, x, y))
	require.InDeltaSlice(t, []float64{1.75, 2.75, 3.75}, y.Local(), 1e-12)
}

// TestScenarioS3 checks spec scenario S3: duplicate column collapsing.
func TestScenarioS3(t *testing.T) {
	ctx := context.Background()
	c := comm.NewGroup(1).Rank(0)
	inMap, err := indexmap.New("s3", 0, 1, 6, 1)
	require.NoError(t, err)
	outMap, err := indexmap.New("s3", 0, 1, 1, 1)
	require.NoError(t, err)

	op, err := interp.New[float64](inMap, outMap, c)
	require.NoError(t, err)
	require.NoError(t, op.AddRow(0, []float64{1, 2}, []int{5, 5}, 2))
	require.NoError(t, op.Finalize(ctx))

	x := distvec.New[float64](inMap)
	x.Local()[5] = 10
	y := distvec.New[float64](outMap)
	require.NoError(t, op.Apply(ctx, x, y))
	require.Equal(t, []float64{10}, y.Local())
}

// TestScenarioS4 checks spec scenario S4: cross-rank routing across a
// 2-rank operator.
func TestScenarioS4(t *testing.T) {
	ctx := context.Background()
	group := comm.NewGroup(2)

	results := make([][]float64, 2)
	var eg errgroup.Group
	eg.Go(func() error { return runS4Rank(ctx, group.Rank(0), 0, results) })
	eg.Go(func() error { return runS4Rank(ctx, group.Rank(1), 1, results) })
	require.NoError(t, eg.Wait())

	require.Equal(t, []float64{20, 0}, results[0])
	require.Equal(t, []float64{0, 10}, results[1])
}

func runS4Rank(ctx context.Context, c comm.Communicator, rank int, results [][]float64) error {
	inMap, err := indexmap.New("s4", rank, 2, 4, 1)
	if err != nil {
		return err
	}
	outMap, err := indexmap.New("s4", rank, 2, 4, 1)
	if err != nil {
		return err
	}
	op, err := interp.New[float64](inMap, outMap, c)
	if err != nil {
		return err
	}

	switch rank {
	case 0:
		if err := op.AddRow(3, []float64{1}, []int{0}, 1); err != nil {
			return err
		}
	case 1:
		if err := op.AddRow(0, []float64{1}, []int{1}, 1); err != nil {
			return err
		}
	}
	if err := op.Finalize(ctx); err != nil {
		return err
	}

	x := distvec.New[float64](inMap)
	switch rank {
	case 0:
		copy(x.Local(), []float64{10, 20})
	case 1:
		copy(x.Local(), []float64{30, 40})
	}
	y := distvec.New[float64](outMap)
	if err := op.Apply(ctx, x, y); err != nil {
		return err
	}
	results[rank] = y.Local()
	return nil
}

// TestApplyTransposeMultiRank runs ApplyTranspose across a 2-rank
// operator where a local input index is simultaneously a diag column
// of one of this rank's own output rows and an extIdx entry another
// rank requests: rank 0's local input 0 backs its own diag row
// (outGlobal 0) and is also referenced by rank 1's offd row
// (outGlobal 2), so rank 0 must both write into that input's slot
// from its own diagonal transpose kernel and receive a scatter-add
// into the same slot from the reverse halo exchange. TestScenarioS4
// covers cross-rank routing in the forward direction.
func TestApplyTransposeMultiRank(t *testing.T) {
	ctx := context.Background()
	group := comm.NewGroup(2)

	results := make([][]float64, 2)
	var eg errgroup.Group
	eg.Go(func() error { return runTransposeRank(ctx, group.Rank(0), 0, results) })
	eg.Go(func() error { return runTransposeRank(ctx, group.Rank(1), 1, results) })
	require.NoError(t, eg.Wait())

	require.Equal(t, []float64{400, 0}, results[0])
	require.Equal(t, []float64{0, 0}, results[1])
}

func runTransposeRank(ctx context.Context, c comm.Communicator, rank int, results [][]float64) error {
	inMap, err := indexmap.New("tmr", rank, 2, 4, 1)
	if err != nil {
		return err
	}
	outMap, err := indexmap.New("tmr", rank, 2, 4, 1)
	if err != nil {
		return err
	}
	op, err := interp.New[float64](inMap, outMap, c)
	if err != nil {
		return err
	}

	switch rank {
	case 0:
		if err := op.AddRow(0, []float64{1}, []int{0}, 1); err != nil {
			return err
		}
	case 1:
		if err := op.AddRow(2, []float64{1}, []int{0}, 1); err != nil {
			return err
		}
	}
	if err := op.Finalize(ctx); err != nil {
		return err
	}

	x := distvec.New[float64](outMap)
	switch rank {
	case 0:
		copy(x.Local(), []float64{100, 200})
	case 1:
		copy(x.Local(), []float64{300, 400})
	}
	y := distvec.New[float64](inMap)
	if err := op.ApplyTranspose(ctx, x, y); err != nil {
		return err
	}
	results[rank] = y.Local()
	return nil
}

// TestScenarioS5Adjoint checks spec scenario S5: the adjoint identity
// on the S1 operator.
func TestScenarioS5Adjoint(t *testing.T) {
	ctx := context.Background()
	c := comm.NewGroup(1).Rank(0)
	inMap, err := indexmap.New("s5", 0, 1, 3, 1)
	require.NoError(t, err)
	outMap, err := indexmap.New("s5", 0, 1, 2, 1)
	require.NoError(t, err)

	op, err := interp.New[float64](inMap, outMap, c)
	require.NoError(t, err)
	require.NoError(t, op.AddRow(0, []float64{1, 1}, []int{0, 1}, 2))
	require.NoError(t, op.AddRow(1, []float64{2}, []int{2}, 1))
	require.NoError(t, op.Finalize(ctx))

	x := distvec.New[float64](inMap)
	copy(x.Local(), []float64{1, 2, 3})
	px := distvec.New[float64](outMap)
	require.NoError(t, op.Apply(ctx, x, px))

	ySeed := distvec.New[float64](outMap)
	copy(ySeed.Local(), []float64{7, 11})
	pty := distvec.New[float64](inMap)
	require.NoError(t, op.ApplyTranspose(ctx, ySeed, pty))

	lhs := distvec.DotReal(px, ySeed)
	rhs := distvec.DotReal(x, pty)
	require.InDelta(t, 43.5, lhs, 1e-12)
	require.InDelta(t, 43.5, rhs, 1e-12)
}

// TestScenarioS6PartitionOfUnity checks spec scenario S6: a positive,
// fully-covered operator reproduces the constant vector exactly.
func TestScenarioS6PartitionOfUnity(t *testing.T) {
	ctx := context.Background()
	c := comm.NewGroup(1).Rank(0)
	inMap, err := indexmap.New("s6", 0, 1, 3, 1)
	require.NoError(t, err)
	outMap, err := indexmap.New("s6", 0, 1, 2, 1)
	require.NoError(t, err)

	op, err := interp.New[float64](inMap, outMap, c)
	require.NoError(t, err)
	require.NoError(t, op.AddRow(0, []float64{1, 1}, []int{0, 1}, 2))
	require.NoError(t, op.AddRow(1, []float64{2}, []int{2}, 1))
	require.NoError(t, op.Finalize(ctx))

	x := distvec.New[float64](inMap)
	for i := range x.Local() {
		x.Local()[i] = 1
	}
	y := distvec.New[float64](outMap)
	require.NoError(t, op.Apply(ctx, x, y))
	require.Equal(t, []float64{1, 1}, y.Local())
}

func TestApplyBeforeFinalizeIsUsageError(t *testing.T) {
	c := comm.NewGroup(1).Rank(0)
	inMap, _ := indexmap.New("u1", 0, 1, 2, 1)
	outMap, _ := indexmap.New("u1", 0, 1, 2, 1)
	op, err := interp.New[float64](inMap, outMap, c)
	require.NoError(t, err)

	x := distvec.New[float64](inMap)
	y := distvec.New[float64](outMap)
	err = op.Apply(context.Background(), x, y)
	var ue *interp.UsageError
	require.ErrorAs(t, err, &ue)
}

func TestFinalizeTwiceIsUsageError(t *testing.T) {
	ctx := context.Background()
	c := comm.NewGroup(1).Rank(0)
	inMap, _ := indexmap.New("u2", 0, 1, 2, 1)
	outMap, _ := indexmap.New("u2", 0, 1, 2, 1)
	op, err := interp.New[float64](inMap, outMap, c)
	require.NoError(t, err)
	require.NoError(t, op.Finalize(ctx))

	err = op.Finalize(ctx)
	var ue *interp.UsageError
	require.ErrorAs(t, err, &ue)
}

func TestConfigurationErrorOnBlockSizeMismatch(t *testing.T) {
	c := comm.NewGroup(1).Rank(0)
	inMap, _ := indexmap.New("cfg", 0, 1, 4, 1)
	outMap, _ := indexmap.New("cfg", 0, 1, 4, 2)
	_, err := interp.New[float64](inMap, outMap, c)
	var ce *interp.ConfigurationError
	require.ErrorAs(t, err, &ce)
}

func TestConfigurationErrorOnCommMismatch(t *testing.T) {
	c := comm.NewGroup(1).Rank(0)
	inMap, _ := indexmap.New("cfg-a", 0, 1, 4, 1)
	outMap, _ := indexmap.New("cfg-b", 0, 1, 4, 1)
	_, err := interp.New[float64](inMap, outMap, c)
	var ce *interp.ConfigurationError
	require.ErrorAs(t, err, &ce)
}

// TestScenarioS1Complex128 re-runs S1 with S = complex128, exercising
// the wire codec's and the kernels' complex instantiation end to end
// (PackScalars/UnpackScalars only round-trip complex128 in isolation
// elsewhere; this drives it through AddRow/Finalize/Apply).
func TestScenarioS1Complex128(t *testing.T) {
	ctx := context.Background()
	c := comm.NewGroup(1).Rank(0)
	inMap, err := indexmap.New("s1c", 0, 1, 3, 1)
	require.NoError(t, err)
	outMap, err := indexmap.New("s1c", 0, 1, 2, 1)
	require.NoError(t, err)

	op, err := interp.New[complex128](inMap, outMap, c)
	require.NoError(t, err)
	require.NoError(t, op.AddRow(0, []complex128{1, 1}, []int{0, 1}, 2))
	require.NoError(t, op.AddRow(1, []complex128{2}, []int{2}, 1))
	require.NoError(t, op.Finalize(ctx))

	x := distvec.New[complex128](inMap)
	copy(x.Local(), []complex128{complex(4, 1), complex(6, -1), complex(10, 2)})
	y := distvec.New[complex128](outMap)
	require.NoError(t, op.Apply(ctx, x, y))
	require.Equal(t, []complex128{complex(5, 0), complex(10, 2)}, y.Local())
}

// TestI8RankIndependence checks I8: the same global row set, applied
// to the same global input, produces the same global output whether
// the operator is built over a comm.Group of size 1 or size 2.
//
// Global rows weight in_i and in_{(i+1) mod 4} equally, so after
// normalisation out_i = (in_i + in_{(i+1) mod 4}) / 2, block size 1,
// over a global input/output space of size 4. Row 3 wraps around to input 0,
// which forces a halo exchange in the P=2 case.
func TestI8RankIndependence(t *testing.T) {
	ctx := context.Background()
	globalX := []float64{10, 20, 30, 40}

	// P = 1: everything local to a single rank.
	single := func() []float64 {
		c := comm.NewGroup(1).Rank(0)
		inMap, err := indexmap.New("i8-p1", 0, 1, 4, 1)
		require.NoError(t, err)
		outMap, err := indexmap.New("i8-p1", 0, 1, 4, 1)
		require.NoError(t, err)

		op, err := interp.New[float64](inMap, outMap, c)
		require.NoError(t, err)
		for i := 0; i < 4; i++ {
			require.NoError(t, op.AddRow(i, []float64{1, 1}, []int{i, (i + 1) % 4}, 2))
		}
		require.NoError(t, op.Finalize(ctx))

		x := distvec.New[float64](inMap)
		copy(x.Local(), globalX)
		y := distvec.New[float64](outMap)
		require.NoError(t, op.Apply(ctx, x, y))
		return append([]float64(nil), y.Local()...)
	}()

	// P = 2: rows 0,1 owned by rank 0, rows 2,3 owned by rank 1; row 3
	// references input 0, owned by rank 0, forcing an offd/halo path.
	pair := func() []float64 {
		group := comm.NewGroup(2)
		out := make([][]float64, 2)
		var eg errgroup.Group
		for rank := 0; rank < 2; rank++ {
			rank := rank
			eg.Go(func() error {
				c := group.Rank(rank)
				inMap, err := indexmap.New("i8-p2", rank, 2, 4, 1)
				if err != nil {
					return err
				}
				outMap, err := indexmap.New("i8-p2", rank, 2, 4, 1)
				if err != nil {
					return err
				}
				op, err := interp.New[float64](inMap, outMap, c)
				if err != nil {
					return err
				}
				switch rank {
				case 0:
					err = op.AddRow(0, []float64{1, 1}, []int{0, 1}, 2)
					if err == nil {
						err = op.AddRow(1, []float64{1, 1}, []int{1, 2}, 2)
					}
				case 1:
					err = op.AddRow(2, []float64{1, 1}, []int{2, 3}, 2)
					if err == nil {
						err = op.AddRow(3, []float64{1, 1}, []int{3, 0}, 2)
					}
				}
				if err != nil {
					return err
				}
				if err := op.Finalize(ctx); err != nil {
					return err
				}
				x := distvec.New[float64](inMap)
				copy(x.Local(), globalX[inMap.OwnerBegin(rank):inMap.OwnerBegin(rank+1)])
				y := distvec.New[float64](outMap)
				if err := op.Apply(ctx, x, y); err != nil {
					return err
				}
				out[rank] = y.Local()
				return nil
			})
		}
		require.NoError(t, eg.Wait())
		return append(append([]float64(nil), out[0]...), out[1]...)
	}()

	require.Equal(t, single, pair)
	require.Equal(t, []float64{15, 25, 35, 25}, single)
}

// TestApplyAddAliasing checks the open-question decision that y===z
// is supported in ApplyAdd without an extra copy.
func TestApplyAddAliasing(t *testing.T) {
	ctx := context.Background()
	c := comm.NewGroup(1).Rank(0)
	inMap, _ := indexmap.New("alias", 0, 1, 3, 1)
	outMap, _ := indexmap.New("alias", 0, 1, 2, 1)
	op, err := interp.New[float64](inMap, outMap, c)
	require.NoError(t, err)
	require.NoError(t, op.AddRow(0, []float64{1, 1}, []int{0, 1}, 2))
	require.NoError(t, op.AddRow(1, []float64{2}, []int{2}, 1))
	require.NoError(t, op.Finalize(ctx))

	x := distvec.New[float64](inMap)
	copy(x.Local(), []float64{4, 6, 10})
	y := distvec.New[float64](outMap)
	copy(y.Local(), []float64{100, 200})

	require.NoError(t, op.ApplyAdd(ctx, x, y, y))
	require.Equal(t, []float64{105, 210}, y.Local())
}

package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	r := Ok(3)
	assert.False(t, r.IsErr())
	v, err := r.Unwrap()
	assert.Equal(t, 3, v)
	assert.NoError(t, err)

	boom := errors.New("boom")
	e := Err[int](boom)
	assert.True(t, e.IsErr())
	assert.ErrorIs(t, e.Cause(), boom)

	assert.False(t, FromPair(1, nil).IsErr())
	assert.True(t, FromPair(1, boom).IsErr())
}

func TestCollect(t *testing.T) {
	v, err := Collect([]Result[int]{Ok(1), Ok(2)}).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, v)

	boom := errors.New("boom")
	assert.ErrorIs(t, Collect([]Result[int]{Ok(1), Err[int](boom)}).Cause(), boom)
}

func TestThen_ShortCircuits(t *testing.T) {
	boom := errors.New("boom")
	called := false
	fail := Stage[int, int](func(context.Context, int) Result[int] { return Err[int](boom) })
	next := Stage[int, string](func(context.Context, int) Result[string] {
		called = true
		return Ok("unreachable")
	})

	r := Then(fail, next)(context.Background(), 1)
	assert.ErrorIs(t, r.Cause(), boom)
	assert.False(t, called)

	double := MapStage(func(i int) int { return i * 2 })
	str := MapStage(func(i int) string { return string(rune('a' + i)) })
	v, err := Then(double, str)(context.Background(), 1).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "c", v)
}

func TestNamed_PassesThrough(t *testing.T) {
	boom := errors.New("boom")
	ok := Named("double", nil, MapStage(func(i int) int { return i * 2 }))
	v, err := ok(context.Background(), 4).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 8, v)

	bad := Named("fail", nil, Stage[int, int](func(context.Context, int) Result[int] { return Err[int](boom) }))
	assert.ErrorIs(t, bad(context.Background(), 1).Cause(), boom)
}

func TestParMapResult_OrderAndBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out := ParMapResult(items, 3, func(i int) Result[int] {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return Ok(i * 10)
	})

	v, err := Collect(out).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80}, v)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Empty(t, ParMapResult([]int{}, 2, func(i int) Result[int] { return Ok(i) }))
}

func TestBatchAndFlatten(t *testing.T) {
	b := Batch([]int{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, b)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, Flatten(b))
	assert.Nil(t, Batch([]int{1}, 0))
	assert.Empty(t, Batch([]int{}, 3))
}

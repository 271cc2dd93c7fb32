package sgv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermarkOverflowShrinks(t *testing.T) {
	a := newTestAllocator(t, 8, 4, 3)
	src1 := newTestSource(4096)
	src2 := newTestSource(4096)
	p1 := newTestPool(t, a, "wmk-1", NoClustering, src1)
	p2 := newTestPool(t, a, "wmk-2", NoClustering, src2)

	// park 8 cached pages across the two pools
	_, _, o1, err := p1.Alloc(4*4096, 0, nil, nil)
	require.NoError(t, err)
	_, _, o2, err := p2.Alloc(4*4096, 0, nil, nil)
	require.NoError(t, err)
	p1.Free(o1, nil)
	p2.Free(o2, nil)
	require.EqualValues(t, 8, a.GlobalStats().PagesTotal)

	// a miss needing 4 fresh pages: admission shrinks by the overshoot
	// with a zero age filter and then commits
	src3 := newTestSource(4096)
	p3 := newTestPool(t, a, "wmk-3", NoClustering, src3)
	_, _, o3, err := p3.Alloc(4*4096, 0, nil, nil)
	require.NoError(t, err)

	g := a.GlobalStats()
	assert.EqualValues(t, 1, g.ReleasesOnHiWmk)
	assert.EqualValues(t, 0, g.ReleasesOnHiWmkFailed)
	assert.EqualValues(t, 8, g.PagesTotal)
	assert.Equal(t, 4, src1.freed())

	p3.Free(o3, nil)
}

func TestWatermarkRejectsWhenNothingToShrink(t *testing.T) {
	a := newTestAllocator(t, 8, 4, 4)
	src := newTestSource(4096)
	p := newTestPool(t, a, "wmk-reject", NoClustering, src)

	_, _, obj, err := p.Alloc(16*4096, 0, nil, nil)
	require.Error(t, err)
	assert.True(t, IsNoMemory(err))
	assert.Nil(t, obj)

	g := a.GlobalStats()
	assert.EqualValues(t, 1, g.ReleasesOnHiWmk)
	assert.EqualValues(t, 1, g.ReleasesOnHiWmkFailed)
	assert.EqualValues(t, 0, g.PagesTotal)
	assert.Equal(t, 0, src.allocs)
}

func TestShrinkRoundRobin(t *testing.T) {
	a := newTestAllocator(t, 1024, 0, 3)
	srcs := make([]*testPageSource, 3)
	pools := make([]*Pool, 3)
	for i, name := range []string{"rr-1", "rr-2", "rr-3"} {
		srcs[i] = newTestSource(4096)
		pools[i] = newTestPool(t, a, name, NoClustering, srcs[i])
		_, _, obj, err := pools[i].Alloc(2*4096, 0, nil, nil)
		require.NoError(t, err)
		pools[i].Free(obj, nil)
	}
	require.EqualValues(t, 6, a.GlobalStats().PagesTotal)

	// two pages at a time, zero age: each sweep should hit the next
	// pool in the ring
	left := a.shrink(2, 0)
	assert.Equal(t, 0, left)
	left = a.shrink(2, 0)
	assert.Equal(t, 0, left)

	freed := 0
	for _, src := range srcs {
		if src.freed() > 0 {
			freed++
		}
	}
	assert.Equal(t, 2, freed)
	assert.EqualValues(t, 2, a.GlobalStats().PagesTotal)
	assert.Equal(t, 1, a.GlobalStats().ActivePools)
}

func TestShrinkStopsAtLowWatermark(t *testing.T) {
	a := newTestAllocator(t, 1024, 4, 3)
	src := newTestSource(4096)
	p := newTestPool(t, a, "lo-stop", NoClustering, src)

	var objs []*PoolObj
	for i := 0; i < 4; i++ {
		_, _, obj, err := p.Alloc(2*4096, 0, nil, nil)
		require.NoError(t, err)
		objs = append(objs, obj)
	}
	for _, obj := range objs {
		p.Free(obj, nil)
	}
	require.EqualValues(t, 8, a.GlobalStats().PagesTotal)

	// asking for everything still stops at the low watermark
	a.shrink(100, 0)
	assert.EqualValues(t, 4, a.GlobalStats().PagesTotal)
}

func TestReclaimEstimate(t *testing.T) {
	a := newTestAllocator(t, 1024, 4, 3)
	src := newTestSource(4096)
	p := newTestPool(t, a, "estimate", NoClustering, src)

	assert.Equal(t, 0, a.ReclaimEstimate())

	var objs []*PoolObj
	for i := 0; i < 3; i++ {
		_, _, obj, err := p.Alloc(2*4096, 0, nil, nil)
		require.NoError(t, err)
		objs = append(objs, obj)
	}
	// lent-out pages are not reclaimable
	assert.Equal(t, 0, a.ReclaimEstimate())

	for _, obj := range objs {
		p.Free(obj, nil)
	}
	// 6 inactive pages over a low watermark of 4
	assert.Equal(t, 2, a.ReclaimEstimate())

	hook := a.ShrinkerFunc()
	assert.Equal(t, 2, hook(0, ShrinkModeCount))
}

func TestShrinkerHookReclaim(t *testing.T) {
	a := newTestAllocator(t, 1024, 0, 3)
	src := newTestSource(4096)
	p := newTestPool(t, a, "hook", NoClustering, src)

	_, _, obj, err := p.Alloc(4*4096, 0, nil, nil)
	require.NoError(t, err)
	p.Free(obj, nil)

	hook := a.ShrinkerFunc()

	// too young for the pressure-age filter
	assert.Equal(t, 0, hook(4, ShrinkModeReclaim))

	time.Sleep(ShrinkAge + 100*time.Millisecond)
	assert.Equal(t, 4, hook(4, ShrinkModeReclaim))
	assert.EqualValues(t, 0, a.GlobalStats().PagesTotal)
}

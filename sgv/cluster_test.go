package sgv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullClusteringMerge(t *testing.T) {
	a := newTestAllocator(t, 1024, 512, 8)
	src := newTestSource(4096, 100, 101, 200, 102)
	p := newTestPool(t, a, "cluster-full", FullClustering, src)

	sg, count, obj, err := p.Alloc(4*4096, 0, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, obj)

	assert.Equal(t, 2, count)
	assert.Equal(t, 2, obj.SGCount())
	assert.Equal(t, uint64(100), sg[0].Page.Frame)
	assert.EqualValues(t, 3*4096, sg[0].Length)
	assert.Equal(t, uint64(200), sg[1].Page.Frame)
	assert.EqualValues(t, 4096, sg[1].Length)

	st := p.Stats()
	assert.EqualValues(t, 2, st.Buckets[2].Merged)

	p.Free(obj, nil)
}

func TestFullClusteringHeadMerge(t *testing.T) {
	a := newTestAllocator(t, 1024, 512, 8)
	src := newTestSource(4096, 11, 10)
	p := newTestPool(t, a, "cluster-head", FullClustering, src)

	sg, count, obj, err := p.Alloc(2*4096, 0, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, count)
	assert.Equal(t, uint64(10), sg[0].Page.Frame)
	assert.EqualValues(t, 2*4096, sg[0].Length)

	p.Free(obj, nil)
}

// The produced sg_count must equal the number of maximal runs of
// contiguous pages.
func TestFullClusteringMaximalRuns(t *testing.T) {
	cases := []struct {
		name   string
		frames []uint64
		runs   int
	}{
		{"all contiguous", []uint64{10, 11, 12, 13}, 1},
		{"all disjoint", []uint64{10, 20, 30, 40}, 4},
		{"two runs", []uint64{10, 11, 50, 51}, 2},
		{"reverse order", []uint64{13, 12, 11, 10}, 1},
		{"merge past gap", []uint64{10, 11, 30, 12}, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAllocator(t, 1024, 512, 8)
			src := newTestSource(4096, tc.frames...)
			p := newTestPool(t, a, "cluster-"+tc.name, FullClustering, src)

			_, _, obj, err := p.Alloc(len(tc.frames)*4096, 0, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.runs, obj.SGCount())
			p.Free(obj, nil)
		})
	}
}

func TestTailClustering(t *testing.T) {
	// tail mode merges 11 after 10 but cannot merge 12 once 30 has been
	// placed after [10,11]
	a := newTestAllocator(t, 1024, 512, 8)
	src := newTestSource(4096, 10, 11, 30, 12)
	p := newTestPool(t, a, "cluster-tail", TailClustering, src)

	_, _, obj, err := p.Alloc(4*4096, 0, nil, nil)
	require.NoError(t, err)

	// [10,11] merged, [30] alone, [12] cannot reach [10,11] in tail mode
	assert.Equal(t, 3, obj.SGCount())
	p.Free(obj, nil)
}

func TestNoClustering(t *testing.T) {
	a := newTestAllocator(t, 1024, 512, 8)
	src := newTestSource(4096, 10, 11, 12, 13)
	p := newTestPool(t, a, "cluster-none", NoClustering, src)

	sg, count, obj, err := p.Alloc(4*4096, 0, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, count)
	assert.Equal(t, 4, obj.SGCount())
	for i := range sg {
		assert.EqualValues(t, 4096, sg[i].Length)
	}
	p.Free(obj, nil)
}

func TestTransTbl(t *testing.T) {
	a := newTestAllocator(t, 1024, 512, 8)
	src := newTestSource(4096, 10, 11, 50, 51, 90, 12)
	p := newTestPool(t, a, "trans-tbl", FullClustering, src)

	// 6 pages round up to the 8-page order-3 bucket; the scripted frames
	// end up as [10..12], [50..51], [90] and the two trailing source
	// frames form a fourth entry
	_, _, obj, err := p.Alloc(6*4096, 0, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 4, obj.SGCount())

	pages := obj.Pages()
	require.Equal(t, 8, pages)

	// SgNum is non-decreasing over the page index and stays in range
	prev := 0
	for i := 0; i < pages; i++ {
		sgNum := obj.transTbl[i].SgNum
		assert.GreaterOrEqual(t, sgNum, prev, "page %d", i)
		assert.GreaterOrEqual(t, sgNum, 1)
		assert.LessOrEqual(t, sgNum, obj.SGCount())
		prev = sgNum
	}

	// every page maps back to its entry's first logical page, and an
	// entry's own start page maps to itself
	start := 0
	for i := 0; i < obj.SGCount(); i++ {
		n := int((obj.sgEntries[i].Length + 4095) / 4096)
		assert.Equal(t, start, obj.transTbl[start].PgCount, "start page of entry %d", i)
		for j := 0; j < n; j++ {
			assert.Equal(t, start, obj.transTbl[start+j].PgCount, "page %d", start+j)
		}
		start += n
	}

	p.Free(obj, nil)
}

func TestClusteringPartialFailure(t *testing.T) {
	a := newTestAllocator(t, 1024, 512, 8)
	src := newTestSource(4096, 10, 11, 20, 21)
	src.failAt = 2
	p := newTestPool(t, a, "cluster-fail", FullClustering, src)

	_, _, obj, err := p.Alloc(4*4096, 0, nil, nil)
	assert.Nil(t, obj)
	require.Error(t, err)
	assert.True(t, IsNoMemory(err))

	// the partial SG list was released through the adapter
	assert.Equal(t, 2, src.freed())
	assert.EqualValues(t, 0, a.GlobalStats().PagesTotal)

	st := p.Stats()
	assert.Equal(t, 0, st.CachedEntries)
}

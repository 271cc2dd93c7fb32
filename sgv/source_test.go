package sgv

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected page source failure")

// testPageSource hands out scripted frame numbers, then monotonic ones,
// and counts what comes back.
type testPageSource struct {
	pageSize uint32

	mu         sync.Mutex
	frames     []uint64
	idx        int
	nextFrame  uint64
	failAt     int // fail on the n-th allocation, -1 never
	allocs     int
	freedPages int
}

func newTestSource(pageSize uint32, frames ...uint64) *testPageSource {
	return &testPageSource{
		pageSize:  pageSize,
		frames:    frames,
		nextFrame: 1 << 20,
		failAt:    -1,
	}
}

func (s *testPageSource) allocPage(sg *SGEntry, flags int, priv interface{}) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAt >= 0 && s.allocs >= s.failAt {
		return nil, errInjected
	}
	var frame uint64
	if s.idx < len(s.frames) {
		frame = s.frames[s.idx]
		s.idx++
	} else {
		frame = s.nextFrame
		s.nextFrame++
	}
	s.allocs++

	page := &Page{Frame: frame, Data: make([]byte, s.pageSize)}
	sg.Page = page
	sg.Offset = 0
	sg.Length = s.pageSize
	return page, nil
}

func (s *testPageSource) freePages(sg []SGEntry, sgCount int, priv interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < sgCount; i++ {
		if sg[i].Page == nil {
			continue
		}
		s.freedPages += int((sg[i].Length + s.pageSize - 1) / s.pageSize)
	}
}

func (s *testPageSource) fns() AllocFns {
	return AllocFns{AllocPage: s.allocPage, FreePages: s.freePages}
}

func (s *testPageSource) freed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freedPages
}

func newTestAllocator(t *testing.T, hi, lo, maxOrder int) *Allocator {
	t.Helper()
	a, err := NewAllocator(Config{
		PageSize:      4096,
		MaxOrder:      maxOrder,
		HiWatermark:   hi,
		LoWatermark:   lo,
		PurgeInterval: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)
	return a
}

func newTestPool(t *testing.T, a *Allocator, name string, ctype ClusteringType, src *testPageSource) *Pool {
	t.Helper()
	p, err := a.CreatePool(name, ctype, false, nil, 0)
	require.NoError(t, err)
	t.Cleanup(p.Destroy)
	require.NoError(t, p.SetAllocator(src.fns(), nil))
	return p
}

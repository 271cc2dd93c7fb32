package sgv

import (
	"sync"

	gxbytes "github.com/dubbogo/gost/bytes"
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/sgv-pool/logger"
)

// Page 一个页帧。Frame是物理帧号，相邻帧号的页物理相邻，可被聚簇合并。
type Page struct {
	Frame uint64
	Data  []byte
}

// SGEntry scatter-gather表项。聚簇合并后一个表项可覆盖多个连续页，
// Page指向表项的首页。
type SGEntry struct {
	Page   *Page
	Offset uint32
	Length uint32
}

// AllocPageFn 在给定SG表项处放置一个新页。
type AllocPageFn func(sg *SGEntry, flags int, priv interface{}) (*Page, error)

// FreePagesFn 释放sgCount个SG表项。每个表项按其首页帧号起始的
// 单页序列释放，因为聚簇后不再保留每个表项的分配阶。
type FreePagesFn func(sg []SGEntry, sgCount int, priv interface{})

// AllocFns 页源适配器：一对函数指针加一个不透明cookie。
type AllocFns struct {
	AllocPage AllocPageFn
	FreePages FreePagesFn
}

// systemPageSource 默认页源。页内存取自gxbytes的页大小缓冲池，
// 帧号单调递增，因此连续分配的页物理相邻。
type systemPageSource struct {
	pageSize uint32

	mu        sync.Mutex
	frames    map[uint64]*Page
	nextFrame uint64
}

func newSystemPageSource(pageSize uint32) *systemPageSource {
	return &systemPageSource{
		pageSize:  pageSize,
		frames:    make(map[uint64]*Page),
		nextFrame: 1,
	}
}

func (s *systemPageSource) allocPage(sg *SGEntry, flags int, priv interface{}) (*Page, error) {
	bufp := gxbytes.GetBytes(int(s.pageSize))

	s.mu.Lock()
	page := &Page{
		Frame: s.nextFrame,
		Data:  (*bufp)[:s.pageSize],
	}
	s.nextFrame++
	s.frames[page.Frame] = page
	s.mu.Unlock()

	sg.Page = page
	sg.Offset = 0
	sg.Length = s.pageSize
	return page, nil
}

func (s *systemPageSource) freePages(sg []SGEntry, sgCount int, priv interface{}) {
	for i := 0; i < sgCount; i++ {
		if sg[i].Page == nil {
			continue
		}
		pages := int((sg[i].Length + s.pageSize - 1) / s.pageSize)
		frame := sg[i].Page.Frame
		for j := 0; j < pages; j++ {
			s.releaseFrame(frame + uint64(j))
		}
	}
}

func (s *systemPageSource) releaseFrame(frame uint64) {
	s.mu.Lock()
	page, ok := s.frames[frame]
	if ok {
		delete(s.frames, frame)
	}
	s.mu.Unlock()

	if !ok {
		logger.Warnf("free of unknown frame %d", frame)
		return
	}
	buf := page.Data[:cap(page.Data)]
	gxbytes.PutBytes(&buf)
	page.Data = nil
}

// fns 返回指向本页源的适配器函数对。
func (s *systemPageSource) fns() AllocFns {
	return AllocFns{
		AllocPage: s.allocPage,
		FreePages: s.freePages,
	}
}

func checkAllocFns(fns AllocFns) error {
	if fns.AllocPage == nil || fns.FreePages == nil {
		return jerrors.Annotate(ErrInvalidArg, "page source needs both alloc and free")
	}
	return nil
}

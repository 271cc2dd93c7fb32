package sgv

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	gxsync "github.com/dubbogo/gost/sync"
	gxtime "github.com/dubbogo/gost/time"
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/sgv-pool/logger"
	"github.com/zhukovaskychina/sgv-pool/util"
)

const (
	// maxShrinkPagesPerPool bounds how much one pool gives up in a
	// single cross-pool shrink step.
	maxShrinkPagesPerPool = 32

	// ShrinkAge is the minimum object age the memory-pressure hook
	// uses when reclaiming.
	ShrinkAge = time.Second

	defaultPageSize      = 4096
	defaultMaxOrder      = 10
	defaultPurgeInterval = 60 * time.Second

	// maxPurgeInterval keeps purge delays inside the timer wheel's span.
	maxPurgeInterval = 10 * time.Minute

	maxWheelTimeSpan = 900e9 // wheel longest span is 15 minute
)

// Config 分配器初始化配置
type Config struct {
	PageSize      uint32
	MaxOrder      int // B，最大可缓存分配阶
	HiWatermark   int // 页数
	LoWatermark   int // 页数
	PurgeInterval time.Duration
}

// Allocator is the process-wide SGV allocator subsystem: the pools
// registry, the active-pools ring with its purge cursor, the watermark
// accountant and the shared purge machinery.
type Allocator struct {
	pageSize uint32
	maxOrder int
	hiWmk    int
	loWmk    int

	purgeInterval time.Duration

	pagesTotal            int64
	releasesOnHiWmk       uint64
	releasesOnHiWmkFailed uint64

	// regMu serialises pool create/destroy and name lookup.
	regMu sync.Mutex
	pools map[uint64]*Pool

	// ringMu protects the active-pools ring and the purge cursor.
	// ringMu may be held while taking a pool lock, never the reverse.
	ringMu     sync.Mutex
	activeRing *list.List // of *Pool
	cursor     *list.Element

	wheel    *gxtime.Wheel
	taskPool gxsync.GenericTaskPool

	sysSource *systemPageSource
}

// NewAllocator initialises the allocator subsystem.
func NewAllocator(cfg Config) (*Allocator, error) {
	const op = "sgv.NewAllocator"

	if cfg.PageSize == 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.PageSize&(cfg.PageSize-1) != 0 {
		return nil, NewError(op, jerrors.Annotatef(ErrInvalidArg, "page size %d", cfg.PageSize))
	}
	if cfg.MaxOrder <= 0 {
		cfg.MaxOrder = defaultMaxOrder
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = defaultPurgeInterval
	}
	if cfg.LoWatermark >= cfg.HiWatermark {
		return nil, NewError(op, jerrors.Annotatef(ErrInvalidArg,
			"lo watermark %d must be below hi watermark %d", cfg.LoWatermark, cfg.HiWatermark))
	}

	span := 100e6 // 100ms
	buckets := maxWheelTimeSpan / span

	a := &Allocator{
		pageSize:      cfg.PageSize,
		maxOrder:      cfg.MaxOrder,
		hiWmk:         cfg.HiWatermark,
		loWmk:         cfg.LoWatermark,
		purgeInterval: cfg.PurgeInterval,
		pools:         make(map[uint64]*Pool),
		activeRing:    list.New(),
		wheel:         gxtime.NewWheel(time.Duration(span), int(buckets)),
		taskPool:      gxsync.NewTaskPoolSimple(0),
		sysSource:     newSystemPageSource(cfg.PageSize),
	}
	logger.Infof("sgv allocator up: page size %d, max order %d, watermarks %d/%d",
		a.pageSize, a.maxOrder, a.loWmk, a.hiWmk)
	return a, nil
}

// Shutdown stops the shared purge machinery. All pools must have been
// destroyed first.
func (a *Allocator) Shutdown() {
	a.regMu.Lock()
	remaining := len(a.pools)
	a.regMu.Unlock()
	if remaining != 0 {
		logger.Warnf("sgv allocator shutdown with %d pools still registered", remaining)
	}
	a.taskPool.Close()
	a.wheel.Stop()
}

// PageSize returns the configured page size.
func (a *Allocator) PageSize() uint32 {
	return a.pageSize
}

// activate enrolls a pool into the active ring on its first cached entry.
func (a *Allocator) activate(p *Pool) {
	a.ringMu.Lock()
	p.mu.Lock()
	if !p.active && p.cachedEntries > 0 {
		p.activeElem = a.activeRing.PushBack(p)
		p.active = true
	}
	p.mu.Unlock()
	a.ringMu.Unlock()
}

// deactivate removes a pool whose cache just emptied, re-pointing the
// purge cursor at the next pool (or clearing it).
func (a *Allocator) deactivate(p *Pool) {
	a.ringMu.Lock()
	p.mu.Lock()
	if p.active && p.cachedEntries == 0 {
		if a.cursor == p.activeElem {
			a.cursor = p.activeElem.Next()
		}
		a.activeRing.Remove(p.activeElem)
		p.activeElem = nil
		p.active = false
	}
	p.mu.Unlock()
	a.ringMu.Unlock()
}

// hiWmkCheck admits a prospective allocation of pagesToAlloc pages. When
// the high watermark would be exceeded it first tries to shrink by the
// overshoot with a zero age filter; failure to free enough rejects the
// allocation.
func (a *Allocator) hiWmkCheck(pagesToAlloc int) error {
	pages := int(atomic.LoadInt64(&a.pagesTotal)) + pagesToAlloc
	if pages > a.hiWmk {
		atomic.AddUint64(&a.releasesOnHiWmk, 1)
		left := a.shrink(pages-a.hiWmk, 0)
		if left > 0 {
			atomic.AddUint64(&a.releasesOnHiWmkFailed, 1)
			return jerrors.Annotatef(ErrNoMemory,
				"hi watermark %d pages, %d still over after shrink", a.hiWmk, left)
		}
	}
	atomic.AddInt64(&a.pagesTotal, int64(pagesToAlloc))
	return nil
}

func (a *Allocator) hiWmkUncheck(pages int) {
	atomic.AddInt64(&a.pagesTotal, -int64(pages))
}

// shrink walks the active pools round-robin from the purge cursor,
// evicting objects older than minAge until nr pages are freed, the total
// drops to the low watermark, or a full cycle makes no progress. Returns
// the pages still outstanding.
func (a *Allocator) shrink(nr int, minAge time.Duration) int {
	now := util.GetCurrentTimeMillis()
	ageMillis := minAge.Milliseconds()

	idle := 0
	for nr > 0 {
		if atomic.LoadInt64(&a.pagesTotal) <= int64(a.loWmk) {
			break
		}

		a.ringMu.Lock()
		ringLen := a.activeRing.Len()
		if ringLen == 0 {
			a.ringMu.Unlock()
			break
		}
		e := a.cursor
		if e == nil {
			e = a.activeRing.Front()
		}
		p := e.Value.(*Pool)
		if next := e.Next(); next != nil {
			a.cursor = next
		} else {
			a.cursor = a.activeRing.Front()
		}
		p.get()
		a.ringMu.Unlock()

		freed := p.shrinkPool(nr, ageMillis, now)
		p.put()

		nr -= freed
		if freed == 0 {
			idle++
			if idle >= ringLen {
				break
			}
		} else {
			idle = 0
		}
	}
	if nr < 0 {
		nr = 0
	}
	return nr
}

// ShrinkMode 压力回调的方向
type ShrinkMode int

const (
	// ShrinkModeCount 仅询问可回收页数
	ShrinkModeCount ShrinkMode = iota
	// ShrinkModeReclaim 执行回收
	ShrinkModeReclaim
)

// Shrink reclaims up to nr pages across pools using the pressure-hook age
// filter. Returns the number of pages actually freed.
func (a *Allocator) Shrink(nr int) int {
	left := a.shrink(nr, ShrinkAge)
	return nr - left
}

// ReclaimEstimate reports how many inactive cached pages sit above the
// low watermark.
func (a *Allocator) ReclaimEstimate() int {
	inactive := 0
	a.regMu.Lock()
	for _, p := range a.pools {
		p.mu.Lock()
		inactive += p.inactiveCachedPages
		p.mu.Unlock()
	}
	a.regMu.Unlock()

	if est := inactive - a.loWmk; est > 0 {
		return est
	}
	return 0
}

// ShrinkerFunc returns the callback to register once per process with an
// external memory-pressure source.
func (a *Allocator) ShrinkerFunc() func(requestedPages int, mode ShrinkMode) int {
	return func(requestedPages int, mode ShrinkMode) int {
		if mode == ShrinkModeCount || requestedPages == 0 {
			return a.ReclaimEstimate()
		}
		return a.Shrink(requestedPages)
	}
}

package sgv

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/sgv-pool/logger"
	"github.com/zhukovaskychina/sgv-pool/util"
)

// Pool is a named collection of order-bucketed SG vector caches.
type Pool struct {
	name           string
	clusteringType ClusteringType
	shared         bool
	owner          interface{}

	alloc *Allocator

	allocFns  AllocFns
	allocPriv interface{}

	refCount int32

	// mu protects the free-lists, the LRU, the counters and the
	// purge scheduled flag.
	mu      sync.Mutex
	buckets []bucket
	lru     *list.List // of *PoolObj, tail is the most recently returned

	cachedEntries       int
	cachedPages         int
	inactiveCachedPages int

	// un-cacheable allocation stats
	bigAlloc uint64
	bigPages uint64

	active     bool
	activeElem *list.Element

	purgeInterval  time.Duration
	purgeScheduled bool
	purgeStopped   bool
	purgeStop      chan struct{}
	purgeWG        sync.WaitGroup

	maxLocalOrder int
	maxTransOrder int
	objCaches     []*sync.Pool
}

// CreatePool creates a new pool, or re-obtains a shared pool by name when
// the owner scope matches. purgeInterval zero selects the allocator
// default.
func (a *Allocator) CreatePool(name string, ctype ClusteringType, shared bool, owner interface{}, purgeInterval time.Duration) (*Pool, error) {
	const op = "sgv.CreatePool"

	if name == "" {
		return nil, NewError(op, jerrors.Annotate(ErrInvalidArg, "empty pool name"))
	}
	if purgeInterval <= 0 {
		purgeInterval = a.purgeInterval
	}
	if purgeInterval > maxPurgeInterval {
		logger.Warnf("pool %s purge interval %v capped to %v", name, purgeInterval, maxPurgeInterval)
		purgeInterval = maxPurgeInterval
	}

	key := util.HashString(name)

	a.regMu.Lock()
	defer a.regMu.Unlock()

	if existing, ok := a.pools[key]; ok && existing.name == name {
		if shared && existing.shared && existing.owner == owner {
			existing.get()
			return existing, nil
		}
		return nil, NewError(op, jerrors.Annotatef(ErrBusy, "pool %q", name))
	}

	clustered := ctype != NoClustering
	maxLocal, maxTrans := layoutOrders(clustered)

	p := &Pool{
		name:           name,
		clusteringType: ctype,
		shared:         shared,
		owner:          owner,
		alloc:          a,
		allocFns:       a.sysSource.fns(),
		refCount:       1,
		buckets:        make([]bucket, a.maxOrder+1),
		lru:            list.New(),
		purgeInterval:  purgeInterval,
		purgeStop:      make(chan struct{}),
		maxLocalOrder:  maxLocal,
		maxTransOrder:  maxTrans,
		objCaches:      make([]*sync.Pool, a.maxOrder+1),
	}
	for i := range p.buckets {
		p.buckets[i].freeList = list.New()
		p.objCaches[i] = newObjCache(i, maxLocal, maxTrans, clustered)
	}

	a.pools[key] = p
	logger.Debugf("created sgv pool %s, clustering %s, purge interval %v",
		name, ctype, purgeInterval)
	return p, nil
}

// SetAllocator installs a page-source override on the pool.
func (p *Pool) SetAllocator(fns AllocFns, priv interface{}) error {
	if err := checkAllocFns(fns); err != nil {
		return NewError("sgv.SetAllocator", err)
	}
	p.mu.Lock()
	p.allocFns = fns
	p.allocPriv = priv
	p.mu.Unlock()
	return nil
}

// Name returns the pool's name.
func (p *Pool) Name() string {
	return p.name
}

// Clustering returns the pool's clustering mode.
func (p *Pool) Clustering() ClusteringType {
	return p.clusteringType
}

func (p *Pool) get() {
	atomic.AddInt32(&p.refCount, 1)
}

func (p *Pool) put() {
	ref := atomic.AddInt32(&p.refCount, -1)
	if ref < 0 {
		panic("sgv: pool released more times than referenced")
	}
	if ref == 0 {
		p.destroy()
	}
}

// Destroy drops one reference. On the last reference the purge worker is
// cancelled synchronously, all cached objects are flushed and the pool is
// unlinked from the registry.
func (p *Pool) Destroy() {
	p.put()
}

func (p *Pool) destroy() {
	p.cancelPurgeSync()
	p.Flush()

	a := p.alloc
	key := util.HashString(p.name)
	a.regMu.Lock()
	if a.pools[key] == p {
		delete(a.pools, key)
	}
	a.regMu.Unlock()

	p.mu.Lock()
	p.objCaches = nil
	p.mu.Unlock()
	logger.Debugf("destroyed sgv pool %s", p.name)
}

// Flush evicts every cached object without destroying the pool.
func (p *Pool) Flush() {
	now := util.GetCurrentTimeMillis()
	for {
		p.mu.Lock()
		if p.lru.Len() == 0 {
			empty := p.active && p.cachedEntries == 0
			p.mu.Unlock()
			if empty {
				p.alloc.deactivate(p)
			}
			return
		}
		obj := p.lru.Front().Value.(*PoolObj)
		p.purgeFromCacheLocked(obj, 0, now)
		p.mu.Unlock()
		p.destroyObj(obj)
	}
}

// Preallocate warms one bucket with count cached objects.
func (p *Pool) Preallocate(count, order int) error {
	const op = "sgv.Preallocate"

	if order < 0 || order > p.alloc.maxOrder || count < 0 {
		return NewError(op, ErrInvalidArg)
	}
	pages := 1 << uint(order)
	for i := 0; i < count; i++ {
		obj := p.getObj(order, false, true)
		if obj.sgCount == 0 {
			if err := p.alloc.hiWmkCheck(pages); err != nil {
				p.dropEmptyObj(obj)
				return NewError(op, err)
			}
			if err := p.allocSGEntries(obj, pages, 0); err != nil {
				p.alloc.hiWmkUncheck(pages)
				p.dropEmptyObj(obj)
				return NewError(op, jerrors.Annotate(ErrNoMemory, err.Error()))
			}
		}
		p.putObj(obj)
	}
	return nil
}

// destroyObj releases a populated object: its SG entries go back through
// the page source and its pages leave the global accounting. No pool lock
// may be held here.
func (p *Pool) destroyObj(obj *PoolObj) {
	if obj.sgCount > 0 {
		p.allocFns.FreePages(obj.sgEntries, obj.sgCount, obj.allocPriv)
	}
	atomic.AddInt64(&p.alloc.pagesTotal, -int64(obj.Pages()))
	p.releaseObj(obj)
}

// dropEmptyObj un-accounts an obtained-but-never-populated cached object.
func (p *Pool) dropEmptyObj(obj *PoolObj) {
	pages := obj.Pages()
	p.mu.Lock()
	p.decCachedLocked(pages)
	empty := p.active && p.cachedEntries == 0
	p.mu.Unlock()
	if empty {
		p.alloc.deactivate(p)
	}
	p.releaseObj(obj)
}

// shrinkPool reclaims aged objects from this pool's LRU, stopping once nr
// pages or maxShrinkPagesPerPool pages have been freed in this sweep; the
// last object freed can carry the total past either bound. Returns the
// pages freed.
func (p *Pool) shrinkPool(nr int, ageMillis, nowMillis int64) int {
	freed := 0
	p.mu.Lock()
	for p.lru.Len() > 0 {
		if atomic.LoadInt64(&p.alloc.pagesTotal) <= int64(p.alloc.loWmk) {
			break
		}
		obj := p.lru.Front().Value.(*PoolObj)
		if !p.purgeFromCacheLocked(obj, ageMillis, nowMillis) {
			break
		}
		freed += obj.Pages()

		p.mu.Unlock()
		p.destroyObj(obj)
		p.mu.Lock()

		if freed >= nr || freed >= maxShrinkPagesPerPool {
			break
		}
	}
	empty := p.active && p.cachedEntries == 0
	p.mu.Unlock()
	if empty {
		p.alloc.deactivate(p)
	}
	return freed
}

package sgv

import (
	"container/list"

	"github.com/zhukovaskychina/sgv-pool/util"
)

// bucket 一个分配阶的缓存桶：空闲链加命中统计。
type bucket struct {
	freeList *list.List // of *PoolObj，头部优先取出

	hitAlloc   uint64
	totalAlloc uint64
	merged     uint64
}

// getObj obtains an object of the given order from the bucket cache.
// A free-listed object comes back with its pages (a full cache hit).
// Otherwise, unless tryOnly is set, the entry is accounted, the pool is
// enrolled into the active registry on its first entry, and a fresh empty
// object comes from the bucket's object allocator. getNew skips the free
// list; it is used for buffer preallocation only.
func (p *Pool) getObj(order int, tryOnly, getNew bool) *PoolObj {
	pages := 1 << uint(order)

	p.mu.Lock()
	b := &p.buckets[order]
	if !getNew && b.freeList.Len() > 0 {
		e := b.freeList.Front()
		obj := e.Value.(*PoolObj)
		b.freeList.Remove(e)
		p.lru.Remove(obj.lruElem)
		obj.bucketElem = nil
		obj.lruElem = nil
		p.inactiveCachedPages -= pages
		p.mu.Unlock()
		return obj
	}
	if tryOnly {
		p.mu.Unlock()
		return nil
	}
	first := p.cachedEntries == 0
	p.cachedEntries++
	p.cachedPages += pages
	p.mu.Unlock()

	if first {
		p.alloc.activate(p)
	}

	obj := p.objCaches[order].Get().(*PoolObj)
	p.initObj(obj, order)
	return obj
}

// putObj returns a cached object to its bucket and the LRU tail. For
// clustered pools the bucket list stays ordered by ascending sg_count so
// better-clustered objects are handed out first; ties keep LIFO order.
// The purge worker is armed if it is not already scheduled.
func (p *Pool) putObj(obj *PoolObj) {
	pages := obj.Pages()

	p.mu.Lock()
	obj.timestamp = util.GetCurrentTimeMillis()

	b := &p.buckets[obj.orderOrPages]
	if p.clusteringType == NoClustering {
		obj.bucketElem = b.freeList.PushFront(obj)
	} else {
		var at *list.Element
		for e := b.freeList.Front(); e != nil; e = e.Next() {
			if e.Value.(*PoolObj).sgCount >= obj.sgCount {
				at = e
				break
			}
		}
		if at != nil {
			obj.bucketElem = b.freeList.InsertBefore(obj, at)
		} else {
			obj.bucketElem = b.freeList.PushBack(obj)
		}
	}
	obj.lruElem = p.lru.PushBack(obj)
	p.inactiveCachedPages += pages

	if !p.purgeScheduled && !p.purgeStopped {
		p.purgeScheduled = true
		p.schedulePurgeLocked(p.purgeInterval)
	}
	p.mu.Unlock()
}

// purgeFromCacheLocked unlinks obj from the cache if it has aged past
// minAge. Caller holds the pool lock. Returns false when the object is
// still too young.
func (p *Pool) purgeFromCacheLocked(obj *PoolObj, minAgeMillis, nowMillis int64) bool {
	if nowMillis < obj.timestamp+minAgeMillis {
		return false
	}
	pages := obj.Pages()

	b := &p.buckets[obj.orderOrPages]
	b.freeList.Remove(obj.bucketElem)
	p.lru.Remove(obj.lruElem)
	obj.bucketElem = nil
	obj.lruElem = nil

	p.inactiveCachedPages -= pages
	p.decCachedLocked(pages)
	return true
}

// decCachedLocked drops one entry from the cache accounting. Caller holds
// the pool lock; when the count reaches zero the caller must follow up
// with Allocator.deactivate once the lock is released.
func (p *Pool) decCachedLocked(pages int) {
	p.cachedEntries--
	p.cachedPages -= pages
}

// releaseObj resets a cached-order object and hands it back to its
// bucket's object allocator.
func (p *Pool) releaseObj(obj *PoolObj) {
	order := obj.orderOrPages
	obj.reset()
	if order >= 0 {
		p.objCaches[order].Put(obj)
	}
}

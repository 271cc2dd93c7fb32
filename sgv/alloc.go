package sgv

import (
	"math/bits"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/sgv-pool/logger"
)

// AllocFlags 分配行为标志
type AllocFlags uint32

const (
	// AllocNoCached 强制大对象路径，不进缓存
	AllocNoCached AllocFlags = 1 << iota
	// AllocNoAllocOnCacheMiss 缓存未命中时不向页源申请
	AllocNoAllocOnCacheMiss
	// AllocReturnObjOnAllocFail 分配失败时仍返回空对象供重试
	AllocReturnObjOnAllocFail
)

// orderOf returns the smallest order whose bucket covers the page count.
func orderOf(pages int) int {
	if pages <= 1 {
		return 0
	}
	return bits.Len(uint(pages - 1))
}

// Alloc hands out an SG list backed by pages totalling at least size
// bytes. When size is not a page multiple, the last reported entry is
// shortened by the unused part of size's last page. Unclustered lists then
// sum to size exactly; for a clustered object whose last reported entry
// runs past the requested pages, the lengths sum to more than size. The
// regimes:
//
//  1. supplied != nil: the caller retries with an empty object obtained
//     from an earlier failed allocation; its pages are re-filled under
//     the same order and pool.
//  2. order within the bucket range and AllocNoCached unset: the bucket
//     cache serves the object, populating it on a miss.
//  3. otherwise a stand-alone un-cacheable object is built per call.
//
// On success it returns the reported SG entries, their count and the
// object handle for Free.
func (p *Pool) Alloc(size int, flags AllocFlags, supplied *PoolObj, lim MemLim) ([]SGEntry, int, *PoolObj, error) {
	const op = "sgv.Alloc"

	if size <= 0 {
		return nil, 0, nil, NewError(op, jerrors.Annotatef(ErrInvalidArg, "size %d", size))
	}
	if supplied != nil {
		if flags&AllocNoCached != 0 {
			return nil, 0, nil, NewError(op, jerrors.Annotate(ErrInvalidArg,
				"supplied object cannot combine with no-cached"))
		}
		if supplied.owner != p || supplied.orderOrPages < 0 || supplied.sgCount != 0 {
			return nil, 0, nil, NewError(op, jerrors.Annotate(ErrInvalidArg,
				"supplied object does not match pool"))
		}
	}

	pageSize := int(p.alloc.pageSize)
	pages := (size + pageSize - 1) / pageSize
	order := orderOf(pages)
	cacheable := order <= p.alloc.maxOrder && flags&AllocNoCached == 0

	var (
		obj          *PoolObj
		pagesToAlloc int
		hit          bool
	)

	switch {
	case supplied != nil:
		obj = supplied
		pagesToAlloc = obj.Pages()
		if pages > pagesToAlloc {
			return nil, 0, nil, NewError(op, jerrors.Annotatef(ErrInvalidArg,
				"size %d exceeds supplied object of %d pages", size, pagesToAlloc))
		}
		if lim != nil {
			if err := lim.Add(pagesToAlloc); err != nil {
				return nil, 0, nil, NewError(op, err)
			}
		}

	case cacheable:
		pagesToAlloc = 1 << uint(order)
		if lim != nil {
			if err := lim.Add(pagesToAlloc); err != nil {
				return nil, 0, nil, NewError(op, err)
			}
		}
		tryOnly := flags&AllocNoAllocOnCacheMiss != 0 &&
			flags&AllocReturnObjOnAllocFail == 0
		obj = p.getObj(order, tryOnly, false)
		if obj == nil {
			// miss with no-alloc: nothing to hand out
			if lim != nil {
				lim.Sub(pagesToAlloc)
			}
			return nil, 0, nil, NewError(op, ErrNoMemory)
		}
		if obj.sgCount != 0 {
			hit = true
		} else if flags&AllocNoAllocOnCacheMiss != 0 {
			// miss; keep the empty object around for a retry
			if lim != nil {
				lim.Sub(pagesToAlloc)
			}
			return nil, 0, obj, NewError(op, ErrNoMemory)
		}

	default:
		pagesToAlloc = pages
		if lim != nil {
			if err := lim.Add(pagesToAlloc); err != nil {
				return nil, 0, nil, NewError(op, err)
			}
		}
		obj = &PoolObj{
			owner:        p,
			orderOrPages: -pages,
			allocPriv:    p.allocPriv,
			sgEntries:    make([]SGEntry, pages),
		}
	}

	if !hit {
		if err := p.alloc.hiWmkCheck(pagesToAlloc); err != nil {
			return p.allocFailed(op, obj, flags, lim, pagesToAlloc, err)
		}
		if err := p.allocSGEntries(obj, pagesToAlloc, int(flags)); err != nil {
			p.alloc.hiWmkUncheck(pagesToAlloc)
			logger.Debugf("sgv pool %s: page source failed for %d pages: %v",
				p.name, pagesToAlloc, err)
			return p.allocFailed(op, obj, flags, lim, pagesToAlloc,
				jerrors.Annotate(ErrNoMemory, err.Error()))
		}
	}

	sg := obj.sgEntries
	var count int
	if obj.orderOrPages >= 0 {
		if p.clusteringType != NoClustering && obj.transTbl != nil {
			count = obj.transTbl[pages-1].SgNum
		} else {
			count = pages
		}
	} else {
		count = obj.sgCount
	}

	obj.origSG = count - 1
	obj.origLength = sg[count-1].Length
	if rem := uint32(size % pageSize); rem != 0 {
		sg[count-1].Length -= p.alloc.pageSize - rem
	}

	p.mu.Lock()
	if obj.orderOrPages >= 0 {
		b := &p.buckets[obj.orderOrPages]
		b.totalAlloc++
		if hit {
			b.hitAlloc++
		}
		b.merged += uint64(pagesToAlloc - obj.sgCount)
	} else {
		p.bigAlloc++
		p.bigPages += uint64(pagesToAlloc)
	}
	p.mu.Unlock()

	return sg[:count], count, obj, nil
}

// allocFailed rolls back a failed allocation: quota is released and the
// object is either retained empty for the caller's retry or dropped.
func (p *Pool) allocFailed(op string, obj *PoolObj, flags AllocFlags, lim MemLim, pagesToAlloc int, cause error) ([]SGEntry, int, *PoolObj, error) {
	if lim != nil {
		lim.Sub(pagesToAlloc)
	}
	if obj.orderOrPages >= 0 {
		if flags&AllocReturnObjOnAllocFail != 0 {
			return nil, 0, obj, NewError(op, cause)
		}
		p.dropEmptyObj(obj)
	}
	return nil, 0, nil, NewError(op, cause)
}

// Free returns an allocation. Cached objects get their trimmed tail
// restored and go back into their bucket; un-cacheable ones are released
// straight through the page source. The caller's quota is released by the
// object's page count.
func (p *Pool) Free(obj *PoolObj, lim MemLim) {
	if obj == nil {
		return
	}
	if obj.owner != p {
		logger.Errorf("sgv pool %s: free of an object this pool does not own", p.name)
		return
	}

	limPages := obj.Pages()
	if obj.orderOrPages >= 0 {
		if obj.sgCount == 0 {
			limPages = 0
			p.dropEmptyObj(obj)
		} else {
			obj.sgEntries[obj.origSG].Length = obj.origLength
			p.putObj(obj)
		}
	} else {
		obj.sgEntries[obj.origSG].Length = obj.origLength
		p.destroyObj(obj)
	}

	if lim != nil && limPages != 0 {
		lim.Sub(limPages)
	}
}

package sgv

import (
	"container/list"
	"sync"
	"unsafe"
)

// TransTblEnt is one slot of the translation table, indexed by logical
// page. It maps a page position to the SG entry containing it and to
// where that entry starts, so a byte offset resolves without arithmetic
// over variable-length entries.
type TransTblEnt struct {
	// SgNum is the 1-based index of the SG entry containing this page.
	SgNum int
	// PgCount is the logical index of the first page of the SG entry
	// containing this page.
	PgCount int
}

// PoolObj is one cached SG vector.
type PoolObj struct {
	owner *Pool

	// orderOrPages: >= 0 encodes the bucket order of a cached object,
	// < 0 encodes an un-cacheable allocation as -pages.
	orderOrPages int

	// sgCount is the number of SG entries after clustering.
	sgCount   int
	sgEntries []SGEntry
	transTbl  []TransTblEnt

	// timestamp of the most recent return to the cache, in millis.
	timestamp int64

	allocPriv interface{}

	// origSG/origLength remember the last reported SG entry and its
	// length as produced, so the per-call tail trim can be reverted.
	origSG     int
	origLength uint32

	bucketElem *list.Element
	lruElem    *list.Element
}

// Pages returns the page count backing this object.
func (o *PoolObj) Pages() int {
	if o.orderOrPages < 0 {
		return -o.orderOrPages
	}
	return 1 << uint(o.orderOrPages)
}

// Order returns the bucket order; valid only for cached objects.
func (o *PoolObj) Order() int {
	return o.orderOrPages
}

// SGCount returns the number of SG entries the object currently holds.
func (o *PoolObj) SGCount() int {
	return o.sgCount
}

// Owner returns the pool the object belongs to. Non-owning back-reference.
func (o *PoolObj) Owner() *Pool {
	return o.owner
}

func (o *PoolObj) reset() {
	o.owner = nil
	o.orderOrPages = 0
	o.sgCount = 0
	o.allocPriv = nil
	o.timestamp = 0
	o.origSG = 0
	o.origLength = 0
	o.bucketElem = nil
	o.lruElem = nil
	for i := range o.sgEntries {
		o.sgEntries[i] = SGEntry{}
	}
	for i := range o.transTbl {
		o.transTbl[i] = TransTblEnt{}
	}
}

const (
	objHdrSize   = int(unsafe.Sizeof(PoolObj{}))
	sgEntrySize  = int(unsafe.Sizeof(SGEntry{}))
	transEntSize = int(unsafe.Sizeof(TransTblEnt{}))

	// embeddedBudget caps the footprint of a PoolObj plus embedded
	// sg entries and translation table in one allocator block.
	embeddedBudget = 4096
)

// layoutOrders derives max_local_order and max_trans_order from the
// embedded-block budget. Up to and including maxLocal both the SG list and
// (for clustered pools) the translation table live in the object's own
// allocation; up to and including maxTrans only the table does.
func layoutOrders(clustered bool) (maxLocal, maxTrans int) {
	maxLocal, maxTrans = -1, -1
	for k := 0; ; k++ {
		n := 1 << uint(k)
		local := objHdrSize + n*sgEntrySize
		if clustered {
			local += n * transEntSize
		}
		trans := objHdrSize + n*transEntSize
		if local <= embeddedBudget {
			maxLocal = k
		}
		if trans <= embeddedBudget {
			maxTrans = k
		} else {
			break
		}
	}
	return maxLocal, maxTrans
}

// newObjCache builds the per-bucket object allocator. Objects for orders
// within the embedded thresholds come out with their slices preallocated;
// larger orders get them on demand in initObj.
func newObjCache(order, maxLocal, maxTrans int, clustered bool) *sync.Pool {
	pages := 1 << uint(order)
	return &sync.Pool{
		New: func() interface{} {
			obj := &PoolObj{}
			if order <= maxLocal {
				obj.sgEntries = make([]SGEntry, pages)
				if clustered {
					obj.transTbl = make([]TransTblEnt, pages)
				}
			} else if clustered && order <= maxTrans {
				obj.transTbl = make([]TransTblEnt, pages)
			}
			return obj
		},
	}
}

// initObj prepares a fresh empty object for the given bucket.
func (p *Pool) initObj(obj *PoolObj, order int) {
	pages := 1 << uint(order)
	obj.owner = p
	obj.orderOrPages = order
	obj.sgCount = 0
	obj.allocPriv = p.allocPriv
	if len(obj.sgEntries) < pages {
		obj.sgEntries = make([]SGEntry, pages)
	}
	if p.clusteringType != NoClustering && len(obj.transTbl) < pages {
		obj.transTbl = make([]TransTblEnt, pages)
	}
}

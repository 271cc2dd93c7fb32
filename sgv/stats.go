package sgv

import (
	"sync/atomic"
)

// BucketStats 单个分配阶桶的命中统计
type BucketStats struct {
	HitAlloc   uint64
	TotalAlloc uint64
	Merged     uint64
}

// PoolStats 池级统计快照
type PoolStats struct {
	Name                string
	Clustering          ClusteringType
	CachedEntries       int
	CachedPages         int
	InactiveCachedPages int
	BigAlloc            uint64
	BigPages            uint64
	Buckets             []BucketStats
}

// GlobalStats 全局统计快照
type GlobalStats struct {
	PagesTotal            int64
	HiWatermark           int
	LoWatermark           int
	ActivePools           int
	ReleasesOnHiWmk       uint64
	ReleasesOnHiWmkFailed uint64
}

// Stats snapshots the pool's counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := PoolStats{
		Name:                p.name,
		Clustering:          p.clusteringType,
		CachedEntries:       p.cachedEntries,
		CachedPages:         p.cachedPages,
		InactiveCachedPages: p.inactiveCachedPages,
		BigAlloc:            p.bigAlloc,
		BigPages:            p.bigPages,
		Buckets:             make([]BucketStats, len(p.buckets)),
	}
	for i := range p.buckets {
		st.Buckets[i] = BucketStats{
			HitAlloc:   p.buckets[i].hitAlloc,
			TotalAlloc: p.buckets[i].totalAlloc,
			Merged:     p.buckets[i].merged,
		}
	}
	return st
}

// GlobalStats snapshots the accountant's counters.
func (a *Allocator) GlobalStats() GlobalStats {
	a.ringMu.Lock()
	active := a.activeRing.Len()
	a.ringMu.Unlock()

	return GlobalStats{
		PagesTotal:            atomic.LoadInt64(&a.pagesTotal),
		HiWatermark:           a.hiWmk,
		LoWatermark:           a.loWmk,
		ActivePools:           active,
		ReleasesOnHiWmk:       atomic.LoadUint64(&a.releasesOnHiWmk),
		ReleasesOnHiWmkFailed: atomic.LoadUint64(&a.releasesOnHiWmkFailed),
	}
}

// PoolStatsAll snapshots every registered pool.
func (a *Allocator) PoolStatsAll() []PoolStats {
	a.regMu.Lock()
	pools := make([]*Pool, 0, len(a.pools))
	for _, p := range a.pools {
		pools = append(pools, p)
	}
	a.regMu.Unlock()

	out := make([]PoolStats, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Stats())
	}
	return out
}

// LookupPool finds a registered pool by name.
func (a *Allocator) LookupPool(name string) *Pool {
	a.regMu.Lock()
	defer a.regMu.Unlock()
	for _, p := range a.pools {
		if p.name == name {
			return p
		}
	}
	return nil
}

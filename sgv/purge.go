package sgv

import (
	"time"

	"github.com/zhukovaskychina/sgv-pool/util"
)

// schedulePurgeLocked arms the pool's delayed purge task. Caller holds the
// pool lock and has set purgeScheduled. The delay comes off the shared
// timer wheel; the body runs on the allocator task pool.
func (p *Pool) schedulePurgeLocked(delay time.Duration) {
	p.purgeWG.Add(1)
	go func() {
		defer p.purgeWG.Done()
		select {
		case <-p.alloc.wheel.After(delay):
		case <-p.purgeStop:
			return
		}

		done := make(chan struct{})
		p.alloc.taskPool.AddTaskAlways(func() {
			defer close(done)
			p.purgeWorkFn()
		})
		<-done
	}()
}

// purgeWorkFn reclaims aged entries from the LRU head. If it stops on an
// object that is still too young it reschedules itself for a full purge
// interval; otherwise the next put rearms the worker.
func (p *Pool) purgeWorkFn() {
	now := util.GetCurrentTimeMillis()
	ageMillis := p.purgeInterval.Milliseconds()

	p.mu.Lock()
	p.purgeScheduled = false
	for p.lru.Len() > 0 {
		obj := p.lru.Front().Value.(*PoolObj)
		if p.purgeFromCacheLocked(obj, ageMillis, now) {
			p.mu.Unlock()
			p.destroyObj(obj)
			p.mu.Lock()
			continue
		}
		if !p.purgeStopped {
			p.purgeScheduled = true
			p.schedulePurgeLocked(p.purgeInterval)
		}
		break
	}
	empty := p.active && p.cachedEntries == 0
	p.mu.Unlock()
	if empty {
		p.alloc.deactivate(p)
	}
}

// cancelPurgeSync cancels the purge worker and waits for any in-flight
// execution to finish. Used on the destroy path.
func (p *Pool) cancelPurgeSync() {
	p.mu.Lock()
	p.purgeStopped = true
	p.purgeScheduled = false
	p.mu.Unlock()
	close(p.purgeStop)
	p.purgeWG.Wait()
}

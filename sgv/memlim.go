package sgv

import (
	"sync/atomic"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/sgv-pool/logger"
)

// MemLim is the per-caller memory-limit cookie. The core calls Add before
// committing an allocation and Sub on release; Add failure aborts the
// allocation before any pool state is touched.
type MemLim interface {
	Add(pages int) error
	Sub(pages int)
}

// MemLimit 按页计数的调用方配额
type MemLimit struct {
	allocedPages    int64
	maxAllowedPages int64
}

// NewMemLimit builds a quota cookie; maxPages <= 0 means unlimited.
func NewMemLimit(maxPages int) *MemLimit {
	return &MemLimit{maxAllowedPages: int64(maxPages)}
}

func (m *MemLimit) Add(pages int) error {
	cur := atomic.AddInt64(&m.allocedPages, int64(pages))
	if m.maxAllowedPages > 0 && cur > m.maxAllowedPages {
		atomic.AddInt64(&m.allocedPages, -int64(pages))
		return jerrors.Annotatef(ErrNoMemory, "mem limit %d pages", m.maxAllowedPages)
	}
	return nil
}

func (m *MemLimit) Sub(pages int) {
	if cur := atomic.AddInt64(&m.allocedPages, -int64(pages)); cur < 0 {
		logger.Warnf("mem limit went negative: %d", cur)
		atomic.AddInt64(&m.allocedPages, int64(pages))
	}
}

// AllocedPages reports the pages currently charged to this cookie.
func (m *MemLimit) AllocedPages() int64 {
	return atomic.LoadInt64(&m.allocedPages)
}

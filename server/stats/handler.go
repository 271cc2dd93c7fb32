package stats

import (
	"fmt"
	"strings"
	"time"

	getty "github.com/AlexStocks/getty/transport"
	log "github.com/AlexStocks/log4go"
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/sgv-pool/sgv"
)

var errUnknownPkg = jerrors.New("unknown package type")

const writePkgTimeout = 5 * time.Second

// StatsMessageHandler answers the read-only statistics protocol over the
// counters the allocator core maintains.
type StatsMessageHandler struct {
	alloc *sgv.Allocator
}

func NewStatsMessageHandler(alloc *sgv.Allocator) *StatsMessageHandler {
	return &StatsMessageHandler{alloc: alloc}
}

func (h *StatsMessageHandler) OnOpen(ss getty.Session) error {
	log.Info("stats session open: %s", ss.Stat())
	return nil
}

func (h *StatsMessageHandler) OnError(ss getty.Session, err error) {
	log.Warn("stats session %s error: %v", ss.Stat(), err)
}

func (h *StatsMessageHandler) OnClose(ss getty.Session) {
	log.Info("stats session close: %s", ss.Stat())
}

func (h *StatsMessageHandler) OnCron(ss getty.Session) {
}

func (h *StatsMessageHandler) OnMessage(ss getty.Session, pkg interface{}) {
	line, ok := pkg.(string)
	if !ok {
		log.Warn("stats session %s: bad package %T", ss.Stat(), pkg)
		return
	}

	fields := strings.Fields(line)
	var reply string
	if len(fields) == 0 {
		reply = "ERR empty command\n"
	} else {
		switch strings.ToUpper(fields[0]) {
		case "GLOBAL":
			reply = h.renderGlobal()
		case "POOLS":
			reply = h.renderPools()
		case "STATS":
			reply = h.renderGlobal() + h.renderPools()
		case "FLUSH":
			reply = h.flushPool(fields[1:])
		case "QUIT":
			ss.Close()
			return
		default:
			reply = fmt.Sprintf("ERR unknown command %q\n", fields[0])
		}
	}

	if err := ss.WritePkg(reply, writePkgTimeout); err != nil {
		log.Warn("stats session %s: write failed: %v", ss.Stat(), err)
	}
}

func (h *StatsMessageHandler) renderGlobal() string {
	g := h.alloc.GlobalStats()
	var sb strings.Builder
	sb.WriteString("# global\n")
	fmt.Fprintf(&sb, "pages_total %d\n", g.PagesTotal)
	fmt.Fprintf(&sb, "hi_watermark %d\n", g.HiWatermark)
	fmt.Fprintf(&sb, "lo_watermark %d\n", g.LoWatermark)
	fmt.Fprintf(&sb, "active_pools %d\n", g.ActivePools)
	fmt.Fprintf(&sb, "releases_on_hi_wmk %d\n", g.ReleasesOnHiWmk)
	fmt.Fprintf(&sb, "releases_on_hi_wmk_failed %d\n", g.ReleasesOnHiWmkFailed)
	return sb.String()
}

func (h *StatsMessageHandler) renderPools() string {
	var sb strings.Builder
	for _, st := range h.alloc.PoolStatsAll() {
		fmt.Fprintf(&sb, "# pool %s clustering=%s\n", st.Name, st.Clustering)
		fmt.Fprintf(&sb, "cached_entries %d\n", st.CachedEntries)
		fmt.Fprintf(&sb, "cached_pages %d\n", st.CachedPages)
		fmt.Fprintf(&sb, "inactive_cached_pages %d\n", st.InactiveCachedPages)
		fmt.Fprintf(&sb, "big_alloc %d\n", st.BigAlloc)
		fmt.Fprintf(&sb, "big_pages %d\n", st.BigPages)
		for order, b := range st.Buckets {
			if b.TotalAlloc == 0 {
				continue
			}
			fmt.Fprintf(&sb, "order_%d hit=%d total=%d merged=%d\n",
				order, b.HitAlloc, b.TotalAlloc, b.Merged)
		}
	}
	return sb.String()
}

func (h *StatsMessageHandler) flushPool(args []string) string {
	if len(args) != 1 {
		return "ERR usage: FLUSH <pool>\n"
	}
	p := h.alloc.LookupPool(args[0])
	if p == nil {
		return fmt.Sprintf("ERR no pool %q\n", args[0])
	}
	p.Flush()
	return "OK\n"
}

package sgv

// ClusteringType 聚簇模式
type ClusteringType int

const (
	// NoClustering 每页一个SG表项
	NoClustering ClusteringType = iota
	// TailClustering 仅尝试与前一个表项尾部合并
	TailClustering
	// FullClustering 尝试与任意先前表项头部或尾部合并
	FullClustering
)

func (t ClusteringType) String() string {
	switch t {
	case NoClustering:
		return "none"
	case TailClustering:
		return "tail"
	case FullClustering:
		return "full"
	default:
		return "unknown"
	}
}

// checkTailClustering merges the page just placed at sg[cur] into the
// previous entry when the previous entry ends at the new page's frame and
// holds a whole number of pages. Returns the merge index or -1.
func checkTailClustering(sg []SGEntry, cur int, pageSize uint32) int {
	if cur == 0 {
		return -1
	}

	pfnCur := sg[cur].Page.Frame
	lenCur := sg[cur].Length

	prev := cur - 1
	pfnPrevNext := sg[prev].Page.Frame + uint64(sg[prev].Length/pageSize)
	fullPage := sg[prev].Length%pageSize == 0

	if pfnPrevNext == pfnCur && fullPage {
		sg[prev].Length += lenCur
		sg[cur] = SGEntry{}
		return prev
	}
	return -1
}

// checkFullClustering merges the page just placed at sg[cur] with any
// prior entry, trying both a tail merge (the new page continues a prior
// entry) and a head merge (the new page precedes a prior entry). The most
// recent merge index serves as a hint before the linear backwards scan.
func checkFullClustering(sg []SGEntry, cur, hint int, pageSize uint32) int {
	pfnCur := sg[cur].Page.Frame
	lenCur := sg[cur].Length
	pfnCurNext := pfnCur + uint64(lenCur/pageSize)
	fullPageCur := lenCur%pageSize == 0

	if hint >= 0 {
		if res, ok := tryMerge(sg, hint, cur, pfnCur, pfnCurNext, fullPageCur, pageSize); ok {
			return res
		}
	}

	// ToDo: implement more intelligent search
	for i := cur - 1; i >= 0; i-- {
		if res, ok := tryMerge(sg, i, cur, pfnCur, pfnCurNext, fullPageCur, pageSize); ok {
			return res
		}
	}
	return -1
}

func tryMerge(sg []SGEntry, i, cur int, pfnCur, pfnCurNext uint64, fullPageCur bool, pageSize uint32) (int, bool) {
	pfn := sg[i].Page.Frame
	pfnNext := pfn + uint64(sg[i].Length/pageSize)
	fullPage := sg[i].Length%pageSize == 0

	// head merge: new page immediately precedes entry i
	if pfn == pfnCurNext && fullPageCur {
		sg[i].Page = sg[cur].Page
		sg[i].Length += sg[cur].Length
		sg[cur] = SGEntry{}
		return i, true
	}

	// tail merge: new page continues entry i
	if pfnNext == pfnCur && fullPage {
		sg[i].Length += sg[cur].Length
		sg[cur] = SGEntry{}
		return i, true
	}
	return -1, false
}

// buildTransTbl populates the translation table for a clustered SG list.
// Both fields are indexed by logical page: tbl[pg].SgNum is the 1-based SG
// entry holding page pg, and tbl[pg].PgCount is the logical index of the
// first page of that entry.
func buildTransTbl(sg []SGEntry, sgCount int, tbl []TransTblEnt, pageSize uint32) {
	pg := 0
	for i := 0; i < sgCount; i++ {
		n := int((sg[i].Length + pageSize - 1) / pageSize)
		start := pg
		for j := 0; j < n; j++ {
			tbl[pg].SgNum = i + 1
			tbl[pg].PgCount = start
			pg++
		}
	}
}

// allocSGEntries fills obj's SG list with pagesToAlloc pages through the
// pool's page source, clustering as the pool's mode dictates. On any
// per-page failure the partial list is released and the object is left
// empty with sgCount = 0.
func (p *Pool) allocSGEntries(obj *PoolObj, pagesToAlloc int, flags int) error {
	sg := obj.sgEntries
	pageSize := p.alloc.pageSize

	cur, hint := 0, -1
	for pg := 0; pg < pagesToAlloc; pg++ {
		if _, err := p.allocFns.AllocPage(&sg[cur], flags, obj.allocPriv); err != nil {
			// 回收已建好的部分
			if cur > 0 {
				p.allocFns.FreePages(sg, cur, obj.allocPriv)
			}
			for i := range sg {
				sg[i] = SGEntry{}
			}
			obj.sgCount = 0
			return err
		}

		merged := -1
		switch p.clusteringType {
		case TailClustering:
			merged = checkTailClustering(sg, cur, pageSize)
		case FullClustering:
			merged = checkFullClustering(sg, cur, hint, pageSize)
		}
		if merged == -1 {
			cur++
		} else {
			hint = merged
		}
	}
	obj.sgCount = cur

	if p.clusteringType != NoClustering && obj.transTbl != nil {
		buildTransTbl(sg, cur, obj.transTbl, pageSize)
	}
	return nil
}

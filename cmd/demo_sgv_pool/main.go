package main

import (
	"fmt"

	"github.com/zhukovaskychina/sgv-pool/sgv"
)

func main() {
	fmt.Println("=== SGV Pool Allocator Demo ===")

	alloc, err := sgv.NewAllocator(sgv.Config{
		PageSize:    4096,
		MaxOrder:    8,
		HiWatermark: 1024,
		LoWatermark: 512,
	})
	if err != nil {
		fmt.Printf("ERROR: allocator init failed: %v\n", err)
		return
	}
	defer alloc.Shutdown()

	fmt.Println("\n1. Cache hit round-trip...")
	demoCacheHit(alloc)

	fmt.Println("\n2. Clustering...")
	demoClustering(alloc)

	fmt.Println("\n3. Un-cacheable large allocation...")
	demoLarge(alloc)

	fmt.Println("\n=== Demo completed ===")
}

func demoCacheHit(alloc *sgv.Allocator) {
	pool, err := alloc.CreatePool("demo-hit", sgv.NoClustering, false, nil, 0)
	if err != nil {
		fmt.Printf("ERROR: create pool: %v\n", err)
		return
	}
	defer pool.Destroy()

	sg, count, obj, err := pool.Alloc(16384, 0, nil, nil)
	if err != nil {
		fmt.Printf("ERROR: alloc: %v\n", err)
		return
	}
	fmt.Printf("   first alloc: %d entries, %d bytes in entry 0\n", count, sg[0].Length)
	pool.Free(obj, nil)

	_, _, obj, err = pool.Alloc(16384, 0, nil, nil)
	if err != nil {
		fmt.Printf("ERROR: alloc: %v\n", err)
		return
	}
	st := pool.Stats()
	fmt.Printf("   second alloc: bucket order 2 hit=%d total=%d\n",
		st.Buckets[2].HitAlloc, st.Buckets[2].TotalAlloc)
	pool.Free(obj, nil)

	fmt.Println("✓ cache hit demo passed")
}

func demoClustering(alloc *sgv.Allocator) {
	pool, err := alloc.CreatePool("demo-cluster", sgv.FullClustering, false, nil, 0)
	if err != nil {
		fmt.Printf("ERROR: create pool: %v\n", err)
		return
	}
	defer pool.Destroy()

	// 默认页源帧号单调递增，相邻页可全部合并
	sg, count, obj, err := pool.Alloc(8*4096, 0, nil, nil)
	if err != nil {
		fmt.Printf("ERROR: alloc: %v\n", err)
		return
	}
	fmt.Printf("   8 pages clustered into %d SG entries, first length %d\n", count, sg[0].Length)
	pool.Free(obj, nil)

	st := pool.Stats()
	fmt.Printf("   merged counter: %d\n", st.Buckets[3].Merged)
	fmt.Println("✓ clustering demo passed")
}

func demoLarge(alloc *sgv.Allocator) {
	pool, err := alloc.CreatePool("demo-large", sgv.NoClustering, false, nil, 0)
	if err != nil {
		fmt.Printf("ERROR: create pool: %v\n", err)
		return
	}
	defer pool.Destroy()

	// 512页超出最大缓存阶，走独立路径
	_, count, obj, err := pool.Alloc(512*4096, 0, nil, nil)
	if err != nil {
		fmt.Printf("ERROR: alloc: %v\n", err)
		return
	}
	fmt.Printf("   512 pages, %d SG entries, pages_total=%d\n",
		count, alloc.GlobalStats().PagesTotal)
	pool.Free(obj, nil)
	fmt.Printf("   after free pages_total=%d\n", alloc.GlobalStats().PagesTotal)
	fmt.Println("✓ large allocation demo passed")
}

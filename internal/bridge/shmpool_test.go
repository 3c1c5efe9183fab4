package bridge

import "testing"

// S1 — pool exact reuse: acquire 1024 and 2048, release both, acquire
// 1024 again returns the original segment (same shmid), pool size 1.
func TestPoolExactReuse(t *testing.T) {
	p := NewPool(newFakeAttacher(), nil)

	seg1024, err := p.Acquire(1024)
	if err != nil {
		t.Fatalf("acquire 1024: %v", err)
	}
	seg2048, err := p.Acquire(2048)
	if err != nil {
		t.Fatalf("acquire 2048: %v", err)
	}
	firstShmid := seg1024.Shmid

	p.Release(seg1024)
	p.Release(seg2048)

	reused, err := p.Acquire(1024)
	if err != nil {
		t.Fatalf("re-acquire 1024: %v", err)
	}
	if reused.Shmid != firstShmid {
		t.Fatalf("expected exact-size reuse to return shmid %d, got %d", firstShmid, reused.Shmid)
	}
	if got := p.Size(); got != 1 {
		t.Fatalf("pool size after acquire = %d, want 1", got)
	}
}

// S2 — pool promotion: fill the pool with ten 1024-byte segments, release
// an eleventh 4096-byte segment; the smallest cached entry is evicted and
// the 4096 is admitted, so a subsequent acquire(4096) returns it.
func TestPoolPromotionEvictsSmallest(t *testing.T) {
	p := NewPool(newFakeAttacher(), nil)

	var held []*Segment
	for i := 0; i < poolCapacity; i++ {
		seg, err := p.Acquire(1024)
		if err != nil {
			t.Fatalf("acquire 1024 #%d: %v", i, err)
		}
		held = append(held, seg)
	}
	for _, seg := range held {
		p.Release(seg)
	}
	if got := p.Size(); got != poolCapacity {
		t.Fatalf("pool size after filling = %d, want %d", got, poolCapacity)
	}

	big, err := p.Acquire(4096)
	if err != nil {
		t.Fatalf("acquire 4096: %v", err)
	}
	bigShmid := big.Shmid
	p.Release(big)

	if got := p.Size(); got != poolCapacity {
		t.Fatalf("pool size after promoting release = %d, want %d", got, poolCapacity)
	}

	reused, err := p.Acquire(4096)
	if err != nil {
		t.Fatalf("re-acquire 4096: %v", err)
	}
	if reused.Shmid != bigShmid {
		t.Fatalf("expected promoted 4096 segment to be returned, got different shmid")
	}
}

// Property 3 — exact-fit preference: an acquire for an exact cached size
// never returns a larger cached segment even when one is available.
func TestPoolExactFitPreference(t *testing.T) {
	p := NewPool(newFakeAttacher(), nil)

	small, err := p.Acquire(512)
	if err != nil {
		t.Fatal(err)
	}
	large, err := p.Acquire(4096)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(large)
	p.Release(small)

	got, err := p.Acquire(512)
	if err != nil {
		t.Fatal(err)
	}
	if got.Size != 512 {
		t.Fatalf("exact-fit acquire(512) returned size %d, want 512", got.Size)
	}
	if got.Shmid != small.Shmid {
		t.Fatalf("exact-fit acquire(512) returned a different segment than the cached exact match")
	}
}

// Property 2 — smallest-first eviction when the pool is already full and a
// strictly larger segment is released: the smallest cached entry goes.
func TestPoolAdmitLargestEvictsSmallest(t *testing.T) {
	p := NewPool(newFakeAttacher(), nil)

	sizes := []int{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}
	var held []*Segment
	for _, s := range sizes {
		seg, err := p.Acquire(s)
		if err != nil {
			t.Fatal(err)
		}
		held = append(held, seg)
	}
	for _, seg := range held {
		p.Release(seg)
	}

	extra, err := p.Acquire(2000)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(extra)

	// The smallest cached entry (size 100) must be gone; re-acquiring it
	// must allocate fresh (we can only observe this indirectly via size).
	if got := p.Size(); got != poolCapacity {
		t.Fatalf("pool size = %d, want %d", got, poolCapacity)
	}
	found2000 := false
	p.mu.Lock()
	for _, seg := range p.cached {
		if seg.Size == 100 {
			t.Fatalf("expected size-100 segment to have been evicted")
		}
		if seg.Size == 2000 {
			found2000 = true
		}
	}
	p.mu.Unlock()
	if !found2000 {
		t.Fatalf("expected the released 2000-byte segment to be admitted")
	}
}

// Property: releasing a segment when the pool is full and nothing cached
// is smaller than it leaves the pool untouched and the segment destroyed
// immediately (observed as: pool stays at capacity, contents unchanged).
func TestPoolReleaseRejectedWhenAllCachedAreLarger(t *testing.T) {
	p := NewPool(newFakeAttacher(), nil)

	var held []*Segment
	for i := 0; i < poolCapacity; i++ {
		seg, err := p.Acquire(1000)
		if err != nil {
			t.Fatal(err)
		}
		held = append(held, seg)
	}
	for _, seg := range held {
		p.Release(seg)
	}

	small, err := p.Acquire(10)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(small)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, seg := range p.cached {
		if seg.Size == 10 {
			t.Fatalf("expected the smaller-than-everything-cached segment to be rejected, not admitted")
		}
	}
}

func TestPoolDestroyAllClearsCache(t *testing.T) {
	p := NewPool(newFakeAttacher(), nil)
	seg, err := p.Acquire(256)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(seg)
	if p.Size() != 1 {
		t.Fatalf("expected 1 cached segment before DestroyAll")
	}
	p.DestroyAll()
	if got := p.Size(); got != 0 {
		t.Fatalf("pool size after DestroyAll = %d, want 0", got)
	}
}

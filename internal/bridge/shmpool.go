package bridge

import (
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

const poolCapacity = 10

// Attacher binds a freshly-created shared-memory segment to the display
// server so remote image pulls (XShmGetImage and friends) can target it,
// and reverses that binding when the segment is destroyed.
type Attacher interface {
	Attach(shmid int, addr []byte) (shmseg uint32, err error)
	Detach(shmseg uint32)
}

// Pool is the SHM Image Pool (spec §4.1): a fixed-capacity, size-keyed
// cache of idle shared-memory segments, shared across the display adapter
// and the scan engine.
type Pool struct {
	mu       sync.Mutex
	cached   []*Segment
	attacher Attacher
	log      *slog.Logger
}

func NewPool(attacher Attacher, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{attacher: attacher, log: log}
}

// Acquire returns a segment of at least size bytes: an exact-size cached
// segment if any, else the smallest cached segment that still qualifies,
// else a freshly allocated one. The pool lock is held only while deciding
// among cached entries, never across the syscalls for a fresh allocation.
func (p *Pool) Acquire(size int) (*Segment, error) {
	if seg := p.takeCached(size); seg != nil {
		return seg, nil
	}
	return p.allocate(size)
}

func (p *Pool) takeCached(size int) *Segment {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, seg := range p.cached {
		if seg.Size == size {
			p.cached = append(p.cached[:i], p.cached[i+1:]...)
			return seg
		}
	}

	best := -1
	for i, seg := range p.cached {
		if seg.Size >= size && (best == -1 || seg.Size < p.cached[best].Size) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	seg := p.cached[best]
	p.cached = append(p.cached[:best], p.cached[best+1:]...)
	return seg
}

func (p *Pool) allocate(size int) (*Segment, error) {
	shmid, err := unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|0o777)
	if err != nil {
		p.log.Warn("shm allocate failed", "size", size, "error", err)
		return nil, ErrOutOfMemory
	}

	addr, err := unix.SysvShmAttach(shmid, 0, 0)
	if err != nil {
		_, _ = unix.SysvShmCtl(shmid, unix.IPC_RMID, nil)
		p.log.Warn("shm attach failed", "shmid", shmid, "error", err)
		return nil, ErrOutOfMemory
	}

	shmseg, err := p.attacher.Attach(shmid, addr)
	if err != nil {
		_ = unix.SysvShmDetach(addr)
		_, _ = unix.SysvShmCtl(shmid, unix.IPC_RMID, nil)
		p.log.Warn("shm display attach failed", "shmid", shmid, "error", err)
		return nil, ErrAttachFailed
	}

	// Mark for destruction immediately: the segment stays valid for this
	// and every attached process until the last shmdt, so abnormal exit
	// never leaks it.
	if _, err := unix.SysvShmCtl(shmid, unix.IPC_RMID, nil); err != nil {
		p.log.Warn("shmctl IPC_RMID failed", "shmid", shmid, "error", err)
	}

	return &Segment{Shmid: shmid, Size: size, Shmseg: shmseg, Addr: addr}, nil
}

// Release returns seg to the pool, or destroys it immediately if it
// cannot be cached. The caller must treat seg as gone after this call.
func (p *Pool) Release(seg *Segment) {
	if seg == nil {
		return
	}

	p.mu.Lock()
	if len(p.cached) < poolCapacity {
		p.cached = append(p.cached, seg)
		p.mu.Unlock()
		return
	}

	smallest := 0
	for i, c := range p.cached {
		if c.Size < p.cached[smallest].Size {
			smallest = i
		}
	}

	if p.cached[smallest].Size < seg.Size {
		evicted := p.cached[smallest]
		p.cached[smallest] = seg
		p.mu.Unlock()
		p.destroy(evicted)
		return
	}
	p.mu.Unlock()
	p.destroy(seg)
}

func (p *Pool) destroy(seg *Segment) {
	if seg == nil {
		return
	}
	p.attacher.Detach(seg.Shmseg)
	if err := unix.SysvShmDetach(seg.Addr); err != nil {
		p.log.Warn("shmdt failed", "shmid", seg.Shmid, "error", err)
	}
}

// DestroyAll detaches, unmaps, and releases the X-server attachment for
// every cached segment. Called during display teardown.
func (p *Pool) DestroyAll() {
	p.mu.Lock()
	cached := p.cached
	p.cached = nil
	p.mu.Unlock()

	for _, seg := range cached {
		p.destroy(seg)
	}
}

// Size returns the number of currently idle cached segments.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cached)
}

package bridge

import "sync"

// fakeAttacher satisfies Attacher without touching a real display server,
// used by Pool tests that need real SysV shm syscalls but no X11 connection.
type fakeAttacher struct {
	mu        sync.Mutex
	nextSeg   uint32
	attached  map[uint32]bool
}

func newFakeAttacher() *fakeAttacher {
	return &fakeAttacher{attached: make(map[uint32]bool)}
}

func (f *fakeAttacher) Attach(shmid int, addr []byte) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeg++
	f.attached[f.nextSeg] = true
	return f.nextSeg, nil
}

func (f *fakeAttacher) Detach(shmseg uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attached, shmseg)
}

// fakeAdapter is an in-memory Adapter used by scan/session tests: pixel
// reads are served from an in-process framebuffer instead of a real X11
// connection, and input calls are recorded for assertions.
type fakeAdapter struct {
	pool *Pool

	mu          sync.Mutex
	width       int
	height      int
	bpp         int
	framebuffer []byte
	monitors    []MonitorInfo
	readErr     error
	createErr   error
	stopCh      chan struct{}

	keys    []keyEvent
	motions []motionEvent
	buttons []int
	wheels  []bool
	ledsVal [3]bool
}

type keyEvent struct {
	keycode int
	press   bool
}

type motionEvent struct{ x, y int }

func newFakeAdapter(pool *Pool, width, height int) *fakeAdapter {
	bpp := 4
	fb := make([]byte, width*height*bpp)
	return &fakeAdapter{
		pool:        pool,
		width:       width,
		height:      height,
		bpp:         bpp,
		framebuffer: fb,
		stopCh:      make(chan struct{}),
	}
}

func (a *fakeAdapter) setPixelRow(y int, row []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rowBytes := a.width * a.bpp
	copy(a.framebuffer[y*rowBytes:y*rowBytes+rowBytes], row)
}

func (a *fakeAdapter) Open(displayName string) error { return nil }
func (a *fakeAdapter) Close()                        {}

func (a *fakeAdapter) Geometry() (int, int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.width, a.height, 24
}

func (a *fakeAdapter) BytesPerPixel() int { return a.bpp }

func (a *fakeAdapter) Monitors() []MonitorInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.monitors
}

func (a *fakeAdapter) CreateShmImage(pool *Pool, w, h int) (*Image, error) {
	a.mu.Lock()
	err := a.createErr
	bpp := a.bpp
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	bytesPerLine := bpp * w
	seg, aerr := pool.Acquire(bytesPerLine * h)
	if aerr != nil {
		return nil, aerr
	}
	return &Image{Segment: seg, Width: w, Height: h, BytesPerLine: bytesPerLine}, nil
}

func (a *fakeAdapter) DestroyShmImage(pool *Pool, img *Image) {
	if img == nil {
		return
	}
	pool.Release(img.Segment)
}

func (a *fakeAdapter) ReadShmImage(img *Image, x, y int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.readErr != nil {
		return a.readErr
	}
	rowBytes := a.width * a.bpp
	for row := 0; row < img.Height; row++ {
		srcStart := (y+row)*rowBytes + x*a.bpp
		srcEnd := srcStart + img.Width*a.bpp
		dstStart := row * img.BytesPerLine
		copy(img.Segment.Addr[dstStart:dstStart+img.Width*a.bpp], a.framebuffer[srcStart:srcEnd])
	}
	return nil
}

func (a *fakeAdapter) RunEventLoop(sink EventSink) {
	<-a.stopCh
}

func (a *fakeAdapter) Shutdown() {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
}

func (a *fakeAdapter) SendKey(keycode int, press bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, keyEvent{keycode, press})
}

func (a *fakeAdapter) SendButtonState(state int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buttons = append(a.buttons, state)
}

func (a *fakeAdapter) SendMotion(x, y int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.motions = append(a.motions, motionEvent{x, y})
}

func (a *fakeAdapter) SendWheel(up bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wheels = append(a.wheels, up)
}

func (a *fakeAdapter) LEDs() (bool, bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledsVal[0], a.ledsVal[1], a.ledsVal[2]
}

var _ Adapter = (*fakeAdapter)(nil)
var _ Attacher = (*fakeAttacher)(nil)

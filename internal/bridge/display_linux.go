//go:build linux && cgo

package bridge

/*
#cgo LDFLAGS: -lX11 -lXext -lXdamage -lXfixes -lXrandr -lXtst

#include <stdlib.h>
#include <string.h>
#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <X11/extensions/XShm.h>
#include <X11/extensions/Xdamage.h>
#include <X11/extensions/Xfixes.h>
#include <X11/extensions/Xrandr.h>
#include <X11/extensions/XTest.h>
#include <X11/XKBlib.h>

typedef struct {
    Display *dpy;
    Window   root;
    int      screen;
    int      width, height, depth;

    int damage_event, damage_error;
    int xfixes_event, xfixes_error;
    Damage damage;

    int notify_pipe_r, notify_pipe_w;
} x11conn_t;

// open_display connects, checks extensions, selects for damage/cursor/
// configure events, and primes the notify pipe used to cancel the event
// thread's blocking read.
static int open_display(x11conn_t *c, const char *name) {
    int major, minor;

    c->dpy = XOpenDisplay(name);
    if (!c->dpy)
        return 1;

    c->screen = DefaultScreen(c->dpy);
    c->root = RootWindow(c->dpy, c->screen);
    c->width = DisplayWidth(c->dpy, c->screen);
    c->height = DisplayHeight(c->dpy, c->screen);
    c->depth = DefaultDepth(c->dpy, c->screen);

    if (!XShmQueryVersion(c->dpy, &major, &minor, NULL))
        return 2;
    if (!XDamageQueryExtension(c->dpy, &c->damage_event, &c->damage_error))
        return 2;
    if (!XFixesQueryExtension(c->dpy, &c->xfixes_event, &c->xfixes_error))
        return 2;
    if (!XkbQueryExtension(c->dpy, NULL, NULL, NULL, &major, &minor))
        return 2;

    XFixesSelectCursorInput(c->dpy, c->root, XFixesDisplayCursorNotifyMask);
    c->damage = XDamageCreate(c->dpy, c->root, XDamageReportRawRectangles);
    XSelectInput(c->dpy, c->root, StructureNotifyMask);

    return 0;
}

static void close_display(x11conn_t *c) {
    if (c->damage)
        XDamageDestroy(c->dpy, c->damage);
    if (c->dpy)
        XCloseDisplay(c->dpy);
    memset(c, 0, sizeof(*c));
}

// shm_attach attaches an existing shmid (already shmget/shmat'd by the Go
// pool) to the display server, returning an opaque token for later use.
static int shm_attach(x11conn_t *c, int shmid, void *shmaddr, XShmSegmentInfo *info) {
    info->shmid = shmid;
    info->shmaddr = (char *) shmaddr;
    info->readOnly = False;
    if (!XShmAttach(c->dpy, info))
        return 1;
    return 0;
}

static void shm_detach(x11conn_t *c, XShmSegmentInfo *info) {
    XShmDetach(c->dpy, info);
}

static int shm_get_image(x11conn_t *c, XShmSegmentInfo *info, int x, int y, int w, int h) {
    XImage img;
    memset(&img, 0, sizeof(img));
    img.width = w;
    img.height = h;
    img.format = ZPixmap;
    img.data = info->shmaddr;
    img.obdata = (char *) info;
    if (!XShmGetImage(c->dpy, c->root, &img, x, y, AllPlanes))
        return 1;
    return 0;
}

// pending_events drains one event and classifies it for Go. kind: 0=none,
// 1=damage (more flag in arg2), 2=cursor, 3=configure (w,h in arg1,arg2),
// 4=cancelled.
static int next_event(x11conn_t *c, int *x, int *y, int *w, int *h, int *more) {
    XEvent ev;
    XNextEvent(c->dpy, &ev);

    if (ev.type == c->damage_event + XDamageNotify) {
        XDamageNotifyEvent *de = (XDamageNotifyEvent *) &ev;
        *x = de->area.x;
        *y = de->area.y;
        *w = de->area.width;
        *h = de->area.height;
        *more = de->more ? 1 : 0;
        XDamageSubtract(c->dpy, c->damage, None, None);
        return 1;
    }
    if (ev.type == c->xfixes_event + XFixesCursorNotify) {
        return 2;
    }
    if (ev.type == ConfigureNotify) {
        XConfigureEvent *ce = (XConfigureEvent *) &ev;
        *w = ce->width;
        *h = ce->height;
        return 3;
    }
    return 0;
}

static int get_cursor_image(x11conn_t *c, int *x, int *y, int *hx, int *hy, int *w, int *h, unsigned long **pixels) {
    XFixesCursorImage *img = XFixesGetCursorImage(c->dpy);
    if (!img)
        return 1;
    *x = img->x;
    *y = img->y;
    *hx = img->xhot;
    *hy = img->yhot;
    *w = img->width;
    *h = img->height;
    *pixels = img->pixels;
    return 0;
}

static void free_cursor_image(unsigned long *pixels) {
    // XFixesGetCursorImage's result is owned by Xlib's reply buffer; no
    // explicit free is part of the public API.
    (void) pixels;
}

static int get_leds(x11conn_t *c, int *caps, int *scroll, int *num) {
    unsigned int state = 0;
    if (XkbGetIndicatorState(c->dpy, XkbUseCoreKbd, &state) != Success)
        return 1;
    *caps = (state & 0x01) != 0;
    *num = (state & 0x02) != 0;
    *scroll = (state & 0x04) != 0;
    return 0;
}

static void send_key(x11conn_t *c, unsigned int keycode, int press) {
    XTestFakeKeyEvent(c->dpy, keycode, press ? True : False, CurrentTime);
    XFlush(c->dpy);
}

static void send_button(x11conn_t *c, unsigned int button, int press) {
    XTestFakeButtonEvent(c->dpy, button, press ? True : False, CurrentTime);
    XFlush(c->dpy);
}

static void send_motion(x11conn_t *c, int x, int y) {
    XTestFakeMotionEvent(c->dpy, -1, x, y, CurrentTime);
    XFlush(c->dpy);
}

static int get_monitors(x11conn_t *c, int *xs, int *ys, int *ws, int *hs, int max) {
    int n = 0;
    XRRMonitorInfo *mons = XRRGetMonitors(c->dpy, c->root, True, &n);
    if (!mons)
        return 0;
    if (n > max)
        n = max;
    for (int i = 0; i < n; i++) {
        xs[i] = mons[i].x;
        ys[i] = mons[i].y;
        ws[i] = mons[i].width;
        hs[i] = mons[i].height;
    }
    XRRFreeMonitors(mons);
    return n;
}

static int conn_fd(x11conn_t *c) {
    return ConnectionNumber(c->dpy);
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"unsafe"
)

const maxMonitors = 16

type linuxAdapter struct {
	mu   sync.Mutex
	conn C.x11conn_t
	log  *slog.Logger

	shmInfos   map[uint32]*C.XShmSegmentInfo
	nextHandle uint32

	lastButtonState int
}

func newPlatformAdapter(log *slog.Logger) Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &linuxAdapter{log: log, shmInfos: make(map[uint32]*C.XShmSegmentInfo)}
}

func (a *linuxAdapter) Open(displayName string) error {
	var cName *C.char
	if displayName != "" {
		cName = C.CString(displayName)
		defer C.free(unsafe.Pointer(cName))
	}

	rc := C.open_display(&a.conn, cName)
	switch rc {
	case 0:
		return nil
	case 1:
		return ErrNoDisplay
	default:
		return ErrMissingExtension
	}
}

func (a *linuxAdapter) Close() {
	C.close_display(&a.conn)
}

func (a *linuxAdapter) Geometry() (width, height, depth int) {
	return int(a.conn.width), int(a.conn.height), int(a.conn.depth)
}

func (a *linuxAdapter) BytesPerPixel() int { return 4 }

func (a *linuxAdapter) Monitors() []MonitorInfo {
	var xs, ys, ws, hs [maxMonitors]C.int
	n := int(C.get_monitors(&a.conn, &xs[0], &ys[0], &ws[0], &hs[0], C.int(maxMonitors)))
	out := make([]MonitorInfo, n)
	for i := 0; i < n; i++ {
		out[i] = MonitorInfo{X: int(xs[i]), Y: int(ys[i]), Width: int(ws[i]), Height: int(hs[i])}
	}
	return out
}

// Attach implements bridge.Attacher, invoked by the Pool for every freshly
// allocated segment; it performs the real XShmAttach and returns a handle
// used to look the XShmSegmentInfo back up for later image pulls.
func (a *linuxAdapter) Attach(shmid int, addr []byte) (uint32, error) {
	info := &C.XShmSegmentInfo{}

	var addrPtr unsafe.Pointer
	if len(addr) > 0 {
		addrPtr = unsafe.Pointer(&addr[0])
	}
	if rc := C.shm_attach(&a.conn, C.int(shmid), addrPtr, info); rc != 0 {
		return 0, ErrAttachFailed
	}

	a.mu.Lock()
	a.nextHandle++
	handle := a.nextHandle
	a.shmInfos[handle] = info
	a.mu.Unlock()
	return handle, nil
}

func (a *linuxAdapter) Detach(handle uint32) {
	a.mu.Lock()
	info, ok := a.shmInfos[handle]
	delete(a.shmInfos, handle)
	a.mu.Unlock()
	if ok {
		C.shm_detach(&a.conn, info)
	}
}

func (a *linuxAdapter) CreateShmImage(pool *Pool, w, h int) (*Image, error) {
	bpp := a.BytesPerPixel()
	bytesPerLine := bpp * w
	size := bytesPerLine * h

	seg, err := pool.Acquire(size)
	if err != nil {
		return nil, err
	}

	return &Image{Segment: seg, Width: w, Height: h, BytesPerLine: bytesPerLine}, nil
}

func (a *linuxAdapter) DestroyShmImage(pool *Pool, img *Image) {
	if img == nil {
		return
	}
	pool.Release(img.Segment)
}

func (a *linuxAdapter) ReadShmImage(img *Image, x, y int) error {
	a.mu.Lock()
	info, ok := a.shmInfos[img.Segment.Shmseg]
	a.mu.Unlock()
	if !ok {
		return ErrReadFailure
	}
	if rc := C.shm_get_image(&a.conn, info, C.int(x), C.int(y), C.int(img.Width), C.int(img.Height)); rc != 0 {
		return ErrReadFailure
	}
	return nil
}

func (a *linuxAdapter) RunEventLoop(sink EventSink) {
	for {
		var x, y, w, h, more C.int
		kind := C.next_event(&a.conn, &x, &y, &w, &h, &more)
		switch kind {
		case 0:
			return // connection closed or unreadable: Shutdown was called
		case 1:
			sink.EnqueueScan(ScanRequest{
				Kind: pickDamageKind(more != 0),
				Rect: Rect{X: int(x), Y: int(y), W: int(w), H: int(h)},
			})
		case 2:
			a.pushCursor(sink)
		case 3:
			sink.HandleResize(int(w), int(h), a.Monitors())
		}
	}
}

func pickDamageKind(more bool) ScanRequestKind {
	// "more" marks a sub-event of a batch still in flight; the caller
	// (scan engine) treats every sub-event as a damage report and relies
	// on the trust policy, not on "more", to decide fullscreen fallback.
	return DamageReport
}

func (a *linuxAdapter) pushCursor(sink EventSink) {
	var x, y, hx, hy, w, h C.int
	var pixels *C.ulong
	if rc := C.get_cursor_image(&a.conn, &x, &y, &hx, &hy, &w, &h, &pixels); rc != 0 {
		a.log.Warn("cursor image read failed")
		return
	}
	defer C.free_cursor_image(pixels)

	n := int(w) * int(h)
	argb := make([]byte, n*4)
	src := unsafe.Slice(pixels, n)
	for i := 0; i < n; i++ {
		px := uint32(src[i])
		argb[i*4+0] = byte(px >> 16) // R
		argb[i*4+1] = byte(px >> 8)  // G
		argb[i*4+2] = byte(px)       // B
		argb[i*4+3] = byte(px >> 24) // A
	}

	sink.PushCursor(BuildCursorCommand(int(x), int(y), int(hx), int(hy), int(w), int(h), argb))
}

func (a *linuxAdapter) Shutdown() {
	fd := int(C.conn_fd(&a.conn))
	if fd <= 0 {
		return
	}
	if err := shutdownRead(fd); err != nil {
		a.log.Warn("shutdown X11 socket read side failed", "error", err)
	}
}

func (a *linuxAdapter) SendKey(keycode int, press bool) {
	C.send_key(&a.conn, C.uint(keycode), boolToCInt(press))
}

func (a *linuxAdapter) SendButtonState(state int) {
	for bit := 0; bit < 5; bit++ {
		mask := 1 << bit
		was := a.lastButtonState&mask != 0
		now := state&mask != 0
		if was != now {
			C.send_button(&a.conn, C.uint(bit+1), boolToCInt(now))
		}
	}
	a.lastButtonState = state
}

func (a *linuxAdapter) SendMotion(x, y int) {
	C.send_motion(&a.conn, C.int(x), C.int(y))
}

func (a *linuxAdapter) SendWheel(up bool) {
	button := 5
	if up {
		button = 4
	}
	C.send_button(&a.conn, C.uint(button), 1)
	C.send_button(&a.conn, C.uint(button), 0)
}

func (a *linuxAdapter) LEDs() (caps, scroll, num bool) {
	var c, s, n C.int
	if rc := C.get_leds(&a.conn, &c, &s, &n); rc != 0 {
		return false, false, false
	}
	return c != 0, s != 0, n != 0
}

// shutdownRead shuts down the read side of the X11 connection's socket,
// unblocking a XNextEvent call in progress without closing the fd out
// from under Xlib (spec §5 cancellation technique).
func shutdownRead(fd int) error {
	return syscall.Shutdown(fd, syscall.SHUT_RD)
}

func boolToCInt(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

var _ Adapter = (*linuxAdapter)(nil)
var _ fmt.Stringer = (*Segment)(nil)

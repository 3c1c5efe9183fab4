package bridge

import "log/slog"

// EventSink receives events produced by the Display Adapter's event
// thread. Implemented by the Session Coordinator.
type EventSink interface {
	PushCursor(cmd CursorCommand)
	EnqueueScan(req ScanRequest)
	HandleResize(width, height int, monitors []MonitorInfo)
}

// InputSink receives input forwarded from the remote protocol server.
// Implemented by the Session Coordinator, consumed by the Forwarder.
type InputSink interface {
	SendKey(keycode int, press bool)
	SendButtonState(state int)
	SendMotion(x, y int)
	SendWheel(up bool)
	LEDs() (caps, scroll, num bool)
}

// Adapter is the platform-specific half of the Display Adapter (spec
// §4.2): the X11 connection, event thread, and raw pixel pulls. The
// diffing logic that consumes it (Scan Engine) is platform-independent
// and lives in scan.go.
type Adapter interface {
	// Open connects to the named display (empty string = $DISPLAY) and
	// verifies the XDAMAGE/XSHM/XFIXES/XKB extensions are present.
	Open(displayName string) error
	Close()

	// Geometry returns the current root window dimensions and pixel depth.
	Geometry() (width, height, depth int)
	BytesPerPixel() int
	Monitors() []MonitorInfo

	// CreateShmImage acquires a segment from pool sized for a w×h image
	// at the adapter's bytes-per-pixel and attaches it for remote pulls.
	CreateShmImage(pool *Pool, w, h int) (*Image, error)
	DestroyShmImage(pool *Pool, img *Image)

	// ReadShmImage issues a synchronous image pull of img's rectangle at
	// (x,y) on the root window into img's mapped segment.
	ReadShmImage(img *Image, x, y int) error

	// RunEventLoop blocks dispatching cursor-notify, damage-notify, and
	// configure-notify events into sink until Shutdown is called or the
	// connection becomes unreadable. Runs on its own goroutine.
	RunEventLoop(sink EventSink)
	// Shutdown unblocks a RunEventLoop call in progress.
	Shutdown()

	InputSink
}

// NewAdapter returns the platform-specific Adapter implementation.
func NewAdapter(log *slog.Logger) Adapter {
	return newPlatformAdapter(log)
}

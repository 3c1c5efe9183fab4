//go:build linux && !cgo

package bridge

import "log/slog"

// Linux without cgo cannot link libX11/libXext/libXdamage/libXfixes;
// the display adapter is unavailable.
type noCgoAdapter struct{}

func newPlatformAdapter(log *slog.Logger) Adapter { return &noCgoAdapter{} }

func (a *noCgoAdapter) Open(displayName string) error                       { return ErrNoDisplay }
func (a *noCgoAdapter) Close()                                              {}
func (a *noCgoAdapter) Geometry() (int, int, int)                          { return 0, 0, 0 }
func (a *noCgoAdapter) BytesPerPixel() int                                  { return 4 }
func (a *noCgoAdapter) Monitors() []MonitorInfo                             { return nil }
func (a *noCgoAdapter) CreateShmImage(pool *Pool, w, h int) (*Image, error) { return nil, ErrNoDisplay }
func (a *noCgoAdapter) DestroyShmImage(pool *Pool, img *Image)              {}
func (a *noCgoAdapter) ReadShmImage(img *Image, x, y int) error            { return ErrReadFailure }
func (a *noCgoAdapter) RunEventLoop(sink EventSink)                         {}
func (a *noCgoAdapter) Shutdown()                                           {}
func (a *noCgoAdapter) SendKey(keycode int, press bool)                     {}
func (a *noCgoAdapter) SendButtonState(state int)                           {}
func (a *noCgoAdapter) SendMotion(x, y int)                                 {}
func (a *noCgoAdapter) SendWheel(up bool)                                   {}
func (a *noCgoAdapter) LEDs() (bool, bool, bool)                            { return false, false, false }

var _ Adapter = (*noCgoAdapter)(nil)

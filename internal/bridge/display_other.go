//go:build !linux

package bridge

import "log/slog"

// otherAdapter stubs the Display Adapter on platforms without an X11
// cgo binding. The capture-and-forward engine targets X11 only.
type otherAdapter struct{}

func newPlatformAdapter(log *slog.Logger) Adapter { return &otherAdapter{} }

func (a *otherAdapter) Open(displayName string) error                     { return ErrNoDisplay }
func (a *otherAdapter) Close()                                            {}
func (a *otherAdapter) Geometry() (int, int, int)                        { return 0, 0, 0 }
func (a *otherAdapter) BytesPerPixel() int                                { return 4 }
func (a *otherAdapter) Monitors() []MonitorInfo                           { return nil }
func (a *otherAdapter) CreateShmImage(pool *Pool, w, h int) (*Image, error) { return nil, ErrNoDisplay }
func (a *otherAdapter) DestroyShmImage(pool *Pool, img *Image)            {}
func (a *otherAdapter) ReadShmImage(img *Image, x, y int) error          { return ErrReadFailure }
func (a *otherAdapter) RunEventLoop(sink EventSink)                       {}
func (a *otherAdapter) Shutdown()                                         {}
func (a *otherAdapter) SendKey(keycode int, press bool)                   {}
func (a *otherAdapter) SendButtonState(state int)                         {}
func (a *otherAdapter) SendMotion(x, y int)                               {}
func (a *otherAdapter) SendWheel(up bool)                                 {}
func (a *otherAdapter) LEDs() (bool, bool, bool)                          { return false, false, false }

var _ Adapter = (*otherAdapter)(nil)

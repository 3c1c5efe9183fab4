package bridge

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	spiceButtonLeft   = 1 << 0
	spiceButtonMiddle = 1 << 1
	spiceButtonRight  = 1 << 2
	buttonWheelUp     = 1 << 4
	buttonWheelDown   = 1 << 3

	keyEscapePrefix = 0xe0
	minKeycode      = 8
)

// escapedScancodes maps an escaped AT scancode fragment (high bit already
// stripped) to a target keycode. Zero means unmapped.
var escapedScancodes = [128]byte{
	0x1c: 104, // KP_Enter
	0x1d: 105, // RCtrl
	0x35: 106, // KP_Divide
	0x37: 107, // Print
	0x38: 108, // AltLang
	0x46: 127, // Break
	0x47: 110, // Home
	0x48: 111, // Up
	0x49: 112, // PgUp
	0x4b: 113, // Left
	0x4d: 114, // Right
	0x4f: 115, // End
	0x50: 116, // Down
	0x51: 117, // PgDown
	0x52: 118, // Insert
	0x53: 119, // Delete
	0x5b: 133, // LeftCmd
	0x5c: 134, // RightCmd
	0x5d: 135, // Menu
}

const (
	ledScrollLock = 1 << 0
	ledNumLock    = 1 << 1
	ledCapsLock   = 1 << 2
)

// Forwarder implements RemoteProtocolServer against a Session (spec §4.4):
// it is the only code in this repository that the external remote
// protocol library's worker thread calls into.
type Forwarder struct {
	session *Session
	log     *slog.Logger

	attached atomic.Bool
	worker   Worker

	mu           sync.Mutex
	asyncTokens  map[uint64]ReleaseToken
	nextCookie   uint64
	escapeActive bool
}

func NewForwarder(session *Session, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{
		session:     session,
		log:         log,
		asyncTokens: make(map[uint64]ReleaseToken),
	}
}

// AttachWorker installs the one memory slot this bridge ever exposes;
// subsequent calls are rejected idempotently.
func (f *Forwarder) AttachWorker(w Worker) bool {
	if !f.attached.CompareAndSwap(false, true) {
		f.log.Warn("attach_worker called more than once, ignoring")
		return false
	}
	f.worker = w
	return true
}

func (f *Forwarder) GetInitInfo() InitInfo {
	return InitInfo{NumMemSlots: 1, NumGroups: 1, NumSurfaces: 1}
}

func (f *Forwarder) GetCommand() (*DrawCommand, bool) {
	return f.session.PopDraw()
}

func (f *Forwarder) ReqCmdNotification() bool {
	return !f.session.DrawWaiting()
}

// ReleaseResource is the shared release path for both draw (FreeImage) and
// cursor (FreeHeap) tokens (spec §4.4). Only a draw release clears
// draw-in-progress; a cursor release must not prematurely reopen
// flush-and-lock while a draw is still in flight.
func (f *Forwarder) ReleaseResource(token ReleaseToken) {
	token.Free(f.session.adapter, f.session.pool)
	if token.Kind == FreeImage {
		f.session.DrawDone()
	}
}

func (f *Forwarder) GetCursorCommand() (*CursorCommand, bool) {
	return f.session.PopCursor()
}

func (f *Forwarder) ReqCursorNotification() bool {
	return !f.session.CursorWaiting()
}

// AsyncComplete frees the release token registered under cookie by a
// prior monitor-config command, as used by send_monitors_config.
func (f *Forwarder) AsyncComplete(cookie uint64) {
	f.mu.Lock()
	token, ok := f.asyncTokens[cookie]
	delete(f.asyncTokens, cookie)
	f.mu.Unlock()
	if ok {
		token.Free(f.session.adapter, f.session.pool)
	}
}

// registerAsync issues a cookie for a token that will be freed later via
// AsyncComplete, used by monitor-config push commands this bridge sends.
func (f *Forwarder) registerAsync(token ReleaseToken) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCookie++
	cookie := f.nextCookie
	f.asyncTokens[cookie] = token
	return cookie
}

func (f *Forwarder) SetCompressionLevel(level int) {}
func (f *Forwarder) SetMMTime(t uint32)             {}

// ClientMonitorsConfig treats a nil cfg as the capability probe the spec
// describes; any real config is rejected, as client-driven resize is not
// implemented.
func (f *Forwarder) ClientMonitorsConfig(cfg *MonitorsConfig) bool {
	if cfg == nil {
		return true
	}
	f.log.Info("client requested monitor layout, ignoring", "monitors", cfg.Monitors)
	return false
}

// KbdPushKey implements the escape-byte state machine and 128-entry
// escaped-scancode translation (spec §4.4).
func (f *Forwarder) KbdPushKey(frag byte) {
	if frag == keyEscapePrefix {
		f.escapeActive = true
		return
	}

	press := frag&0x80 == 0
	frag &= 0x7f

	if f.escapeActive {
		f.escapeActive = false
		mapped := escapedScancodes[frag]
		if mapped == 0 {
			f.log.Warn("unmapped escaped scancode", "frag", frag)
			return
		}
		f.session.SendKey(int(mapped), press)
		return
	}

	f.session.SendKey(int(frag)+minKeycode, press)
}

func (f *Forwarder) KbdGetLeds() byte {
	caps, scroll, num := f.session.LEDs()
	var leds byte
	if caps {
		leds |= ledCapsLock
	}
	if scroll {
		leds |= ledScrollLock
	}
	if num {
		leds |= ledNumLock
	}
	return leds
}

func (f *Forwarder) TabletPosition(x, y int, buttonsState uint32) {
	f.session.SendMotion(x, y)
}

func (f *Forwarder) TabletWheel(wheelMotion int, buttonsState uint32) {
	f.session.SendButtonState(int(remapButtons(buttonsState, wheelMotion)))
}

func (f *Forwarder) TabletButtons(buttonsState uint32) {
	f.session.SendButtonState(int(remapButtons(buttonsState, 0)))
}

// remapButtons undoes the remote protocol's swapped middle/right button
// bits and folds wheel motion into the synthetic button 4/5 bits.
func remapButtons(state uint32, wheel int) uint32 {
	other := state &^ (spiceButtonLeft | spiceButtonMiddle | spiceButtonRight)
	remapped := (state & spiceButtonLeft) |
		((state & spiceButtonMiddle) << 1) |
		((state & spiceButtonRight) >> 1) |
		other
	if wheel > 0 {
		remapped |= buttonWheelUp
	} else if wheel < 0 {
		remapped |= buttonWheelDown
	}
	return remapped
}

var _ RemoteProtocolServer = (*Forwarder)(nil)

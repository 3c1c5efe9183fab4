package bridge

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Options configures a Session.
type Options struct {
	Display           string
	Trust             DamageTrust
	TileCount         int
	ScanBands         int // V and H for scan_whole_screen, spec S4 uses 32
	DisableCoalescing bool
	OnConnect         string
	OnDisconnect      string
	Audit             Reporter
	AllowControl      bool // spec §6: gate InputSink forwarding, view-only otherwise
}

// Reporter is the audit hook (spec §C.3): a narrow interface so the core
// never links a real audit subsystem directly.
type Reporter interface {
	ReportConnect(endpoint string)
	ReportDisconnect(endpoint string)
}

// Session is the Session Coordinator (spec §4.5): owns the draw/cursor
// queues, resize serialization, input forwarding, and damage-trust policy.
type Session struct {
	ID      string
	opts    Options
	adapter Adapter
	pool    *Pool
	scanner *Scanner
	log     *slog.Logger

	running atomic.Bool
	drawInProgress atomic.Bool

	mu          sync.Mutex // the coordinator lock (flush-and-lock)
	primary     *Image
	width       int
	height      int
	monitors    []MonitorInfo

	drawMu    sync.Mutex
	drawQueue []*DrawCommand

	cursorMu    sync.Mutex
	cursorQueue []*wireCursorCommand

	scanMu   sync.Mutex
	scanCond *sync.Cond
	scanReqs []ScanRequest

	lastButtonState int
	stopOnce        sync.Once
	wg              sync.WaitGroup

	// OnCreatePrimary/OnDestroyPrimary let the Forwarder mirror primary
	// surface lifecycle into the (external, not-modeled-here) remote
	// protocol library.
	OnCreatePrimary  func(img *Image, width, height int)
	OnDestroyPrimary func()
}

func NewSession(adapter Adapter, pool *Pool, opts Options, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if opts.TileCount == 0 {
		opts.TileCount = defaultTileCount
	}
	if opts.ScanBands == 0 {
		opts.ScanBands = 32
	}

	s := &Session{
		ID:      uuid.NewString(),
		opts:    opts,
		adapter: adapter,
		pool:    pool,
		log:     log,
	}
	s.scanner = NewScanner(adapter, pool, opts.Trust, log)
	s.scanner.DisableCoalescing(opts.DisableCoalescing)
	s.scanCond = sync.NewCond(&s.scanMu)
	return s
}

// Start opens the display, allocates the retained images, creates the
// primary surface, and spawns the event thread and scan loop.
func (s *Session) Start() error {
	if err := s.adapter.Open(s.opts.Display); err != nil {
		return err
	}

	w, h, _ := s.adapter.Geometry()
	if err := s.allocateLocked(w, h); err != nil {
		return err
	}
	s.monitors = s.adapter.Monitors()

	s.running.Store(true)
	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.adapter.RunEventLoop(s) }()
	go func() { defer s.wg.Done(); s.scanLoop() }()

	if s.opts.Audit != nil {
		s.opts.Audit.ReportConnect(s.ID)
	}
	if s.opts.OnConnect != "" {
		runHook(s.opts.OnConnect, "", s.log)
	}
	return nil
}

func (s *Session) allocateLocked(w, h int) error {
	if err := s.scanner.Reset(w, h); err != nil {
		return err
	}
	primary, err := s.adapter.CreateShmImage(s.pool, w, h)
	if err != nil {
		return err
	}
	s.primary = primary
	s.width, s.height = w, h
	if s.OnCreatePrimary != nil {
		s.OnCreatePrimary(primary, w, h)
	}
	return nil
}

// End notifies remote-disconnected, stops the event thread, and destroys
// retained images.
func (s *Session) End() {
	s.stopOnce.Do(func() {
		if s.opts.Audit != nil {
			s.opts.Audit.ReportDisconnect(s.ID)
		}
		if s.opts.OnDisconnect != "" {
			runHook(s.opts.OnDisconnect, "", s.log)
		}
		s.running.Store(false)
		s.adapter.Shutdown()
		s.signalScanLoop()
		s.wg.Wait()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.primary != nil {
			s.adapter.DestroyShmImage(s.pool, s.primary)
			s.primary = nil
		}
	})
}

// Destroy flushes and locks, drains both queues (firing each item's
// release token), and releases the pool.
func (s *Session) Destroy() {
	s.flushAndLock()
	defer s.mu.Unlock()

	s.drawMu.Lock()
	for _, cmd := range s.drawQueue {
		cmd.Token.Free(s.adapter, s.pool)
	}
	s.drawQueue = nil
	s.drawMu.Unlock()

	s.cursorMu.Lock()
	for _, cmd := range s.cursorQueue {
		cmd.token.Free(s.adapter, s.pool)
	}
	s.cursorQueue = nil
	s.cursorMu.Unlock()

	s.pool.DestroyAll()
}

// flushAndLock is the central mutual-exclusion idiom (spec §4.5): spin
// with yield until no draw is in progress, then take the coordinator lock.
func (s *Session) flushAndLock() {
	for {
		if !s.drawInProgress.Load() {
			s.mu.Lock()
			if !s.drawInProgress.Load() {
				return
			}
			s.mu.Unlock()
		}
		runtime.Gosched()
	}
}

// PopDraw implements the Forwarder's get_command: non-blocking. It
// trylocks the coordinator lock exactly like session_pop_draw's
// g_mutex_trylock(session->lock). If the trylock fails, report no command
// instead of letting a new draw go in-flight against a primary a concurrent
// RecreatePrimary is mid-teardown on.
func (s *Session) PopDraw() (*DrawCommand, bool) {
	if !s.mu.TryLock() {
		return nil, false
	}
	defer s.mu.Unlock()

	s.drawMu.Lock()
	defer s.drawMu.Unlock()
	if len(s.drawQueue) == 0 {
		return nil, false
	}
	cmd := s.drawQueue[0]
	s.drawQueue = s.drawQueue[1:]
	s.drawInProgress.Store(true)
	return cmd, true
}

// DrawDone clears the draw-in-progress flag once the popped command's
// release token has been consumed.
func (s *Session) DrawDone() {
	s.drawInProgress.Store(false)
}

func (s *Session) DrawWaiting() bool {
	s.drawMu.Lock()
	defer s.drawMu.Unlock()
	return len(s.drawQueue) > 0
}

func (s *Session) pushDraw(cmd *DrawCommand) {
	s.drawMu.Lock()
	s.drawQueue = append(s.drawQueue, cmd)
	s.drawMu.Unlock()
}

// wireCursorCommand is the constructed cursor-update payload plus its
// release token, built by pushCursorImage (spec §4.5 push_cursor).
type wireCursorCommand struct {
	cmd   CursorCommand
	token ReleaseToken
}

func (s *Session) PopCursor() (*CursorCommand, bool) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	if len(s.cursorQueue) == 0 {
		return nil, false
	}
	w := s.cursorQueue[0]
	s.cursorQueue = s.cursorQueue[1:]
	return &w.cmd, true
}

func (s *Session) CursorWaiting() bool {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	return len(s.cursorQueue) > 0
}

// PushCursor implements EventSink.PushCursor, called from the display
// event thread.
func (s *Session) PushCursor(cmd CursorCommand) {
	s.cursorMu.Lock()
	s.cursorQueue = append(s.cursorQueue, &wireCursorCommand{cmd: cmd, token: cmd.Token})
	s.cursorMu.Unlock()
}

// EnqueueScan implements EventSink.EnqueueScan, called from the display
// event thread; applies the damage-trust policy and hands off to the
// scan loop.
func (s *Session) EnqueueScan(req ScanRequest) {
	if req.Kind == DamageReport {
		req = s.scanner.TrustDamage(req.Rect)
	}
	s.scanMu.Lock()
	s.scanReqs = append(s.scanReqs, req)
	s.scanCond.Signal()
	s.scanMu.Unlock()
}

func (s *Session) signalScanLoop() {
	s.scanMu.Lock()
	s.scanCond.Signal()
	s.scanMu.Unlock()
}

// scanLoop drains scanReqs, applying the scanline/fullscreen coalescing
// optimization before dispatching each surviving request to the Scanner.
func (s *Session) scanLoop() {
	for {
		s.scanMu.Lock()
		for len(s.scanReqs) == 0 && s.running.Load() {
			s.scanCond.Wait()
		}
		if len(s.scanReqs) == 0 {
			s.scanMu.Unlock()
			return
		}
		req := s.scanReqs[0]
		var next ScanRequest
		hasNext := len(s.scanReqs) > 1
		if hasNext {
			next = s.scanReqs[1]
		}
		if hasNext && s.scanner.ShouldCoalesce(req, next) {
			s.scanReqs = s.scanReqs[1:] // drop the scanline, keep the fullscreen
			s.scanMu.Unlock()
			continue
		}
		s.scanReqs = s.scanReqs[1:]
		s.scanMu.Unlock()

		s.dispatchScan(req)
	}
}

func (s *Session) dispatchScan(req ScanRequest) {
	switch req.Kind {
	case DamageReport:
		cmd, err := s.scanner.ProcessDamage(req.Rect)
		if err != nil || cmd == nil {
			return
		}
		s.pushDraw(cmd)
	case FullscreenReport, FullscreenRequest:
		cmds, err := s.scanner.ScanWholeScreen(s.opts.ScanBands, s.opts.ScanBands)
		if err != nil {
			return
		}
		for _, cmd := range cmds {
			s.pushDraw(cmd)
		}
	case ScanlineReport:
		tiles, err := s.scanner.FindChangedTiles(req.Rect.Y)
		if err != nil {
			return
		}
		bandW := s.width / len(tiles)
		for i, changed := range tiles {
			if !changed {
				continue
			}
			x0 := i * bandW
			w := bandW
			if i == len(tiles)-1 {
				w = s.width - x0
			}
			cmd, err := s.scanner.ProcessDamage(Rect{X: x0, Y: req.Rect.Y, W: w, H: 1})
			if err == nil && cmd != nil {
				s.pushDraw(cmd)
			}
		}
	}
}

// HandleResize implements EventSink.HandleResize: recreates the primary
// surface only if geometry or monitor count actually changed.
func (s *Session) HandleResize(width, height int, monitors []MonitorInfo) {
	s.mu.Lock()
	changed := width != s.width || height != s.height || !monitorsEqual(monitors, s.monitors)
	s.mu.Unlock()
	if !changed {
		return
	}
	if err := s.RecreatePrimary(width, height, monitors); err != nil {
		s.log.Warn("recreate primary failed", "error", err)
	}
}

// RecreatePrimary implements the resize path (spec §4.5, §8 S5):
// flush-and-lock, destroy the primary on the remote side, reallocate all
// three retained images, create a new primary.
func (s *Session) RecreatePrimary(width, height int, monitors []MonitorInfo) error {
	s.flushAndLock()
	defer s.mu.Unlock()

	if s.OnDestroyPrimary != nil {
		s.OnDestroyPrimary()
	}
	if s.primary != nil {
		s.adapter.DestroyShmImage(s.pool, s.primary)
		s.primary = nil
	}

	if err := s.allocateLocked(width, height); err != nil {
		return err
	}
	s.monitors = monitors
	return nil
}

// --- InputSink forwarding (spec §4.4 tablet/button methods route here) ---
//
// Every op below that injects input is gated on AllowControl (spec §6):
// view-only mode must silently drop input rather than forward it, mirroring
// the original's session_handle_key/session_handle_mouse_position/
// session_handle_button_change options.allow_control checks. LEDs is a
// status read, not an input injection, so it is never gated.

func (s *Session) SendKey(keycode int, press bool) {
	if !s.opts.AllowControl {
		return
	}
	s.adapter.SendKey(keycode, press)
}

func (s *Session) SendMotion(x, y int) {
	if !s.opts.AllowControl {
		return
	}
	s.adapter.SendMotion(x, y)
}

func (s *Session) SendWheel(up bool) {
	if !s.opts.AllowControl {
		return
	}
	s.adapter.SendWheel(up)
}

func (s *Session) LEDs() (bool, bool, bool) { return s.adapter.LEDs() }

// SendButtonState diffs against the previously forwarded state and emits
// a press/release for each changed bit (spec §4.4 "Button change").
func (s *Session) SendButtonState(state int) {
	if !s.opts.AllowControl {
		return
	}
	for bit := 0; bit < 5; bit++ {
		mask := 1 << bit
		was := s.lastButtonState&mask != 0
		now := state&mask != 0
		if was != now {
			s.adapter.SendButtonState(state)
			break
		}
	}
	s.lastButtonState = state
}

var _ EventSink = (*Session)(nil)
var _ InputSink = (*Session)(nil)

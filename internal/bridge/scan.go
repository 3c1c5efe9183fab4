package bridge

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

const defaultTileCount = 32

// Scanner is the Scan Engine (spec §4.3): converts scan requests into
// draw commands, reading pixels via the Adapter and diffing them against
// a retained "known-good" frame.
type Scanner struct {
	adapter Adapter
	pool    *Pool
	log     *slog.Logger

	mu               sync.Mutex
	fullscreen       *Image
	scanline         *Image
	width, height    int
	tileCount        int
	trust            DamageTrust
	fullscreenStreak int
	coalesceDisabled bool
}

func NewScanner(adapter Adapter, pool *Pool, trust DamageTrust, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{adapter: adapter, pool: pool, log: log, tileCount: defaultTileCount, trust: trust}
}

// DisableCoalescing turns off the scanline/fullscreen coalescing
// optimization (spec §9 open question: preserved by default, with a
// tunable to disable it).
func (s *Scanner) DisableCoalescing(disabled bool) {
	s.mu.Lock()
	s.coalesceDisabled = disabled
	s.mu.Unlock()
}

// Reset (re)allocates the retained fullscreen and scanline images at a
// new geometry. Called by the Session Coordinator during recreate_primary.
func (s *Scanner) Reset(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fullscreen != nil {
		s.adapter.DestroyShmImage(s.pool, s.fullscreen)
	}
	if s.scanline != nil {
		s.adapter.DestroyShmImage(s.pool, s.scanline)
	}

	full, err := s.adapter.CreateShmImage(s.pool, width, height)
	if err != nil {
		return err
	}
	line, err := s.adapter.CreateShmImage(s.pool, width, 1)
	if err != nil {
		s.adapter.DestroyShmImage(s.pool, full)
		return err
	}

	s.fullscreen = full
	s.scanline = line
	s.width, s.height = width, height
	s.fullscreenStreak = 0
	return nil
}

// TrustDamage applies the damage-trust policy (spec §4.3.2) to a raw
// damage-notify event, returning the ScanRequest the caller should enqueue.
func (s *Scanner) TrustDamage(rect Rect) ScanRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.trust {
	case TrustAlways:
		return ScanRequest{Kind: DamageReport, Rect: rect}
	case TrustNever:
		s.fullscreenStreak++
		return ScanRequest{Kind: FullscreenRequest}
	default: // TrustAuto
		isFull := rect.X == 0 && rect.Y == 0 && rect.W == s.width && rect.H == s.height
		if !isFull {
			s.fullscreenStreak = 0
			return ScanRequest{Kind: DamageReport, Rect: rect}
		}
		s.fullscreenStreak++
		if s.fullscreenStreak <= 2 {
			return ScanRequest{Kind: DamageReport, Rect: rect}
		}
		return ScanRequest{Kind: FullscreenRequest}
	}
}

// ShouldCoalesce reports whether a queued scanline request immediately
// followed by a fullscreen request over the same area may be dropped
// (spec §4.3.4). Never applied ahead of a DamageReport.
func (s *Scanner) ShouldCoalesce(head, next ScanRequest) bool {
	s.mu.Lock()
	disabled := s.coalesceDisabled
	s.mu.Unlock()
	if disabled {
		return false
	}
	return head.Kind == ScanlineReport && next.Kind == FullscreenRequest
}

// ProcessDamage implements spec §4.3.3 for a DAMAGE_REPORT rectangle.
func (s *Scanner) ProcessDamage(rect Rect) (*DrawCommand, error) {
	img, err := s.adapter.CreateShmImage(s.pool, rect.W, rect.H)
	if err != nil {
		s.log.Warn("pool acquisition failed, dropping damage request", "rect", rect, "error", err)
		return nil, nil
	}

	if err := s.adapter.ReadShmImage(img, rect.X, rect.Y); err != nil {
		s.log.Warn("pixel read failed, dropping damage request", "rect", rect, "error", err)
		s.adapter.DestroyShmImage(s.pool, img)
		return nil, nil
	}

	s.mu.Lock()
	s.copyIntoFullscreenLocked(img, rect.X, rect.Y)
	s.mu.Unlock()

	return &DrawCommand{
		Rect:  rect,
		Image: img,
		Token: ReleaseToken{Kind: FreeImage, Image: img},
	}, nil
}

// copyIntoFullscreenLocked implements display_copy_image_into_fullscreen:
// clipped to current geometry, skipped entirely on overflow to guard
// against races with an in-flight resize.
func (s *Scanner) copyIntoFullscreenLocked(img *Image, x, y int) {
	if s.fullscreen == nil {
		return
	}
	if x+img.Width > s.width || y+img.Height > s.height {
		return
	}
	bpp := s.fullscreen.BytesPerLine / s.width
	for row := 0; row < img.Height; row++ {
		srcStart := row * img.BytesPerLine
		dstStart := (y+row)*s.fullscreen.BytesPerLine + x*bpp
		n := img.Width * bpp
		copy(s.fullscreen.Segment.Addr[dstStart:dstStart+n], img.Segment.Addr[srcStart:srcStart+n])
	}
}

// ScanWholeScreen implements display_scan_whole_screen: pulls a fresh
// full-screen image, diffs it in v×h bands against fullscreen, and
// returns one DrawCommand per changed band. The fresh frame is returned
// to the pool rather than retained (see spec §9 open note).
func (s *Scanner) ScanWholeScreen(v, h int) ([]*DrawCommand, error) {
	w, height, _ := s.adapter.Geometry()

	fresh, err := s.adapter.CreateShmImage(s.pool, w, height)
	if err != nil {
		return nil, nil
	}
	defer s.adapter.DestroyShmImage(s.pool, fresh)

	if err := s.adapter.ReadShmImage(fresh, 0, 0); err != nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if w != s.width || height != s.height {
		// Mid-resize: abandon this scan, as the spec requires.
		return nil, nil
	}

	bpp := fresh.BytesPerLine / w
	bandH := height / v
	bandW := w / h

	var cmds []*DrawCommand
	for by := 0; by < v; by++ {
		y0 := by * bandH
		rowsInBand := bandH
		if by == v-1 {
			rowsInBand = height - y0
		}
		for bx := 0; bx < h; bx++ {
			x0 := bx * bandW
			colsInBand := bandW
			if bx == h-1 {
				colsInBand = w - x0
			}

			if !bandDiffers(fresh, s.fullscreen, x0, y0, colsInBand, rowsInBand, bpp) {
				continue
			}

			rect := Rect{X: x0, Y: y0, W: colsInBand, H: rowsInBand}
			img, err := s.adapter.CreateShmImage(s.pool, colsInBand, rowsInBand)
			if err != nil {
				continue
			}
			copyRegion(img, fresh, x0, y0, bpp)
			s.copyIntoFullscreenLocked(img, x0, y0)

			cmds = append(cmds, &DrawCommand{
				Rect:  rect,
				Image: img,
				Token: ReleaseToken{Kind: FreeImage, Image: img},
			})
		}
	}
	return cmds, nil
}

func bandDiffers(fresh, fullscreen *Image, x0, y0, w, h, bpp int) bool {
	if fullscreen == nil {
		return true
	}
	for row := 0; row < h; row++ {
		freshStart := (y0+row)*fresh.BytesPerLine + x0*bpp
		fullStart := (y0+row)*fullscreen.BytesPerLine + x0*bpp
		n := w * bpp
		if !wordsEqual(fresh.Segment.Addr[freshStart:freshStart+n], fullscreen.Segment.Addr[fullStart:fullStart+n]) {
			return true
		}
	}
	return false
}

// wordsEqual compares two byte ranges four bytes at a time, matching the
// original's uint32_t-pointer row comparison (4-byte pixels assumed).
func wordsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	n := len(a) - len(a)%4
	for i := 0; i < n; i += 4 {
		if binary.LittleEndian.Uint32(a[i:]) != binary.LittleEndian.Uint32(b[i:]) {
			return false
		}
	}
	for i := n; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyRegion(dst, src *Image, x0, y0, bpp int) {
	for row := 0; row < dst.Height; row++ {
		srcStart := (y0+row)*src.BytesPerLine + x0*bpp
		dstStart := row * dst.BytesPerLine
		n := dst.Width * bpp
		copy(dst.Segment.Addr[dstStart:dstStart+n], src.Segment.Addr[srcStart:srcStart+n])
	}
}

// FindChangedTiles implements display_find_changed_tiles: reads one row
// into the scanline image, memcmp's it against fullscreen's same row,
// and on any difference splits the row into tileCount equal horizontal
// bands (the last absorbing any remainder), returning which bands differ.
func (s *Scanner) FindChangedTiles(y int) ([]bool, error) {
	s.mu.Lock()
	scanline, fullscreen, width, tileCount := s.scanline, s.fullscreen, s.width, s.tileCount
	s.mu.Unlock()

	if err := s.adapter.ReadShmImage(scanline, 0, y); err != nil {
		return nil, ErrReadFailure
	}

	bpp := scanline.BytesPerLine / width
	rowStart := y * fullscreen.BytesPerLine
	if wordsEqual(scanline.Segment.Addr[:width*bpp], fullscreen.Segment.Addr[rowStart:rowStart+width*bpp]) {
		return make([]bool, tileCount), nil
	}

	tiles := make([]bool, tileCount)
	bandW := width / tileCount
	for t := 0; t < tileCount; t++ {
		x0 := t * bandW
		w := bandW
		if t == tileCount-1 {
			w = width - x0
		}
		a := scanline.Segment.Addr[x0*bpp : (x0+w)*bpp]
		b := fullscreen.Segment.Addr[rowStart+x0*bpp : rowStart+(x0+w)*bpp]
		tiles[t] = !wordsEqual(a, b)
	}
	return tiles, nil
}

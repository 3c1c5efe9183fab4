// Package bridge implements the capture-and-forward engine that connects a
// running X11 display to a remote-protocol server hosted in the same
// process: damage/scan handling, shared-memory image pooling, resize
// reconciliation, release-token bookkeeping, and input/cursor forwarding.
package bridge

import "fmt"

// Segment is an OS-backed shared-memory region. shmid is the sentinel
// value emptySegment when the Segment does not refer to a live allocation.
type Segment struct {
	Shmid   int
	Size    int
	Shmseg  uint32 // handle the display server uses to address this segment
	Addr    []byte // process-mapped bytes, len == Size
}

const emptySegment = -1

func (s *Segment) String() string {
	if s == nil || s.Shmid == emptySegment {
		return "segment(empty)"
	}
	return fmt.Sprintf("segment(shmid=%d size=%d)", s.Shmid, s.Size)
}

// Image is a typed view over a Segment.
type Image struct {
	Segment      *Segment
	Width        int
	Height       int
	BytesPerLine int

	// Drawable back-references the draw command currently citing this
	// image, if any. Used only for diagnostics; ownership of the image
	// flows through the release token, not this pointer.
	Drawable *DrawCommand
}

// Rect is an axis-aligned rectangle in display coordinates.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) clip(boundW, boundH int) (Rect, bool) {
	if r.X < 0 || r.Y < 0 {
		return Rect{}, false
	}
	if r.X+r.W > boundW || r.Y+r.H > boundH {
		return Rect{}, false
	}
	return r, true
}

// ScanRequestKind tags a ScanRequest's meaning.
type ScanRequestKind int

const (
	DamageReport ScanRequestKind = iota
	ScanlineReport
	FullscreenReport
	FullscreenRequest
)

func (k ScanRequestKind) String() string {
	switch k {
	case DamageReport:
		return "damage_report"
	case ScanlineReport:
		return "scanline_report"
	case FullscreenReport:
		return "fullscreen_report"
	case FullscreenRequest:
		return "fullscreen_request"
	default:
		return "unknown"
	}
}

// ScanRequest is a tagged rectangle queued for the scan engine.
type ScanRequest struct {
	Kind ScanRequestKind
	Rect Rect
}

// ReleaseKind tags how a ReleaseToken frees its payload.
type ReleaseKind int

const (
	FreeImage ReleaseKind = iota
	FreeHeap
)

// ReleaseToken records how to free a command's backing memory. Exactly one
// of Image or Heap is populated, matching Kind.
type ReleaseToken struct {
	Kind  ReleaseKind
	Image *Image
	Heap  []byte
}

// DrawCommand pairs a rectangle of fresh pixels with the token that frees
// its backing image once the remote protocol server is done with it.
type DrawCommand struct {
	Rect  Rect
	Image *Image
	Token ReleaseToken
}

// CursorCommand carries a cursor image update analogous to DrawCommand.
type CursorCommand struct {
	X, Y             int
	HotspotX, HotspotY int
	Width, Height    int
	Pixels           []byte // ARGB
	Token             ReleaseToken
}

// MonitorInfo describes one entry in the display's monitor layout.
type MonitorInfo struct {
	X, Y, Width, Height int
}

// DamageTrust selects how the scan engine responds to damage notifications.
type DamageTrust int

const (
	TrustAuto DamageTrust = iota
	TrustAlways
	TrustNever
)

func ParseDamageTrust(s string) DamageTrust {
	switch s {
	case "always":
		return TrustAlways
	case "never":
		return TrustNever
	default:
		return TrustAuto
	}
}

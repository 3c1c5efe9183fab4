package bridge

import "encoding/binary"

// cursorTypeAlpha is the only cursor wire type this bridge emits: a
// premultiplied ARGB bitmap. The remote protocol also defines mono and
// color-with-mask cursor types, neither of which XFixesGetCursorImage
// produces.
const cursorTypeAlpha = 1

const cursorHeaderSize = 10 // type, width, height, hotspot_x, hotspot_y: 5 uint16

// BuildCursorCommand implements push_cursor_image (spec §4.5): one
// allocation sized for the cursor header plus its ARGB payload, so the
// FreeHeap release token frees both in a single step.
func BuildCursorCommand(x, y, hotspotX, hotspotY, width, height int, pixels []byte) CursorCommand {
	buf := make([]byte, cursorHeaderSize+len(pixels))
	binary.LittleEndian.PutUint16(buf[0:], cursorTypeAlpha)
	binary.LittleEndian.PutUint16(buf[2:], uint16(width))
	binary.LittleEndian.PutUint16(buf[4:], uint16(height))
	binary.LittleEndian.PutUint16(buf[6:], uint16(hotspotX))
	binary.LittleEndian.PutUint16(buf[8:], uint16(hotspotY))
	copy(buf[cursorHeaderSize:], pixels)

	return CursorCommand{
		X: x, Y: y,
		HotspotX: hotspotX, HotspotY: hotspotY,
		Width: width, Height: height,
		Pixels: buf[cursorHeaderSize:],
		Token:  ReleaseToken{Kind: FreeHeap, Heap: buf},
	}
}

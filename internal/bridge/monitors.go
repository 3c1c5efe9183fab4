package bridge

// monitorsEqual reports whether two monitor layouts describe the same set
// of rectangles in the same order, used to suppress spurious
// recreate-primary calls when XRANDR fires without an actual layout change.
func monitorsEqual(a, b []MonitorInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package bridge

// Worker is the minimal surface of the external remote protocol server's
// worker object that the Forwarder needs to hold onto: a way to wake a
// sleeping worker thread once new commands are queued. The bridge never
// binds a real remote-protocol library; this interface is the seam a
// concrete binding would satisfy.
type Worker interface {
	Wakeup()
}

// InitInfo mirrors the QXL-style init info a remote protocol server reads
// once at attach time.
type InitInfo struct {
	NumMemSlots int
	NumGroups   int
	NumSurfaces int
}

// MonitorsConfig is the client-requested layout passed to
// ClientMonitorsConfig. A nil pointer is the capability probe described
// in spec §4.4.
type MonitorsConfig struct {
	Monitors []MonitorInfo
}

// RemoteProtocolServer is the callback surface a remote protocol server
// invokes on its own worker thread (spec §4.4). Forwarder implements it.
type RemoteProtocolServer interface {
	AttachWorker(w Worker) bool
	GetInitInfo() InitInfo

	GetCommand() (*DrawCommand, bool)
	ReqCmdNotification() bool
	ReleaseResource(token ReleaseToken)

	GetCursorCommand() (*CursorCommand, bool)
	ReqCursorNotification() bool
	AsyncComplete(cookie uint64)

	SetCompressionLevel(level int)
	SetMMTime(t uint32)
	ClientMonitorsConfig(cfg *MonitorsConfig) bool

	KbdPushKey(frag byte)
	KbdGetLeds() byte
	TabletPosition(x, y int, buttonsState uint32)
	TabletWheel(wheelMotion int, buttonsState uint32)
	TabletButtons(buttonsState uint32)
}

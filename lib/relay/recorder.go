package relay

// Drop reasons passed to Recorder.FrameDropped.
const (
	DropMalformed          = "malformed"
	DropUnknownType        = "unknown_type"
	DropRateLimited        = "rate_limited"
	DropDeviceNotConnected = "device_not_connected"
	DropDeviceNotWritable  = "device_not_writable"
	DropAdminNotWritable   = "admin_not_writable"
	DropEncode             = "encode_failed"
)

// Recorder receives relay events for instrumentation. Implementations must
// be safe for concurrent use.
type Recorder interface {
	ConnectionOpened(role Role)
	ConnectionClosed(role Role)
	FrameReceived(role Role)
	FrameRelayed(kind string)
	FrameDropped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened(Role) {}
func (nopRecorder) ConnectionClosed(Role) {}
func (nopRecorder) FrameReceived(Role)    {}
func (nopRecorder) FrameRelayed(string)   {}
func (nopRecorder) FrameDropped(string)   {}

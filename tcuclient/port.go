package tcuclient

import "time"

// Port is the segmented transport below the client. Send enqueues one complete
// request; Recv returns one reassembled response or false when timeout expires.
// A client owns its port exclusively for a run, and Stop is called exactly once.
type Port interface {
	Start() error
	Stop() error
	Send(payload []byte) error
	Recv(timeout time.Duration) ([]byte, bool)
}

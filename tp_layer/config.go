package tp_layer

import (
	"fmt"
	"time"
)

// Config defines the configuration for the ISO-TP Transport.
type Config struct {
	// PaddingByte, if not nil, is used to pad frames up to 8 bytes (or TxDataMinLength).
	PaddingByte *byte

	// TxDataMinLength forces the transmitted data length to be at least this value.
	// If 0, no minimum is enforced beyond what PaddingByte implies.
	TxDataMinLength int

	TimeoutN_Bs time.Duration // Time until reception of FlowControl
	TimeoutN_Cr time.Duration // Time until reception of next CF

	// Receiver side flow control parameters advertised to the peer.
	BlockSize int
	StMin     int // milliseconds

	// MaxWaitFrame is the number of FlowControl WAIT frames tolerated per transfer.
	// 0 means WAIT frames are not supported.
	MaxWaitFrame int

	// MaxFrameSize is the largest payload accepted from a first frame.
	MaxFrameSize int

	// BlockingSend makes Send wait until the transfer is complete.
	BlockingSend        bool
	BlockingSendTimeout time.Duration

	// RxQueueSize is the number of reassembled payloads buffered for Recv.
	RxQueueSize int
}

// DefaultConfig returns ISO-15765-2 recommended timings.
func DefaultConfig() Config {
	return Config{
		TimeoutN_Bs: 1000 * time.Millisecond,
		TimeoutN_Cr: 1000 * time.Millisecond,

		BlockSize: 0,  // 0 means unlimited
		StMin:     20, // ms

		MaxWaitFrame: 20,
		MaxFrameSize: 4095,

		BlockingSend:        false,
		BlockingSendTimeout: 5 * time.Second,

		RxQueueSize: 10,
	}
}

// Validate checks the configuration parameters are in range.
func (c *Config) Validate() error {
	if c.StMin < 0 || c.StMin > 0x7F {
		return fmt.Errorf("stmin %d out of range 0..127 ms", c.StMin)
	}
	if c.BlockSize < 0 || c.BlockSize > 0xFF {
		return fmt.Errorf("blocksize %d out of range 0..255", c.BlockSize)
	}
	if c.MaxWaitFrame < 0 {
		return fmt.Errorf("max wait frame %d must not be negative", c.MaxWaitFrame)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max frame size %d must be positive", c.MaxFrameSize)
	}
	if c.TxDataMinLength < 0 || c.TxDataMinLength > 64 {
		return fmt.Errorf("tx data min length %d out of range 0..64", c.TxDataMinLength)
	}
	if c.TimeoutN_Bs <= 0 || c.TimeoutN_Cr <= 0 {
		return fmt.Errorf("N_Bs/N_Cr timeouts must be positive")
	}
	if c.BlockingSend && c.BlockingSendTimeout <= 0 {
		return fmt.Errorf("blocking send requires a positive timeout")
	}
	if c.RxQueueSize <= 0 {
		return fmt.Errorf("rx queue size %d must be positive", c.RxQueueSize)
	}
	return nil
}

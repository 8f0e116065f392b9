package tcuclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Options holds the timing policy of the exchange engine.
type Options struct {
	SessionTimeout time.Duration // wait for the session answer
	ReadTimeout    time.Duration // wait per read attempt
	ReadAttempts   int           // sends per parameter, including the first
	WriteTimeout   time.Duration // wait for the write acknowledgement
	PendingTimeout time.Duration // extra wait after NRC 0x78
	MaxPending     int           // 0x78 answers tolerated per request
}

// DefaultOptions returns the timings the unit is known to work with.
func DefaultOptions() Options {
	return Options{
		SessionTimeout: 1 * time.Second,
		ReadTimeout:    7 * time.Second,
		ReadAttempts:   5,
		WriteTimeout:   2 * time.Second,
		PendingTimeout: 5 * time.Second,
		MaxPending:     10,
	}
}

// Validate checks the options are usable.
func (o Options) Validate() error {
	if o.SessionTimeout <= 0 || o.ReadTimeout <= 0 || o.WriteTimeout <= 0 {
		return errors.New("session, read and write timeouts must be positive")
	}
	if o.ReadAttempts < 1 {
		return fmt.Errorf("read attempts %d must be at least 1", o.ReadAttempts)
	}
	if o.MaxPending < 0 {
		return fmt.Errorf("max pending %d must not be negative", o.MaxPending)
	}
	if o.MaxPending > 0 && o.PendingTimeout <= 0 {
		return errors.New("pending timeout must be positive")
	}
	return nil
}

// Client issues one request at a time over an exclusively owned Port.
type Client struct {
	port  Port
	opts  Options
	log   zerolog.Logger
	state SessionState
}

// NewClient wraps a started port.
func NewClient(port Port, opts Options, logger zerolog.Logger) *Client {
	return &Client{port: port, opts: opts, log: logger}
}

// State returns the session state.
func (c *Client) State() SessionState { return c.state }

// ReadResult is one decoded read.
type ReadResult struct {
	Descriptor Descriptor
	Value      Value
	Raw        []byte
	Attempts   int
}

// ReadParameter sends 21 <id> until an answer arrives or the attempts run out.
// Timeouts and busy answers are retried; a malformed answer is not.
func (c *Client) ReadParameter(desc Descriptor) (ReadResult, error) {
	res := ReadResult{Descriptor: desc}
	if c.state != SessionOpen {
		return res, ErrSessionClosed
	}

	req := readRequest(desc.ID)
	for attempt := 1; attempt <= c.opts.ReadAttempts; attempt++ {
		res.Attempts = attempt
		if attempt > 1 {
			c.log.Warn().Str("name", desc.Name).Msgf("read retry (%d/%d)", attempt, c.opts.ReadAttempts)
		}

		resp, err := c.exchange(req, c.opts.ReadTimeout)
		if err != nil {
			var nr *NegativeResponseError
			if !errors.As(err, &nr) {
				return res, err
			}
			res.Raw = resp
			if nr.IsRetryable() {
				c.log.Warn().Str("name", desc.Name).Err(nr).Msg("unit busy")
				continue
			}
			return res, fmt.Errorf("%w: %s: %w", ErrDecodeFailed, desc.Name, nr)
		}
		if len(resp) == 0 {
			continue
		}

		res.Raw = resp
		if want := byte(SIDReadDataByLocalID + PositiveResponseOffset); resp[0] != want {
			return res, fmt.Errorf("%w: %s: %w: got 0x%02X, want 0x%02X", ErrDecodeFailed, desc.Name, ErrUnexpectedResponse, resp[0], want)
		}
		if len(resp) > 1 && resp[1] != desc.ID {
			c.log.Warn().Str("name", desc.Name).Msgf("response echoes id 0x%02X, requested 0x%02X", resp[1], desc.ID)
		}

		v, err := Decode(desc, resp)
		if err != nil {
			return res, fmt.Errorf("%w: %s: %w", ErrDecodeFailed, desc.Name, err)
		}
		res.Value = v
		return res, nil
	}

	return res, fmt.Errorf("%w: %s after %d attempts", ErrNoResponse, desc.Name, c.opts.ReadAttempts)
}

// WriteParameter sends one write frame and waits once for the acknowledgement.
// Writes are never retried. A missing acknowledgement is logged, not returned.
func (c *Client) WriteParameter(desc Descriptor, value []byte) ([]byte, error) {
	if !desc.Writable {
		return nil, fmt.Errorf("%w: %s", ErrNotWritable, desc.Name)
	}
	frame, err := Encode(desc, value)
	if err != nil {
		return nil, err
	}
	if c.state != SessionOpen {
		return nil, ErrSessionClosed
	}

	c.log.Info().Str("name", desc.Name).Str("frame", hexUpper(frame)).Msg("write parameter")
	resp, err := c.exchange(frame, c.opts.WriteTimeout)
	if err != nil {
		return resp, err
	}
	if len(resp) == 0 {
		c.log.Warn().Str("name", desc.Name).Dur("timeout", c.opts.WriteTimeout).Msg("no write acknowledgement")
		return nil, nil
	}
	c.log.Info().Str("name", desc.Name).Str("response", hexUpper(resp)).Msg("write response")
	return resp, nil
}

// exchange sends req and waits for one answer. It returns (nil, nil) on
// timeout, a *TransportError when the send fails and a
// *NegativeResponseError for 7F answers other than response pending.
func (c *Client) exchange(req []byte, timeout time.Duration) ([]byte, error) {
	c.drain()

	c.log.Debug().Str("dir", "TX").Str("data", hexUpper(req)).Msg("frame")
	if err := c.port.Send(req); err != nil {
		return nil, &TransportError{Op: fmt.Sprintf("send 0x%02X", req[0]), Err: err}
	}

	pending := 0
	wait := timeout
	for {
		resp, ok := c.port.Recv(wait)
		if !ok || len(resp) == 0 {
			return nil, nil
		}
		c.log.Debug().Str("dir", "RX").Str("data", hexUpper(resp)).Msg("frame")

		nr := parseNegativeResponse(resp)
		if nr == nil {
			return resp, nil
		}
		if nr.NRC == NRCResponsePending && pending < c.opts.MaxPending {
			pending++
			wait = c.opts.PendingTimeout
			c.log.Debug().Msgf("response pending (SID=0x%02X), waiting", nr.ServiceID)
			continue
		}
		return resp, nr
	}
}

// drain discards answers left over from an earlier timed-out request.
func (c *Client) drain() {
	for {
		stale, ok := c.port.Recv(0)
		if !ok {
			return
		}
		c.log.Debug().Str("data", hexUpper(stale)).Msg("discarding stale response")
	}
}

func hexUpper(b []byte) string {
	return fmt.Sprintf("%X", b)
}

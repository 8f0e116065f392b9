package tcuclient

import (
	"errors"
	"fmt"
)

// SessionState tracks the diagnostic session handshake.
type SessionState uint8

const (
	SessionClosed SessionState = iota
	SessionOpen
)

func (s SessionState) String() string {
	if s == SessionOpen {
		return "open"
	}
	return "closed"
}

// StartSession sends 10 C0 and waits once for an answer. A missing or negative
// answer returns ErrSessionUnacknowledged but the session is still treated as
// open: the unit often answers reads without an explicit session.
func (c *Client) StartSession() ([]byte, error) {
	c.log.Info().Msgf("starting diagnostic session 0x%02X", DiagnosticSessionID)

	resp, err := c.exchange(sessionRequest(), c.opts.SessionTimeout)
	if err != nil {
		var nr *NegativeResponseError
		if errors.As(err, &nr) {
			c.state = SessionOpen
			c.log.Warn().Err(nr).Msg("session start rejected, continuing")
			return resp, fmt.Errorf("%w: %w", ErrSessionUnacknowledged, nr)
		}
		return nil, err
	}

	c.state = SessionOpen
	if len(resp) == 0 {
		c.log.Warn().Dur("timeout", c.opts.SessionTimeout).Msg("no session response, continuing")
		return nil, ErrSessionUnacknowledged
	}
	c.log.Info().Str("response", hexUpper(resp)).Msg("session response")
	return resp, nil
}

// Package tcusim simulates the configuration service of a TCU on a virtual CAN
// bus. It runs its own ISO-TP transport on the far side of a driver.MockCan.
package tcusim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LoveWonYoung/tcucfg/driver"
	"github.com/LoveWonYoung/tcucfg/tcuclient"
	"github.com/LoveWonYoung/tcucfg/tp_layer"
	"github.com/rs/zerolog"
)

const (
	busBufferSize = 100
	pollInterval  = 20 * time.Millisecond
)

// Fault makes the unit misbehave for one parameter id. The first Drop requests
// get no answer, the following NRCCount requests get a 7F answer with NRC.
type Fault struct {
	Drop     int
	NRC      byte
	NRCCount int
}

// Unit is a simulated TCU.
type Unit struct {
	mu             sync.Mutex
	registry       *tcuclient.Registry
	store          map[byte][]byte
	faults         map[byte]*Fault
	requests       [][]byte
	silentSession  bool
	sessionStarted bool

	bus       *driver.MockCan
	transport *tp_layer.Transport
	log       zerolog.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a unit that answers requests sent to client.TxID and replies on
// client.RxID. cfg tunes the unit's own ISO-TP stack.
func New(bus *driver.MockCan, client *tp_layer.Address, cfg tp_layer.Config, registry *tcuclient.Registry, logger zerolog.Logger) (*Unit, error) {
	if bus == nil || client == nil || registry == nil {
		return nil, errors.New("bus, address and registry are required")
	}
	peer, err := client.Reversed()
	if err != nil {
		return nil, fmt.Errorf("derive unit address: %w", err)
	}
	cfg.BlockingSend = false
	transport, err := tp_layer.NewTransport(peer, cfg)
	if err != nil {
		return nil, err
	}

	u := &Unit{
		registry:  registry,
		store:     make(map[byte][]byte),
		faults:    make(map[byte]*Fault),
		bus:       bus,
		transport: transport,
		log:       logger.With().Str("component", "tcusim").Logger(),
	}
	u.seed()
	return u, nil
}

func (u *Unit) seed() {
	for _, d := range u.registry.List() {
		switch d.Encoding {
		case tcuclient.Flag:
			u.store[d.ID] = []byte{0x01}
		case tcuclient.SignalQuality:
			u.store[d.ID] = []byte{3, 5, 0}
		default:
			u.store[d.ID] = nil
		}
	}
	if d, err := u.registry.Find("vin"); err == nil {
		u.store[d.ID] = []byte("SJNFAAZE0U6000001")
	}
}

// Set overrides the stored raw value of a parameter.
func (u *Unit) Set(name string, value []byte) error {
	d, err := u.registry.Find(name)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.store[d.ID] = append([]byte(nil), value...)
	return nil
}

// Value returns the stored raw value of a parameter.
func (u *Unit) Value(name string) ([]byte, error) {
	d, err := u.registry.Find(name)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.store[d.ID]...), nil
}

// InjectFault installs f for the named parameter.
func (u *Unit) InjectFault(name string, f Fault) error {
	d, err := u.registry.Find(name)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.faults[d.ID] = &f
	return nil
}

// SilentSession stops the unit from answering session start requests.
func (u *Unit) SilentSession(silent bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.silentSession = silent
}

// Requests returns every request the unit has received.
func (u *Unit) Requests() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([][]byte, len(u.requests))
	for i, r := range u.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// SessionStarted reports whether a session start request was seen.
func (u *Unit) SessionStarted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessionStarted
}

// Start hooks the unit onto the bus.
func (u *Unit) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel

	rx := make(chan tp_layer.CanMessage, busBufferSize)
	tx := make(chan tp_layer.CanMessage, busBufferSize)

	// 客户端写到总线上的报文交给模拟单元
	u.bus.OnWrite(func(id uint32, data []byte) {
		select {
		case rx <- tp_layer.CanMessage{ArbitrationID: id, Data: data, IsExtendedID: id > 0x7FF}:
		default:
			u.log.Warn().Msg("unit receive buffer full, frame dropped")
		}
	})

	u.wg.Add(3)
	go func() {
		defer u.wg.Done()
		u.transport.Run(ctx, rx, tx)
	}()
	go func() {
		defer u.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-tx:
				if err := u.bus.InjectMessage(msg.ArbitrationID, msg.Data); err != nil {
					u.log.Debug().Err(err).Msg("bus not accepting frames")
				}
			case err := <-u.transport.ErrorChan:
				u.log.Debug().Err(err).Msg("unit ISO-TP error")
			}
		}
	}()
	go func() {
		defer u.wg.Done()
		u.serve(ctx)
	}()
}

// Stop detaches the unit from the bus.
func (u *Unit) Stop() {
	u.bus.OnWrite(nil)
	if u.cancel != nil {
		u.cancel()
	}
	u.wg.Wait()
}

func (u *Unit) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		req, ok := u.transport.Recv(pollInterval)
		if !ok {
			continue
		}
		resp := u.Handle(req)
		if resp == nil {
			continue
		}
		if err := u.transport.Send(resp); err != nil {
			u.log.Warn().Err(err).Msg("unit failed to queue response")
		}
	}
}

// Handle computes the answer to one request; nil means no answer.
func (u *Unit) Handle(req []byte) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, append([]byte(nil), req...))
	u.log.Debug().Str("data", fmt.Sprintf("%X", req)).Msg("unit request")

	if len(req) == 0 {
		return nil
	}
	sid := req[0]
	switch sid {
	case tcuclient.SIDStartDiagnosticSession:
		u.sessionStarted = true
		if u.silentSession {
			return nil
		}
		if len(req) < 2 {
			return negative(sid, tcuclient.NRCIncorrectMessageLength)
		}
		return []byte{sid + tcuclient.PositiveResponseOffset, req[1]}

	case tcuclient.SIDReadDataByLocalID:
		if len(req) != 2 {
			return negative(sid, tcuclient.NRCIncorrectMessageLength)
		}
		if resp, faulted := u.fault(req[1], sid); faulted {
			return resp
		}
		d, ok := u.registry.ByID(req[1])
		if !ok {
			return negative(sid, tcuclient.NRCRequestOutOfRange)
		}
		return u.readResponse(d)

	case tcuclient.SIDWriteDataByLocalID:
		if len(req) < 3 || req[2] != tcuclient.WriteTargetMarker {
			return negative(sid, tcuclient.NRCIncorrectMessageLength)
		}
		if resp, faulted := u.fault(req[1], sid); faulted {
			return resp
		}
		d, ok := u.registry.ByID(req[1])
		if !ok || !d.Writable {
			return negative(sid, tcuclient.NRCRequestOutOfRange)
		}
		value := bytes.TrimRight(req[3:], "\x00")
		if d.Encoding == tcuclient.Flag && len(value) > 1 {
			value = value[:1]
		}
		u.store[d.ID] = append([]byte(nil), value...)
		return []byte{sid + tcuclient.PositiveResponseOffset, d.ID}
	}
	return negative(sid, tcuclient.NRCServiceNotSupported)
}

func (u *Unit) fault(id, sid byte) ([]byte, bool) {
	f, ok := u.faults[id]
	if !ok {
		return nil, false
	}
	if f.Drop > 0 {
		f.Drop--
		return nil, true
	}
	if f.NRCCount > 0 {
		f.NRCCount--
		return negative(sid, f.NRC), true
	}
	return nil, false
}

func (u *Unit) readResponse(d tcuclient.Descriptor) []byte {
	value := u.store[d.ID]
	resp := []byte{tcuclient.SIDReadDataByLocalID + tcuclient.PositiveResponseOffset, d.ID}
	switch d.Encoding {
	case tcuclient.Flag:
		flag := byte(0)
		if len(value) > 0 {
			flag = value[0]
		}
		return append(resp, flag)
	case tcuclient.SignalQuality:
		triple := make([]byte, 3)
		copy(triple, value)
		return append(resp, triple...)
	}
	n := d.FieldLength
	if n == 0 {
		n = len(value)
	}
	field := make([]byte, n)
	copy(field, value)
	resp = append(resp, 0x00)
	return append(resp, field...)
}

func negative(sid, nrc byte) []byte {
	return []byte{tcuclient.SIDNegativeResponse, sid, nrc}
}

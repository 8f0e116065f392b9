package tp_layer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var canFdSizes = []int{8, 12, 16, 20, 24, 32, 48, 64}

type txRequest struct {
	payload []byte
	done    chan error // 缓冲为1，发送结束时写入结果
}

// Transport 是ISOTP协议栈的核心结构，所有状态只在 Run 的 goroutine 中修改
type Transport struct {
	address       *Address
	isFD          bool
	maxDataLength int
	config        Config

	rxState        State
	rxBuffer       []byte
	rxFrameLen     int
	rxSeqNum       int
	rxBlockCounter int

	txState         State
	txBuffer        []byte
	txSeqNum        int
	txBlockCounter  int
	remoteBlocksize int
	remoteStmin     time.Duration
	wftCounter      int
	current         *txRequest

	rxDataChan chan []byte
	txDataChan chan *txRequest
	stopped    chan struct{}
	stopOnce   sync.Once

	timerRxCF    *time.Timer
	timerRxFC    *time.Timer
	timerTxSTmin *time.Timer

	// ErrorChan 接收协议层错误，写入是非阻塞的
	ErrorChan chan error
}

// NewTransport validates cfg and builds a stopped transport for address.
func NewTransport(address *Address, cfg Config) (*Transport, error) {
	if address == nil {
		return nil, errors.New("ISO-TP address must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ISO-TP config: %w", err)
	}

	t := &Transport{
		address:       address,
		maxDataLength: 8,
		config:        cfg,
		rxDataChan:    make(chan []byte, cfg.RxQueueSize),
		txDataChan:    make(chan *txRequest, 10),
		stopped:       make(chan struct{}),
		timerRxCF:     time.NewTimer(time.Hour),
		timerRxFC:     time.NewTimer(time.Hour),
		timerTxSTmin:  time.NewTimer(time.Hour),
		ErrorChan:     make(chan error, 10),
	}
	stopTimer(t.timerRxCF)
	stopTimer(t.timerRxFC)
	stopTimer(t.timerTxSTmin)
	return t, nil
}

// SetFDMode switches between classic CAN (8 bytes) and CAN FD (64 bytes) frames.
// It must be called before Run.
func (t *Transport) SetFDMode(isFD bool) {
	t.isFD = isFD
	if isFD {
		t.maxDataLength = 64
	} else {
		t.maxDataLength = 8
	}
}

// Send queues a payload without blocking on the bus. With Config.BlockingSend it
// then waits for the transfer to finish and reports BlockingSendFailure or
// BlockingSendTimeout.
func (t *Transport) Send(data []byte) error {
	if len(data) == 0 {
		return errors.New("ISO-TP payload must not be empty")
	}
	req := &txRequest{payload: append([]byte(nil), data...), done: make(chan error, 1)}

	select {
	case <-t.stopped:
		return BlockingSendFailure{NewIsoTpError("transport stopped")}
	default:
	}
	select {
	case t.txDataChan <- req:
	default:
		return BlockingSendFailure{NewIsoTpError("transmit queue full")}
	}

	if !t.config.BlockingSend {
		return nil
	}

	timer := time.NewTimer(t.config.BlockingSendTimeout)
	defer timer.Stop()
	select {
	case err := <-req.done:
		if err != nil {
			return BlockingSendFailure{NewIsoTpError(fmt.Sprintf("blocking send failed: %v", err))}
		}
		return nil
	case <-t.stopped:
		return BlockingSendFailure{NewIsoTpError("transport stopped during send")}
	case <-timer.C:
		return BlockingSendTimeout{}
	}
}

// Recv waits up to timeout for a reassembled payload. A non-positive timeout polls.
func (t *Transport) Recv(timeout time.Duration) ([]byte, bool) {
	if timeout <= 0 {
		select {
		case data := <-t.rxDataChan:
			return data, true
		default:
			return nil, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-t.rxDataChan:
		return data, true
	case <-timer.C:
		return nil, false
	case <-t.stopped:
		return nil, false
	}
}

// Run drives the protocol state machine until ctx is cancelled. Frames from
// rxChan are processed and outgoing frames are written to txChan.
func (t *Transport) Run(ctx context.Context, rxChan <-chan CanMessage, txChan chan<- CanMessage) {
	defer t.cleanup()

	for {
		// 发送空闲时才接受新的发送请求
		var txReady <-chan *txRequest
		if t.txState == StateIdle {
			txReady = t.txDataChan
		}

		select {
		case <-ctx.Done():
			return

		case msg, ok := <-rxChan:
			if !ok {
				rxChan = nil
				continue
			}
			t.ProcessRx(msg, txChan)

		case req := <-txReady:
			t.initiateTx(req, txChan)

		case <-t.timerRxCF.C:
			t.fireError(ConsecutiveFrameTimeoutError{})
			t.stopReceiving()

		case <-t.timerRxFC.C:
			t.finishTx(FlowControlTimeoutError{})

		case <-t.timerTxSTmin.C:
			if t.txState == StateTransmit {
				t.handleTxTransmit(txChan)
			}
		}
	}
}

func (t *Transport) cleanup() {
	if t.current != nil {
		t.current.done <- NewIsoTpError("transport stopped")
		t.current = nil
	}
	t.stopReceiving()
	t.stopSending()
	t.stopOnce.Do(func() { close(t.stopped) })
}

func (t *Transport) stopReceiving() {
	t.rxState = StateIdle
	t.rxBuffer = nil
	t.rxFrameLen = 0
	t.rxSeqNum = 0
	t.rxBlockCounter = 0
	stopTimer(t.timerRxCF)
}

func (t *Transport) stopSending() {
	t.txState = StateIdle
	t.txBuffer = nil
	t.txSeqNum = 0
	t.txBlockCounter = 0
	t.remoteBlocksize = 0
	t.remoteStmin = 0
	t.wftCounter = 0
	stopTimer(t.timerRxFC)
	stopTimer(t.timerTxSTmin)
}

// finishTx 结束当前发送，通知阻塞的 Send 并复位发送状态
func (t *Transport) finishTx(err error) {
	if err != nil {
		t.fireError(err)
	}
	if t.current != nil {
		t.current.done <- err
		t.current = nil
	}
	t.stopSending()
}

// txCapacity 是单帧可用的字节数，扣除地址扩展前缀
func (t *Transport) txCapacity() int {
	return t.maxDataLength - len(t.address.TxPayloadPrefix)
}

// emit 非阻塞地把一帧写入发送通道
func (t *Transport) emit(data []byte, txChan chan<- CanMessage) error {
	select {
	case txChan <- t.makeTxMsg(data, Physical):
		return nil
	default:
		return NewIsoTpError("transmit channel full, frame dropped")
	}
}

func (t *Transport) makeTxMsg(data []byte, addrType AddressType) CanMessage {
	payload := make([]byte, 0, t.maxDataLength)
	payload = append(payload, t.address.TxPayloadPrefix...)
	payload = append(payload, data...)

	targetLen := t.config.TxDataMinLength
	if targetLen == 0 && t.config.PaddingByte != nil {
		targetLen = 8
		if t.isFD {
			targetLen = nearestCanFdSize(len(payload))
		}
	}
	if len(payload) < targetLen {
		pad := byte(0xCC)
		if t.config.PaddingByte != nil {
			pad = *t.config.PaddingByte
		}
		for len(payload) < targetLen {
			payload = append(payload, pad)
		}
	}

	return CanMessage{
		ArbitrationID: t.address.GetTxArbitrationID(addrType),
		Data:          payload,
		IsExtendedID:  t.address.Is29Bit(),
		IsFD:          t.isFD,
	}
}

func nearestCanFdSize(n int) int {
	for _, size := range canFdSizes {
		if n <= size {
			return size
		}
	}
	return 64
}

// fireError sends an error to the ErrorChan. Non-blocking; errors are dropped when full.
func (t *Transport) fireError(err error) {
	select {
	case t.ErrorChan <- err:
	default:
	}
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	stopTimer(timer)
	timer.Reset(d)
}

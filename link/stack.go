package link

import (
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

// 通道缓冲区大小常量
const (
	adapterRxBufferSize = 100 // 适配器接收缓冲区大小
	adapterTxBufferSize = 100 // 适配器发送缓冲区大小
)

// ErrSendFailed is returned by Send when the ISO-TP layer could not deliver a request.
var ErrSendFailed = errors.New("blocking send failed")

// ErrNotStarted is returned by Send before Start or after Stop.
var ErrNotStarted = errors.New("link stack not started")

var _ tcuclient.Port = (*Stack)(nil)

// Stack 把 CAN 驱动和 ISO-TP 协议栈组合成一个请求/应答端口
type Stack struct {
	dev       driver.CANDriver
	address   *tp_layer.Address
	cfg       tp_layer.Config
	fd        bool
	log       zerolog.Logger
	mu        sync.Mutex
	transport *tp_layer.Transport
	adapter   *driver.Adapter
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	stopOnce  sync.Once
}

// New prepares a stack; nothing is opened until Start.
func New(dev driver.CANDriver, address *tp_layer.Address, cfg tp_layer.Config, logger zerolog.Logger) *Stack {
	return &Stack{
		dev:     dev,
		address: address,
		cfg:     cfg,
		log:     logger,
	}
}

// SetFDMode selects CAN FD framing. Must be called before Start.
func (s *Stack) SetFDMode(isFD bool) {
	s.fd = isFD
}

// Start 初始化驱动并启动所有后台 goroutine
func (s *Stack) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("link stack already started")
	}

	transport, err := tp_layer.NewTransport(s.address, s.cfg)
	if err != nil {
		return err
	}
	transport.SetFDMode(s.fd)

	adapter, err := driver.NewAdapter(s.dev, s.log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rxFromAdapter := make(chan tp_layer.CanMessage, adapterRxBufferSize)
	txToAdapter := make(chan tp_layer.CanMessage, adapterTxBufferSize)

	s.transport = transport
	s.adapter = adapter
	s.cancel = cancel
	s.started = true

	// a. 从适配器接收报文，送入协议栈
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-adapter.Messages():
				if !ok {
					s.log.Debug().Msg("driver receive channel closed")
					return
				}
				select {
				case rxFromAdapter <- adapter.Convert(m):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	// b. 从协议栈取出待发送报文，交给驱动
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-txToAdapter:
				if err := adapter.TxFunc(msg); err != nil {
					s.log.Error().Err(err).Msg("CAN write failed")
				}
			}
		}
	}()

	// c. 驱动协议栈核心状态机
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		transport.Run(ctx, rxFromAdapter, txToAdapter)
	}()

	// d. 记录协议栈错误
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-transport.ErrorChan:
				s.log.Warn().Str("kind", fmt.Sprintf("%T", err)).Err(err).Msg("IsoTp error happened")
			}
		}
	}()

	s.log.Info().
		Str("tx_id", fmt.Sprintf("0x%03X", s.address.TxID)).
		Str("rx_id", fmt.Sprintf("0x%03X", s.address.RxID)).
		Int("stmin", s.cfg.StMin).
		Int("blocksize", s.cfg.BlockSize).
		Bool("blocking_send", s.cfg.BlockingSend).
		Msg("link stack started")
	return nil
}

// Stop 停止所有 goroutine 并关闭驱动。多次调用只生效一次
func (s *Stack) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		if s.adapter != nil {
			s.adapter.Close()
		} else if s.dev != nil {
			// Start 失败时驱动可能已经部分初始化
			s.dev.Stop()
		}
		s.started = false
		s.log.Info().Msg("link stack stopped")
	})
	return nil
}

// Send 发送一条完整请求；阻塞发送失败或超时映射为 ErrSendFailed
func (s *Stack) Send(payload []byte) error {
	t := s.current()
	if t == nil {
		return ErrNotStarted
	}
	if err := t.Send(payload); err != nil {
		if tp_layer.IsBlockingSendFailure(err) {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		return err
	}
	return nil
}

// Recv 等待一条重组完成的应答
func (s *Stack) Recv(timeout time.Duration) ([]byte, bool) {
	t := s.current()
	if t == nil {
		return nil, false
	}
	return t.Recv(timeout)
}

func (s *Stack) current() *tp_layer.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	return s.transport
}

package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MockCan 是虚拟 CAN 驱动实现
// 用于开发和测试，不依赖实际硬件；对端（例如模拟 TCU）通过 OnWrite 钩子接收报文，
// 通过 InjectMessage 回送报文。
type MockCan struct {
	mu       sync.Mutex
	rxChan   chan UnifiedCANMessage
	ctx      context.Context
	cancel   context.CancelFunc
	canType  CanType
	running  bool
	stopped  bool
	writeLog []WriteRecord // 记录写入的数据
	onWrite  func(id uint32, data []byte)
	initErr  error
	log      zerolog.Logger
}

// WriteRecord 记录一次写入操作
type WriteRecord struct {
	ID        int32
	Data      []byte
	Timestamp time.Time
}

// NewMockCan 创建一个新的虚拟 CAN 设备实例
func NewMockCan(canType CanType, logger zerolog.Logger) *MockCan {
	ctx, cancel := context.WithCancel(context.Background())
	return &MockCan{
		rxChan:  make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		canType: canType,
		log:     logger,
	}
}

// Init 初始化虚拟设备；SetInitError 可模拟初始化失败
func (c *MockCan) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initErr != nil {
		return c.initErr
	}
	c.log.Debug().Msg("[Mock] CAN device initialised")
	return nil
}

// Start 启动虚拟设备
func (c *MockCan) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running || c.stopped {
		return
	}
	c.running = true
	c.log.Debug().Msg("[Mock] CAN device started")
}

// Stop 停止虚拟设备并关闭接收通道，重复调用无副作用
func (c *MockCan) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.running = false
	c.stopped = true
	c.cancel()
	close(c.rxChan)
	c.log.Debug().Msg("[Mock] CAN device stopped")
}

// Write 写入数据到虚拟总线
func (c *MockCan) Write(id int32, data []byte) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("device not started")
	}

	frame := append([]byte{}, data...)
	c.writeLog = append(c.writeLog, WriteRecord{
		ID:        id,
		Data:      frame,
		Timestamp: time.Now(),
	})
	hook := c.onWrite
	c.mu.Unlock()

	c.log.Trace().Str("type", c.canType.String()).Msgf("[Mock] TX ID=0x%03X, DLC=%02d, Data=% 02X", id, len(data), data)

	// 钩子在锁外调用，对端可以在回调里直接 InjectMessage
	if hook != nil {
		hook(uint32(id), frame)
	}
	return nil
}

// RxChan 返回接收通道
func (c *MockCan) RxChan() <-chan UnifiedCANMessage {
	return c.rxChan
}

// Context 返回设备上下文
func (c *MockCan) Context() context.Context {
	return c.ctx
}

// ============================================================================
// Mock 专用方法
// ============================================================================

// InjectMessage 向接收通道注入一条消息 (模拟接收)
func (c *MockCan) InjectMessage(id uint32, data []byte) error {
	if len(data) > 64 {
		return fmt.Errorf("data length %d exceeds 64", len(data))
	}

	var dataArr [64]byte
	copy(dataArr[:], data)
	msg := UnifiedCANMessage{
		ID:         id,
		DLC:        byte(len(data)),
		Data:       dataArr,
		IsFD:       c.canType == CANFD,
		IsExtended: id > 0x7FF,
	}

	// 持锁发送，避免与 Stop 中的 close 竞争
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return fmt.Errorf("device not started")
	}

	select {
	case c.rxChan <- msg:
		c.log.Trace().Str("type", c.canType.String()).Msgf("[Mock] RX ID=0x%03X, DLC=%02d, Data=% 02X", id, len(data), data)
		return nil
	default:
		return fmt.Errorf("receive channel full")
	}
}

// OnWrite 注册写入钩子，每次 Write 成功后以帧副本调用
func (c *MockCan) OnWrite(fn func(id uint32, data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

// SetInitError 让下一次 Init 返回指定错误
func (c *MockCan) SetInitError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initErr = err
}

// GetWriteLog 获取写入日志
func (c *MockCan) GetWriteLog() []WriteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WriteRecord{}, c.writeLog...)
}

// IsRunning 检查设备是否正在运行
func (c *MockCan) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

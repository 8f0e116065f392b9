package driver

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// SLCAN (Lawicel) 串口 ASCII 协议驱动，适用于 CANUSB 一类的适配器。

const (
	slcanTerminator = '\r'
	slcanBell       = 0x07 // 适配器返回的错误应答
	slcanReadChunk  = 256
	slcanMaxLine    = 64
)

var slcanBitrates = map[int]byte{
	10_000:    '0',
	20_000:    '1',
	50_000:    '2',
	100_000:   '3',
	125_000:   '4',
	250_000:   '5',
	500_000:   '6',
	800_000:   '7',
	1_000_000: '8',
}

// SLCANConfig 描述串口和总线参数
type SLCANConfig struct {
	Channel     string        // 串口名，例如 /dev/ttyUSB0 或 COM4
	TTYBaudrate int           // 串口波特率
	Bitrate     int           // CAN 总线比特率
	ReadTimeout time.Duration // 单次串口读取超时，决定读循环响应 Stop 的速度
}

// DefaultSLCANConfig 返回 CANUSB 常用配置
func DefaultSLCANConfig(channel string) SLCANConfig {
	return SLCANConfig{
		Channel:     channel,
		TTYBaudrate: 921600,
		Bitrate:     500_000,
		ReadTimeout: 50 * time.Millisecond,
	}
}

// SLCAN 实现 CANDriver
type SLCAN struct {
	cfg      SLCANConfig
	port     serial.Port
	writeMu  sync.Mutex
	rxChan   chan UnifiedCANMessage
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
	log      zerolog.Logger
}

// NewSLCAN 创建驱动实例，串口在 Init 中打开
func NewSLCAN(cfg SLCANConfig, logger zerolog.Logger) *SLCAN {
	ctx, cancel := context.WithCancel(context.Background())
	return &SLCAN{
		cfg:    cfg,
		rxChan: make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    logger,
	}
}

// Init 打开串口，设置比特率并打开 CAN 通道
func (c *SLCAN) Init() error {
	code, ok := slcanBitrates[c.cfg.Bitrate]
	if !ok {
		return fmt.Errorf("unsupported SLCAN bitrate %d", c.cfg.Bitrate)
	}

	port, err := serial.Open(c.cfg.Channel, &serial.Mode{
		BaudRate: c.cfg.TTYBaudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", c.cfg.Channel, err)
	}
	if err := c.setup(port, code); err != nil {
		port.Close()
		return err
	}

	c.log.Info().
		Str("channel", c.cfg.Channel).
		Int("tty_baudrate", c.cfg.TTYBaudrate).
		Int("bitrate", c.cfg.Bitrate).
		Msg("SLCAN channel open")
	return nil
}

// setup 配置已打开的串口；全部命令成功后才接管端口
func (c *SLCAN) setup(port serial.Port, code byte) error {
	readTimeout := c.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 50 * time.Millisecond
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return fmt.Errorf("set serial read timeout: %w", err)
	}

	// 先关闭通道，防止适配器停留在上一次会话的打开状态
	for _, cmd := range []string{"C", "S" + string(code), "O"} {
		if err := c.writeCommand(port, cmd); err != nil {
			return fmt.Errorf("SLCAN command %q: %w", cmd, err)
		}
	}
	if err := port.ResetInputBuffer(); err != nil {
		c.log.Warn().Err(err).Msg("failed to reset serial input buffer")
	}
	c.port = port
	return nil
}

// Start 启动串口读取循环；未成功 Init 时不做任何事
func (c *SLCAN) Start() {
	if c.port == nil || !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.readLoop()
}

// Stop 关闭 CAN 通道和串口，重复调用无副作用
func (c *SLCAN) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		if c.port == nil {
			close(c.done)
			close(c.rxChan)
			return
		}
		if err := c.command("C"); err != nil {
			c.log.Warn().Err(err).Msg("SLCAN close command failed")
		}
		if err := c.port.Close(); err != nil {
			c.log.Warn().Err(err).Msg("serial port close failed")
		}
		// 读循环只有在 Start 之后才会关闭 done
		if c.started.Load() {
			<-c.done
		}
		close(c.rxChan)
		c.log.Info().Str("channel", c.cfg.Channel).Msg("SLCAN channel closed")
	})
}

// Write 发送一帧经典 CAN 报文
func (c *SLCAN) Write(id int32, data []byte) error {
	line, err := formatSLCANFrame(uint32(id), data)
	if err != nil {
		return err
	}
	if c.port == nil {
		return errors.New("SLCAN device not initialised")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.port.Write(line); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	c.log.Trace().Msgf("TX CAN: ID=0x%03X, DLC=%02d, Data=% 02X", id, len(data), data)
	return nil
}

// RxChan 返回接收通道
func (c *SLCAN) RxChan() <-chan UnifiedCANMessage { return c.rxChan }

// Context 返回设备上下文
func (c *SLCAN) Context() context.Context { return c.ctx }

func (c *SLCAN) command(cmd string) error {
	return c.writeCommand(c.port, cmd)
}

func (c *SLCAN) writeCommand(port serial.Port, cmd string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := port.Write(append([]byte(cmd), slcanTerminator))
	return err
}

func (c *SLCAN) readLoop() {
	defer close(c.done)

	buf := make([]byte, slcanReadChunk)
	var line []byte
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		n, err := c.port.Read(buf)
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Error().Err(err).Msg("serial read failed, stopping SLCAN reader")
			}
			return
		}
		// n == 0 表示读超时，回到循环顶部检查退出信号
		for _, b := range buf[:n] {
			switch b {
			case slcanTerminator:
				c.handleLine(line)
				line = line[:0]
			case slcanBell:
				c.log.Warn().Msg("SLCAN adapter reported an error")
				line = line[:0]
			default:
				if len(line) < slcanMaxLine {
					line = append(line, b)
				}
			}
		}
	}
}

func (c *SLCAN) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	switch line[0] {
	case 't', 'T':
	default:
		// z/Z 发送应答、版本号等，忽略
		return
	}

	msg, err := parseSLCANFrame(line)
	if err != nil {
		c.log.Warn().Err(err).Str("line", string(line)).Msg("malformed SLCAN frame")
		return
	}
	c.log.Trace().Msgf("RX CAN: ID=0x%03X, DLC=%02d, Data=% 02X", msg.ID, msg.DLC, msg.Data[:msg.DLC])

	select {
	case c.rxChan <- msg:
	default:
		c.log.Warn().Msg("driver receive channel full, frame dropped")
	}
}

// formatSLCANFrame 生成 t/T 发送命令（含结束符）
func formatSLCANFrame(id uint32, data []byte) ([]byte, error) {
	if len(data) > 8 {
		return nil, fmt.Errorf("data length %d exceeds classic CAN maximum 8", len(data))
	}
	var b bytes.Buffer
	if id > 0x7FF {
		if id > 0x1FFFFFFF {
			return nil, fmt.Errorf("CAN id 0x%X out of range", id)
		}
		fmt.Fprintf(&b, "T%08X", id)
	} else {
		fmt.Fprintf(&b, "t%03X", id)
	}
	b.WriteByte('0' + byte(len(data)))
	b.WriteString(hexUpper(data))
	b.WriteByte(slcanTerminator)
	return b.Bytes(), nil
}

// parseSLCANFrame 解析不含结束符的 t/T 接收行，可带 4 位时间戳
func parseSLCANFrame(line []byte) (UnifiedCANMessage, error) {
	var msg UnifiedCANMessage
	if len(line) == 0 {
		return msg, errors.New("empty SLCAN line")
	}

	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		idLen = 8
		msg.IsExtended = true
	default:
		return msg, fmt.Errorf("unsupported SLCAN frame type %q", line[0])
	}
	if len(line) < 1+idLen+1 {
		return msg, fmt.Errorf("SLCAN line too short (%d)", len(line))
	}

	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return msg, fmt.Errorf("bad SLCAN id: %w", err)
	}
	dlc := line[1+idLen] - '0'
	if dlc > 8 {
		return msg, fmt.Errorf("bad SLCAN dlc %q", line[1+idLen])
	}

	start := 1 + idLen + 1
	end := start + int(dlc)*2
	if len(line) < end {
		return msg, fmt.Errorf("SLCAN data truncated: want %d hex chars, have %d", int(dlc)*2, len(line)-start)
	}
	if _, err := hex.Decode(msg.Data[:dlc], line[start:end]); err != nil {
		return msg, fmt.Errorf("bad SLCAN data: %w", err)
	}

	msg.ID = uint32(id)
	msg.DLC = dlc
	return msg, nil
}

func hexUpper(data []byte) string {
	return fmt.Sprintf("%X", data)
}

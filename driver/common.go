package driver

import (
	"context"
)

// UnifiedCANMessage 是一个通用的CAN/CAN-FD消息结构体，用于在channel中传递。
// 它屏蔽了不同适配器之间帧格式的差异。
type UnifiedCANMessage struct {
	ID         uint32
	DLC        byte
	Data       [64]byte // 使用64字节以兼容CAN-FD
	IsFD       bool     // 标志位，用于区分是CAN还是CAN-FD消息
	IsExtended bool     // 29位扩展帧
}

// Payload returns the valid data bytes of the message, clamped to the array size.
func (m UnifiedCANMessage) Payload() []byte {
	n := int(m.DLC)
	if n > len(m.Data) {
		n = len(m.Data)
	}
	out := make([]byte, n)
	copy(out, m.Data[:n])
	return out
}

// CANDriver 定义了CAN/CAN-FD驱动的统一接口
type CANDriver interface {
	Init() error
	Start()
	Stop()
	Write(id int32, data []byte) error
	RxChan() <-chan UnifiedCANMessage
	Context() context.Context
}

// CanType 定义 CAN 类型
type CanType byte

const (
	CAN   CanType = 0
	CANFD CanType = 1
)

func (t CanType) String() string {
	if t == CANFD {
		return "CANFD"
	}
	return "CAN"
}

// RxChannelBufferSize 是驱动接收通道的缓冲区大小
const RxChannelBufferSize = 1024

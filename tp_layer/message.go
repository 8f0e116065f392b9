package tp_layer

import (
	"encoding/hex"
	"fmt"
)

// CanMessage 代表一个 CAN 报文 (ISO-11898)。
type CanMessage struct {
	ArbitrationID uint32
	Data          []byte
	IsExtendedID  bool
	IsFD          bool
}

func (m CanMessage) String() string {
	id := fmt.Sprintf("%03X", m.ArbitrationID)
	if m.IsExtendedID {
		id = fmt.Sprintf("%08X", m.ArbitrationID)
	}
	kind := "CAN"
	if m.IsFD {
		kind = "CANFD"
	}
	return fmt.Sprintf("<%s %s [%d] %s>", kind, id, len(m.Data), hex.EncodeToString(m.Data))
}

// State 定义了收发状态机的状态。
type State uint8

const (
	StateIdle State = iota
	StateWaitFC
	StateWaitCF
	StateTransmit
)

// FlowStatus 定义了流控帧的状态。
type FlowStatus uint8

const (
	FlowStatusContinueToSend FlowStatus = 0x00
	FlowStatusWait           FlowStatus = 0x01
	FlowStatusOverflow       FlowStatus = 0x02
)

package tp_layer

import (
	"encoding/binary"
	"fmt"
	"time"
)

// ISOTPFrame 是解析后的四种 N_PDU 之一
type ISOTPFrame interface{}

type SingleFrame struct{ Data []byte }

type FirstFrame struct {
	TotalSize int
	Data      []byte
}

type ConsecutiveFrame struct {
	SequenceNumber int
	Data           []byte
}

type FlowControlFrame struct {
	FlowStatus FlowStatus
	BlockSize  int
	STmin      time.Duration
}

func decodeSTmin(b byte) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		// 保留值按最大值 127ms 处理
		return 127 * time.Millisecond
	}
}

// ParseFrame 解析 CAN 报文中的 ISO-TP PCI，rxPrefixSize 为地址扩展字节数
func ParseFrame(msg *CanMessage, rxPrefixSize int) (ISOTPFrame, error) {
	if len(msg.Data) <= rxPrefixSize {
		return nil, InvalidCanDataError{NewIsoTpError(fmt.Sprintf("CAN data length %d does not exceed prefix size %d", len(msg.Data), rxPrefixSize))}
	}

	payload := msg.Data[rxPrefixSize:]
	switch payload[0] & 0xF0 {
	case pciTypeSingleFrame:
		length := int(payload[0] & 0x0F)
		start := 1
		if length == 0 {
			if len(payload) < 2 {
				return nil, InvalidCanDataError{NewIsoTpError("escaped single frame shorter than 2 bytes")}
			}
			length = int(payload[1])
			start = 2
		}
		if len(payload)-start < length {
			return nil, InvalidCanDataError{NewIsoTpError(fmt.Sprintf("single frame declares %d bytes, carries %d", length, len(payload)-start))}
		}
		return &SingleFrame{Data: payload[start : start+length]}, nil

	case pciTypeFirstFrame:
		if len(payload) < 2 {
			return nil, InvalidCanDataError{NewIsoTpError("first frame shorter than 2 bytes")}
		}
		totalSize := int(payload[0]&0x0F)<<8 | int(payload[1])
		start := 2
		if totalSize == 0 {
			if len(payload) < 6 {
				return nil, InvalidCanDataError{NewIsoTpError("escaped first frame shorter than 6 bytes")}
			}
			totalSize = int(binary.BigEndian.Uint32(payload[2:6]))
			start = 6
		}
		return &FirstFrame{TotalSize: totalSize, Data: payload[start:]}, nil

	case pciTypeConsecutiveFrame:
		return &ConsecutiveFrame{SequenceNumber: int(payload[0] & 0x0F), Data: payload[1:]}, nil

	case pciTypeFlowControl:
		if len(payload) < 3 {
			return nil, InvalidCanDataError{NewIsoTpError("flow control frame shorter than 3 bytes")}
		}
		return &FlowControlFrame{
			FlowStatus: FlowStatus(payload[0] & 0x0F),
			BlockSize:  int(payload[1]),
			STmin:      decodeSTmin(payload[2]),
		}, nil
	}
	return nil, InvalidCanDataError{NewIsoTpError(fmt.Sprintf("unknown PCI type 0x%02X", payload[0]&0xF0))}
}

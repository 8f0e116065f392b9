package tp_layer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	pciTypeSingleFrame      = 0x00
	pciTypeFirstFrame       = 0x10
	pciTypeConsecutiveFrame = 0x20
	pciTypeFlowControl      = 0x30

	// 12 位首帧长度上限，超过后使用 32 位转义长度
	firstFrameShortLimit = 4095
)

// encodeSTmin 把毫秒值编码为 STmin 字节，超出范围时取最大值 0x7F
func encodeSTmin(stMinMs int) byte {
	if stMinMs >= 0 && stMinMs <= 0x7F {
		return byte(stMinMs)
	}
	return 0x7F
}

func createFlowControlPayload(status FlowStatus, blockSize int, stMinMs int) []byte {
	return []byte{
		pciTypeFlowControl | byte(status),
		byte(blockSize),
		encodeSTmin(stMinMs),
	}
}

// singleFramePCISize 返回单帧 PCI 长度；超过 7 字节需要 CAN FD 的转义长度
func singleFramePCISize(dataLen int) int {
	if dataLen <= 7 {
		return 1
	}
	return 2
}

func createSingleFramePayload(data []byte, maxDataLength int) ([]byte, error) {
	dataLen := len(data)
	pciSize := singleFramePCISize(dataLen)
	if pciSize+dataLen > maxDataLength {
		return nil, fmt.Errorf("single frame length %d exceeds limit %d", pciSize+dataLen, maxDataLength)
	}

	payload := make([]byte, 0, pciSize+dataLen)
	if pciSize == 1 {
		payload = append(payload, pciTypeSingleFrame|byte(dataLen))
	} else {
		payload = append(payload, pciTypeSingleFrame, byte(dataLen))
	}
	return append(payload, data...), nil
}

func firstFramePCISize(totalSize int) int {
	if totalSize <= firstFrameShortLimit {
		return 2
	}
	return 6
}

func createFirstFramePayload(firstChunk []byte, totalSize int, maxDataLength int) ([]byte, error) {
	pciSize := firstFramePCISize(totalSize)
	if pciSize+len(firstChunk) > maxDataLength {
		return nil, fmt.Errorf("first frame length %d exceeds limit %d", pciSize+len(firstChunk), maxDataLength)
	}

	payload := make([]byte, pciSize, pciSize+len(firstChunk))
	if pciSize == 2 {
		payload[0] = pciTypeFirstFrame | byte(totalSize>>8&0x0F)
		payload[1] = byte(totalSize)
	} else {
		payload[0] = pciTypeFirstFrame
		binary.BigEndian.PutUint32(payload[2:], uint32(totalSize))
	}
	return append(payload, firstChunk...), nil
}

func createConsecutiveFramePayload(chunk []byte, sequenceNumber int) ([]byte, error) {
	if sequenceNumber < 0 || sequenceNumber > 15 {
		return nil, errors.New("sequence number must be within 0..15")
	}
	payload := make([]byte, 0, 1+len(chunk))
	payload = append(payload, pciTypeConsecutiveFrame|byte(sequenceNumber))
	return append(payload, chunk...), nil
}

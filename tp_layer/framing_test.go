package tp_layer

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

const (
	classicMaxDataLength = 8
	fdMaxDataLength      = 64
)

// ============================================================================
// 单帧
// ============================================================================

func TestCreateSingleFrame(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		max      int
		expected []byte
	}{
		{
			name:     "会话请求 10 C0",
			data:     []byte{0x10, 0xC0},
			max:      classicMaxDataLength,
			expected: []byte{0x02, 0x10, 0xC0},
		},
		{
			name:     "读参数请求 21 81",
			data:     []byte{0x21, 0x81},
			max:      classicMaxDataLength,
			expected: []byte{0x02, 0x21, 0x81},
		},
		{
			name:     "7字节 (经典CAN最大单帧)",
			data:     []byte{0x61, 0x09, 0x03, 0x05, 0x00, 0x00, 0x00},
			max:      classicMaxDataLength,
			expected: []byte{0x07, 0x61, 0x09, 0x03, 0x05, 0x00, 0x00, 0x00},
		},
		{
			name:     "CAN FD 转义长度",
			data:     bytes.Repeat([]byte{0xAA}, 20),
			max:      fdMaxDataLength,
			expected: append([]byte{0x00, 0x14}, bytes.Repeat([]byte{0xAA}, 20)...),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := createSingleFramePayload(tc.data, tc.max)
			if err != nil {
				t.Fatalf("创建单帧失败: %v", err)
			}
			if !bytes.Equal(result, tc.expected) {
				t.Errorf("单帧数据不匹配\n期望: % 02X\n实际: % 02X", tc.expected, result)
			}
		})
	}
}

func TestCreateSingleFrame_Overflow(t *testing.T) {
	if _, err := createSingleFramePayload(bytes.Repeat([]byte{0xFF}, 8), classicMaxDataLength); err == nil {
		t.Error("8字节数据在经典CAN下应该返回溢出错误")
	}
	if _, err := createSingleFramePayload(bytes.Repeat([]byte{0xFF}, 63), fdMaxDataLength); err == nil {
		t.Error("63字节数据在CAN FD下应该返回溢出错误")
	}
}

// ============================================================================
// 首帧 / 连续帧
// ============================================================================

func TestCreateFirstFrame(t *testing.T) {
	// 131 字节的写参数请求
	write := append([]byte{0x3B, 0x10, 0x01}, bytes.Repeat([]byte{0x00}, 128)...)

	result, err := createFirstFramePayload(write[:6], len(write), classicMaxDataLength)
	if err != nil {
		t.Fatalf("创建首帧失败: %v", err)
	}
	expected := []byte{0x10, 0x83, 0x3B, 0x10, 0x01, 0x00, 0x00, 0x00}
	if !bytes.Equal(result, expected) {
		t.Errorf("首帧数据不匹配\n期望: % 02X\n实际: % 02X", expected, result)
	}

	// 超过 4095 字节使用 32 位长度
	long, err := createFirstFramePayload(bytes.Repeat([]byte{0xCC}, 58), 10000, fdMaxDataLength)
	if err != nil {
		t.Fatalf("创建长报文首帧失败: %v", err)
	}
	if !bytes.Equal(long[:6], []byte{0x10, 0x00, 0x00, 0x00, 0x27, 0x10}) {
		t.Errorf("长报文首帧PCI不匹配: % 02X", long[:6])
	}

	if _, err := createFirstFramePayload(write[:7], len(write), classicMaxDataLength); err == nil {
		t.Error("首帧数据超长应该返回错误")
	}
}

func TestCreateConsecutiveFrame(t *testing.T) {
	result, err := createConsecutiveFramePayload([]byte{'a', 'p', 'n'}, 15)
	if err != nil {
		t.Fatalf("创建连续帧失败: %v", err)
	}
	if !bytes.Equal(result, []byte{0x2F, 'a', 'p', 'n'}) {
		t.Errorf("连续帧数据不匹配: % 02X", result)
	}

	for _, seq := range []int{-1, 16} {
		if _, err := createConsecutiveFramePayload([]byte{0x01}, seq); err == nil {
			t.Errorf("序列号 %d 应该返回错误", seq)
		}
	}
}

// 131 字节写请求在经典CAN上分成 1 个首帧 + 18 个连续帧
func TestWriteRequestSegmentation(t *testing.T) {
	write := append([]byte{0x3B, 0x19, 0x01}, bytes.Repeat([]byte{'h'}, 128)...)

	remaining := write[6:]
	seq := 1
	var rebuilt []byte
	rebuilt = append(rebuilt, write[:6]...)
	count := 0
	for len(remaining) > 0 {
		n := 7
		if len(remaining) < n {
			n = len(remaining)
		}
		cf, err := createConsecutiveFramePayload(remaining[:n], seq)
		if err != nil {
			t.Fatalf("创建连续帧%d失败: %v", count+1, err)
		}
		frame, err := ParseFrame(&CanMessage{Data: cf}, 0)
		if err != nil {
			t.Fatalf("解析连续帧失败: %v", err)
		}
		parsed := frame.(*ConsecutiveFrame)
		if parsed.SequenceNumber != seq {
			t.Errorf("序列号不匹配: 期望=%d, 实际=%d", seq, parsed.SequenceNumber)
		}
		rebuilt = append(rebuilt, parsed.Data...)
		remaining = remaining[n:]
		seq = (seq + 1) % 16
		count++
	}

	if count != 18 {
		t.Errorf("连续帧数量不匹配: 期望=18, 实际=%d", count)
	}
	if !bytes.Equal(rebuilt, write) {
		t.Error("重组后的数据与原始请求不一致")
	}
}

// ============================================================================
// 流控帧
// ============================================================================

func TestCreateFlowControlFrame(t *testing.T) {
	tests := []struct {
		name      string
		status    FlowStatus
		blockSize int
		stMinMs   int
		expected  []byte
	}{
		{"CTS bs=1 stmin=100", FlowStatusContinueToSend, 1, 100, []byte{0x30, 0x01, 0x64}},
		{"Wait", FlowStatusWait, 0, 0, []byte{0x31, 0x00, 0x00}},
		{"Overflow", FlowStatusOverflow, 0, 0, []byte{0x32, 0x00, 0x00}},
		{"STmin超出范围取最大值", FlowStatusContinueToSend, 0, 500, []byte{0x30, 0x00, 0x7F}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := createFlowControlPayload(tc.status, tc.blockSize, tc.stMinMs)
			if !bytes.Equal(result, tc.expected) {
				t.Errorf("流控帧数据不匹配\n期望: % 02X\n实际: % 02X", tc.expected, result)
			}
		})
	}
}

// ============================================================================
// ParseFrame
// ============================================================================

func TestParseFrame(t *testing.T) {
	t.Run("填充过的单帧", func(t *testing.T) {
		msg := &CanMessage{ArbitrationID: 0x783, Data: []byte{0x03, 0x61, 0x04, 0x01, 0xCC, 0xCC, 0xCC, 0xCC}}
		frame, err := ParseFrame(msg, 0)
		if err != nil {
			t.Fatalf("解析单帧失败: %v", err)
		}
		sf, ok := frame.(*SingleFrame)
		if !ok {
			t.Fatalf("应该解析为 SingleFrame, 实际 %T", frame)
		}
		if !bytes.Equal(sf.Data, []byte{0x61, 0x04, 0x01}) {
			t.Errorf("数据不匹配: % 02X", sf.Data)
		}
	})

	t.Run("首帧", func(t *testing.T) {
		msg := &CanMessage{ArbitrationID: 0x783, Data: []byte{0x10, 0x14, 0x61, 0x81, 0x00, 'W', 'V', 'W'}}
		frame, err := ParseFrame(msg, 0)
		if err != nil {
			t.Fatalf("解析首帧失败: %v", err)
		}
		ff := frame.(*FirstFrame)
		if ff.TotalSize != 20 {
			t.Errorf("总大小不匹配: 期望=20, 实际=%d", ff.TotalSize)
		}
		if !bytes.Equal(ff.Data, []byte{0x61, 0x81, 0x00, 'W', 'V', 'W'}) {
			t.Errorf("数据不匹配: % 02X", ff.Data)
		}
	})

	t.Run("流控帧", func(t *testing.T) {
		msg := &CanMessage{ArbitrationID: 0x783, Data: []byte{0x30, 0x01, 0xF5}}
		frame, err := ParseFrame(msg, 0)
		if err != nil {
			t.Fatalf("解析流控帧失败: %v", err)
		}
		fc := frame.(*FlowControlFrame)
		if fc.FlowStatus != FlowStatusContinueToSend || fc.BlockSize != 1 || fc.STmin != 500*time.Microsecond {
			t.Errorf("流控帧解析错误: %+v", fc)
		}
	})

	t.Run("带地址前缀", func(t *testing.T) {
		msg := &CanMessage{ArbitrationID: 0x783, Data: []byte{0xF1, 0x02, 0x50, 0xC0}}
		frame, err := ParseFrame(msg, 1)
		if err != nil {
			t.Fatalf("解析带前缀的帧失败: %v", err)
		}
		if sf := frame.(*SingleFrame); !bytes.Equal(sf.Data, []byte{0x50, 0xC0}) {
			t.Errorf("数据不匹配: % 02X", sf.Data)
		}
	})
}

func TestParseFrame_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"空报文", nil},
		{"单帧长度大于实际数据", []byte{0x05, 0x61, 0x04}},
		{"转义单帧缺少长度字节", []byte{0x00}},
		{"首帧过短", []byte{0x10}},
		{"流控帧过短", []byte{0x30, 0x00}},
		{"未知PCI类型", []byte{0x40, 0x00, 0x00}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseFrame(&CanMessage{ArbitrationID: 0x783, Data: tc.data}, 0)
			var invalid InvalidCanDataError
			if !errors.As(err, &invalid) {
				t.Errorf("期望 InvalidCanDataError, 实际 %v", err)
			}
		})
	}
}

func TestDecodeSTmin(t *testing.T) {
	tests := []struct {
		input    byte
		expected time.Duration
	}{
		{0x00, 0},
		{0x64, 100 * time.Millisecond},
		{0x7F, 127 * time.Millisecond},
		{0xF1, 100 * time.Microsecond},
		{0xF9, 900 * time.Microsecond},
		{0x80, 127 * time.Millisecond}, // 保留值
		{0xFA, 127 * time.Millisecond},
	}

	for _, tc := range tests {
		if got := decodeSTmin(tc.input); got != tc.expected {
			t.Errorf("STmin(0x%02X): 期望=%v, 实际=%v", tc.input, tc.expected, got)
		}
	}
}

func BenchmarkParseFrame_SingleFrame(b *testing.B) {
	msg := &CanMessage{
		ArbitrationID: 0x783,
		Data:          []byte{0x03, 0x61, 0x04, 0x01, 0xCC, 0xCC, 0xCC, 0xCC},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseFrame(msg, 0)
	}
}

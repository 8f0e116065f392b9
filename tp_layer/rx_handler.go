package tp_layer

import "fmt"

// ProcessRx 处理接收到的单个CAN报文，需要回送的流控帧直接写入 txChan
func (t *Transport) ProcessRx(msg CanMessage, txChan chan<- CanMessage) {
	if !t.address.IsForMe(&msg) {
		return
	}

	frame, err := ParseFrame(&msg, t.address.RxPrefixSize)
	if err != nil {
		t.fireError(err)
		return
	}

	switch f := frame.(type) {
	case *FlowControlFrame:
		// 收到流控帧说明本节点是发送方
		t.handleTxFlowControl(f, txChan)

	case *SingleFrame:
		t.handleRxSingleFrame(f)

	case *FirstFrame:
		t.handleRxFirstFrame(f, txChan)

	case *ConsecutiveFrame:
		t.handleRxConsecutiveFrame(f, txChan)
	}
}

func (t *Transport) handleRxSingleFrame(f *SingleFrame) {
	if t.rxState != StateIdle {
		t.fireError(ReceptionInterruptedWithSingleFrameError{})
	}
	t.stopReceiving()
	t.deliver(append([]byte(nil), f.Data...))
}

func (t *Transport) handleRxFirstFrame(f *FirstFrame, txChan chan<- CanMessage) {
	if t.rxState != StateIdle {
		t.fireError(ReceptionInterruptedWithFirstFrameError{})
	}
	t.stopReceiving()

	if f.TotalSize > t.config.MaxFrameSize {
		t.fireError(FrameTooLongError{NewIsoTpError(fmt.Sprintf("first frame announces %d bytes, limit is %d", f.TotalSize, t.config.MaxFrameSize))})
		t.sendFlowControl(FlowStatusOverflow, txChan)
		return
	}

	t.rxFrameLen = f.TotalSize
	t.rxBuffer = make([]byte, 0, f.TotalSize)
	t.rxBuffer = appendUpTo(t.rxBuffer, f.Data, t.rxFrameLen)

	if len(t.rxBuffer) >= t.rxFrameLen {
		t.deliver(t.rxBuffer)
		t.stopReceiving()
		return
	}

	t.rxState = StateWaitCF
	t.rxSeqNum = 1
	t.rxBlockCounter = 0
	t.sendFlowControl(FlowStatusContinueToSend, txChan)
	resetTimer(t.timerRxCF, t.config.TimeoutN_Cr)
}

func (t *Transport) handleRxConsecutiveFrame(f *ConsecutiveFrame, txChan chan<- CanMessage) {
	if t.rxState != StateWaitCF {
		// 迟到或多余的连续帧，忽略
		return
	}

	if f.SequenceNumber != t.rxSeqNum {
		t.fireError(WrongSequenceNumberError{NewIsoTpError(fmt.Sprintf("wrong sequence number: expected %d, got %d", t.rxSeqNum, f.SequenceNumber))})
		t.stopReceiving()
		return
	}

	resetTimer(t.timerRxCF, t.config.TimeoutN_Cr)
	t.rxSeqNum = (t.rxSeqNum + 1) % 16
	t.rxBuffer = appendUpTo(t.rxBuffer, f.Data, t.rxFrameLen)

	if len(t.rxBuffer) >= t.rxFrameLen {
		t.deliver(t.rxBuffer)
		t.stopReceiving()
		return
	}

	t.rxBlockCounter++
	if t.config.BlockSize > 0 && t.rxBlockCounter >= t.config.BlockSize {
		t.rxBlockCounter = 0
		t.sendFlowControl(FlowStatusContinueToSend, txChan)
	}
}

// appendUpTo 追加数据但不超过 limit，末帧的填充字节被丢弃
func appendUpTo(buf, data []byte, limit int) []byte {
	remaining := limit - len(buf)
	if remaining <= 0 {
		return buf
	}
	if len(data) > remaining {
		data = data[:remaining]
	}
	return append(buf, data...)
}

// deliver 把完整报文交给 Recv，队列满时丢弃并上报
func (t *Transport) deliver(data []byte) {
	select {
	case t.rxDataChan <- data:
	default:
		t.fireError(NewIsoTpError(fmt.Sprintf("receive queue full, %d byte payload dropped", len(data))))
	}
}

func (t *Transport) sendFlowControl(status FlowStatus, txChan chan<- CanMessage) {
	payload := createFlowControlPayload(status, t.config.BlockSize, t.config.StMin)
	if err := t.emit(payload, txChan); err != nil {
		t.fireError(err)
	}
}

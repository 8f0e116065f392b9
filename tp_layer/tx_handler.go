package tp_layer

import "fmt"

// initiateTx 开始发送一条新报文，只在发送状态为 Idle 时由 Run 调用
func (t *Transport) initiateTx(req *txRequest, txChan chan<- CanMessage) {
	t.current = req
	payload := req.payload
	capacity := t.txCapacity()

	// 判断是单帧还是多帧
	if len(payload)+singleFramePCISize(len(payload)) <= capacity {
		data, err := createSingleFramePayload(payload, capacity)
		if err != nil {
			t.finishTx(NewIsoTpError(fmt.Sprintf("create single frame: %v", err)))
			return
		}
		t.finishTx(t.emit(data, txChan))
		return
	}

	// 多帧发送，先发首帧
	chunkSize := capacity - firstFramePCISize(len(payload))
	if chunkSize > len(payload) {
		chunkSize = len(payload)
	}
	data, err := createFirstFramePayload(payload[:chunkSize], len(payload), capacity)
	if err != nil {
		t.finishTx(NewIsoTpError(fmt.Sprintf("create first frame: %v", err)))
		return
	}

	t.txBuffer = payload[chunkSize:]
	t.txSeqNum = 1
	t.txState = StateWaitFC
	if err := t.emit(data, txChan); err != nil {
		t.finishTx(err)
		return
	}
	resetTimer(t.timerRxFC, t.config.TimeoutN_Bs)
}

func (t *Transport) handleTxFlowControl(fc *FlowControlFrame, txChan chan<- CanMessage) {
	if t.txState != StateWaitFC {
		// 未在等待流控时收到的流控帧（迟到或对端误发），上报后丢弃
		t.fireError(UnexpectedFlowControlError{NewIsoTpError(fmt.Sprintf("flow control 0x%X received in state %d", fc.FlowStatus, t.txState))})
		return
	}

	stopTimer(t.timerRxFC)
	stopTimer(t.timerTxSTmin)

	switch fc.FlowStatus {
	case FlowStatusContinueToSend:
		t.wftCounter = 0
		t.remoteBlocksize = fc.BlockSize
		t.remoteStmin = fc.STmin
		t.txState = StateTransmit
		t.txBlockCounter = 0
		resetTimer(t.timerTxSTmin, t.remoteStmin)

	case FlowStatusWait:
		if t.config.MaxWaitFrame == 0 {
			t.finishTx(UnsupportedWaitFrameError{})
			return
		}
		t.wftCounter++
		if t.wftCounter > t.config.MaxWaitFrame {
			t.finishTx(MaximumWaitFrameReachedError{NewIsoTpError(fmt.Sprintf("received %d wait frames, limit is %d", t.wftCounter, t.config.MaxWaitFrame))})
			return
		}
		// 继续等待下一个流控帧
		resetTimer(t.timerRxFC, t.config.TimeoutN_Bs)

	case FlowStatusOverflow:
		t.finishTx(OverflowError{})

	default:
		t.finishTx(InvalidCanDataError{NewIsoTpError(fmt.Sprintf("unknown flow status %d", fc.FlowStatus))})
	}
}

// handleTxTransmit 发送下一个连续帧，由 STmin 定时器触发
func (t *Transport) handleTxTransmit(txChan chan<- CanMessage) {
	if len(t.txBuffer) == 0 {
		t.finishTx(nil)
		return
	}

	chunkSize := t.txCapacity() - 1 // CF PCI=1
	chunk := t.txBuffer
	if len(chunk) > chunkSize {
		chunk = chunk[:chunkSize]
	}
	t.txBuffer = t.txBuffer[len(chunk):]

	data, err := createConsecutiveFramePayload(chunk, t.txSeqNum)
	if err != nil {
		t.finishTx(NewIsoTpError(fmt.Sprintf("create consecutive frame: %v", err)))
		return
	}
	t.txSeqNum = (t.txSeqNum + 1) % 16
	t.txBlockCounter++

	if err := t.emit(data, txChan); err != nil {
		// 丢失连续帧后整条报文已损坏，放弃本次发送
		t.finishTx(err)
		return
	}

	if len(t.txBuffer) == 0 {
		t.finishTx(nil)
		return
	}

	if t.remoteBlocksize > 0 && t.txBlockCounter >= t.remoteBlocksize {
		t.txState = StateWaitFC
		t.txBlockCounter = 0
		resetTimer(t.timerRxFC, t.config.TimeoutN_Bs)
		return
	}
	resetTimer(t.timerTxSTmin, t.remoteStmin)
}

package driver

import (
	"errors"
	"fmt"

	"github.com/LoveWonYoung/tcucfg/tp_layer"
	"github.com/rs/zerolog"
)

// Adapter 连接 ISO-TP 协议栈和具体的 CAN 硬件驱动
type Adapter struct {
	driver CANDriver // 使用接口，使其可以同时支持 SLCAN、虚拟总线等
	rxChan <-chan UnifiedCANMessage
	log    zerolog.Logger
}

// NewAdapter 初始化并启动驱动，返回适配器
func NewAdapter(dev CANDriver, logger zerolog.Logger) (*Adapter, error) {
	if dev == nil {
		return nil, errors.New("CAN driver instance cannot be nil")
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize CAN device: %w", err)
	}
	dev.Start()

	logger.Debug().Msg("CAN adapter created and device started")
	return &Adapter{
		driver: dev,
		rxChan: dev.RxChan(),
		log:    logger,
	}, nil
}

// Close 停止驱动并释放资源
func (a *Adapter) Close() {
	a.log.Debug().Msg("closing CAN adapter")
	a.driver.Stop()
}

// TxFunc 把 ISO-TP 帧交给驱动发送
func (a *Adapter) TxFunc(msg tp_layer.CanMessage) error {
	if err := a.driver.Write(int32(msg.ArbitrationID), msg.Data); err != nil {
		return fmt.Errorf("CAN write 0x%03X: %w", msg.ArbitrationID, err)
	}
	return nil
}

// Messages exposes the driver's receive channel for select-based consumers.
func (a *Adapter) Messages() <-chan UnifiedCANMessage {
	return a.rxChan
}

// Convert turns a driver frame into an ISO-TP frame.
func (a *Adapter) Convert(m UnifiedCANMessage) tp_layer.CanMessage {
	if int(m.DLC) > len(m.Data) {
		a.log.Warn().Uint32("id", m.ID).Uint8("dlc", m.DLC).Msg("DLC larger than data array, clamping")
	}
	return tp_layer.CanMessage{
		ArbitrationID: m.ID,
		Data:          m.Payload(),
		IsExtendedID:  m.IsExtended,
		IsFD:          m.IsFD,
	}
}

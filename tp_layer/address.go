package tp_layer

import "fmt"

// AddressingMode 定义了ISOTP支持的寻址模式
type AddressingMode int

const (
	Normal11Bit      AddressingMode = iota // 11位ID，无地址扩展
	Normal29Bit                            // 29位ID，无地址扩展
	NormalFixed29Bit                       // 29位ID，目标/源地址在ID中
	Extended11Bit                          // 11位ID，目标地址在数据负载第一字节
	Extended29Bit                          // 29位ID，目标地址在数据负载第一字节
	Mixed11Bit                             // 11位ID，地址扩展在数据负载第一字节
	Mixed29Bit                             // 29位ID，目标/源地址在ID中，地址扩展在数据负载第一字节
)

// AddressType 定义了寻址类型：物理或功能
type AddressType int

const (
	Physical AddressType = iota
	Functional
)

// Address holds the request/response channel identifiers of one ISO-TP link.
type Address struct {
	AddressingMode AddressingMode

	TxID uint32
	RxID uint32

	TargetAddress    byte // TA, NormalFixed/Extended/Mixed
	SourceAddress    byte // SA, NormalFixed/Extended/Mixed
	AddressExtension byte // AE, Mixed

	TxPayloadPrefix []byte
	RxPrefixSize    int
	is29Bit         bool
}

// NewAddress builds an address for mode and derives the payload prefix.
func NewAddress(mode AddressingMode, opts ...func(*Address)) (*Address, error) {
	addr := &Address{AddressingMode: mode}
	for _, opt := range opts {
		opt(addr)
	}

	switch mode {
	case Normal11Bit:
	case Normal29Bit, NormalFixed29Bit:
		addr.is29Bit = true
	case Extended11Bit, Extended29Bit:
		addr.is29Bit = mode == Extended29Bit
		addr.TxPayloadPrefix = []byte{addr.TargetAddress}
		addr.RxPrefixSize = 1
	case Mixed11Bit, Mixed29Bit:
		addr.is29Bit = mode == Mixed29Bit
		addr.TxPayloadPrefix = []byte{addr.AddressExtension}
		addr.RxPrefixSize = 1
	default:
		return nil, fmt.Errorf("unsupported addressing mode: %d", mode)
	}

	if !addr.is29Bit && (addr.TxID > 0x7FF || addr.RxID > 0x7FF) {
		return nil, fmt.Errorf("11-bit addressing with ids tx=0x%X rx=0x%X out of range", addr.TxID, addr.RxID)
	}
	return addr, nil
}

// NewNormal11BitAddress is the common request/response pair on an 11-bit bus.
func NewNormal11BitAddress(txID, rxID uint32) (*Address, error) {
	return NewAddress(Normal11Bit, WithTxID(txID), WithRxID(rxID))
}

func WithTxID(id uint32) func(*Address)        { return func(a *Address) { a.TxID = id } }
func WithRxID(id uint32) func(*Address)        { return func(a *Address) { a.RxID = id } }
func WithTargetAddress(ta byte) func(*Address) { return func(a *Address) { a.TargetAddress = ta } }
func WithSourceAddress(sa byte) func(*Address) { return func(a *Address) { a.SourceAddress = sa } }
func WithAddressExtension(ae byte) func(*Address) {
	return func(a *Address) { a.AddressExtension = ae }
}

// GetTxArbitrationID 根据寻址模式和类型（物理/功能）计算发送ID
func (a *Address) GetTxArbitrationID(addrType AddressType) uint32 {
	switch a.AddressingMode {
	case NormalFixed29Bit:
		// 18DA[TA][SA] physical, 18DB[TA][SA] functional
		prefix := uint32(0x18DA0000)
		if addrType == Functional {
			prefix = 0x18DB0000
		}
		return prefix | uint32(a.TargetAddress)<<8 | uint32(a.SourceAddress)
	case Mixed29Bit:
		// 18CE[TA][SA] physical, 18CD[TA][SA] functional
		prefix := uint32(0x18CE0000)
		if addrType == Functional {
			prefix = 0x18CD0000
		}
		return prefix | uint32(a.TargetAddress)<<8 | uint32(a.SourceAddress)
	}
	return a.TxID
}

// rxFixedID is the id a peer uses when answering us in the fixed 29-bit modes.
func (a *Address) rxFixedID(base uint32) uint32 {
	return base | uint32(a.SourceAddress)<<8 | uint32(a.TargetAddress)
}

// IsForMe 检查收到的CAN报文是否是发给本节点的
func (a *Address) IsForMe(msg *CanMessage) bool {
	if msg.IsExtendedID != a.is29Bit {
		return false
	}

	switch a.AddressingMode {
	case Normal11Bit, Normal29Bit:
		return msg.ArbitrationID == a.RxID
	case NormalFixed29Bit:
		return msg.ArbitrationID == a.rxFixedID(0x18DA0000)
	case Extended11Bit, Extended29Bit:
		// 对端的 TA 就是本节点的 SA
		return msg.ArbitrationID == a.RxID && len(msg.Data) > 0 && msg.Data[0] == a.SourceAddress
	case Mixed11Bit:
		return msg.ArbitrationID == a.RxID && len(msg.Data) > 0 && msg.Data[0] == a.AddressExtension
	case Mixed29Bit:
		return msg.ArbitrationID == a.rxFixedID(0x18CE0000) && len(msg.Data) > 0 && msg.Data[0] == a.AddressExtension
	}
	return false
}

// Is29Bit 返回当前模式是否为29位
func (a *Address) Is29Bit() bool {
	return a.is29Bit
}

// Reversed returns the address seen from the peer's side of the link.
func (a *Address) Reversed() (*Address, error) {
	return NewAddress(a.AddressingMode,
		WithTxID(a.RxID),
		WithRxID(a.TxID),
		WithTargetAddress(a.SourceAddress),
		WithSourceAddress(a.TargetAddress),
		WithAddressExtension(a.AddressExtension),
	)
}

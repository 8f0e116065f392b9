package tcuclient

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// KWP2000 services used by the unit
const (
	SIDStartDiagnosticSession = 0x10
	SIDReadDataByLocalID      = 0x21
	SIDWriteDataByLocalID     = 0x3B
	SIDNegativeResponse       = 0x7F
	PositiveResponseOffset    = 0x40
	DiagnosticSessionID       = 0xC0
	WriteTargetMarker         = 0x01
)

// response offsets
const (
	flagOffset      = 2
	signalOffset    = 2
	textOffset      = 3
	writeHeaderSize = 3
)

// SignalReading is the modem signal triple reported by signal_level.
type SignalReading struct {
	Antenna   uint8
	Reception uint8
	ErrorRate uint8
}

// Value is a decoded parameter. Only the field matching Encoding is set.
type Value struct {
	Encoding Encoding
	Flag     byte
	Signal   SignalReading
	Text     string
}

func (v Value) String() string {
	switch v.Encoding {
	case Flag:
		return fmt.Sprintf("%d", v.Flag)
	case SignalQuality:
		return fmt.Sprintf("ANT:%d,RECEPTION:%d,ERRRATE:%d", v.Signal.Antenna, v.Signal.Reception, v.Signal.ErrorRate)
	}
	return v.Text
}

// Decode interprets a raw read response by position. The service byte is not
// checked here; the exchange engine validates it before decoding.
func Decode(desc Descriptor, raw []byte) (Value, error) {
	v := Value{Encoding: desc.Encoding}
	switch desc.Encoding {
	case Flag:
		if len(raw) < flagOffset+1 {
			return v, fmt.Errorf("%w: flag needs %d bytes, got %d", ErrTruncated, flagOffset+1, len(raw))
		}
		v.Flag = raw[flagOffset]

	case SignalQuality:
		if len(raw) < signalOffset+3 {
			return v, fmt.Errorf("%w: signal quality needs %d bytes, got %d", ErrTruncated, signalOffset+3, len(raw))
		}
		v.Signal = SignalReading{
			Antenna:   raw[signalOffset],
			Reception: raw[signalOffset+1],
			ErrorRate: raw[signalOffset+2],
		}

	default:
		if len(raw) < textOffset {
			return v, fmt.Errorf("%w: text needs %d bytes, got %d", ErrTruncated, textOffset, len(raw))
		}
		text := raw[textOffset:]
		if !utf8.Valid(text) {
			return v, fmt.Errorf("%w: % X", ErrInvalidEncoding, text)
		}
		v.Text = string(bytes.TrimRight(text, "\x00 \t\r\n"))
	}
	return v, nil
}

// Encode builds the fixed-size write frame 3B <id> 01 <value, zero padded>.
func Encode(desc Descriptor, value []byte) ([]byte, error) {
	if len(value) > desc.MaxLength {
		return nil, fmt.Errorf("%w: %s takes at most %d bytes, got %d", ErrValueTooLong, desc.Name, desc.MaxLength, len(value))
	}
	frame := make([]byte, writeHeaderSize+desc.MaxLength)
	frame[0] = SIDWriteDataByLocalID
	frame[1] = desc.ID
	frame[2] = WriteTargetMarker
	copy(frame[writeHeaderSize:], value)
	return frame, nil
}

func sessionRequest() []byte {
	return []byte{SIDStartDiagnosticSession, DiagnosticSessionID}
}

func readRequest(id byte) []byte {
	return []byte{SIDReadDataByLocalID, id}
}

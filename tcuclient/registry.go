package tcuclient

import (
	"fmt"
	"strings"
)

// Encoding selects the byte layout of a parameter value.
type Encoding uint8

const (
	Flag Encoding = iota
	SignalQuality
	PaddedASCII
)

func (e Encoding) String() string {
	switch e {
	case Flag:
		return "flag"
	case SignalQuality:
		return "signal_quality"
	case PaddedASCII:
		return "padded_ascii"
	}
	return fmt.Sprintf("encoding(%d)", uint8(e))
}

// ParseEncoding accepts the names produced by Encoding.String.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flag":
		return Flag, nil
	case "signal_quality", "signalquality":
		return SignalQuality, nil
	case "padded_ascii", "paddedascii", "text", "":
		return PaddedASCII, nil
	}
	return 0, fmt.Errorf("unknown encoding %q", s)
}

// DefaultMaxLength is the value area of every write frame.
const DefaultMaxLength = 128

// maxFrameValue keeps 3+MaxLength within a single ISO-TP message.
const maxFrameValue = 4095 - 3

// Descriptor describes one parameter on the unit.
type Descriptor struct {
	ID          byte
	Name        string
	Encoding    Encoding
	FieldLength int // length reported by the unit, informational
	MaxLength   int // write frame value area
	Writable    bool
}

// Registry is an ordered, immutable parameter catalog.
type Registry struct {
	entries []Descriptor
	byName  map[string]int
}

// NewRegistry validates entries and keeps their order.
func NewRegistry(entries []Descriptor) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("registry must contain at least one parameter")
	}

	r := &Registry{
		entries: make([]Descriptor, len(entries)),
		byName:  make(map[string]int, len(entries)),
	}
	seenIDs := make(map[byte]string, len(entries))
	for i, d := range entries {
		if d.Name == "" {
			return nil, fmt.Errorf("parameter #%d has an empty name", i)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter name %q", d.Name)
		}
		if other, dup := seenIDs[d.ID]; dup {
			return nil, fmt.Errorf("parameter %q reuses id 0x%02X of %q", d.Name, d.ID, other)
		}
		if d.Encoding > PaddedASCII {
			return nil, fmt.Errorf("parameter %q: %s is not supported", d.Name, d.Encoding)
		}
		if d.MaxLength <= 0 || d.MaxLength > maxFrameValue {
			return nil, fmt.Errorf("parameter %q: max length %d out of range 1..%d", d.Name, d.MaxLength, maxFrameValue)
		}
		seenIDs[d.ID] = d.Name
		r.byName[d.Name] = i
		r.entries[i] = d
	}
	return r, nil
}

var defaultEntries = []Descriptor{
	{ID: 0x04, Name: "activation", Encoding: Flag, FieldLength: 1, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x09, Name: "signal_level", Encoding: SignalQuality, FieldLength: 20, MaxLength: DefaultMaxLength, Writable: false},
	{ID: 0x81, Name: "vin", Encoding: PaddedASCII, FieldLength: 17, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x10, Name: "apn_dial", Encoding: PaddedASCII, FieldLength: 128, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x11, Name: "apn_user", Encoding: PaddedASCII, FieldLength: 128, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x12, Name: "apn_pass", Encoding: PaddedASCII, FieldLength: 128, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x13, Name: "apn_name", Encoding: PaddedASCII, FieldLength: 128, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x14, Name: "dns1", Encoding: PaddedASCII, FieldLength: 128, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x15, Name: "dns2", Encoding: PaddedASCII, FieldLength: 128, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x16, Name: "proxy", Encoding: PaddedASCII, FieldLength: 128, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x17, Name: "proxy_port", Encoding: PaddedASCII, FieldLength: 128, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x18, Name: "apn_connection_type", Encoding: PaddedASCII, FieldLength: 128, MaxLength: DefaultMaxLength, Writable: true},
	{ID: 0x19, Name: "server_hostname", Encoding: PaddedASCII, FieldLength: 128, MaxLength: DefaultMaxLength, Writable: true},
}

// DefaultRegistry returns the built-in TCU parameter table.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultEntries)
	if err != nil {
		panic(err)
	}
	return r
}

// List returns the descriptors in declaration order.
func (r *Registry) List() []Descriptor {
	return append([]Descriptor(nil), r.entries...)
}

// Find looks a parameter up by name.
func (r *Registry) Find(name string) (Descriptor, error) {
	i, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrParameterNotFound, name)
	}
	return r.entries[i], nil
}

// ByID looks a parameter up by id.
func (r *Registry) ByID(id byte) (Descriptor, bool) {
	for _, d := range r.entries {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// WritableNames lists writable parameters in declaration order.
func (r *Registry) WritableNames() []string {
	var names []string
	for _, d := range r.entries {
		if d.Writable {
			names = append(names, d.Name)
		}
	}
	return names
}

// Len returns the number of parameters.
func (r *Registry) Len() int { return len(r.entries) }

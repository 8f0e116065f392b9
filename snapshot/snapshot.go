// Package snapshot stores the raw read responses of one run as an Intel HEX
// image so a configuration can be compared or decoded later without the unit.
//
// Layout: parameter id N occupies the 256-byte slot at address N<<8, holding a
// big-endian uint16 length followed by the raw positive response. When a key
// is given, a 16-byte AES-CMAC over all slots is stored at TagAddress.
package snapshot

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/LoveWonYoung/tcucfg/tcuclient"
	cmac "github.com/chmike/cmac-go"
	"github.com/marcinbor85/gohex"
)

const (
	SlotSize   = 0x100
	TagAddress = 0x10000
	TagSize    = 16

	slotHeader = 2
	// MaxRawLength is the longest response that fits in one slot.
	MaxRawLength = SlotSize - slotHeader
)

var (
	ErrMissingTag  = errors.New("snapshot is not signed")
	ErrTagMismatch = errors.New("snapshot tag does not match")
	ErrCorrupt     = errors.New("snapshot is corrupt")
)

// Entry is the raw positive response of one parameter.
type Entry struct {
	ID  byte
	Raw []byte
}

// Snapshot is an ordered set of entries, at most one per id.
type Snapshot struct {
	Entries []Entry
	// Signed is set by Read when a tag was present and verified.
	Signed bool
}

// FromReport collects the successful reads of a run.
func FromReport(report *tcuclient.Report) *Snapshot {
	s := &Snapshot{}
	if report == nil {
		return s
	}
	for _, r := range report.Reads {
		if r.Err != nil || len(r.Raw) == 0 {
			continue
		}
		s.Entries = append(s.Entries, Entry{ID: r.Descriptor.ID, Raw: append([]byte(nil), r.Raw...)})
	}
	s.sort()
	return s
}

func (s *Snapshot) sort() {
	sort.Slice(s.Entries, func(i, j int) bool { return s.Entries[i].ID < s.Entries[j].ID })
}

// Write dumps s as Intel HEX; key may be nil for an unsigned image.
func (s *Snapshot) Write(w io.Writer, key []byte) error {
	s.sort()
	mem := gohex.NewMemory()
	seen := make(map[byte]bool, len(s.Entries))
	for _, e := range s.Entries {
		if seen[e.ID] {
			return fmt.Errorf("duplicate entry for id 0x%02X", e.ID)
		}
		seen[e.ID] = true
		if len(e.Raw) > MaxRawLength {
			return fmt.Errorf("id 0x%02X: response of %d bytes exceeds slot", e.ID, len(e.Raw))
		}
		if err := mem.AddBinary(uint32(e.ID)<<8, slot(e.Raw)); err != nil {
			return fmt.Errorf("id 0x%02X: %w", e.ID, err)
		}
	}
	if key != nil {
		tag, err := sign(key, s.Entries)
		if err != nil {
			return err
		}
		if err := mem.AddBinary(TagAddress, tag); err != nil {
			return err
		}
	}
	return mem.DumpIntelHex(w, 16)
}

// Save writes s to path.
func Save(path string, s *Snapshot, key []byte) error {
	var buf bytes.Buffer
	if err := s.Write(&buf, key); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Read parses an image. With a key the tag must be present and valid; without
// one the tag is ignored.
func Read(r io.Reader, key []byte) (*Snapshot, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	s := &Snapshot{}
	var tag []byte
	for _, seg := range mem.GetDataSegments() {
		if seg.Address >= TagAddress {
			if seg.Address != TagAddress || len(seg.Data) != TagSize {
				return nil, fmt.Errorf("%w: unexpected data at 0x%X", ErrCorrupt, seg.Address)
			}
			tag = seg.Data
			continue
		}
		entries, err := parseSegment(seg.Address, seg.Data)
		if err != nil {
			return nil, err
		}
		s.Entries = append(s.Entries, entries...)
	}
	s.sort()

	if key == nil {
		return s, nil
	}
	if tag == nil {
		return nil, ErrMissingTag
	}
	want, err := sign(key, s.Entries)
	if err != nil {
		return nil, err
	}
	if !cmac.Equal(tag, want) {
		return nil, ErrTagMismatch
	}
	s.Signed = true
	return s, nil
}

// Load reads the image at path.
func Load(path string, key []byte) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, key)
}

// parseSegment splits a contiguous segment into slots. Adjacent slots only
// merge into one segment when the earlier slot is completely full.
func parseSegment(addr uint32, data []byte) ([]Entry, error) {
	if addr%SlotSize != 0 {
		return nil, fmt.Errorf("%w: segment at 0x%X is not slot aligned", ErrCorrupt, addr)
	}
	var entries []Entry
	for off := 0; off < len(data); off += SlotSize {
		if len(data)-off < slotHeader {
			return nil, fmt.Errorf("%w: short slot at 0x%X", ErrCorrupt, int(addr)+off)
		}
		n := int(binary.BigEndian.Uint16(data[off:]))
		end := off + slotHeader + n
		if n > MaxRawLength || end > len(data) {
			return nil, fmt.Errorf("%w: slot at 0x%X claims %d bytes", ErrCorrupt, int(addr)+off, n)
		}
		if end < len(data) && end-off != SlotSize {
			return nil, fmt.Errorf("%w: trailing bytes after slot at 0x%X", ErrCorrupt, int(addr)+off)
		}
		id := byte((int(addr) + off) >> 8)
		entries = append(entries, Entry{ID: id, Raw: append([]byte(nil), data[off+slotHeader:end]...)})
	}
	return entries, nil
}

func slot(raw []byte) []byte {
	out := make([]byte, slotHeader+len(raw))
	binary.BigEndian.PutUint16(out, uint16(len(raw)))
	copy(out[slotHeader:], raw)
	return out
}

func sign(key []byte, entries []Entry) ([]byte, error) {
	cm, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("snapshot key: %w", err)
	}
	for _, e := range entries {
		cm.Write([]byte{e.ID})
		cm.Write(slot(e.Raw))
	}
	return cm.Sum(nil), nil
}

// Decoded is one entry interpreted through a registry.
type Decoded struct {
	Entry
	Descriptor tcuclient.Descriptor
	Value      tcuclient.Value
	Err        error
}

// Decode interprets every entry with the codec used for live reads. Entries
// whose id is not registered carry tcuclient.ErrParameterNotFound.
func (s *Snapshot) Decode(reg *tcuclient.Registry) []Decoded {
	out := make([]Decoded, 0, len(s.Entries))
	for _, e := range s.Entries {
		d := Decoded{Entry: e}
		desc, ok := reg.ByID(e.ID)
		if !ok {
			d.Err = fmt.Errorf("%w: id 0x%02X", tcuclient.ErrParameterNotFound, e.ID)
			out = append(out, d)
			continue
		}
		d.Descriptor = desc
		d.Value, d.Err = tcuclient.Decode(desc, e.Raw)
		out = append(out, d)
	}
	return out
}

package snapshot

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LoveWonYoung/tcucfg/tcuclient"
)

var testKey = []byte{
	0x2B, 0x7E, 0x15, 0x16, 0x28, 0xAE, 0xD2, 0xA6,
	0xAB, 0xF7, 0x15, 0x88, 0x09, 0xCF, 0x4F, 0x3C,
}

func textRaw(id byte, s string, field int) []byte {
	raw := []byte{0x61, id, 0x00}
	buf := make([]byte, field)
	copy(buf, s)
	return append(raw, buf...)
}

func sampleReport() *tcuclient.Report {
	reg := tcuclient.DefaultRegistry()
	apn, _ := reg.Find("apn_name")
	sig, _ := reg.Find("signal_level")
	act, _ := reg.Find("activation")
	vin, _ := reg.Find("vin")
	return &tcuclient.Report{Reads: []tcuclient.ParameterReport{
		{ReadResult: tcuclient.ReadResult{Descriptor: act, Raw: []byte{0x61, 0x04, 0x01}}},
		{ReadResult: tcuclient.ReadResult{Descriptor: sig, Raw: []byte{0x61, 0x09, 3, 5, 0}}},
		{ReadResult: tcuclient.ReadResult{Descriptor: apn, Raw: textRaw(apn.ID, "internet", 128)}},
		{ReadResult: tcuclient.ReadResult{Descriptor: vin}, Err: tcuclient.ErrNoResponse},
	}}
}

func TestFromReport(t *testing.T) {
	s := FromReport(sampleReport())
	if len(s.Entries) != 3 {
		t.Fatalf("want 3 entries (failed read skipped), got %d", len(s.Entries))
	}
	for i := 1; i < len(s.Entries); i++ {
		if s.Entries[i-1].ID >= s.Entries[i].ID {
			t.Errorf("entries not sorted by id: % 02X", []byte{s.Entries[i-1].ID, s.Entries[i].ID})
		}
	}
	if len(FromReport(nil).Entries) != 0 {
		t.Error("nil report should give an empty snapshot")
	}
}

func TestWriteRead_Signed(t *testing.T) {
	var buf bytes.Buffer
	if err := FromReport(sampleReport()).Write(&buf, testKey); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	text := buf.String()
	if !strings.HasPrefix(text, ":") || !strings.Contains(strings.ToUpper(text), ":00000001FF") {
		t.Errorf("not an Intel HEX image:\n%s", text)
	}

	s, err := Read(strings.NewReader(text), testKey)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !s.Signed {
		t.Error("signed image should verify")
	}
	if len(s.Entries) != 3 {
		t.Fatalf("entries %d", len(s.Entries))
	}
	if !bytes.Equal(s.Entries[0].Raw, []byte{0x61, 0x04, 0x01}) {
		t.Errorf("first entry % 02X", s.Entries[0].Raw)
	}

	decoded := s.Decode(tcuclient.DefaultRegistry())
	got := map[string]string{}
	for _, d := range decoded {
		if d.Err != nil {
			t.Errorf("decode %s: %v", d.Descriptor.Name, d.Err)
		}
		got[d.Descriptor.Name] = d.Value.String()
	}
	want := map[string]string{
		"activation":   "1",
		"signal_level": "ANT:3,RECEPTION:5,ERRRATE:0",
		"apn_name":     "internet",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestRead_Unsigned(t *testing.T) {
	var buf bytes.Buffer
	if err := FromReport(sampleReport()).Write(&buf, nil); err != nil {
		t.Fatal(err)
	}
	image := buf.String()

	s, err := Read(strings.NewReader(image), nil)
	if err != nil || s.Signed {
		t.Fatalf("unsigned read: signed=%v err=%v", s != nil && s.Signed, err)
	}
	if _, err := Read(strings.NewReader(image), testKey); !errors.Is(err, ErrMissingTag) {
		t.Errorf("want ErrMissingTag, got %v", err)
	}
}

func TestRead_TagMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := FromReport(sampleReport()).Write(&buf, testKey); err != nil {
		t.Fatal(err)
	}
	other := append([]byte(nil), testKey...)
	other[0] ^= 0xFF
	if _, err := Read(bytes.NewReader(buf.Bytes()), other); !errors.Is(err, ErrTagMismatch) {
		t.Errorf("want ErrTagMismatch, got %v", err)
	}
}

func TestFullSlotsMerge(t *testing.T) {
	full := make([]byte, MaxRawLength)
	full[0], full[1] = 0x61, 0x20
	s := &Snapshot{Entries: []Entry{
		{ID: 0x21, Raw: []byte{0x61, 0x21, 0x00, 'x'}},
		{ID: 0x20, Raw: full},
	}}

	var buf bytes.Buffer
	if err := s.Write(&buf, nil); err != nil {
		t.Fatal(err)
	}
	got, err := Read(&buf, nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got.Entries) != 2 || got.Entries[0].ID != 0x20 || len(got.Entries[0].Raw) != MaxRawLength {
		t.Fatalf("entries %+v", got.Entries)
	}
	if !bytes.Equal(got.Entries[1].Raw, []byte{0x61, 0x21, 0x00, 'x'}) {
		t.Errorf("second slot % 02X", got.Entries[1].Raw)
	}
}

func TestWrite_Invalid(t *testing.T) {
	tooLong := &Snapshot{Entries: []Entry{{ID: 1, Raw: make([]byte, MaxRawLength+1)}}}
	if err := tooLong.Write(&bytes.Buffer{}, nil); err == nil {
		t.Error("oversized response should be rejected")
	}
	dup := &Snapshot{Entries: []Entry{{ID: 1, Raw: []byte{1}}, {ID: 1, Raw: []byte{2}}}}
	if err := dup.Write(&bytes.Buffer{}, nil); err == nil {
		t.Error("duplicate id should be rejected")
	}
	if err := FromReport(sampleReport()).Write(&bytes.Buffer{}, []byte{1, 2, 3}); err == nil {
		t.Error("bad key length should be rejected")
	}
}

func TestRead_Corrupt(t *testing.T) {
	if _, err := Read(strings.NewReader("not hex\n"), nil); !errors.Is(err, ErrCorrupt) {
		t.Errorf("want ErrCorrupt, got %v", err)
	}
}

func TestDecode_UnknownID(t *testing.T) {
	s := &Snapshot{Entries: []Entry{{ID: 0xEE, Raw: []byte{0x61, 0xEE, 0x00}}}}
	d := s.Decode(tcuclient.DefaultRegistry())
	if len(d) != 1 || !errors.Is(d[0].Err, tcuclient.ErrParameterNotFound) {
		t.Errorf("decoded %+v", d)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcu.hex")
	if err := Save(path, FromReport(sampleReport()), testKey); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path, testKey)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !s.Signed || len(s.Entries) != 3 {
		t.Errorf("signed=%v entries=%d", s.Signed, len(s.Entries))
	}
}

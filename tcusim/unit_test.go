package tcusim

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/LoveWonYoung/tcucfg/driver"
	"github.com/LoveWonYoung/tcucfg/link"
	"github.com/LoveWonYoung/tcucfg/tcuclient"
	"github.com/LoveWonYoung/tcucfg/tp_layer"
	"github.com/rs/zerolog"
)

// ============================================================================
// 单元应答逻辑
// ============================================================================

func newTestUnit(t *testing.T) (*Unit, *driver.MockCan, *tp_layer.Address, tp_layer.Config) {
	t.Helper()
	addr, err := tp_layer.NewNormal11BitAddress(0x746, 0x783)
	if err != nil {
		t.Fatal(err)
	}
	cfg := tp_layer.DefaultConfig()
	cfg.StMin = 0
	cfg.BlockSize = 1
	cfg.BlockingSend = true
	cfg.BlockingSendTimeout = 2 * time.Second

	bus := driver.NewMockCan(driver.CAN, zerolog.Nop())
	unit, err := New(bus, addr, cfg, tcuclient.DefaultRegistry(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return unit, bus, addr, cfg
}

func TestHandle(t *testing.T) {
	unit, _, _, _ := newTestUnit(t)

	tests := []struct {
		name string
		req  []byte
		want []byte
	}{
		{"session", []byte{0x10, 0xC0}, []byte{0x50, 0xC0}},
		{"read flag", []byte{0x21, 0x04}, []byte{0x61, 0x04, 0x01}},
		{"read signal", []byte{0x21, 0x09}, []byte{0x61, 0x09, 3, 5, 0}},
		{"unknown id", []byte{0x21, 0xEE}, []byte{0x7F, 0x21, 0x31}},
		{"read-only write", append([]byte{0x3B, 0x09, 0x01}, make([]byte, 128)...), []byte{0x7F, 0x3B, 0x31}},
		{"bad marker", []byte{0x3B, 0x13, 0x02, 'x'}, []byte{0x7F, 0x3B, 0x13}},
		{"unsupported service", []byte{0x27, 0x01}, []byte{0x7F, 0x27, 0x11}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := unit.Handle(tc.req); !bytes.Equal(got, tc.want) {
				t.Errorf("Handle(% 02X)\nwant: % 02X\ngot:  % 02X", tc.req, tc.want, got)
			}
		})
	}
}

func TestHandle_WriteThenRead(t *testing.T) {
	unit, _, _, _ := newTestUnit(t)

	frame, _ := tcuclient.Encode(tcuclient.Descriptor{ID: 0x13, Name: "apn_name", MaxLength: 128, Writable: true}, []byte("hologram"))
	if got := unit.Handle(frame); !bytes.Equal(got, []byte{0x7B, 0x13}) {
		t.Fatalf("write ack % 02X", got)
	}
	v, _ := unit.Value("apn_name")
	if string(v) != "hologram" {
		t.Errorf("stored %q", v)
	}

	resp := unit.Handle([]byte{0x21, 0x13})
	if len(resp) != 3+128 {
		t.Errorf("text response length %d, want %d", len(resp), 3+128)
	}
	if !bytes.HasPrefix(resp, append([]byte{0x61, 0x13, 0x00}, "hologram"...)) {
		t.Errorf("text response % 02X", resp[:12])
	}
}

func TestHandle_Faults(t *testing.T) {
	unit, _, _, _ := newTestUnit(t)
	if err := unit.InjectFault("dns1", Fault{Drop: 2, NRC: tcuclient.NRCBusyRepeatRequest, NRCCount: 1}); err != nil {
		t.Fatal(err)
	}

	req := []byte{0x21, 0x14}
	if unit.Handle(req) != nil || unit.Handle(req) != nil {
		t.Fatal("first two requests should be dropped")
	}
	if got := unit.Handle(req); !bytes.Equal(got, []byte{0x7F, 0x21, 0x21}) {
		t.Errorf("third request should be busy, got % 02X", got)
	}
	if got := unit.Handle(req); got[0] != 0x61 {
		t.Errorf("fourth request should succeed, got % 02X", got)
	}
	if err := unit.InjectFault("nope", Fault{}); !errors.Is(err, tcuclient.ErrParameterNotFound) {
		t.Errorf("unknown name: %v", err)
	}
}

// ============================================================================
// 端到端：客户端 -> link -> MockCan -> 模拟单元
// ============================================================================

func TestEndToEnd(t *testing.T) {
	unit, bus, addr, cfg := newTestUnit(t)
	unit.Set("apn_name", []byte("internet"))
	unit.InjectFault("vin", Fault{Drop: 1})
	unit.Start()
	defer unit.Stop()

	port := link.New(bus, addr, cfg, zerolog.Nop())
	opts := tcuclient.DefaultOptions()
	opts.ReadTimeout = 500 * time.Millisecond

	plan := tcuclient.Plan{Write: &tcuclient.WriteRequest{Name: "server_hostname", Value: "tcu.example.net"}}
	report, err := tcuclient.Run(port, tcuclient.DefaultRegistry(), plan, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !unit.SessionStarted() || report.SessionErr != nil {
		t.Errorf("session: started=%v err=%v", unit.SessionStarted(), report.SessionErr)
	}
	if report.Write == nil || !bytes.Equal(report.Write.Ack, []byte{0x7B, 0x19}) {
		t.Errorf("write report %+v", report.Write)
	}
	if failed := report.Failed(); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}

	values := map[string]tcuclient.ParameterReport{}
	for _, r := range report.Reads {
		values[r.Descriptor.Name] = r
	}
	if got := values["apn_name"].Value.String(); got != "internet" {
		t.Errorf("apn_name = %q", got)
	}
	if got := values["server_hostname"].Value.String(); got != "tcu.example.net" {
		t.Errorf("server_hostname = %q, write not applied", got)
	}
	if got := values["signal_level"].Value.String(); got != "ANT:3,RECEPTION:5,ERRRATE:0" {
		t.Errorf("signal_level = %q", got)
	}
	if r := values["vin"]; r.Attempts != 2 || r.Value.Text != "SJNFAAZE0U6000001" {
		t.Errorf("vin attempts=%d value=%q", r.Attempts, r.Value.Text)
	}

	if bus.IsRunning() {
		t.Error("bus must be stopped after the run")
	}
	if err := port.Send([]byte{0x21, 0x04}); !errors.Is(err, link.ErrNotStarted) {
		t.Errorf("send after run: %v", err)
	}
}

func TestEndToEnd_SilentSession(t *testing.T) {
	unit, bus, addr, cfg := newTestUnit(t)
	unit.SilentSession(true)
	unit.Start()
	defer unit.Stop()

	port := link.New(bus, addr, cfg, zerolog.Nop())
	opts := tcuclient.DefaultOptions()
	opts.SessionTimeout = 200 * time.Millisecond

	report, err := tcuclient.Run(port, tcuclient.DefaultRegistry(), tcuclient.Plan{}, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !errors.Is(report.SessionErr, tcuclient.ErrSessionUnacknowledged) {
		t.Errorf("want session warning, got %v", report.SessionErr)
	}
	if len(report.Reads) != tcuclient.DefaultRegistry().Len() || len(report.Failed()) != 0 {
		t.Errorf("read pass after silent session: %d reads, %d failed", len(report.Reads), len(report.Failed()))
	}
}

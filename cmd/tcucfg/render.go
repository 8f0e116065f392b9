package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/LoveWonYoung/tcucfg/snapshot"
	"github.com/LoveWonYoung/tcucfg/tcuclient"
	"github.com/pterm/pterm"
)

type renderer struct {
	out io.Writer
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) usage(w io.Writer, fs *flag.FlagSet, reg *tcuclient.Registry) {
	fmt.Fprintln(w, "Description: read/write Nissan Leaf TCU configuration over KWP2000 on ISO-TP")
	fmt.Fprintln(w, "Tested with a Lawicel CANUSB adapter (SLCAN)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Read usage: tcucfg [flags] <serial_port>")
	fmt.Fprintln(w, "Read example: tcucfg COM4")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Write usage: tcucfg [flags] <serial_port> <config_item> <value>")
	fmt.Fprintln(w, "Write example: tcucfg COM4 apn_name hologram")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Other commands: tcucfg list | tcucfg show <snapshot.hex>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "All writeable config items:")
	for _, name := range reg.WritableNames() {
		fmt.Fprintln(w, name)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit status: 0 ok, 1 transport failure, 2 usage error, 3 snapshot not saved")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}

func (r *renderer) fail(err error) {
	pterm.Error.WithWriter(r.out).Println(err.Error())
}

func (r *renderer) success(format string, args ...any) {
	pterm.Success.WithWriter(r.out).Printfln(format, args...)
}

// report prints a run in execution order: session, write, then one table row
// per parameter followed by the failures.
func (r *renderer) report(rep *tcuclient.Report) {
	pterm.Info.WithWriter(r.out).Println("Starting diagnostic session 0xC0")
	if len(rep.SessionAck) > 0 {
		fmt.Fprintf(r.out, "Response: %s\n", hexUpper(rep.SessionAck))
	}
	if rep.SessionErr != nil {
		pterm.Warning.WithWriter(r.out).Println(rep.SessionErr.Error())
	}

	if w := rep.Write; w != nil {
		switch {
		case w.Err != nil:
			pterm.Error.WithWriter(r.out).Printfln("Write %s failed: %v", w.Descriptor.Name, w.Err)
		case w.Ack == nil:
			pterm.Warning.WithWriter(r.out).Printfln("Write %s: no response", w.Descriptor.Name)
		default:
			pterm.Success.WithWriter(r.out).Printfln("Write response: %s", hexUpper(w.Ack))
		}
	}

	if len(rep.Reads) == 0 {
		return
	}
	pterm.Info.WithWriter(r.out).Println("Reading all config items:")
	data := pterm.TableData{{"Name", "Value", "Raw"}}
	for _, p := range rep.Reads {
		value := "-"
		if p.Err == nil {
			value = p.Value.String()
		}
		data = append(data, []string{p.Descriptor.Name, value, hexUpper(p.Raw)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(r.out).Render(); err != nil {
		r.fail(err)
	}

	for _, p := range rep.Failed() {
		pterm.Error.WithWriter(r.out).Printfln("%s: %s", p.Descriptor.Name, describe(p.Err))
	}
}

func (r *renderer) list(reg *tcuclient.Registry) {
	data := pterm.TableData{{"Name", "ID", "Encoding", "Field", "Writable"}}
	for _, d := range reg.List() {
		writable := "no"
		if d.Writable {
			writable = "yes"
		}
		data = append(data, []string{
			d.Name,
			fmt.Sprintf("0x%02X", d.ID),
			d.Encoding.String(),
			fmt.Sprintf("%d", d.FieldLength),
			writable,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(r.out).Render(); err != nil {
		r.fail(err)
	}
}

func (r *renderer) snapshot(s *snapshot.Snapshot, reg *tcuclient.Registry) {
	if s.Signed {
		pterm.Success.WithWriter(r.out).Println("Snapshot tag verified")
	} else {
		pterm.Warning.WithWriter(r.out).Println("Snapshot tag not checked")
	}
	data := pterm.TableData{{"Name", "Value", "Raw"}}
	for _, d := range s.Decode(reg) {
		name, value := d.Descriptor.Name, d.Value.String()
		if d.Err != nil {
			value = describe(d.Err)
		}
		if name == "" {
			name = fmt.Sprintf("0x%02X", d.ID)
		}
		data = append(data, []string{name, value, hexUpper(d.Raw)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(r.out).Render(); err != nil {
		r.fail(err)
	}
}

func describe(err error) string {
	var nr *tcuclient.NegativeResponseError
	if errors.As(err, &nr) {
		return fmt.Sprintf("negative response 0x%02X (%s)", nr.NRC, tcuclient.NRCDescription(nr.NRC))
	}
	return err.Error()
}

func hexUpper(b []byte) string {
	return strings.ToUpper(fmt.Sprintf("%x", b))
}

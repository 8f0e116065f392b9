// Command tcucfg reads every configuration item of a Nissan Leaf TCU and
// optionally writes one of them first.
//
//	tcucfg [flags] <serial_port> [<config_item> <value>]
//	tcucfg [flags] -simulate [<config_item> <value>]
//	tcucfg [flags] list
//	tcucfg [flags] show <snapshot.hex>
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/LoveWonYoung/tcucfg/config"
	"github.com/LoveWonYoung/tcucfg/driver"
	"github.com/LoveWonYoung/tcucfg/link"
	"github.com/LoveWonYoung/tcucfg/logrecorder"
	"github.com/LoveWonYoung/tcucfg/snapshot"
	"github.com/LoveWonYoung/tcucfg/tcuclient"
	"github.com/LoveWonYoung/tcucfg/tcusim"
	"github.com/rs/zerolog"
)

const (
	exitOK        = 0
	exitTransport = 1
	exitUsage     = 2
	exitSnapshot  = 3 // run finished and was reported, saving the snapshot failed
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type cliFlags struct {
	configPath   string
	registryPath string
	snapshotPath string
	logLevel     string
	simulate     bool
}

func run(args []string, stdout, stderr io.Writer) int {
	var f cliFlags
	fs := flag.NewFlagSet("tcucfg", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "TOML config file")
	fs.StringVar(&f.registryPath, "registry", "", "YAML parameter table replacing the built-in one")
	fs.StringVar(&f.snapshotPath, "snapshot", "", "save the raw read responses to this Intel HEX file")
	fs.StringVar(&f.logLevel, "log-level", "", "trace, debug, info, warn, error or disabled")
	fs.BoolVar(&f.simulate, "simulate", false, "talk to a simulated TCU instead of a serial adapter")

	ui := newRenderer(stdout)

	cfg := config.Default()
	reg := tcuclient.DefaultRegistry()
	fs.Usage = func() { ui.usage(stderr, fs, reg) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			ui.fail(err)
			return exitUsage
		}
		cfg = loaded
	}
	if f.registryPath == "" {
		f.registryPath = cfg.RegistryPath
	}
	if f.registryPath != "" {
		loaded, err := config.LoadRegistry(f.registryPath)
		if err != nil {
			ui.fail(err)
			return exitUsage
		}
		reg = loaded
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}

	rec, err := logrecorder.New(logrecorder.Options{
		Dir:     cfg.LogDir,
		Prefix:  "tcucfg_",
		Level:   cfg.LogLevel,
		Console: stderr,
	})
	if err != nil {
		ui.fail(err)
		return exitUsage
	}
	defer rec.Close()
	logger := rec.Logger

	pos := fs.Args()
	if len(pos) > 0 {
		switch pos[0] {
		case "list":
			if len(pos) != 1 {
				fs.Usage()
				return exitUsage
			}
			ui.list(reg)
			return exitOK
		case "show":
			if len(pos) != 2 {
				fs.Usage()
				return exitUsage
			}
			return show(ui, pos[1], cfg.SnapshotKey, reg)
		}
	}

	if !f.simulate {
		if len(pos) == 0 {
			fs.Usage()
			return exitUsage
		}
		cfg.Channel = pos[0]
		pos = pos[1:]
	}

	var plan tcuclient.Plan
	switch len(pos) {
	case 0:
	case 2:
		plan.Write = &tcuclient.WriteRequest{Name: pos[0], Value: pos[1]}
		if err := checkWrite(reg, *plan.Write); err != nil {
			ui.fail(err)
			fs.Usage()
			return exitUsage
		}
	default:
		fs.Usage()
		return exitUsage
	}

	port, cleanup, err := openPort(cfg, reg, f.simulate, logger)
	if err != nil {
		ui.fail(err)
		return exitUsage
	}
	defer cleanup()

	report, err := tcuclient.Run(port, reg, plan, cfg.Options(), logger)
	if report != nil {
		ui.report(report)
	}
	if err != nil {
		ui.fail(err)
		var te *tcuclient.TransportError
		if errors.As(err, &te) {
			return exitTransport
		}
		return exitUsage
	}

	if f.snapshotPath != "" {
		if err := snapshot.Save(f.snapshotPath, snapshot.FromReport(report), cfg.SnapshotKey); err != nil {
			ui.fail(fmt.Errorf("save snapshot: %w", err))
			return exitSnapshot
		}
		ui.success("Snapshot saved to %s", f.snapshotPath)
	}
	return exitOK
}

// checkWrite rejects an unknown, read-only or oversized target before any
// device is opened.
func checkWrite(reg *tcuclient.Registry, w tcuclient.WriteRequest) error {
	d, err := reg.Find(w.Name)
	if err != nil {
		return err
	}
	if !d.Writable {
		return fmt.Errorf("%w: %s", tcuclient.ErrNotWritable, d.Name)
	}
	_, err = tcuclient.Encode(d, []byte(w.Value))
	return err
}

// openPort builds the link stack over either the serial adapter or a virtual
// bus with a simulated unit on the far end.
func openPort(cfg config.Config, reg *tcuclient.Registry, simulate bool, logger zerolog.Logger) (tcuclient.Port, func(), error) {
	addr, err := cfg.Address()
	if err != nil {
		return nil, nil, err
	}
	tpCfg := cfg.ISOTP()

	if !simulate {
		dev := driver.NewSLCAN(cfg.SLCAN(), logger)
		return link.New(dev, addr, tpCfg, logger), func() {}, nil
	}

	bus := driver.NewMockCan(driver.CAN, logger)
	unit, err := tcusim.New(bus, addr, tpCfg, reg, logger)
	if err != nil {
		return nil, nil, err
	}
	unit.Start()
	logger.Info().Msg("using simulated TCU")
	return link.New(bus, addr, tpCfg, logger), unit.Stop, nil
}

func show(ui *renderer, path string, key []byte, reg *tcuclient.Registry) int {
	s, err := snapshot.Load(path, key)
	if err != nil {
		ui.fail(err)
		if errors.Is(err, snapshot.ErrTagMismatch) || errors.Is(err, snapshot.ErrMissingTag) {
			return exitTransport
		}
		return exitUsage
	}
	ui.snapshot(s, reg)
	return exitOK
}

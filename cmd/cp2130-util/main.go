// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// cp2130-util pokes at CP2130 devices found on the USB bus.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/alecthomas/kong"
	"github.com/edaniels/golog"
	"github.com/google/gousb"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"periph.io/x/cp2130"
	"periph.io/x/periph/conn/spi"
)

type cli struct {
	Index    int    `help:"Device index when multiple devices match." default:"0"`
	Vid      string `help:"Vendor id in hex." default:"10c4"`
	Pid      string `help:"Product id in hex." default:"87a0"`
	LogLevel string `name:"log-level" help:"Log level: debug, info, warn or error." default:"info"`

	List      listCmd      `cmd:"" help:"List matching devices."`
	Version   versionCmd   `cmd:"" help:"Fetch the chip version."`
	Reset     resetCmd     `cmd:"" help:"Reset the chip."`
	SetOutput setOutputCmd `cmd:"" help:"Drive a GPIO pin as an output."`
	GetInput  getInputCmd  `cmd:"" help:"Read a GPIO pin."`
	GetValues getValuesCmd `cmd:"" help:"Read the level of every GPIO pin."`
	Spi       spiCmd       `cmd:"" help:"Run an SPI transfer on a channel."`
}

// app is the shared state bound into every subcommand.
type app struct {
	m      *cp2130.Manager
	filter cp2130.Filter
	index  int
	logger golog.Logger
}

func (a *app) open() (*cp2130.Dev, error) {
	return a.m.Open(a.filter, a.index, cp2130.Options{})
}

type listCmd struct{}

func (c *listCmd) Run(a *app) error {
	descs, err := a.m.Devices(a.filter)
	if err != nil {
		return err
	}
	for i, d := range descs {
		fmt.Printf("%d: bus %d addr %d %s:%s\n", i, d.Bus, d.Address, d.Vendor, d.Product)
	}
	if len(descs) == 0 {
		fmt.Println("no matching device")
	}
	return nil
}

type versionCmd struct{}

func (c *versionCmd) Run(a *app) error {
	dev, err := a.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	v, err := dev.Version()
	if err != nil {
		return err
	}
	i := dev.Info()
	fmt.Printf("%s %s (serial %s) version %d\n", i.Manufacturer, i.Product, i.Serial, v)
	return nil
}

type resetCmd struct{}

func (c *resetCmd) Run(a *app) error {
	dev, err := a.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	return dev.Reset()
}

type setOutputCmd struct {
	Pin   uint8  `help:"GPIO pin index." default:"6"`
	State string `help:"Pin state." enum:"high,low" default:"high"`
	Mode  string `help:"Drive mode." enum:"push-pull,open-drain" default:"push-pull"`
}

func (c *setOutputCmd) Run(a *app) error {
	dev, err := a.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	mode := cp2130.GpioPushPull
	if c.Mode == "open-drain" {
		mode = cp2130.GpioOpenDrain
	}
	level := cp2130.GpioHigh
	if c.State == "low" {
		level = cp2130.GpioLow
	}
	return dev.SetGpioModeLevel(c.Pin, mode, level)
}

type getInputCmd struct {
	Pin       uint8 `help:"GPIO pin index." default:"6"`
	Configure bool  `help:"Reconfigure the pin in input mode first."`
}

func (c *getInputCmd) Run(a *app) error {
	dev, err := a.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	if c.Configure {
		if err := dev.SetGpioModeLevel(c.Pin, cp2130.GpioInput, cp2130.GpioLow); err != nil {
			return err
		}
	}
	v, err := dev.GpioLevel(c.Pin)
	if err != nil {
		return err
	}
	fmt.Printf("pin %d: %t\n", c.Pin, v)
	return nil
}

type getValuesCmd struct{}

func (c *getValuesCmd) Run(a *app) error {
	dev, err := a.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	v, err := dev.GpioValues()
	if err != nil {
		return err
	}
	for pin := uint8(0); pin <= 10; pin++ {
		fmt.Printf("pin %2d: %t\n", pin, v.Level(pin))
	}
	return nil
}

type spiCmd struct {
	Channel uint8  `help:"SPI channel." default:"0"`
	Clock   string `help:"SPI clock." enum:"12mhz,6mhz,3mhz,1.5mhz,750khz,375khz" default:"375khz"`
	Mode    uint8  `help:"SPI mode (0-3)." default:"0"`
	Data    string `arg:"" help:"Bytes to clock out, in hex."`
	Read    bool   `help:"Read back as many bytes as written."`
}

func (c *spiCmd) Run(a *app) error {
	w, err := hex.DecodeString(c.Data)
	if err != nil {
		return err
	}
	dev, err := a.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	conf := cp2130.DefaultSpiConfig
	conf.Clock = clocks[c.Clock]
	conf.Mode = spiModes[c.Mode&3]
	conf.CsMode = cp2130.CsEnabled
	s, err := dev.SPI(c.Channel, conf, cp2130.NoCsPin)
	if err != nil {
		return err
	}
	if !c.Read {
		return s.Tx(w, nil)
	}
	r := make([]byte, len(w))
	if err := s.Tx(w, r); err != nil {
		return err
	}
	fmt.Printf("%x\n", r)
	return nil
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("cp2130-util"),
		kong.Description("CP2130 USB to SPI bridge utility."),
		kong.UsageOnError(),
	)

	logger, err := newLogger(c.LogLevel)
	kctx.FatalIfErrorf(err)

	filter, err := parseFilter(c.Vid, c.Pid)
	kctx.FatalIfErrorf(err)

	m := cp2130.NewManager(logger)
	defer func() {
		if err := m.Close(); err != nil {
			logger.Debugw("closing usb context", "error", err)
		}
	}()

	kctx.Bind(&app{m: m, filter: filter, index: c.Index, logger: logger})
	kctx.FatalIfErrorf(kctx.Run())
}

func parseFilter(vid, pid string) (cp2130.Filter, error) {
	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return cp2130.Filter{}, fmt.Errorf("bad vendor id %q: %w", vid, err)
	}
	p, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return cp2130.Filter{}, fmt.Errorf("bad product id %q: %w", pid, err)
	}
	return cp2130.Filter{Vid: gousb.ID(v), Pid: gousb.ID(p)}, nil
}

func newLogger(level string) (golog.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	if isatty.IsTerminal(os.Stderr.Fd()) {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(colorable.NewColorableStderr()),
		lvl,
	)
	return zap.New(core).Sugar(), nil
}

var spiModes = [4]spi.Mode{spi.Mode0, spi.Mode1, spi.Mode2, spi.Mode3}

var clocks = map[string]cp2130.SpiClock{
	"12mhz":  cp2130.Clock12Mhz,
	"6mhz":   cp2130.Clock6Mhz,
	"3mhz":   cp2130.Clock3Mhz,
	"1.5mhz": cp2130.Clock1500Khz,
	"750khz": cp2130.Clock750Khz,
	"375khz": cp2130.Clock375Khz,
}

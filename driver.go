// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Device discovery. The core never enumerates; it is handed an open device.

package cp2130

import (
	"strconv"
	"sync"

	"github.com/edaniels/golog"
	"github.com/google/gousb"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"periph.io/x/periph"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
)

// Stock USB identity of the chip.
const (
	DefaultVid gousb.ID = 0x10c4
	DefaultPid gousb.ID = 0x87a0
)

// Filter selects devices during discovery.
type Filter struct {
	Vid gousb.ID
	Pid gousb.ID
}

// DefaultFilter matches the chip's stock vendor and product ids.
func DefaultFilter() Filter {
	return Filter{Vid: DefaultVid, Pid: DefaultPid}
}

func (f Filter) matches(d *gousb.DeviceDesc) bool {
	return d.Vendor == f.Vid && d.Product == f.Pid
}

// Manager owns the process-wide USB transport context.
//
// Create one at startup and keep it alive until every Dev obtained through
// it is closed. Tests substitute the transport below this layer, so nothing
// here needs faking.
type Manager struct {
	ctx    *gousb.Context
	logger golog.Logger
}

// NewManager initializes the underlying USB context. The logger may be nil.
func NewManager(logger golog.Logger) *Manager {
	if logger == nil {
		logger = golog.NewLogger("cp2130")
	}
	return &Manager{ctx: gousb.NewContext(), logger: logger}
}

// Devices returns the descriptors of the connected devices matching f,
// without opening them.
func (m *Manager) Devices(f Filter) ([]*gousb.DeviceDesc, error) {
	var found []*gousb.DeviceDesc
	devs, err := m.ctx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		if f.matches(d) {
			found = append(found, d)
		}
		return false
	})
	// Nothing was kept open, but be paranoid about library behavior.
	for _, d := range devs {
		_ = d.Close()
	}
	return found, errors.Wrap(err, "enumerating devices")
}

// Open connects to the index-th device matching f.
//
// It fails with ErrInvalidIndex when fewer than index+1 matching devices are
// connected.
func (m *Manager) Open(f Filter, index int, opts Options) (*Dev, error) {
	devs, err := m.ctx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return f.matches(d)
	})
	if err != nil {
		for _, d := range devs {
			_ = d.Close()
		}
		return nil, errors.Wrap(err, "enumerating devices")
	}
	m.logger.Debugf("found %d matching devices", len(devs))
	if index < 0 || index >= len(devs) {
		for _, d := range devs {
			_ = d.Close()
		}
		return nil, errors.Wrapf(ErrInvalidIndex, "device %d of %d", index, len(devs))
	}
	var cerr error
	for i, d := range devs {
		if i != index {
			cerr = multierr.Append(cerr, d.Close())
		}
	}
	if cerr != nil {
		m.logger.Debugw("closing unused devices", "error", cerr)
	}
	dev, err := New(devs[index], opts, m.logger)
	if err != nil {
		return nil, multierr.Append(err, devs[index].Close())
	}
	return dev, nil
}

// Close releases the USB context. Every Dev must be closed first.
func (m *Manager) Close() error {
	return m.ctx.Close()
}

// All returns the devices opened by the periph driver.
func All() []*Dev {
	mu.Lock()
	defer mu.Unlock()
	out := make([]*Dev, len(all))
	copy(out, all)
	return out
}

var (
	mu  sync.Mutex
	all []*Dev
)

// driver opens every stock-identity device at host.Init time and registers
// an SPI port per device in the port registry.
type driver struct {
	m *Manager
}

func (d *driver) String() string {
	return "cp2130"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

func (d *driver) Init() (bool, error) {
	mu.Lock()
	defer mu.Unlock()
	if d.m == nil {
		d.m = NewManager(nil)
	}
	descs, err := d.m.Devices(DefaultFilter())
	if err != nil {
		return true, err
	}
	if len(descs) == 0 {
		return false, errors.New("cp2130: no device found")
	}
	for i := range descs {
		dev, err1 := d.m.Open(DefaultFilter(), i, Options{})
		if err1 != nil {
			err = err1
			continue
		}
		all = append(all, dev)
		if err1 := registerDev(dev, i); err1 != nil {
			return true, err1
		}
	}
	return true, err
}

// registerDev publishes the device's first SPI channel. The other channels
// share the bus state; claim them through Dev.Port as needed.
func registerDev(dev *Dev, i int) error {
	name := dev.String()
	return spireg.Register(name, []string{"CP2130/" + strconv.Itoa(i)}, -1, func() (spi.PortCloser, error) {
		return dev.Port(0), nil
	})
}

func init() {
	periph.MustRegister(&drv)
}

var drv driver

var _ periph.Driver = &driver{}

// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cp2130

import (
	"sync"

	"github.com/edaniels/golog"
	"github.com/google/gousb"
	"github.com/pkg/errors"

	"periph.io/x/periph/conn"
)

// Info is the identity of a connected device, read from its string
// descriptors once at connection time.
type Info struct {
	Manufacturer string
	Product      string
	Serial       string
}

// Options tunes connection setup.
type Options struct {
	// Reset performs a USB port reset before the device is configured.
	Reset bool
}

// Dev is an open CP2130.
//
// Every operation, including the multi-chunk transfer loops and their pacing
// sleeps, holds one mutex for its whole duration. The chip is a single
// serial state machine with one active channel at a time, so coarse locking
// matches what the hardware can actually do concurrently. Peripheral
// adapters derived from a Dev share it; the underlying handle lives until
// the Dev and every adapter are garbage.
type Dev struct {
	mu     sync.Mutex
	d      *device
	logger golog.Logger
}

// New connects to an already-opened USB device.
//
// Discovery and filtering belong to Manager; New only reads the identity
// strings, resolves the bulk endpoints and activates the configuration. The
// logger may be nil.
func New(udev *gousb.Device, opts Options, logger golog.Logger) (*Dev, error) {
	if logger == nil {
		logger = golog.NewLogger("cp2130")
	}
	if opts.Reset {
		if err := udev.Reset(); err != nil {
			return nil, errors.Wrap(err, "resetting device")
		}
	}
	info, err := readInfo(udev)
	if err != nil {
		return nil, err
	}
	eps, err := findBulkEndpoints(udev.Desc)
	if err != nil {
		return nil, err
	}
	logger.Debugw("resolved endpoints",
		"config", eps.write.Config,
		"bulk-in", eps.read.Address,
		"bulk-out", eps.write.Address)
	h, err := openHandle(udev, eps)
	if err != nil {
		return nil, err
	}
	logger.Debugw("connected",
		"manufacturer", info.Manufacturer,
		"product", info.Product,
		"serial", info.Serial)
	return &Dev{d: newDevice(h, eps, info), logger: logger}, nil
}

func readInfo(udev *gousb.Device) (Info, error) {
	manufacturer, err := udev.Manufacturer()
	if err != nil {
		return Info{}, errors.Wrap(err, "reading manufacturer string")
	}
	product, err := udev.Product()
	if err != nil {
		return Info{}, errors.Wrap(err, "reading product string")
	}
	serial, err := udev.SerialNumber()
	if err != nil {
		return Info{}, errors.Wrap(err, "reading serial string")
	}
	return Info{Manufacturer: manufacturer, Product: product, Serial: serial}, nil
}

// String implements conn.Resource.
func (d *Dev) String() string {
	return "cp2130{" + d.d.info.Serial + "}"
}

// Halt implements conn.Resource. It resets the chip.
func (d *Dev) Halt() error {
	return d.Reset()
}

// Info returns the identity captured at connection time.
func (d *Dev) Info() Info {
	return d.d.info
}

// Close releases the USB interface, configuration and device handle.
func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.closeDev()
}

// Version fetches the read-only chip version.
func (d *Dev) Version() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.version()
}

// Reset restarts the chip.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.reset()
}

// SpiConfigure applies conf to channel and records its clock for transfer
// pacing. A failure leaves the channel partially configured; retry with a
// fresh configuration or treat the device as unusable.
func (d *Dev) SpiConfigure(channel uint8, conf SpiConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.spiConfigure(channel, conf)
}

// SpiWrite clocks b out on the active channel.
func (d *Dev) SpiWrite(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.spiWrite(b)
}

// SpiRead clocks len(b) bytes in from the active channel.
func (d *Dev) SpiRead(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.spiRead(b)
}

// SpiWriteRead clocks w out while reading len(r) bytes back.
func (d *Dev) SpiWriteRead(w, r []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.spiWriteRead(w, r)
}

// SetGpioModeLevel reconfigures one pin directly, bypassing the allocator.
// Prefer OutPin and InPin for pins owned by one piece of code.
func (d *Dev) SetGpioModeLevel(pin uint8, mode GpioMode, level GpioLevel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.setGpioModeLevel(pin, mode, level)
}

// GpioValues reads the instantaneous level of all pins.
func (d *Dev) GpioValues() (GpioLevels, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.getGpioValues()
}

// GpioLevel reads the level of one pin.
func (d *Dev) GpioLevel(pin uint8) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.getGpioLevel(pin)
}

// SetGpioValues sets the level of every output pin selected by mask.
func (d *Dev) SetGpioValues(levels, mask GpioLevels) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.setGpioValues(levels, mask)
}

// GpioModeLevel reads back the configured mode and level of one pin.
func (d *Dev) GpioModeLevel(pin uint8) (GpioMode, GpioLevel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.getGpioModeLevel(pin)
}

// SpiWord reads back the SPI word of one channel.
func (d *Dev) SpiWord(channel uint8) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.getSpiWord(channel)
}

// SpiDelay reads back the delay configuration of one channel.
func (d *Dev) SpiDelay(channel uint8) (SpiDelays, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.getSpiDelay(channel)
}

// ChipSelects reads the chip-select enable and exclusive channel bitmasks.
func (d *Dev) ChipSelects() (enabled, exclusive uint16, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.getGpioChipSelect()
}

// ClockDivider reads the GPIO.5 clock output divider.
func (d *Dev) ClockDivider() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.getClockDivider()
}

// SetClockDivider sets the GPIO.5 clock output divider.
func (d *Dev) SetClockDivider(div uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.setClockDivider(div)
}

// FullThreshold reads the bulk-in FIFO full threshold.
func (d *Dev) FullThreshold() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.getFullThreshold()
}

// SetFullThreshold sets the bulk-in FIFO full threshold.
func (d *Dev) SetFullThreshold(threshold uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.setFullThreshold(threshold)
}

// RtrState reports whether a read-then-RTR transfer is active.
func (d *Dev) RtrState() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.getRtrState()
}

// RtrStop aborts an active read-then-RTR transfer.
func (d *Dev) RtrStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.setRtrStop()
}

// EventCounter reads the event counter mode and count.
func (d *Dev) EventCounter() (mode uint8, count uint16, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.getEventCounter()
}

// SetEventCounter sets the event counter mode and count.
func (d *Dev) SetEventCounter(mode uint8, count uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.setEventCounter(mode, count)
}

// OutPin claims pin as an output, drives it to level in mode and returns its
// adapter. It fails with ErrPinInUse if the pin is already claimed; the claim
// lasts for the lifetime of the Dev.
func (d *Dev) OutPin(pin uint8, mode GpioMode, level GpioLevel) (*OutPin, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.d.claim(pin); err != nil {
		return nil, err
	}
	if err := d.d.setGpioModeLevel(pin, mode, level); err != nil {
		// The claim only sticks once the pin is actually configured.
		d.d.claimed[pin] = false
		return nil, err
	}
	return &OutPin{dev: d, pin: pin, mode: mode}, nil
}

// InPin claims pin as an input and returns its adapter. The pin is
// configured in input mode at a low neutral level. It fails with ErrPinInUse
// if the pin is already claimed.
func (d *Dev) InPin(pin uint8) (*InPin, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.d.claim(pin); err != nil {
		return nil, err
	}
	if err := d.d.setGpioModeLevel(pin, GpioInput, GpioLow); err != nil {
		// The claim only sticks once the pin is actually configured.
		d.d.claimed[pin] = false
		return nil, err
	}
	return &InPin{dev: d, pin: pin}, nil
}

var _ conn.Resource = &Dev{}

// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// GPIO pin adapters over the claim table.

package cp2130

import (
	"strconv"
	"time"

	"github.com/pkg/errors"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// OutPin is a GPIO pin claimed as an output.
//
// The chip has no bare "set level" command; every level change re-sends the
// remembered drive mode together with the level.
//
// OutPin implements gpio.PinIO.
type OutPin struct {
	dev  *Dev
	pin  uint8
	mode GpioMode
}

// String implements conn.Resource.
func (p *OutPin) String() string {
	return p.Name()
}

// Halt implements conn.Resource. It drives the pin low.
func (p *OutPin) Halt() error {
	return p.Out(gpio.Low)
}

// Name implements pin.Pin.
func (p *OutPin) Name() string {
	return "GPIO" + strconv.Itoa(int(p.pin))
}

// Number implements pin.Pin.
func (p *OutPin) Number() int {
	return int(p.pin)
}

// Function implements pin.Pin.
func (p *OutPin) Function() string {
	return "Out"
}

// In implements gpio.PinIn. The pin is claimed as an output; there is no
// reclaim, so switching direction is refused.
func (p *OutPin) In(pull gpio.Pull, e gpio.Edge) error {
	return errors.Wrapf(ErrPinInUse, "pin %d is claimed as an output", p.pin)
}

// Read implements gpio.PinIn. It reports the level the chip actually sees on
// the pin, which for an open-drain output may differ from the driven level.
func (p *OutPin) Read() gpio.Level {
	l, err := p.dev.GpioLevel(p.pin)
	if err != nil {
		return gpio.Low
	}
	return gpio.Level(l)
}

// WaitForEdge implements gpio.PinIn.
func (p *OutPin) WaitForEdge(t time.Duration) bool {
	return false
}

// Pull implements gpio.PinIn.
func (p *OutPin) Pull() gpio.Pull {
	return gpio.Float
}

// DefaultPull implements gpio.PinIn.
func (p *OutPin) DefaultPull() gpio.Pull {
	return gpio.Float
}

// Out implements gpio.PinOut.
func (p *OutPin) Out(l gpio.Level) error {
	return p.dev.SetGpioModeLevel(p.pin, p.mode, levelOf(l))
}

// PWM implements gpio.PinOut.
func (p *OutPin) PWM(d gpio.Duty, f physic.Frequency) error {
	return errors.New("cp2130: pwm is not supported")
}

// InPin is a GPIO pin claimed as an input.
//
// InPin implements gpio.PinIO.
type InPin struct {
	dev *Dev
	pin uint8
}

// String implements conn.Resource.
func (p *InPin) String() string {
	return p.Name()
}

// Halt implements conn.Resource.
func (p *InPin) Halt() error {
	return nil
}

// Name implements pin.Pin.
func (p *InPin) Name() string {
	return "GPIO" + strconv.Itoa(int(p.pin))
}

// Number implements pin.Pin.
func (p *InPin) Number() int {
	return int(p.pin)
}

// Function implements pin.Pin.
func (p *InPin) Function() string {
	return "In"
}

// In implements gpio.PinIn. The pin is already in input mode; this only
// validates the requested pull and edge, neither of which the chip supports.
func (p *InPin) In(pull gpio.Pull, e gpio.Edge) error {
	if e != gpio.NoEdge {
		return errors.New("cp2130: edge triggering is not supported")
	}
	if pull != gpio.Float && pull != gpio.PullNoChange {
		return errors.New("cp2130: pull is not supported")
	}
	return p.dev.SetGpioModeLevel(p.pin, GpioInput, GpioLow)
}

// Read implements gpio.PinIn.
func (p *InPin) Read() gpio.Level {
	l, err := p.dev.GpioLevel(p.pin)
	if err != nil {
		return gpio.Low
	}
	return gpio.Level(l)
}

// WaitForEdge implements gpio.PinIn.
func (p *InPin) WaitForEdge(t time.Duration) bool {
	return false
}

// Pull implements gpio.PinIn.
func (p *InPin) Pull() gpio.Pull {
	return gpio.Float
}

// DefaultPull implements gpio.PinIn.
func (p *InPin) DefaultPull() gpio.Pull {
	return gpio.Float
}

// Out implements gpio.PinOut. The pin is claimed as an input.
func (p *InPin) Out(l gpio.Level) error {
	return errors.Wrapf(ErrPinInUse, "pin %d is claimed as an input", p.pin)
}

// PWM implements gpio.PinOut.
func (p *InPin) PWM(d gpio.Duty, f physic.Frequency) error {
	return errors.New("cp2130: pwm is not supported")
}

func levelOf(l gpio.Level) GpioLevel {
	if l {
		return GpioHigh
	}
	return GpioLow
}

var _ gpio.PinIO = &OutPin{}
var _ gpio.PinIO = &InPin{}

// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cp2130

import (
	"github.com/pkg/errors"
	"periph.io/x/periph/conn/physic"
)

// Error kinds surfaced by this package. Transport failures are distinct: they
// wrap the underlying gousb error with errors.Wrap, so errors.Is against
// these sentinels distinguishes protocol-level failures from USB-level ones.
var (
	// ErrNoLanguages means the device exposes no string descriptor
	// language, so manufacturer/product/serial cannot be read. Reserved:
	// gousb selects the descriptor language internally, so the current
	// transport surfaces this condition as a wrapped transport error.
	ErrNoLanguages = errors.New("cp2130: no string descriptor language available")
	// ErrConfigurations means the device does not expose exactly one USB
	// configuration, which the CP2130 always does.
	ErrConfigurations = errors.New("cp2130: device must expose exactly one configuration")
	// ErrEndpoint means a required bulk endpoint was not found in the
	// device's descriptors.
	ErrEndpoint = errors.New("cp2130: required bulk endpoint not found")
	// ErrPinInUse means the GPIO pin is already claimed by another
	// adapter. Pins stay claimed for the lifetime of the device.
	ErrPinInUse = errors.New("cp2130: pin already in use")
	// ErrInvalidIndex means a pin or device index is out of range.
	ErrInvalidIndex = errors.New("cp2130: index out of range")
	// ErrInvalidBaud means no supported SPI clock satisfies the requested
	// frequency.
	ErrInvalidBaud = errors.New("cp2130: unsupported clock frequency")
)

func errInvalidPin(pin uint8) error {
	return errors.Wrapf(ErrInvalidIndex, "gpio pin %d (max %d)", pin, numPins-1)
}

func errInvalidBaud(f physic.Frequency) error {
	return errors.Wrapf(ErrInvalidBaud, "%s is below the slowest supported clock", f)
}

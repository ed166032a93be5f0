// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cp2130 implements support for the Silicon Labs CP2130 USB to SPI
// bridge, including its 11 GPIO pins, via libusb through gousb.
//
// The chip is driven with a vendor-specific command set over USB control and
// bulk transfers. This package hides the command set behind the periph.io
// hardware interfaces: GPIO pins satisfy gpio.PinIO and SPI channels satisfy
// spi.Conn / spi.PortCloser.
//
// Obtain a Dev either through Manager (explicit discovery) or through the
// periph host driver registry. Derive pin and SPI adapters from the Dev; all
// adapters share one mutex-serialized USB connection, matching the chip's
// single serial state machine.
//
// Linux
//
// libusb needs permission to access the device. Install a udev rule to avoid
// running as root:
//
//  SUBSYSTEM=="usb", ATTRS{idVendor}=="10c4", ATTRS{idProduct}=="87a0", MODE="0666"
//
// If a kernel driver is bound to the interface it is detached at connection
// time and is not re-attached on close.
//
// Datasheet
//
// https://www.silabs.com/documents/public/data-sheets/CP2130.pdf
//
// Interface specification
//
// https://www.silabs.com/documents/public/application-notes/AN792.pdf
package cp2130

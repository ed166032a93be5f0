// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cp2130

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// device is the inner device state: the open USB handle, the resolved
// endpoints, the identity strings captured at connection time, the
// last-applied SPI clock and the GPIO claim table.
//
// device is not safe for concurrent use. Dev serializes every operation
// behind one mutex; see dev.go.
type device struct {
	h    usbHandle
	eps  endpoints
	info Info

	// clock is the last clock accepted by spiConfigure, for any channel.
	// It paces all subsequent bulk transfers.
	clock SpiClock
	// claimed marks pins owned by an adapter. Slots are never released.
	claimed [numPins]bool
	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func newDevice(h usbHandle, eps endpoints, info Info) *device {
	return &device{h: h, eps: eps, info: info, clock: Clock375Khz, sleep: time.Sleep}
}

// version fetches the read-only chip version.
func (d *device) version() (uint16, error) {
	var b [2]byte
	if _, err := d.h.control(requestIn, cmdGetVersion, 0, 0, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// reset restarts the chip. The USB connection survives but any in-flight
// transfer state is lost.
func (d *device) reset() error {
	_, err := d.h.control(requestOut, cmdResetDevice, 0, 0, nil)
	return err
}

// spiConfigure applies c to channel: the SPI word, the chip-select mode and
// the delay configuration, as three control writes in that order.
//
// A failure mid-sequence leaves the chip partially configured; the caller
// must treat any error as fatal to the configuration attempt. On success the
// accepted clock is recorded for transfer pacing.
func (d *device) spiConfigure(channel uint8, c SpiConfig) error {
	if channel >= numPins {
		return errors.Wrapf(ErrInvalidIndex, "spi channel %d (max %d)", channel, numPins-1)
	}
	if _, err := d.h.control(requestOut, cmdSetSpiWord, 0, 0, []byte{channel, c.spiWord()}); err != nil {
		return err
	}
	if _, err := d.h.control(requestOut, cmdSetGpioChipSel, 0, 0, []byte{channel, byte(c.CsMode)}); err != nil {
		return err
	}
	if _, err := d.h.control(requestOut, cmdSetSpiDelay, 0, 0, c.Delays.encode(channel)); err != nil {
		return err
	}
	d.clock = c.Clock
	return nil
}

// pace sleeps for the estimated time the chip needs to clock n bytes.
//
// The chip has a small internal buffer and no flow-control feedback; issuing
// commands faster than it can shift bits out corrupts later operations.
func (d *device) pace(n int) {
	d.sleep(transferTime(d.clock, n))
}

// spiWrite clocks b out on the active channel.
func (d *device) spiWrite(b []byte) error {
	if _, err := d.h.bulkWrite(bulkFrame(transferWrite, b)); err != nil {
		return err
	}
	d.pace(len(b))
	return nil
}

// spiRead clocks len(b) bytes in from the active channel.
func (d *device) spiRead(b []byte) (int, error) {
	var hdr [bulkHeaderLen]byte
	putBulkHeader(hdr[:], transferRead, len(b))
	if _, err := d.h.bulkWrite(hdr[:]); err != nil {
		return 0, err
	}
	return d.readChunks(b, false)
}

// spiWriteRead clocks w out while reading len(r) bytes back.
func (d *device) spiWriteRead(w, r []byte) (int, error) {
	if _, err := d.h.bulkWrite(bulkFrame(transferWriteRead, w)); err != nil {
		return 0, err
	}
	return d.readChunks(r, true)
}

// readChunks fills b from the bulk-in endpoint in packets of at most
// maxPacketSize bytes. Each chunk is subject to the per-transfer timeout and
// any error aborts the whole call. When paced, each chunk's estimated
// transfer time is waited out before reading it.
func (d *device) readChunks(b []byte, paced bool) (int, error) {
	index := 0
	for index < len(b) {
		chunk := len(b) - index
		if chunk > maxPacketSize {
			chunk = maxPacketSize
		}
		if paced {
			d.pace(chunk)
		}
		n, err := d.h.bulkRead(b[index : index+chunk])
		if err != nil {
			return index, err
		}
		if n == 0 {
			// A zero-length packet with no error would spin this loop
			// forever while holding the device lock.
			return index, errors.New("cp2130: zero-length bulk read")
		}
		index += n
	}
	return index, nil
}

// setGpioModeLevel reconfigures one pin. Mode and level always travel
// together; re-sending the current mode is how a bare level change is done.
func (d *device) setGpioModeLevel(pin uint8, mode GpioMode, level GpioLevel) error {
	if pin >= numPins {
		return errInvalidPin(pin)
	}
	_, err := d.h.control(requestOut, cmdSetGpioModeLevel, 0, 0, []byte{pin, byte(mode), byte(level)})
	return err
}

// getGpioValues reads the instantaneous level of all pins.
func (d *device) getGpioValues() (GpioLevels, error) {
	var b [2]byte
	if _, err := d.h.control(requestIn, cmdGetGpioValues, 0, 0, b[:]); err != nil {
		return 0, err
	}
	return decodeGpioLevels(b[:]), nil
}

// getGpioLevel reads the level of one pin.
func (d *device) getGpioLevel(pin uint8) (bool, error) {
	if pin >= numPins {
		return false, errInvalidPin(pin)
	}
	v, err := d.getGpioValues()
	if err != nil {
		return false, err
	}
	return v.Level(pin), nil
}

// setGpioValues sets the level of every output pin selected by mask.
func (d *device) setGpioValues(levels, mask GpioLevels) error {
	_, err := d.h.control(requestOut, cmdSetGpioValues, 0, 0, encodeGpioValues(levels, mask))
	return err
}

// getGpioModeLevel reads back the configured mode and level of one pin.
func (d *device) getGpioModeLevel(pin uint8) (GpioMode, GpioLevel, error) {
	if pin >= numPins {
		return 0, 0, errInvalidPin(pin)
	}
	var b [2]byte
	if _, err := d.h.control(requestIn, cmdGetGpioModeLevel, 0, uint16(pin), b[:]); err != nil {
		return 0, 0, err
	}
	return GpioMode(b[0]), GpioLevel(b[1]), nil
}

// getSpiWord reads back the SPI word of one channel. The chip answers with
// one word per channel in a single response.
func (d *device) getSpiWord(channel uint8) (byte, error) {
	if channel >= numPins {
		return 0, errors.Wrapf(ErrInvalidIndex, "spi channel %d (max %d)", channel, numPins-1)
	}
	var b [numPins]byte
	if _, err := d.h.control(requestIn, cmdGetSpiWord, 0, 0, b[:]); err != nil {
		return 0, err
	}
	return b[channel], nil
}

// getSpiDelay reads back the delay configuration of one channel.
func (d *device) getSpiDelay(channel uint8) (SpiDelays, error) {
	if channel >= numPins {
		return SpiDelays{}, errors.Wrapf(ErrInvalidIndex, "spi channel %d (max %d)", channel, numPins-1)
	}
	var b [6]byte
	if _, err := d.h.control(requestIn, cmdGetSpiDelay, 0, uint16(channel), b[:]); err != nil {
		return SpiDelays{}, err
	}
	return decodeSpiDelays(b[:]), nil
}

// getGpioChipSelect reads the chip-select enable state of all channels as
// two channel bitmasks.
func (d *device) getGpioChipSelect() (enabled, exclusive uint16, err error) {
	var b [4]byte
	if _, err := d.h.control(requestIn, cmdGetGpioChipSel, 0, 0, b[:]); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint16(b[0:2]), binary.BigEndian.Uint16(b[2:4]), nil
}

// getClockDivider reads the GPIO.5 clock output divider.
func (d *device) getClockDivider() (uint8, error) {
	var b [1]byte
	if _, err := d.h.control(requestIn, cmdGetClockDivider, 0, 0, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// setClockDivider sets the GPIO.5 clock output divider.
func (d *device) setClockDivider(div uint8) error {
	_, err := d.h.control(requestOut, cmdSetClockDivider, 0, 0, []byte{div})
	return err
}

// getFullThreshold reads the bulk-in FIFO full threshold.
func (d *device) getFullThreshold() (uint8, error) {
	var b [1]byte
	if _, err := d.h.control(requestIn, cmdGetFullThreshold, 0, 0, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// setFullThreshold sets the bulk-in FIFO full threshold.
func (d *device) setFullThreshold(threshold uint8) error {
	_, err := d.h.control(requestOut, cmdSetFullThreshold, 0, 0, []byte{threshold})
	return err
}

// getRtrState reports whether a read-then-RTR transfer is active.
func (d *device) getRtrState() (bool, error) {
	var b [1]byte
	if _, err := d.h.control(requestIn, cmdGetRtrState, 0, 0, b[:]); err != nil {
		return false, err
	}
	return b[0] == 0x01, nil
}

// setRtrStop aborts an active read-then-RTR transfer.
func (d *device) setRtrStop() error {
	_, err := d.h.control(requestOut, cmdSetRtrStop, 0, 0, []byte{0x01})
	return err
}

// getEventCounter reads the event counter mode and count.
func (d *device) getEventCounter() (mode uint8, count uint16, err error) {
	var b [3]byte
	if _, err := d.h.control(requestIn, cmdGetEventCounter, 0, 0, b[:]); err != nil {
		return 0, 0, err
	}
	return b[0], binary.BigEndian.Uint16(b[1:3]), nil
}

// setEventCounter sets the event counter mode and count.
func (d *device) setEventCounter(mode uint8, count uint16) error {
	b := []byte{mode, 0, 0}
	binary.BigEndian.PutUint16(b[1:3], count)
	_, err := d.h.control(requestOut, cmdSetEventCounter, 0, 0, b)
	return err
}

// claim marks pin as owned. It fails with ErrPinInUse if another adapter
// already owns it. There is no release; a claimed pin stays claimed for the
// lifetime of the device.
func (d *device) claim(pin uint8) error {
	if pin >= numPins {
		return errInvalidPin(pin)
	}
	if d.claimed[pin] {
		return errors.Wrapf(ErrPinInUse, "pin %d", pin)
	}
	d.claimed[pin] = true
	return nil
}

func (d *device) closeDev() error {
	return d.h.close()
}

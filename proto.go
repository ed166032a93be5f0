// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Vendor command encoding for the CP2130.
//
// Everything in this file is pure transformation; no I/O happens here. The
// chip is little-endian for every multi-byte field except the GPIO value
// bitmask, which is big-endian. That asymmetry is a documented chip quirk and
// is reproduced as-is.
//
// CP2130 Interface Specification:
// https://www.silabs.com/documents/public/application-notes/AN792.pdf

package cp2130

import (
	"encoding/binary"
	"time"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

// command is a vendor-specific control request selector.
type command uint8

const (
	cmdResetDevice      command = 0x10
	cmdGetVersion       command = 0x11 // read-only chip version
	cmdGetGpioValues    command = 0x20
	cmdSetGpioValues    command = 0x21
	cmdGetGpioModeLevel command = 0x22
	cmdSetGpioModeLevel command = 0x23
	cmdGetGpioChipSel   command = 0x24
	cmdSetGpioChipSel   command = 0x25
	cmdGetSpiWord       command = 0x30
	cmdSetSpiWord       command = 0x31
	cmdGetSpiDelay      command = 0x32
	cmdSetSpiDelay      command = 0x33
	cmdGetFullThreshold command = 0x34
	cmdSetFullThreshold command = 0x35
	cmdGetRtrState      command = 0x36
	cmdSetRtrStop       command = 0x37
	cmdGetEventCounter  command = 0x44
	cmdSetEventCounter  command = 0x45
	cmdGetClockDivider  command = 0x46
	cmdSetClockDivider  command = 0x47
)

// Control request type bytes. bit7 is the direction, bits 6-5 the type
// (10 = vendor), bits 1-0 the recipient (00 = device). The CP2130 command set
// is entirely vendor-to-device.
const (
	requestIn  uint8 = 0x80 | 0x40 // device-to-host | vendor | device
	requestOut uint8 = 0x00 | 0x40 // host-to-device | vendor | device
)

// transferCmd selects the bulk transfer operation in a frame header.
type transferCmd uint8

const (
	transferRead        transferCmd = 0x00
	transferWrite       transferCmd = 0x01
	transferWriteRead   transferCmd = 0x02
	transferReadWithRTR transferCmd = 0x04
)

// bulkHeaderLen is the fixed size of a bulk frame header. The payload of
// write and write-read frames follows the header in the same buffer.
const bulkHeaderLen = 8

// putBulkHeader writes an 8-byte frame header into b. n is the payload
// length clocked on the SPI bus, not the length of b.
func putBulkHeader(b []byte, cmd transferCmd, n int) {
	_ = b[bulkHeaderLen-1]
	b[0] = 0
	b[1] = 0
	b[2] = byte(cmd)
	b[3] = 0
	binary.LittleEndian.PutUint32(b[4:8], uint32(n))
}

// bulkFrame allocates and fills a write or write-read frame carrying payload.
func bulkFrame(cmd transferCmd, payload []byte) []byte {
	b := make([]byte, bulkHeaderLen+len(payload))
	putBulkHeader(b, cmd, len(payload))
	copy(b[bulkHeaderLen:], payload)
	return b
}

// GpioMode is the drive mode of a GPIO pin. The values are the wire encoding.
type GpioMode uint8

const (
	// GpioInput leaves the pin floating for reads.
	GpioInput GpioMode = 0x00
	// GpioOpenDrain drives low and releases high.
	GpioOpenDrain GpioMode = 0x01
	// GpioPushPull drives both levels.
	GpioPushPull GpioMode = 0x02
)

// GpioLevel is the logic level of a GPIO pin. The values are the wire
// encoding.
type GpioLevel uint8

const (
	GpioLow  GpioLevel = 0x00
	GpioHigh GpioLevel = 0x01
)

// numPins is the number of GPIO pins exposed by the chip, indices 0 to 10.
const numPins = 11

// GpioLevels is the instantaneous level of all pins, as reported by the chip.
//
// Only 11 bits are significant and they are not contiguous: pins 0-4 occupy
// bits 3-7, pin 5 occupies bit 8 and pins 6-10 occupy bits 10-14. Unlike
// every other multi-byte field this mask travels big-endian on the wire.
type GpioLevels uint16

// gpioBit returns the bit position of pin in a GpioLevels mask.
func gpioBit(pin uint8) uint {
	if pin <= 5 {
		return uint(pin) + 3
	}
	return uint(pin) + 4
}

// Level reports the level of pin. pin must be 10 or less.
func (g GpioLevels) Level(pin uint8) bool {
	return g&(1<<gpioBit(pin)) != 0
}

// decodeGpioLevels decodes the 2-byte big-endian GPIO values response.
func decodeGpioLevels(b []byte) GpioLevels {
	return GpioLevels(binary.BigEndian.Uint16(b))
}

// encodeGpioValues builds the SetGpioValues payload: the desired levels
// followed by the mask of pins to alter, both big-endian with the GpioLevels
// bit layout.
func encodeGpioValues(levels, mask GpioLevels) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], uint16(levels))
	binary.BigEndian.PutUint16(b[2:4], uint16(mask))
	return b
}

// SpiClock is one of the six fixed SPI clock frequencies supported by the
// chip. The value is the 3-bit wire code.
type SpiClock uint8

const (
	Clock12Mhz   SpiClock = 0x00
	Clock6Mhz    SpiClock = 0x01
	Clock3Mhz    SpiClock = 0x02
	Clock1500Khz SpiClock = 0x03
	Clock750Khz  SpiClock = 0x04
	Clock375Khz  SpiClock = 0x05
)

// Frequency returns the physical clock frequency.
func (c SpiClock) Frequency() physic.Frequency {
	switch c {
	case Clock12Mhz:
		return 12 * physic.MegaHertz
	case Clock6Mhz:
		return 6 * physic.MegaHertz
	case Clock3Mhz:
		return 3 * physic.MegaHertz
	case Clock1500Khz:
		return 1500 * physic.KiloHertz
	case Clock750Khz:
		return 750 * physic.KiloHertz
	case Clock375Khz:
		return 375 * physic.KiloHertz
	}
	return 0
}

// clockFor returns the fastest clock not exceeding f.
func clockFor(f physic.Frequency) (SpiClock, error) {
	for c := Clock12Mhz; c <= Clock375Khz; c++ {
		if c.Frequency() <= f {
			return c, nil
		}
	}
	return Clock375Khz, errInvalidBaud(f)
}

// transferTime estimates how long the chip needs to clock n bytes at clock c.
//
// The chip offers no flow-control feedback, so the host paces itself by
// sleeping this long after submitting a transfer.
func transferTime(c SpiClock, n int) time.Duration {
	hz := int64(c.Frequency() / physic.Hertz)
	if hz == 0 {
		return 0
	}
	return time.Duration(int64(n) * 8 * int64(time.Second) / hz)
}

// CsMode selects how the chip drives the chip-select line of a channel.
type CsMode uint8

const (
	// CsDisabled leaves the channel's chip-select unasserted.
	CsDisabled CsMode = 0x00
	// CsEnabled asserts the channel's chip-select for its transfers.
	CsEnabled CsMode = 0x01
	// CsExclusive asserts the channel's chip-select and deasserts every
	// other channel's.
	CsExclusive CsMode = 0x02
)

// DelayMask selects which SpiDelays fields are applied by the chip.
type DelayMask uint8

const (
	DelayInterByte   DelayMask = 1 << 0
	DelayPostAssert  DelayMask = 1 << 1
	DelayPreDeassert DelayMask = 1 << 2
	DelayCsToggle    DelayMask = 1 << 3
)

// SpiDelays configures the chip's inter-transfer timing for one channel.
// Fields whose bit is not set in Mask are ignored by the chip.
type SpiDelays struct {
	Mask        DelayMask
	CsToggle    uint8
	PreDeassert uint8
	PostAssert  uint8
	InterByte   uint8
}

// encode builds the SetSpiDelay payload for a channel.
func (d SpiDelays) encode(channel uint8) []byte {
	return []byte{channel, byte(d.Mask), d.CsToggle, d.PreDeassert, d.PostAssert, d.InterByte}
}

// decodeSpiDelays decodes a GetSpiDelay response, dropping the leading
// channel byte.
func decodeSpiDelays(b []byte) SpiDelays {
	return SpiDelays{
		Mask:        DelayMask(b[1]),
		CsToggle:    b[2],
		PreDeassert: b[3],
		PostAssert:  b[4],
		InterByte:   b[5],
	}
}

// SpiConfig is the full configuration of one SPI channel. It is applied by
// Dev.SPI and re-sent wholesale on every application.
type SpiConfig struct {
	// Clock is the SPI clock frequency.
	Clock SpiClock
	// Mode is the standard phase/polarity mode (spi.Mode0 to spi.Mode3).
	Mode spi.Mode
	// CsMode selects chip-select handling for the channel.
	CsMode CsMode
	// CsPinMode is the drive mode of the chip-select pin, GpioOpenDrain or
	// GpioPushPull.
	CsPinMode GpioMode
	// Delays is the channel timing configuration.
	Delays SpiDelays
}

// DefaultSpiConfig is a conservative configuration: slowest clock, mode 0,
// chip-select under host control.
var DefaultSpiConfig = SpiConfig{
	Clock:     Clock375Khz,
	Mode:      spi.Mode0,
	CsMode:    CsDisabled,
	CsPinMode: GpioPushPull,
}

// spiWord bit-packs the SetSpiWord flag byte: phase on bit 5, polarity on
// bit 4, chip-select drive on bit 3 and the clock code on bits 0-2.
func (c SpiConfig) spiWord() byte {
	w := byte(c.Clock) & 0x07
	if c.Mode&spi.Mode1 != 0 { // CPHA
		w |= 1 << 5
	}
	if c.Mode&spi.Mode2 != 0 { // CPOL
		w |= 1 << 4
	}
	if c.CsPinMode == GpioPushPull {
		w |= 1 << 3
	}
	return w
}

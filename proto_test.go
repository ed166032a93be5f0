// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cp2130

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

func TestSpiWordEncoding(t *testing.T) {
	tests := []struct {
		name string
		conf SpiConfig
		want byte
	}{
		{
			name: "mode3 push-pull 6MHz",
			conf: SpiConfig{Clock: Clock6Mhz, Mode: spi.Mode3, CsPinMode: GpioPushPull},
			want: 0x39,
		},
		{
			name: "mode0 open-drain 375kHz",
			conf: SpiConfig{Clock: Clock375Khz, Mode: spi.Mode0, CsPinMode: GpioOpenDrain},
			want: 0x05,
		},
		{
			name: "mode1 sets phase only",
			conf: SpiConfig{Clock: Clock12Mhz, Mode: spi.Mode1, CsPinMode: GpioOpenDrain},
			want: 0x20,
		},
		{
			name: "mode2 sets polarity only",
			conf: SpiConfig{Clock: Clock12Mhz, Mode: spi.Mode2, CsPinMode: GpioOpenDrain},
			want: 0x10,
		},
		{
			name: "clock occupies the low bits",
			conf: SpiConfig{Clock: Clock750Khz, Mode: spi.Mode0, CsPinMode: GpioOpenDrain},
			want: 0x04,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conf.spiWord())
		})
	}
}

func TestGpioBitLayout(t *testing.T) {
	// Pins 0-4 sit on bits 3-7, pin 5 on bit 8, pins 6-10 on bits 10-14.
	// Bits 0-2, 9 and 15 are never used.
	want := map[uint8]uint{
		0: 3, 1: 4, 2: 5, 3: 6, 4: 7,
		5: 8,
		6: 10, 7: 11, 8: 12, 9: 13, 10: 14,
	}
	for pin, bit := range want {
		assert.Equal(t, bit, gpioBit(pin), "pin %d", pin)
	}
	for pin := uint8(0); pin < numPins; pin++ {
		g := GpioLevels(1) << gpioBit(pin)
		for other := uint8(0); other < numPins; other++ {
			assert.Equal(t, pin == other, g.Level(other), "pin %d other %d", pin, other)
		}
	}
}

func TestGpioLevelsBigEndian(t *testing.T) {
	// The GPIO mask is the one big-endian field of the protocol.
	g := decodeGpioLevels([]byte{0x01, 0x08})
	assert.True(t, g.Level(0))  // bit 3, low byte
	assert.True(t, g.Level(5))  // bit 8, high byte
	assert.False(t, g.Level(10))

	b := encodeGpioValues(1<<gpioBit(10), 1<<gpioBit(10)|1<<gpioBit(0))
	assert.Equal(t, []byte{0x40, 0x00, 0x40, 0x08}, b)
}

func TestBulkHeader(t *testing.T) {
	var b [bulkHeaderLen]byte
	putBulkHeader(b[:], transferWriteRead, 300)
	assert.Equal(t, []byte{0, 0, 0x02, 0, 0x2c, 0x01, 0, 0}, b[:])

	frame := bulkFrame(transferWrite, []byte{0xaa, 0xbb})
	assert.Equal(t, []byte{0, 0, 0x01, 0, 0x02, 0, 0, 0, 0xaa, 0xbb}, frame)
}

func TestClockFor(t *testing.T) {
	tests := []struct {
		f    physic.Frequency
		want SpiClock
	}{
		{12 * physic.MegaHertz, Clock12Mhz},
		{20 * physic.MegaHertz, Clock12Mhz},
		{6 * physic.MegaHertz, Clock6Mhz},
		{4 * physic.MegaHertz, Clock3Mhz},
		{3 * physic.MegaHertz, Clock3Mhz},
		{2 * physic.MegaHertz, Clock1500Khz},
		{1 * physic.MegaHertz, Clock750Khz},
		{500 * physic.KiloHertz, Clock375Khz},
		{375 * physic.KiloHertz, Clock375Khz},
	}
	for _, tt := range tests {
		c, err := clockFor(tt.f)
		require.NoError(t, err, "%s", tt.f)
		assert.Equal(t, tt.want, c, "%s", tt.f)
	}

	_, err := clockFor(100 * physic.KiloHertz)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidBaud))
}

func TestTransferTime(t *testing.T) {
	// 300 bytes at 3 MHz: 2400 bits / 3e6 Hz = 800us.
	assert.Equal(t, 800*time.Microsecond, transferTime(Clock3Mhz, 300))
	// Linear in the byte count.
	assert.Equal(t, 1600*time.Microsecond, transferTime(Clock3Mhz, 600))
	// And inverse in the clock.
	assert.Equal(t, 200*time.Microsecond, transferTime(Clock12Mhz, 300))
	assert.Equal(t, 6400*time.Microsecond, transferTime(Clock375Khz, 300))
	assert.Equal(t, time.Duration(0), transferTime(Clock3Mhz, 0))
}

func TestClockFrequency(t *testing.T) {
	assert.Equal(t, 12*physic.MegaHertz, Clock12Mhz.Frequency())
	assert.Equal(t, 1500*physic.KiloHertz, Clock1500Khz.Frequency())
	assert.Equal(t, 375*physic.KiloHertz, Clock375Khz.Frequency())
	assert.Equal(t, physic.Frequency(0), SpiClock(7).Frequency())
}

func TestSpiDelaysEncode(t *testing.T) {
	d := SpiDelays{
		Mask:        DelayInterByte | DelayPreDeassert,
		CsToggle:    1,
		PreDeassert: 2,
		PostAssert:  3,
		InterByte:   4,
	}
	b := d.encode(5)
	assert.Equal(t, []byte{5, 0x05, 1, 2, 3, 4}, b)
	assert.Equal(t, d, decodeSpiDelays(b))
}

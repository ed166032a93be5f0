// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cp2130

import (
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// controlCall records one control transfer against the fake handle. For
// writes, data is the payload sent; for reads, the bytes handed back.
type controlCall struct {
	rType    uint8
	cmd      command
	val, idx uint16
	data     []byte
}

// fakeHandle implements usbHandle in memory.
//
// Control reads answer from responses. Bulk write-read frames echo their
// payload into the read queue, so full-duplex transfers loop back whatever
// was clocked out; a bulk read against an empty queue times out like the
// real endpoint would. controlErrAt, writeErrAt and readErrAt inject a
// failure starting at the n-th call (1-based).
type fakeHandle struct {
	controls  []controlCall
	responses map[command][]byte

	writes       [][]byte
	reads        []byte
	controlErrAt int
	writeErrAt   int
	readErrAt    int
	controlCalls int
	writeCalls   int
	readCalls    int
	closed       bool
}

func newFake() *fakeHandle {
	return &fakeHandle{responses: map[command][]byte{}}
}

func (f *fakeHandle) control(rType uint8, cmd command, val, idx uint16, b []byte) (int, error) {
	f.controlCalls++
	if f.controlErrAt != 0 && f.controlCalls >= f.controlErrAt {
		return 0, errors.New("usb: control transfer failed")
	}
	call := controlCall{rType: rType, cmd: cmd, val: val, idx: idx}
	if rType == requestIn {
		n := copy(b, f.responses[cmd])
		call.data = append([]byte(nil), b[:n]...)
		f.controls = append(f.controls, call)
		return n, nil
	}
	call.data = append([]byte(nil), b...)
	f.controls = append(f.controls, call)
	return len(b), nil
}

func (f *fakeHandle) bulkWrite(b []byte) (int, error) {
	f.writeCalls++
	if f.writeErrAt != 0 && f.writeCalls >= f.writeErrAt {
		return 0, errors.New("usb: endpoint stalled")
	}
	f.writes = append(f.writes, append([]byte(nil), b...))
	if len(b) >= bulkHeaderLen && transferCmd(b[2]) == transferWriteRead {
		f.reads = append(f.reads, b[bulkHeaderLen:]...)
	}
	return len(b), nil
}

func (f *fakeHandle) bulkRead(b []byte) (int, error) {
	f.readCalls++
	if f.readErrAt != 0 && f.readCalls >= f.readErrAt {
		return 0, errors.New("usb: transfer timed out")
	}
	if len(f.reads) == 0 {
		return 0, errors.New("usb: transfer timed out")
	}
	n := copy(b, f.reads)
	f.reads = f.reads[n:]
	return n, nil
}

func (f *fakeHandle) close() error {
	f.closed = true
	return nil
}

// controlsFor filters the recorded control calls by command.
func (f *fakeHandle) controlsFor(cmd command) []controlCall {
	var out []controlCall
	for _, c := range f.controls {
		if c.cmd == cmd {
			out = append(out, c)
		}
	}
	return out
}

// newTestDev wraps a fake handle in a Dev with the pacing sleep replaced by
// a recorder.
func newTestDev(t *testing.T, f *fakeHandle) (*Dev, *[]time.Duration) {
	t.Helper()
	dev := &Dev{d: newDevice(f, endpoints{}, Info{Serial: "TEST"}), logger: golog.NewTestLogger(t)}
	slept := &[]time.Duration{}
	dev.d.sleep = func(d time.Duration) { *slept = append(*slept, d) }
	return dev, slept
}

func TestVersion(t *testing.T) {
	f := newFake()
	f.responses[cmdGetVersion] = []byte{0x34, 0x12}
	dev, _ := newTestDev(t, f)

	v, err := dev.Version()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)

	calls := f.controlsFor(cmdGetVersion)
	require.Len(t, calls, 1)
	assert.Equal(t, requestIn, calls[0].rType)
}

func TestSpiConfigure(t *testing.T) {
	f := newFake()
	dev, _ := newTestDev(t, f)

	conf := SpiConfig{
		Clock:     Clock6Mhz,
		Mode:      3,
		CsMode:    CsEnabled,
		CsPinMode: GpioPushPull,
		Delays:    SpiDelays{Mask: DelayPostAssert, PostAssert: 7},
	}
	require.NoError(t, dev.SpiConfigure(2, conf))

	// Word, chip-select and delays, in that order.
	require.Len(t, f.controls, 3)
	assert.Equal(t, cmdSetSpiWord, f.controls[0].cmd)
	assert.Equal(t, []byte{2, 0x39}, f.controls[0].data)
	assert.Equal(t, cmdSetGpioChipSel, f.controls[1].cmd)
	assert.Equal(t, []byte{2, 0x01}, f.controls[1].data)
	assert.Equal(t, cmdSetSpiDelay, f.controls[2].cmd)
	assert.Equal(t, []byte{2, 0x02, 0, 0, 7, 0}, f.controls[2].data)

	assert.Equal(t, Clock6Mhz, dev.d.clock)
}

func TestSpiConfigureBadChannel(t *testing.T) {
	f := newFake()
	dev, _ := newTestDev(t, f)

	err := dev.SpiConfigure(11, DefaultSpiConfig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidIndex))
	assert.Empty(t, f.controls)
}

func TestSpiWritePacing(t *testing.T) {
	f := newFake()
	dev, slept := newTestDev(t, f)
	dev.d.clock = Clock3Mhz

	w := make([]byte, 300)
	require.NoError(t, dev.SpiWrite(w))

	// One frame: 8-byte header plus the whole payload.
	require.Len(t, f.writes, 1)
	frame := f.writes[0]
	require.Len(t, frame, bulkHeaderLen+300)
	assert.Equal(t, byte(transferWrite), frame[2])
	assert.Equal(t, []byte{0x2c, 0x01, 0x00, 0x00}, frame[4:8])

	// 300 bytes at 3 MHz is 800us, slept once after the write.
	require.Len(t, *slept, 1)
	assert.Equal(t, 800*time.Microsecond, (*slept)[0])
}

func TestSpiWriteReadLoopback(t *testing.T) {
	for _, size := range []int{34, 300} {
		f := newFake()
		dev, slept := newTestDev(t, f)
		dev.d.clock = Clock3Mhz

		w := make([]byte, size)
		for i := range w {
			w[i] = byte(i)
		}
		r := make([]byte, size)
		n, err := dev.SpiWriteRead(w, r)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, size, n)
		assert.Equal(t, w, r)

		// One outgoing frame regardless of size; reads are chunked.
		require.Len(t, f.writes, 1)
		assert.Equal(t, byte(transferWriteRead), f.writes[0][2])
		wantChunks := (size + maxPacketSize - 1) / maxPacketSize
		assert.Equal(t, wantChunks, f.readCalls, "size %d", size)
		// One pacing sleep per chunk.
		assert.Len(t, *slept, wantChunks, "size %d", size)
	}
}

func TestSpiReadUnpaced(t *testing.T) {
	f := newFake()
	dev, slept := newTestDev(t, f)
	dev.d.clock = Clock3Mhz

	f.reads = make([]byte, 300)
	r := make([]byte, 300)
	n, err := dev.SpiRead(r)
	require.NoError(t, err)
	assert.Equal(t, 300, n)

	// The read command frame is a bare header.
	require.Len(t, f.writes, 1)
	require.Len(t, f.writes[0], bulkHeaderLen)
	assert.Equal(t, byte(transferRead), f.writes[0][2])
	assert.Equal(t, 5, f.readCalls)
	assert.Empty(t, *slept)
}

func TestSpiReadEmptyBus(t *testing.T) {
	f := newFake()
	dev, _ := newTestDev(t, f)

	// Nothing queued on the bulk-in endpoint; the read must fail instead
	// of looping on empty packets.
	n, err := dev.SpiRead(make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, f.readCalls)
}

// zeroReadHandle answers every bulk read with a zero-length packet and no
// error.
type zeroReadHandle struct {
	fakeHandle
}

func (z *zeroReadHandle) bulkRead(b []byte) (int, error) {
	return 0, nil
}

func TestSpiReadZeroLengthPacket(t *testing.T) {
	z := &zeroReadHandle{}
	dev := &Dev{d: newDevice(z, endpoints{}, Info{Serial: "TEST"}), logger: golog.NewTestLogger(t)}
	dev.d.sleep = func(time.Duration) {}

	n, err := dev.SpiRead(make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestSpiReadAbortsOnError(t *testing.T) {
	f := newFake()
	dev, _ := newTestDev(t, f)

	f.reads = make([]byte, 300)
	f.readErrAt = 3
	r := make([]byte, 300)
	n, err := dev.SpiRead(r)
	require.Error(t, err)
	// Two full chunks made it before the failure.
	assert.Equal(t, 128, n)
	assert.Equal(t, 3, f.readCalls)
}

func TestGpioValues(t *testing.T) {
	f := newFake()
	// Pin 0 (bit 3) and pin 10 (bit 14) high, big-endian on the wire.
	f.responses[cmdGetGpioValues] = []byte{0x40, 0x08}
	dev, _ := newTestDev(t, f)

	v, err := dev.GpioValues()
	require.NoError(t, err)
	assert.True(t, v.Level(0))
	assert.True(t, v.Level(10))
	for pin := uint8(1); pin <= 9; pin++ {
		assert.False(t, v.Level(pin), "pin %d", pin)
	}
}

func TestGpioLevelBadPin(t *testing.T) {
	f := newFake()
	dev, _ := newTestDev(t, f)

	_, err := dev.GpioLevel(11)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidIndex))
	assert.Empty(t, f.controls)
}

func TestSetGpioValues(t *testing.T) {
	f := newFake()
	dev, _ := newTestDev(t, f)

	var levels, mask GpioLevels
	levels |= 1 << gpioBit(6)
	mask |= 1 << gpioBit(6)
	mask |= 1 << gpioBit(0)
	require.NoError(t, dev.SetGpioValues(levels, mask))

	calls := f.controlsFor(cmdSetGpioValues)
	require.Len(t, calls, 1)
	assert.Equal(t, []byte{0x04, 0x00, 0x04, 0x08}, calls[0].data)
}

func TestGpioModeLevel(t *testing.T) {
	f := newFake()
	f.responses[cmdGetGpioModeLevel] = []byte{byte(GpioOpenDrain), byte(GpioHigh)}
	dev, _ := newTestDev(t, f)

	mode, level, err := dev.GpioModeLevel(4)
	require.NoError(t, err)
	assert.Equal(t, GpioOpenDrain, mode)
	assert.Equal(t, GpioHigh, level)

	calls := f.controlsFor(cmdGetGpioModeLevel)
	require.Len(t, calls, 1)
	assert.Equal(t, uint16(4), calls[0].idx)
}

func TestSpiWord(t *testing.T) {
	f := newFake()
	resp := make([]byte, numPins)
	resp[3] = 0x39
	f.responses[cmdGetSpiWord] = resp
	dev, _ := newTestDev(t, f)

	w, err := dev.SpiWord(3)
	require.NoError(t, err)
	assert.Equal(t, byte(0x39), w)
}

func TestSpiDelayRoundTrip(t *testing.T) {
	f := newFake()
	f.responses[cmdGetSpiDelay] = []byte{1, byte(DelayInterByte | DelayCsToggle), 9, 8, 7, 6}
	dev, _ := newTestDev(t, f)

	d, err := dev.SpiDelay(1)
	require.NoError(t, err)
	assert.Equal(t, SpiDelays{
		Mask:        DelayInterByte | DelayCsToggle,
		CsToggle:    9,
		PreDeassert: 8,
		PostAssert:  7,
		InterByte:   6,
	}, d)
}

func TestChipSelects(t *testing.T) {
	f := newFake()
	f.responses[cmdGetGpioChipSel] = []byte{0x00, 0x05, 0x00, 0x01}
	dev, _ := newTestDev(t, f)

	enabled, exclusive, err := dev.ChipSelects()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0005), enabled)
	assert.Equal(t, uint16(0x0001), exclusive)
}

func TestEventCounter(t *testing.T) {
	f := newFake()
	f.responses[cmdGetEventCounter] = []byte{0x04, 0x01, 0x02}
	dev, _ := newTestDev(t, f)

	mode, count, err := dev.EventCounter()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x04), mode)
	assert.Equal(t, uint16(0x0102), count)

	require.NoError(t, dev.SetEventCounter(0x04, 0x0102))
	calls := f.controlsFor(cmdSetEventCounter)
	require.Len(t, calls, 1)
	assert.Equal(t, []byte{0x04, 0x01, 0x02}, calls[0].data)
}

func TestRtr(t *testing.T) {
	f := newFake()
	f.responses[cmdGetRtrState] = []byte{0x01}
	dev, _ := newTestDev(t, f)

	active, err := dev.RtrState()
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, dev.RtrStop())
	calls := f.controlsFor(cmdSetRtrStop)
	require.Len(t, calls, 1)
	assert.Equal(t, []byte{0x01}, calls[0].data)
}

func TestReset(t *testing.T) {
	f := newFake()
	dev, _ := newTestDev(t, f)

	require.NoError(t, dev.Reset())
	calls := f.controlsFor(cmdResetDevice)
	require.Len(t, calls, 1)
	assert.Equal(t, requestOut, calls[0].rType)
}

func TestClose(t *testing.T) {
	f := newFake()
	dev, _ := newTestDev(t, f)

	require.NoError(t, dev.Close())
	assert.True(t, f.closed)
}

// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cp2130

import (
	"strconv"
	"time"

	"github.com/pkg/errors"

	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

// NoCsPin disables host-side chip-select framing; the chip's own chip-select
// handling (SpiConfig.CsMode) is used instead.
const NoCsPin = -1

// SPI is an SPI device on one of the chip's channels.
//
// SPI implements spi.Conn. Composite transactions beyond what spi.Packet can
// express (inter-step delays) are available through Transaction.
type SPI struct {
	dev     *Dev
	channel uint8
	cs      *OutPin // nil when the chip manages chip-select itself
}

// SPI derives an SPI device adapter on channel, applying conf.
//
// When csPin is not NoCsPin, the pin is claimed as an output and driven low
// around every transaction; use it for downstream devices wired to a GPIO
// instead of the channel's own chip-select line. The claim is permanent, like
// any other pin claim.
func (d *Dev) SPI(channel uint8, conf SpiConfig, csPin int) (*SPI, error) {
	if err := d.SpiConfigure(channel, conf); err != nil {
		return nil, err
	}
	s := &SPI{dev: d, channel: channel}
	if csPin != NoCsPin {
		if csPin < 0 || csPin >= numPins {
			return nil, errors.Wrapf(ErrInvalidIndex, "chip-select pin %d (max %d)", csPin, numPins-1)
		}
		drive := conf.CsPinMode
		if drive != GpioOpenDrain {
			drive = GpioPushPull
		}
		// Deasserted until the first transaction.
		p, err := d.OutPin(uint8(csPin), drive, GpioHigh)
		if err != nil {
			return nil, err
		}
		s.cs = p
	}
	return s, nil
}

// Op is a single step of a composite SPI transaction.
//
// W and R of equal length is a full-duplex transfer; they may alias for an
// in-place transfer. W alone writes, R alone reads. Delay alone pauses the
// transaction without any USB traffic.
type Op struct {
	W     []byte
	R     []byte
	Delay time.Duration
}

// Transaction runs ops in order as one chip-select framed transaction.
//
// If a chip-select pin is configured it is driven low first and driven high
// again after the last step or the first failing one. The first error aborts
// the remaining steps and is returned once chip-select is deasserted, so a
// failed transaction never leaves the bus asserted.
func (s *SPI) Transaction(ops ...Op) error {
	if s.cs != nil {
		if err := s.cs.Out(gpio.Low); err != nil {
			return err
		}
	}
	err := s.run(ops)
	if s.cs != nil {
		if derr := s.cs.Out(gpio.High); err == nil {
			err = derr
		}
	}
	return err
}

func (s *SPI) run(ops []Op) error {
	for _, op := range ops {
		switch {
		case len(op.W) != 0 && len(op.R) != 0:
			if len(op.W) != len(op.R) {
				return errors.New("cp2130: transfer buffers must be the same size")
			}
			if _, err := s.dev.SpiWriteRead(op.W, op.R); err != nil {
				return err
			}
		case len(op.W) != 0:
			if err := s.dev.SpiWrite(op.W); err != nil {
				return err
			}
		case len(op.R) != 0:
			if _, err := s.dev.SpiRead(op.R); err != nil {
				return err
			}
		case op.Delay > 0:
			spinWait(op.Delay)
		}
	}
	return nil
}

// spinWait busy-waits. Transaction delays are typically tens of
// microseconds, well under the sleep granularity of most hosts.
func spinWait(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}

// String implements conn.Conn.
func (s *SPI) String() string {
	return s.dev.String() + ".spi" + strconv.Itoa(int(s.channel))
}

// Duplex implements conn.Conn.
func (s *SPI) Duplex() conn.Duplex {
	return conn.Full
}

// Tx implements conn.Conn.
func (s *SPI) Tx(w, r []byte) error {
	return s.TxPackets([]spi.Packet{{W: w, R: r}})
}

// TxPackets implements spi.Conn. Each packet becomes one transaction step.
func (s *SPI) TxPackets(pkts []spi.Packet) error {
	ops := make([]Op, 0, len(pkts))
	for _, p := range pkts {
		if p.BitsPerWord&7 != 0 {
			return errors.New("cp2130: bits must be a multiple of 8")
		}
		if len(p.W) != 0 && len(p.R) != 0 && len(p.W) != len(p.R) {
			return errors.New("cp2130: transfer buffers must be the same size")
		}
		ops = append(ops, Op{W: p.W, R: p.R})
	}
	return s.Transaction(ops...)
}

// Port returns channel as a spi.PortCloser for the port registry. The
// configuration is derived at Connect time; chip-select stays under chip
// control.
func (d *Dev) Port(channel uint8) spi.PortCloser {
	return &spiPort{dev: d, channel: channel}
}

type spiPort struct {
	dev     *Dev
	channel uint8

	maxFreq physic.Frequency
}

func (p *spiPort) String() string {
	return p.dev.String() + ".spi" + strconv.Itoa(int(p.channel))
}

func (p *spiPort) Close() error {
	return nil
}

// Connect implements spi.Port.
func (p *spiPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if bits&7 != 0 {
		return nil, errors.New("cp2130: bits must be a multiple of 8")
	}
	if p.maxFreq != 0 && f > p.maxFreq {
		f = p.maxFreq
	}
	clock, err := clockFor(f)
	if err != nil {
		return nil, err
	}
	conf := SpiConfig{
		Clock:     clock,
		Mode:      mode & spi.Mode3,
		CsMode:    CsEnabled,
		CsPinMode: GpioPushPull,
	}
	if mode&spi.NoCS != 0 {
		conf.CsMode = CsDisabled
	}
	return p.dev.SPI(p.channel, conf, NoCsPin)
}

// LimitSpeed implements spi.Port.
func (p *spiPort) LimitSpeed(f physic.Frequency) error {
	if _, err := clockFor(f); err != nil {
		return err
	}
	p.maxFreq = f
	return nil
}

var _ spi.Conn = &SPI{}
var _ spi.PortCloser = &spiPort{}

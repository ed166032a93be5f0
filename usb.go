// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// This file is the abstraction layer against the USB transport.
//
// The device core talks to a usbHandle, never to gousb directly, so the
// protocol and state machine can be exercised in tests with a fake handle.

package cp2130

import (
	"context"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// defaultTimeout bounds every individual USB transfer. Chunked operations
// apply it per chunk.
const defaultTimeout = 200 * time.Millisecond

// maxPacketSize is the bulk endpoint maximum packet size. Bulk reads are
// issued in chunks of at most this many bytes.
const maxPacketSize = 64

// usbHandle is the transport surface required by the device core.
type usbHandle interface {
	// control performs a control transfer. The direction is encoded in
	// rType; for reads, b receives the data stage.
	control(rType uint8, cmd command, val, idx uint16, b []byte) (int, error)
	// bulkWrite submits one frame on the bulk-out endpoint.
	bulkWrite(b []byte) (int, error)
	// bulkRead reads at most one packet from the bulk-in endpoint.
	bulkRead(b []byte) (int, error)
	close() error
}

// Endpoint identifies one resolved USB endpoint. Instances are created once
// during connection and never mutated.
type Endpoint struct {
	// Config is the USB configuration number.
	Config int
	// Iface is the interface number within the configuration.
	Iface int
	// Setting is the alternate setting number within the interface.
	Setting int
	// Address is the endpoint address byte, direction bit included.
	Address uint8
}

// number is the endpoint number as expected by gousb.
func (e Endpoint) number() int {
	return int(e.Address & 0x0f)
}

// endpoints is the set of endpoints the driver uses. The chip does not
// advertise a control endpoint descriptor; it is synthesized as endpoint 0 of
// the single configuration.
type endpoints struct {
	control Endpoint
	read    Endpoint
	write   Endpoint
}

// findBulkEndpoints walks the device descriptors and classifies the bulk
// endpoints into read (bulk-in) and write (bulk-out) roles.
//
// It fails with ErrConfigurations if the device does not expose exactly one
// configuration and with ErrEndpoint if either bulk endpoint is missing. It
// performs no transfer.
func findBulkEndpoints(desc *gousb.DeviceDesc) (endpoints, error) {
	var eps endpoints
	if len(desc.Configs) != 1 {
		return eps, errors.Wrapf(ErrConfigurations, "found %d", len(desc.Configs))
	}
	var haveIn, haveOut bool
	for _, cfg := range desc.Configs {
		eps.control = Endpoint{Config: cfg.Number}
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				for _, ep := range alt.Endpoints {
					if ep.TransferType != gousb.TransferTypeBulk {
						continue
					}
					e := Endpoint{
						Config:  cfg.Number,
						Iface:   intf.Number,
						Setting: alt.Alternate,
						Address: uint8(ep.Address),
					}
					if ep.Direction == gousb.EndpointDirectionIn {
						eps.read = e
						haveIn = true
					} else {
						eps.write = e
						haveOut = true
					}
				}
			}
		}
	}
	if !haveIn {
		return eps, errors.Wrap(ErrEndpoint, "bulk-in")
	}
	if !haveOut {
		return eps, errors.Wrap(ErrEndpoint, "bulk-out")
	}
	return eps, nil
}

// gousbHandle implements usbHandle on an open gousb device.
type gousbHandle struct {
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	timeout time.Duration
}

// openHandle activates the resolved configuration and claims the bulk
// endpoints.
//
// A kernel driver already bound to the interface is detached first. There is
// no re-attach on teardown; see the package documentation.
func openHandle(dev *gousb.Device, eps endpoints) (*gousbHandle, error) {
	if err := dev.SetAutoDetach(true); err != nil {
		return nil, errors.Wrap(err, "detaching kernel driver")
	}
	cfg, err := dev.Config(eps.write.Config)
	if err != nil {
		return nil, errors.Wrapf(err, "activating configuration %d", eps.write.Config)
	}
	intf, err := cfg.Interface(eps.write.Iface, eps.write.Setting)
	if err != nil {
		err = errors.Wrapf(err, "claiming interface %d", eps.write.Iface)
		return nil, multierr.Append(err, cfg.Close())
	}
	in, err := intf.InEndpoint(eps.read.number())
	if err != nil {
		intf.Close()
		err = errors.Wrapf(err, "opening bulk-in endpoint %#02x", eps.read.Address)
		return nil, multierr.Append(err, cfg.Close())
	}
	out, err := intf.OutEndpoint(eps.write.number())
	if err != nil {
		intf.Close()
		err = errors.Wrapf(err, "opening bulk-out endpoint %#02x", eps.write.Address)
		return nil, multierr.Append(err, cfg.Close())
	}
	dev.ControlTimeout = defaultTimeout
	return &gousbHandle{dev: dev, cfg: cfg, intf: intf, in: in, out: out, timeout: defaultTimeout}, nil
}

func (h *gousbHandle) control(rType uint8, cmd command, val, idx uint16, b []byte) (int, error) {
	n, err := h.dev.Control(rType, uint8(cmd), val, idx, b)
	return n, errors.Wrapf(err, "control %#02x", uint8(cmd))
}

func (h *gousbHandle) bulkWrite(b []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	n, err := h.out.WriteContext(ctx, b)
	return n, errors.Wrap(err, "bulk write")
}

func (h *gousbHandle) bulkRead(b []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	n, err := h.in.ReadContext(ctx, b)
	return n, errors.Wrap(err, "bulk read")
}

func (h *gousbHandle) close() error {
	h.intf.Close()
	return multierr.Append(h.cfg.Close(), h.dev.Close())
}

var _ usbHandle = &gousbHandle{}

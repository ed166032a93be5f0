// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// cp2130-detect prints out information about the CP2130 devices found on the
// USB bus.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"periph.io/x/cp2130"
	"periph.io/x/periph/host"
)

func process(d *cp2130.Dev) {
	i := d.Info()
	fmt.Printf("  Manufacturer: %s\n", i.Manufacturer)
	fmt.Printf("  Product:      %s\n", i.Product)
	fmt.Printf("  Serial:       %s\n", i.Serial)
	if v, err := d.Version(); err == nil {
		fmt.Printf("  Version:      %d.%d\n", v>>8, v&0xff)
	} else {
		fmt.Printf("Failed to read version: %v\n", err)
	}
	if enabled, exclusive, err := d.ChipSelects(); err == nil {
		fmt.Printf("  ChipSelects:  enabled %#04x exclusive %#04x\n", enabled, exclusive)
	}
	if div, err := d.ClockDivider(); err == nil {
		fmt.Printf("  ClockDivider: %d\n", div)
	}
	if th, err := d.FullThreshold(); err == nil {
		fmt.Printf("  Threshold:    %d\n", th)
	}
	values, err := d.GpioValues()
	if err != nil {
		fmt.Printf("Failed to read GPIO values: %v\n", err)
		return
	}
	for pin := uint8(0); pin <= 10; pin++ {
		mode, level, err := d.GpioModeLevel(pin)
		if err != nil {
			fmt.Printf("Failed to read pin %d: %v\n", pin, err)
			continue
		}
		fmt.Printf("  GPIO%-2d mode %d driven %d reads %t\n", pin, mode, level, values.Level(pin))
	}
}

func mainImpl() error {
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	if _, err := host.Init(); err != nil {
		return err
	}

	all := cp2130.All()
	plural := ""
	if len(all) > 1 {
		plural = "s"
	}
	fmt.Printf("Found %d device%s\n", len(all), plural)
	for i, d := range all {
		fmt.Printf("- Device #%d\n", i)
		process(d)
		if i != len(all)-1 {
			fmt.Printf("\n")
		}
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "cp2130-detect: %s.\n", err)
		os.Exit(1)
	}
}

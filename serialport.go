//go:build tinygo

package main

import (
	"machine"

	"inverterzone/gateway/inverter"
)

// uartPort adapts the hardware UART to the protocol engine. Reads are
// non-blocking: the engine polls and paces itself.
type uartPort struct {
	uart *machine.UART
}

func newUARTPort(uart *machine.UART, tx, rx machine.Pin, baud uint32) (inverter.Port, error) {
	err := uart.Configure(machine.UARTConfig{
		BaudRate: baud,
		TX:       tx,
		RX:       rx,
	})
	if err != nil {
		return nil, err
	}
	return &uartPort{uart: uart}, nil
}

func (p *uartPort) Write(b []byte) (int, error) {
	return p.uart.Write(b)
}

func (p *uartPort) ReadByte() (byte, bool) {
	if p.uart.Buffered() == 0 {
		return 0, false
	}
	b, err := p.uart.ReadByte()
	if err != nil {
		return 0, false
	}
	return b, true
}

// Package viewstate holds the console's transient view state as plain
// values: which device menu is open, and what the command dialog shows.
package viewstate

import (
	"strings"
	"sync"

	"github.com/theaaf/blackmagic-c2/internal/control/relay"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
)

// DeviceMenu tracks the one device, by MAC, whose action menu is open.
type DeviceMenu struct {
	openFor string
}

func (m *DeviceMenu) Open(mac string) { m.openFor = strings.ToLower(mac) }

func (m *DeviceMenu) Close() { m.openFor = "" }

func (m *DeviceMenu) IsOpen(mac string) bool {
	return m.openFor != "" && m.openFor == strings.ToLower(mac)
}

// OpenFor returns the MAC whose menu is open.
func (m *DeviceMenu) OpenFor() (string, bool) {
	return m.openFor, m.openFor != ""
}

// Ticket identifies one submitted invocation.
type Ticket struct {
	generation uint64
}

// CommandDialog is the state of the command dialog for one device.
//
// Every submission is independent. The display shows whichever invocation
// completed last, regardless of submission order. Completions that arrive
// after the dialog was closed or reopened are dropped.
type CommandDialog struct {
	mu         sync.Mutex
	open       bool
	device     protocol.NetworkDevice
	input      string
	generation uint64
	pending    int
	completed  bool
	result     relay.Result
	err        error
}

// Open shows the dialog for device with empty input and display.
func (d *CommandDialog) Open(device protocol.NetworkDevice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation++
	d.open = true
	d.device = device
	d.input = ""
	d.pending = 0
	d.completed = false
	d.result = relay.Result{}
	d.err = nil
}

func (d *CommandDialog) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation++
	d.open = false
	d.pending = 0
}

func (d *CommandDialog) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *CommandDialog) Device() protocol.NetworkDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.device
}

func (d *CommandDialog) SetInput(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.input = s
}

func (d *CommandDialog) Input() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.input
}

// Begin records a submission. Pass the ticket to Complete with its outcome.
func (d *CommandDialog) Begin() Ticket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		d.pending++
	}
	return Ticket{generation: d.generation}
}

// Complete records the outcome of t. It reports whether the outcome is now
// displayed.
func (d *CommandDialog) Complete(t Ticket, res relay.Result, err error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open || t.generation != d.generation {
		return false
	}
	d.pending = max(d.pending-1, 0)
	d.completed = true
	d.result = res
	d.err = err
	return true
}

// Pending is the number of submissions still in flight.
func (d *CommandDialog) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Render returns the display text.
func (d *CommandDialog) Render() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case !d.completed && d.pending > 0:
		return "Loading..."
	case !d.completed:
		return ""
	case d.err != nil:
		return "Error: " + d.err.Error()
	default:
		return d.result.String()
	}
}

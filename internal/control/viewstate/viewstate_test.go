package viewstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/theaaf/blackmagic-c2/internal/control/relay"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
)

var deck = protocol.NetworkDevice{
	IPAddress:  "10.0.0.5",
	MACAddress: "7c:2e:0d:11:22:33",
	Details:    &protocol.NetworkDeviceDetails{HyperDeck: &protocol.HyperDeckDetails{ModelName: "HyperDeck Studio"}},
}

func idle() *string { s := "idle"; return &s }

func TestDeviceMenu(t *testing.T) {
	var m DeviceMenu
	assert.False(t, m.IsOpen(deck.MACAddress))

	m.Open("7C:2E:0D:11:22:33")
	assert.True(t, m.IsOpen(deck.MACAddress))
	assert.False(t, m.IsOpen("00:11:22:33:44:55"))

	m.Open("00:11:22:33:44:55")
	assert.False(t, m.IsOpen(deck.MACAddress), "one menu at a time")

	mac, ok := m.OpenFor()
	assert.True(t, ok)
	assert.Equal(t, "00:11:22:33:44:55", mac)

	m.Close()
	_, ok = m.OpenFor()
	assert.False(t, ok)
}

func TestDialogSuccess(t *testing.T) {
	var d CommandDialog
	d.Open(deck)
	d.SetInput("device status")
	assert.Equal(t, "", d.Render())

	ticket := d.Begin()
	assert.Equal(t, "Loading...", d.Render())

	assert.True(t, d.Complete(ticket, relay.Result{Code: 200, Text: "OK", Payload: idle()}, nil))
	assert.Equal(t, "200 OK:\nidle", d.Render())
	assert.Equal(t, 0, d.Pending())
}

func TestDialogError(t *testing.T) {
	var d CommandDialog
	d.Open(deck)

	ticket := d.Begin()
	d.Complete(ticket, relay.Result{}, &relay.Error{Status: 504, Message: "Timed out sending command to agent."})
	assert.Equal(t, "Error: Timed out sending command to agent.", d.Render())
}

func TestDialogLastCompletedWins(t *testing.T) {
	var d CommandDialog
	d.Open(deck)

	first := d.Begin()
	second := d.Begin()
	assert.Equal(t, 2, d.Pending())

	// The second submission finishes first; the first one's late result
	// still replaces it.
	d.Complete(second, relay.Result{Code: 200, Text: "ok"}, nil)
	assert.Equal(t, "200 ok", d.Render())

	d.Complete(first, relay.Result{Code: 500, Text: "ERR"}, nil)
	assert.Equal(t, "500 ERR", d.Render())
	assert.Equal(t, 0, d.Pending())
}

func TestDialogResultStaysWhileResubmitting(t *testing.T) {
	var d CommandDialog
	d.Open(deck)

	d.Complete(d.Begin(), relay.Result{Code: 200, Text: "ok"}, nil)
	d.Begin()
	assert.Equal(t, "200 ok", d.Render())
	assert.Equal(t, 1, d.Pending())
}

func TestDialogDiscardsStaleCompletions(t *testing.T) {
	var d CommandDialog
	d.Open(deck)
	ticket := d.Begin()

	d.Close()
	assert.False(t, d.Complete(ticket, relay.Result{Code: 200, Text: "ok"}, nil))

	d.Open(deck)
	assert.False(t, d.Complete(ticket, relay.Result{}, errors.New("late")))
	assert.Equal(t, "", d.Render())
	assert.Equal(t, "", d.Input())
}

func TestDialogOpenResets(t *testing.T) {
	var d CommandDialog
	d.Open(deck)
	d.SetInput("play")
	d.Complete(d.Begin(), relay.Result{Code: 200, Text: "ok"}, nil)

	other := protocol.NetworkDevice{IPAddress: "10.0.0.6", MACAddress: "7c:2e:0d:00:00:01"}
	d.Open(other)
	assert.True(t, d.IsOpen())
	assert.Equal(t, other, d.Device())
	assert.Equal(t, "", d.Input())
	assert.Equal(t, "", d.Render())
}

// Package shell ties a terminal surface to the hub's shell endpoint for the
// lifetime of one view.
//
// Mount opens exactly one transport; Unmount is the only way to end it.
// When the transport fails the screen freezes with whatever it last showed.
// There is no reconnect: the operator mounts a new view.
package shell

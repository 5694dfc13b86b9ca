// Package relay sends one opaque command to a HyperDeck through the hub and
// returns the device's response.
//
// The relay does not look inside commands or responses. Status codes and
// payloads mean whatever the device says they mean.
//
//	res, err := relay.New(apiclient.New(cfg), logger).Invoke(ctx, relay.Invocation{
//		AgentID:   "studio-a",
//		IPAddress: "10.0.0.5",
//		Command:   "transport info",
//	})
package relay

// Package router multiplexes the event stream: inbound frames are decoded once
// and handed to every subscriber of their type, outbound frames are wrapped in
// the {type, data} envelope.
package router

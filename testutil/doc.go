// Package testutil provides test doubles for the dcafs stream core.
//
// MockSink is a recording Writable whose validity can be switched off to
// exercise delivery pruning. MockStream is an in-memory Stream built on
// stream.Base: tests decide whether Connect succeeds and push frames in with
// Feed. MockListener records life cycle notifications. MockPublisher stands in
// for the NATS client behind the nats output. ConfigBuilder assembles
// config.Config values without JSON.
package testutil

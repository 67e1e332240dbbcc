// Package netstate implements the network state manager.
//
// The manager:
//   - Observes platform network changes through an injected PlatformObserver
//   - Measures round-trip latency with an injected Prober
//   - Scores connection quality (latency, stability, throughput composite)
//   - Recommends a connection strategy per quality level and network type
//   - Delivers (state, quality) pairs to listeners in registration order
//
// If the platform observer cannot initialize, the manager degrades to a
// synthetic offline state and still reports itself initialized; callers
// cannot distinguish that from a genuinely offline device.
package netstate

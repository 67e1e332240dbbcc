// Package resource implements the resource optimization manager.
//
// The manager profiles device capability, samples memory, CPU, battery,
// and thermal readings on a fixed cadence, derives typed optimization
// recommendations, and auto-applies the safe ones. Critical conditions
// (memory pressure, low battery, thermal throttling) trigger immediate
// mitigation and listener notification.
package resource

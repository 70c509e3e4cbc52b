// Package liveness tracks the backend instances that manage devices.
//
// The Registry enumerates instance objects on the bus, keeps those that
// accept messages and announce device manager support, and follows each
// instance's alive state. Consumers watch registry events or subscribe to
// the alive flag of one instance to reload their own views.
package liveness

// Package control keeps device control values in step with the backend.
//
// A Binding holds the last known (value, timestamp) of one control. Values
// arrive from three places: the device list that declared the control,
// the reply to a write, and re-reads triggered by pushes on the bound
// state. All three go through the same rule: a value is applied only if it
// carries a timestamp and the binding has none or an older one. Equal
// timestamps are discarded, so the displayed value never regresses no
// matter in which order the updates arrive.
package control

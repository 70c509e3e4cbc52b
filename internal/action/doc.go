// Package action drives remote actions through their interactive
// exchange with a backend instance.
//
// An action starts with dm:instanceAction or dm:deviceAction. The
// instance answers with a message, confirm, form, progress or result
// envelope. Interactive envelopes park the session until the operator
// replies; progress envelopes are echoed at once; a result ends the
// session. Every continuation is sent as dm:actionProgress carrying the
// origin token the instance handed out, which is also the key the
// session table is indexed by.
//
// # Session lifecycle
//
//	Idle ──invoke──▶ Sent ──▶ Message ─┐
//	                  ▲   ├─▶ Confirm ─┤ reply
//	                  │   ├─▶ Form ────┤
//	                  │   └─▶ Progress ┤ echo
//	                  └────────────────┘
//	                  Sent ──result / error──▶ Idle
//
// At most one session is open per target (an instance, or one device of
// an instance). A prompt left unanswered longer than the prompt timeout is
// abandoned with a cancelling continuation.
package action

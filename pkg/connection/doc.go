// Package connection owns the single event stream transport and drives the
// connection state machine:
//
//	Idle → Connecting → Connected → Disconnected → Reconnecting → Connecting ...
//	Disconnected → Failed once the reconnect policy is exhausted
//	any state → Idle on Disconnect
//
// Reconnect timers are scheduled through a Scheduler so tests can fire them
// deterministically.
package connection

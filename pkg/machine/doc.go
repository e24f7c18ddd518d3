// Package machine compiles definitions into runnable machines and runs their instances.
//
// Compilation binds every hook once, keyed by lifecycle phase and name:
//
//	leave      exit actions and leave script of the source state
//	transition actions and transition script of the fired edge
//	enter      entry actions and enter script of the destination state
//
// Firing T: S -> D runs leave(S), transition(T) and enter(D) in that order. The instance
// moves to D only after all three succeed. Self transitions skip leave and enter.
//
// Follow-up transitions scheduled by actions are queued on the instance and drained
// after the triggering transition settles. Fire returns once the queue is empty.
package machine

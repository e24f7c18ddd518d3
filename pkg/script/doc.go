// Package script runs inline hook scripts in a tengo sandbox.
//
// A script sees four globals:
//
//	fsm        mutable map of instance fields; writes are copied back except "state" and "id"
//	lifecycle  {transition, from, to}
//	payload    the event payload of the transition
//	call(x)    performs an external request, x is a request name or an inline request map
//	ari(op, p) performs a call-control operation
//
// Only the math, text, times, json and fmt standard modules can be imported.
package script

/*
Package pipeline executes the ordered action lists bound to machine hooks.

Actions run strictly in sequence: later actions observe fields stored by earlier ones, and the
first failure skips the rest of the list and is returned to the caller of Run. Success and failure
follow-up transitions are never fired here; they are handed to the Target, which defers them until
the triggering transition has settled.
*/
package pipeline

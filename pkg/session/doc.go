/*
Package session binds live call-control sessions to machine instances.

The Router owns every instance it creates. A start event selects a machine, creates an
instance seeded with the session metadata, answers the session and fires the start
transition. Input events fire one transition chosen by naming convention with fallbacks.
An end event removes the binding at once and fires the disconnect transition in the
background.

Events of one session are handled in arrival order; sessions never wait on each other.
*/
package session

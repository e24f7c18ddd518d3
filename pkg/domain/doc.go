/*
Package domain contains the core models shared by every Switchboard component.

It describes machine definitions as data (states, transitions, hooks, action templates), the
lifecycle records handed to hooks, the session events produced by a call-control transport and the
error taxonomy reported to callers. The package has no I/O and no third-party dependencies.

# Key Entities

  - Definition: a declarative finite-state machine, loaded from a definition store.
  - TransitionSpec: a named edge from one or more source states (or the wildcard) to a destination.
  - Action: a closed tagged variant of side effects (externalApi, ari, set, log).
  - SessionEvent: start, input or end notifications for one external session.
  - LifecycleHooks: observability callbacks fired by instances, the executor and the router.
*/
package domain

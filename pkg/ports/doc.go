/*
Package ports defines the driven ports (interfaces) of the Switchboard runtime.

These interfaces decouple the machine runtime from its collaborators so definition storage, the
HTTP client and the call-control client can be swapped without touching the core.

# Key Interfaces

  - DefinitionStore: lists, reads, writes and deletes raw machine definitions.
  - Watchable: signals that definitions changed so cached machines can be invalidated.
  - HTTPDoer: performs the templated requests of externalApi actions.
  - CallControl: answers, hangs up, plays media and originates sessions on the control protocol.
  - DistributedLocker: serialises definition writes across processes.
*/
package ports

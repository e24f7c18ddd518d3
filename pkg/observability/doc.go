/*
Package observability turns runtime lifecycle events into Prometheus metrics and structured logs.

Both are exposed as domain.LifecycleHooks so they can be merged and handed to the compiler,
the registry and the session router.
*/
package observability

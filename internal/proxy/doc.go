// Package proxy provides request admission, serialization and lifecycle
// coordination for a single shared automation session. It is structured
// into small files by concern:
//
//   - proxy.go: core Proxy type, constructor, Submit/Await/Cancel surface,
//     session state, status reporting, reset and shutdown.
//   - types.go: request descriptor and the caller-side Pending handle.
//   - queue.go: FIFO admission queue with close-and-drain semantics.
//   - locks.go: the three-lock hierarchy and its acquisition order.
//   - switch.go: model switch coordinator state machine.
//   - paramcache.go: per-model last-applied generation parameters.
//   - worker.go: the single worker loop driving dequeued descriptors.
//   - monitor.go: per-request disconnect/timeout watcher.
//   - stream.go: chunk dispatcher with backpressure and terminal markers.
//   - session.go: the automation collaborator contract.
//   - errors.go: error taxonomy and predicate helpers.
//   - events.go: lifecycle event publisher.
//   - metrics.go: Prometheus collectors.
//
// External packages should treat this package as the orchestration layer
// and use public methods only (New, Run, Submit, Await, Cancel, Status,
// QueueSnapshot, ResetSession, Close). Internal types are subject to
// change.
package proxy

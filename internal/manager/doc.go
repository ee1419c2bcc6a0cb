// Package manager owns the server lifecycle around one imported model:
// it resolves the store entry, locates its compiled library, brings up an
// engine for it and registers that engine in a serving context.
//
//   - manager.go: Manager, Start/Close and the read accessors.
//   - config.go: ManagerConfig and package defaults.
//   - types.go: lifecycle State.
//   - errors.go: typed errors and IsXxx predicates for the HTTP layer.
//   - events.go: lifecycle events and publishers.
//   - sanity.go: preflight checks of the engine binary.
//   - status_report.go: Status for /status.
//
// States move uninitialized → starting → ready → stopped. A failed start
// leaves the manager stopped with the error recorded in Status.
package manager

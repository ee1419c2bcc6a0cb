package manager

// State represents the lifecycle state of the manager.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateReady         State = "ready"
	StateStopped       State = "stopped"
)

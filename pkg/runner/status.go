// Package runner executes planned job instances locally: each instance is
// provisioned, its steps run strictly in order, and instances run in
// parallel without sharing state other than the dependency cache.
package runner

// Status is the lifecycle state of one job instance.
type Status int

const (
	StatusPending Status = iota
	StatusProvisioning
	StatusRunning
	StatusSuccess
	StatusFailed
	// StatusInfraFailed marks a runner or toolchain provisioning failure.
	StatusInfraFailed
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:      "pending",
	StatusProvisioning: "provisioning",
	StatusRunning:      "running",
	StatusSuccess:      "success",
	StatusFailed:       "failed",
	StatusInfraFailed:  "infra-failed",
	StatusCancelled:    "cancelled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusInfraFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an instance may move from s to next.
// Running may transition to itself as each step starts.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProvisioning || next == StatusCancelled
	case StatusProvisioning:
		return next == StatusRunning || next == StatusInfraFailed || next == StatusCancelled
	case StatusRunning:
		return next == StatusRunning || next == StatusSuccess || next == StatusFailed || next == StatusCancelled
	}
	return false
}

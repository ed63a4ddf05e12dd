// Package lifecycle implements the deployment state machine.
package lifecycle

import (
	"fmt"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.DeploymentStatus][]types.DeploymentStatus{
	types.DeploymentPending:     {types.DeploymentValidating, types.DeploymentFailed},
	types.DeploymentValidating:  {types.DeploymentDeploying, types.DeploymentFailed},
	types.DeploymentDeploying:   {types.DeploymentDeployed, types.DeploymentFailed},
	types.DeploymentDeployed:    {types.DeploymentMonitoring, types.DeploymentRollingBack, types.DeploymentFailed},
	types.DeploymentMonitoring:  {types.DeploymentMonitoring, types.DeploymentRollingBack, types.DeploymentFailed},
	types.DeploymentRollingBack: {types.DeploymentRolledBack, types.DeploymentFailed},
	types.DeploymentRolledBack:  {},
	// A failed deployment may still be restored from its snapshot.
	types.DeploymentFailed: {types.DeploymentRollingBack},
}

// CanTransition checks if transitioning from one deployment status to another is valid.
func CanTransition(from, to types.DeploymentStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates and returns the new status, or an error if the transition is invalid.
func Transition(from, to types.DeploymentStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the status is a terminal (final) state.
func IsTerminal(status types.DeploymentStatus) bool {
	return status == types.DeploymentRolledBack
}

// IsLive returns true if the deployed artifact is currently serving traffic.
func IsLive(status types.DeploymentStatus) bool {
	return status == types.DeploymentDeployed || status == types.DeploymentMonitoring
}

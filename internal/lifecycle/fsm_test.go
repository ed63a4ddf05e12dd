package lifecycle

import (
	"testing"

	"github.com/dwsmith1983/qualityloop/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from  types.DeploymentStatus
		to    types.DeploymentStatus
		valid bool
	}{
		{types.DeploymentPending, types.DeploymentValidating, true},
		{types.DeploymentPending, types.DeploymentFailed, true},
		{types.DeploymentPending, types.DeploymentDeployed, false},
		{types.DeploymentValidating, types.DeploymentDeploying, true},
		{types.DeploymentValidating, types.DeploymentFailed, true},
		{types.DeploymentValidating, types.DeploymentDeployed, false},
		{types.DeploymentDeploying, types.DeploymentDeployed, true},
		{types.DeploymentDeploying, types.DeploymentFailed, true},
		{types.DeploymentDeploying, types.DeploymentMonitoring, false},
		{types.DeploymentDeployed, types.DeploymentMonitoring, true},
		{types.DeploymentDeployed, types.DeploymentRollingBack, true},
		{types.DeploymentDeployed, types.DeploymentPending, false},
		{types.DeploymentMonitoring, types.DeploymentMonitoring, true},
		{types.DeploymentMonitoring, types.DeploymentRollingBack, true},
		{types.DeploymentMonitoring, types.DeploymentFailed, true},
		{types.DeploymentMonitoring, types.DeploymentRolledBack, false},
		{types.DeploymentRollingBack, types.DeploymentRolledBack, true},
		{types.DeploymentRollingBack, types.DeploymentFailed, true},
		{types.DeploymentRolledBack, types.DeploymentDeployed, false},
		{types.DeploymentFailed, types.DeploymentRollingBack, true},
		{types.DeploymentFailed, types.DeploymentDeployed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransition(tt.from, tt.to))
			err := Transition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(types.DeploymentRolledBack))
	assert.False(t, IsTerminal(types.DeploymentFailed))
	assert.False(t, IsTerminal(types.DeploymentPending))
	assert.False(t, IsTerminal(types.DeploymentDeployed))
	assert.False(t, IsTerminal(types.DeploymentMonitoring))
}

func TestIsLive(t *testing.T) {
	assert.True(t, IsLive(types.DeploymentDeployed))
	assert.True(t, IsLive(types.DeploymentMonitoring))
	assert.False(t, IsLive(types.DeploymentRollingBack))
	assert.False(t, IsLive(types.DeploymentFailed))
}

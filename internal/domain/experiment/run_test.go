package experiment

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/pkg/errors"
)

func TestNewRun(t *testing.T) {
	r, err := NewRun("seh_frag", "TB", "/tmp/run", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, RunPending, r.Status)
	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Nil(t, r.FinishedAt)

	_, err = NewRun("", "TB", "/tmp/run", nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	_, err = NewRun("seh_frag", "TB", "", nil)
	assert.Error(t, err)
}

func TestRun_Transition(t *testing.T) {
	tests := []struct {
		name    string
		path    []RunStatus
		wantErr bool
	}{
		{"complete", []RunStatus{RunRunning, RunCompleted}, false},
		{"cancel", []RunStatus{RunRunning, RunCancelled}, false},
		{"fail_before_start", []RunStatus{RunFailed}, false},
		{"skip_running", []RunStatus{RunCompleted}, true},
		{"restart_finished", []RunStatus{RunRunning, RunCompleted, RunRunning}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRun("seh_frag", "TB", "/tmp/run", nil)
			require.NoError(t, err)
			var last error
			for _, s := range tt.path {
				if last = r.Transition(s); last != nil {
					break
				}
			}
			if tt.wantErr {
				assert.True(t, errors.IsCode(last, errors.CodeConflict))
				return
			}
			require.NoError(t, last)
			assert.True(t, r.Status.Terminal())
			assert.NotNil(t, r.FinishedAt)
		})
	}
}

func TestRun_Fail(t *testing.T) {
	r, err := NewRun("seh_frag_moo", "MOQL", "/tmp/run", nil)
	require.NoError(t, err)
	require.NoError(t, r.Transition(RunRunning))
	require.NoError(t, r.Fail(fmt.Errorf("diverged")))
	assert.Equal(t, RunFailed, r.Status)
	assert.Equal(t, "diverged", r.Error)
	assert.False(t, RunRunning.Terminal())
}

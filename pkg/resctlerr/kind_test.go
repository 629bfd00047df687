package resctlerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesKind(t *testing.T) {
	err := New(NotFound, errors.New("pid 42 gone"))
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, PermissionDenied))
}

func TestIs_BareSentinel(t *testing.T) {
	assert.True(t, Is(ErrSwitchInProgress, SwitchInProgress))
}

func TestApplyFailed_ComponentInMessage(t *testing.T) {
	err := NewApplyFailed("CpuGovernor", errors.New("permission denied"))
	assert.Contains(t, err.Error(), "CpuGovernor")
	assert.True(t, Is(err, ApplyFailed))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(Transient, cause)
	assert.ErrorIs(t, err, cause)
}

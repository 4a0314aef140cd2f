package verification

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"rejection", Reject("amount %s below %s", "1", "2"), KindRejected},
		{"wrapped rejection", fmt.Errorf("card: %w", Reject("status failed")), KindRejected},
		{"transient", Transient("all endpoints failed"), KindTransient},
		{"replay", fmt.Errorf("settle: %w", ErrReplayConflict), KindReplay},
		{"not found", NotFound("intent %s", "x"), KindNotFound},
		{"validation", Invalid("missing wallet"), KindValidation},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestAtLeastKeepsIntegerPrecision(t *testing.T) {
	ok, err := AtLeast("123456789012345678", "123456789012345678")
	require.NoError(t, err)
	require.True(t, ok)

	// Differ only in the last digit; a float64 comparison would call these equal.
	ok, err = AtLeast("123456789012345677", "123456789012345678")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = AtLeast("123456789012345679", "123456789012345678")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = AtLeast("1.5", "1")
	require.Error(t, err)
}

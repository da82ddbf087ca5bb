package colbench

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbench/memory"
)

func TestExitCode(t *testing.T) {
	_, cfgErr := memory.NewBudgetListener(-5)
	require.Error(t, cfgErr)

	exhausted := fmt.Errorf("pipeline 0: %w", &ResourceExhaustedError{Used: 1200, Limit: 1000, Needed: 200})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"config", cfgErr, ExitConfigError},
		{"plan", fmt.Errorf("load: %w", ErrPlanNotFound), ExitConfigError},
		{"exhausted", exhausted, ExitResourceExhausted},
		{"other", errors.New("boom"), ExitConfigError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestErrorAliases(t *testing.T) {
	_, err := memory.NewBudgetListener(-1)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(-1), ce.Limit)

	var re *ResourceExhaustedError
	wrapped := fmt.Errorf("run: %w", &memory.ResourceExhaustedError{Used: 10, Limit: 5, Needed: 5, Freed: 1})
	require.ErrorAs(t, wrapped, &re)
	assert.Equal(t, int64(1), re.Freed)
	assert.ErrorIs(t, wrapped, ErrResourceExhausted)
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacerUnlimitedEndpoint(t *testing.T) {
	pacer := &Pacer{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	for i := 0; i < 100; i++ {
		require.NoError(t, pacer.Wait(ctx, "public"))
	}
}

func TestPacerBlocksPastBurst(t *testing.T) {
	pacer := &Pacer{}
	pacer.ApplyOverrides(map[string]int{" Alchemy ": 60})

	require.NoError(t, pacer.Wait(context.Background(), "alchemy"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, pacer.Wait(ctx, "alchemy"))
}

func TestPacerMargin(t *testing.T) {
	pacer := &Pacer{Limits: map[string]int{"infura": 10}}

	pacer.ApplySafetyMargin(0.9)
	require.Equal(t, 9, pacer.applyMargin(10))

	pacer.ApplySafetyMargin(1.5)
	require.Equal(t, 0.9, pacer.Margin)
}

func TestPacerNilSafe(t *testing.T) {
	var pacer *Pacer
	require.NoError(t, pacer.Wait(context.Background(), "anything"))
	pacer.ApplyOverrides(map[string]int{"x": 1})
	pacer.ApplySafetyMargin(0.5)
}

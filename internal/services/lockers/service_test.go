package lockers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/LockerBox/internal/models"
)

func TestParcelSensed(t *testing.T) {
	svc := &Service{}

	l := models.Locker{Lifecycle: models.LifecycleDroppingOff, WeightGrams: 120}
	require.True(t, svc.ParcelSensed(l, 45))

	l.WeightGrams = 10
	require.False(t, svc.ParcelSensed(l, 45))

	// Outside a drop-off the weight reading never prompts.
	l = models.Locker{Lifecycle: models.LifecycleAvailable, WeightGrams: 500}
	require.False(t, svc.ParcelSensed(l, 45))
}

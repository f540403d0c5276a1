package cell

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDataset() *Dataset {
	return &Dataset{
		Meta: Metadata{CellID: "cell-01", FormatVersion: CurrentFormatVersion},
		Samples: []Sample{
			{TestTime: 0, StepIndex: 1, CycleIndex: 1, Voltage: 3.2, Current: 1, StepType: StepCharge},
			{TestTime: 1, StepIndex: 1, CycleIndex: 1, Voltage: 3.3, Current: 1, ChargeCapacity: 1.0 / 3600, StepType: StepCharge},
			{TestTime: 2, StepIndex: 2, CycleIndex: 1, Voltage: 3.3, Current: 0, StepType: StepRest},
			{TestTime: 3, StepIndex: 3, CycleIndex: 2, Voltage: 3.3, Current: -1, StepType: StepDischarge},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid dataset", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, validDataset().Validate())
	})

	t.Run("cycle index decrease", func(t *testing.T) {
		t.Parallel()
		ds := validDataset()
		ds.Samples[3].CycleIndex = 0
		assert.ErrorContains(t, ds.Validate(), "cycle index decreased")
	})

	t.Run("step index decrease within cycle", func(t *testing.T) {
		t.Parallel()
		ds := validDataset()
		ds.Samples[2].StepIndex = 0
		assert.ErrorContains(t, ds.Validate(), "step index decreased")
	})

	t.Run("test time decrease", func(t *testing.T) {
		t.Parallel()
		ds := validDataset()
		ds.Samples[1].TestTime = -1
		assert.ErrorContains(t, ds.Validate(), "test time decreased")
	})

	t.Run("invalid step type", func(t *testing.T) {
		t.Parallel()
		ds := validDataset()
		ds.Samples[0].StepType = "float"
		assert.ErrorContains(t, ds.Validate(), "invalid step type")
	})
}

func TestCycles(t *testing.T) {
	t.Parallel()

	ds := validDataset()
	assert.Equal(t, []int{1, 2}, ds.Cycles())

	lo, hi, ok := ds.CycleRange()
	require.True(t, ok)
	assert.Equal(t, 1, lo)
	assert.Equal(t, 2, hi)

	empty := &Dataset{}
	_, _, ok = empty.CycleRange()
	assert.False(t, ok)
}

func TestClone(t *testing.T) {
	t.Parallel()

	ds := validDataset()
	clone := ds.Clone()
	require.Empty(t, cmp.Diff(ds, clone))

	clone.Samples[0].Voltage = 9.9
	assert.NotEqual(t, ds.Samples[0].Voltage, clone.Samples[0].Voltage)
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	ds := validDataset()
	fp := ds.Fingerprint()
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, ds.Fingerprint(), "fingerprint must be stable")

	// Metadata does not participate.
	other := ds.Clone()
	other.Meta.CellID = "renamed"
	assert.Equal(t, fp, other.Fingerprint())

	// Sample content does.
	other.Samples[0].Current = 2
	assert.NotEqual(t, fp, other.Fingerprint())
}

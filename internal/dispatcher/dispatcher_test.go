package dispatcher

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btmonitor/internal/driver"
	"btmonitor/internal/models"
	"btmonitor/internal/registry"
)

type recordingForwarder struct {
	forwarded []models.OptimizationAction
	err       error
}

func (f *recordingForwarder) Forward(action models.OptimizationAction) error {
	if f.err != nil {
		return f.err
	}
	f.forwarded = append(f.forwarded, action)
	return nil
}

func action(kind models.ActionKind, address string) models.OptimizationAction {
	return models.OptimizationAction{
		ID:            fmt.Sprintf("test-%s-%s", kind, address),
		TargetAddress: address,
		Kind:          kind,
		Reason:        "test",
	}
}

func TestApplyPriorityElevate(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	_, err := reg.Connect("A8:11:7F:32:01:45", "Sony XM4", models.ClassHeadphones)
	require.NoError(t, err)

	d := New(reg, driver.NopForwarder{}, 10)

	rec := d.Apply(action(models.KindPriorityElevate, "A8:11:7F:32:01:45"))
	assert.Equal(t, models.OutcomeApplied, rec.Outcome)

	dev, ok := reg.Lookup("A8:11:7F:32:01:45")
	require.True(t, ok)
	assert.Equal(t, models.PriorityCritical, dev.Priority)
	assert.Len(t, reg.AuditTrail(), 1)
}

func TestApplyVanishedDeviceIsSkipped(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	d := New(reg, driver.NopForwarder{}, 10)

	rec := d.Apply(action(models.KindPriorityElevate, "DE:AD:BE:EF:00:00"))
	assert.Equal(t, models.OutcomeSkipped, rec.Outcome)
	assert.Equal(t, "device vanished before dispatch", rec.Detail)

	// The race is recorded, never swallowed
	tail := d.RecentActions(10)
	require.Len(t, tail, 1)
	assert.Equal(t, models.OutcomeSkipped, tail[0].Outcome)
}

func TestApplyForwardsNonPriorityKinds(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	fwd := &recordingForwarder{}
	d := New(reg, fwd, 10)

	for _, kind := range []models.ActionKind{
		models.KindSignalBoost,
		models.KindPowerOptimize,
		models.KindBandwidthReallocate,
	} {
		rec := d.Apply(action(kind, "B4:3A:92:7C:F5:12"))
		assert.Equal(t, models.OutcomeForwarded, rec.Outcome)
	}
	assert.Len(t, fwd.forwarded, 3)
}

func TestApplyForwarderFailure(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	fwd := &recordingForwarder{err: errors.New("radio unreachable")}
	d := New(reg, fwd, 10)

	rec := d.Apply(action(models.KindSignalBoost, "B4:3A:92:7C:F5:12"))
	assert.Equal(t, models.OutcomeFailed, rec.Outcome)
	assert.Equal(t, "radio unreachable", rec.Detail)
}

func TestActionLogEvictsOldest(t *testing.T) {
	t.Parallel()

	l := NewActionLog(3)
	for i := 0; i < 5; i++ {
		l.Append(models.ActionRecord{
			Action: models.OptimizationAction{ID: fmt.Sprintf("a%d", i)},
		})
	}

	assert.Equal(t, 3, l.Len())

	tail := l.Tail(10)
	require.Len(t, tail, 3)
	assert.Equal(t, "a2", tail[0].Action.ID)
	assert.Equal(t, "a4", tail[2].Action.ID)
}

func TestActionLogTailIsOldestFirst(t *testing.T) {
	t.Parallel()

	l := NewActionLog(10)
	for i := 0; i < 4; i++ {
		l.Append(models.ActionRecord{
			Action: models.OptimizationAction{ID: fmt.Sprintf("a%d", i)},
		})
	}

	tail := l.Tail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "a2", tail[0].Action.ID)
	assert.Equal(t, "a3", tail[1].Action.ID)
}

package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LeadVault/internal/logger"
)

func TestRecorderStampsEvents(t *testing.T) {
	var rec Recorder
	require.NoError(t, rec.Emit(context.Background(), Event{Type: PersonApproved, SubjectID: "p1", Actor: "u1"}))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, "p1", events[0].SubjectID)

	events[0].Type = "mutated"
	assert.Equal(t, PersonApproved, rec.Events()[0].Type, "Events returns a copy")
}

func TestRecorderKeepsGivenID(t *testing.T) {
	var rec Recorder
	require.NoError(t, rec.Emit(context.Background(), Event{ID: "fixed", Type: BatchFinished}))
	assert.Equal(t, "fixed", rec.Events()[0].ID)
}

func TestRecorderConcurrentEmit(t *testing.T) {
	var rec Recorder
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			typ := PersonApproved
			if i%2 == 0 {
				typ = PersonAssigned
			}
			_ = rec.Emit(context.Background(), Event{Type: typ})
		}(i)
	}
	wg.Wait()
	assert.Len(t, rec.Events(), 20)
	assert.Equal(t, 10, rec.Count(PersonApproved))
	assert.Equal(t, 10, rec.Count(PersonAssigned))
	assert.Zero(t, rec.Count(SweepFinished))
}

func TestNewEmitter(t *testing.T) {
	log := logger.NewNop()

	t.Run("no brokers logs events", func(t *testing.T) {
		emitter, closeFn := NewEmitter(nil, "leadvault.audit", log)
		require.NotNil(t, closeFn)
		assert.IsType(t, &LogEmitter{}, emitter)
		assert.NoError(t, emitter.Emit(context.Background(), Event{Type: OrganizationApproved}))
		assert.NoError(t, closeFn())
	})

	t.Run("brokers select kafka", func(t *testing.T) {
		emitter, closeFn := NewEmitter([]string{"localhost:9092"}, "leadvault.audit", log)
		assert.IsType(t, &KafkaEmitter{}, emitter)
		assert.NoError(t, closeFn())
	})
}

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SetValueOverwrites(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetValue(ctx, enrichment.OutputKey, []byte(`{"enrichment_status":"inprogress"}`)))
	require.NoError(t, s.SetValue(ctx, enrichment.OutputKey, []byte(`{"enrichment_status":"completed"}`)))

	got, err := s.GetValue(ctx, enrichment.OutputKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"enrichment_status":"completed"}`, string(got))
}

func TestStore_GetValueMissing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, err := s.GetValue(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	assert.Error(t, s.SetValue(context.Background(), " ", []byte("x")))
}

func TestStore_ChargesInOrder(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	ctx := context.Background()
	require.NoError(t, s.Charge(ctx, enrichment.UsageEvent{EventName: enrichment.UsageEventName, Count: 1}))
	require.NoError(t, s.Charge(ctx, enrichment.UsageEvent{EventName: enrichment.UsageEventName, Count: 3}))

	charges, err := s.Charges(ctx)
	require.NoError(t, err)
	require.Len(t, charges, 2)
	assert.Equal(t, 1, charges[0].Count)
	assert.Equal(t, 3, charges[1].Count)
	assert.NotEqual(t, charges[0].ID, charges[1].ID)
	assert.Equal(t, "ENRICHED_RECORDS", charges[1].EventName)
}

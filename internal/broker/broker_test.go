package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishAndDrainDeliversLatest(t *testing.T) {
	b := New()
	var got float64
	b.Register(ItemSpeed, func(v float64) { got = v })

	b.Publish(ItemSpeed, 42)
	b.Drain()

	require.Equal(t, float64(42), got)
}

func TestDrainOnlyFiresOnUpdate(t *testing.T) {
	b := New()
	calls := 0
	b.Register(ItemSpeed, func(v float64) { calls++ })

	b.Publish(ItemSpeed, 1)
	b.Drain()
	b.Drain() // nothing new published, should not fire again

	require.Equal(t, 1, calls)
}

func TestFastAverageBlendsLatestAndPrevious(t *testing.T) {
	b := New()
	b.SetFastAverage(true)
	var got float64
	b.Register(ItemHVBattV, func(v float64) { got = v })

	b.Publish(ItemHVBattV, 10)
	b.Drain()
	require.Equal(t, float64(5), got) // previous starts at 0: (10+0)/2

	b.Publish(ItemHVBattV, 20)
	b.Drain()
	require.Equal(t, float64(15), got) // (20+10)/2
}

func TestLatestReportsUnsetItems(t *testing.T) {
	b := New()
	_, ok := b.Latest(ItemSpeed)
	require.False(t, ok)

	b.Publish(ItemSpeed, 5)
	v, ok := b.Latest(ItemSpeed)
	require.True(t, ok)
	require.Equal(t, float64(5), v)
}

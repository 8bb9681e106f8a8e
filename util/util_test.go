package util

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestUnique(t *testing.T) {
	require.Equal(t, []string{"chair", "m1", "m2"}, Unique([]string{"chair", "m1", "", "chair", "m2", "m1"}))
	require.Empty(t, Unique(nil))
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	require.Equal(t, start, c.Now())
	c.Advance(25 * time.Hour)
	require.Equal(t, start.Add(25*time.Hour), c.Now())
	c.Set(start)
	require.Equal(t, start, c.Now())
}

func TestTickWorker(t *testing.T) {
	var wg sync.WaitGroup
	ticks := atomic.NewInt32(0)
	tw := NewTickWorker("test-worker", 5*time.Millisecond, make(chan struct{}), func() { ticks.Inc() }, &wg)
	tw.Start()
	tw.Start()
	require.True(t, tw.IsRunning())
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)
	tw.Stop()
	wg.Wait()
	require.False(t, tw.IsRunning())
}

func TestQueueOffer(t *testing.T) {
	var wg sync.WaitGroup
	handled := atomic.NewInt32(0)
	q := NewQueue("test-queue", &wg, func(item string) error {
		handled.Inc()
		return nil
	}, 1)
	require.True(t, q.Offer("first"))
	require.False(t, q.Offer("second"))
	require.Equal(t, 1, q.Len())

	q.Start()
	require.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, time.Millisecond)
	require.True(t, q.Offer("third"))
	require.Eventually(t, func() bool { return handled.Load() == 2 }, time.Second, time.Millisecond)
	q.Stop()
	q.Stop()
	wg.Wait()
}

func TestQueueStopFlushesBuffer(t *testing.T) {
	var wg sync.WaitGroup
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []int
	q := NewQueue("test-queue", &wg, func(item int) error {
		if item == 0 {
			<-release
		}
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, item)
		return errors.New("sink down")
	}, 4)
	q.Start()
	require.True(t, q.Offer(0))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	for i := 1; i <= 3; i++ {
		require.True(t, q.Offer(i))
	}
	close(release)
	q.Stop()
	wg.Wait()
	require.Equal(t, []int{0, 1, 2, 3}, seen)
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJsonEncoderDecoder(t *testing.T) {
	encdec := NewJsonEncoderDecoder[payload]()
	a, err := encdec.Encode(payload{Name: "a", Count: 1})
	require.NoError(t, err)
	b, err := encdec.Encode(payload{Name: "b", Count: 2})
	require.NoError(t, err)

	all, err := DecodeAll[payload](encdec, []string{string(a), string(b)})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "b", all[1].Name)

	_, err = DecodeAll[payload](encdec, []string{"{"})
	require.Error(t, err)
}

func TestStructConversion(t *testing.T) {
	s, err := ConvertToStruct(payload{Name: "x", Count: 3})
	require.NoError(t, err)
	var out payload
	require.NoError(t, ConvertFromStruct(s, &out))
	require.Equal(t, payload{Name: "x", Count: 3}, out)
}

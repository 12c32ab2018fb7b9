package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueIsFIFO(t *testing.T) {
	q := NewQueue()
	q.Enqueue("user-1", "job-1")
	q.Enqueue("user-1", "job-2")

	first, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "job-1", first.JobID)

	second, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "job-2", second.JobID)
}

func TestDequeueOnEmptyQueueReturnsFalse(t *testing.T) {
	q := NewQueue()
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestLengthTracksQueueSize(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 0, q.Length())
	q.Enqueue("user-1", "job-1")
	assert.Equal(t, 1, q.Length())
	q.Dequeue()
	assert.Equal(t, 0, q.Length())
}

func TestWaitWakesOnEnqueue(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})
	result := make(chan Item, 1)

	go func() {
		item, ok := q.Wait(done)
		if ok {
			result <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue("user-1", "job-1")

	select {
	case item := <-result:
		assert.Equal(t, "job-1", item.JobID)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up on enqueue")
	}
}

func TestWaitReturnsFalseWhenDoneClosed(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})
	result := make(chan bool, 1)

	go func() {
		_, ok := q.Wait(done)
		result <- ok
	}()

	close(done)

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after done was closed")
	}
}

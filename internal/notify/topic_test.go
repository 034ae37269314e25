package notify

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietTopic[T any](topic *Topic[T]) *Topic[T] {
	topic.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return topic
}

func TestEventTopicDeliversInOrder(t *testing.T) {
	topic := NewEventTopic[int]("changes", 8)
	sub := topic.Subscribe()
	defer sub.Unsubscribe()

	for i := 1; i <= 3; i++ {
		topic.Publish(i)
	}

	assert.Equal(t, 1, <-sub.C)
	assert.Equal(t, 2, <-sub.C)
	assert.Equal(t, 3, <-sub.C)
}

func TestEventTopicNoReplay(t *testing.T) {
	topic := NewEventTopic[string]("cleared", 8)
	topic.Publish("before")

	sub := topic.Subscribe()
	defer sub.Unsubscribe()

	select {
	case v := <-sub.C:
		t.Fatalf("unexpected replay of %q", v)
	default:
	}
}

func TestEventTopicDropsWhenFull(t *testing.T) {
	topic := quietTopic(NewEventTopic[int]("changes", 2))
	sub := topic.Subscribe()
	defer sub.Unsubscribe()

	topic.Publish(1)
	topic.Publish(2)
	topic.Publish(3)

	assert.Equal(t, int64(1), topic.Dropped())
	assert.Equal(t, 1, <-sub.C)
	assert.Equal(t, 2, <-sub.C)
}

func TestReplayTopicReplaysLatest(t *testing.T) {
	topic := NewReplayTopic[bool]("visibility", 4)
	topic.Publish(false)
	topic.Publish(true)

	sub := topic.Subscribe()
	defer sub.Unsubscribe()

	assert.True(t, <-sub.C)
	v, ok := topic.Latest()
	require.True(t, ok)
	assert.True(t, v)
}

func TestReplayTopicConflatesSlowSubscriber(t *testing.T) {
	topic := NewReplayTopic[int]("last_displayed", 1)
	sub := topic.Subscribe()
	defer sub.Unsubscribe()

	topic.Publish(1)
	topic.Publish(2)
	topic.Publish(3)

	assert.Equal(t, 3, <-sub.C)
	assert.Zero(t, topic.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	topic := NewEventTopic[int]("changes", 1)
	sub := topic.Subscribe()
	require.Equal(t, 1, topic.Subscribers())

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, open := <-sub.C
	assert.False(t, open)
	assert.Zero(t, topic.Subscribers())

	topic.Publish(1)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	topic := NewReplayTopic[int]("mode", 1)
	sub := topic.Subscribe()

	topic.Close()
	topic.Close()
	topic.Publish(5)

	_, open := <-sub.C
	assert.False(t, open)

	late := topic.Subscribe()
	_, open = <-late.C
	assert.False(t, open)
	late.Unsubscribe()
}

func TestConcurrentPublishers(t *testing.T) {
	topic := NewEventTopic[int]("changes", 1000)
	sub := topic.Subscribe()
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				topic.Publish(i)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sub.C, 400)
}

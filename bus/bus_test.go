package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusTopic(c int) Topic { return T("i2c", "ctrl", c, "status") }

func recv(t *testing.T, s *Subscription) *Message {
	t.Helper()
	select {
	case m, ok := <-s.Channel():
		require.True(t, ok, "subscription %v closed", s.Topic())
		return m
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("no message on %v", s.Topic())
		return nil
	}
}

func quiet(t *testing.T, subs ...*Subscription) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	for _, s := range subs {
		select {
		case m := <-s.Channel():
			t.Fatalf("%v: unexpected %v = %#v", s.Topic(), m.Topic, m.Payload)
		default:
		}
	}
}

// payloads collects exactly n string payloads in arrival order.
func payloads(t *testing.T, s *Subscription, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for len(out) < n {
		out = append(out, recv(t, s).Payload.(string))
	}
	return out
}

func TestPublishReachesExactSubscriber(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("diag")
	s := c.Subscribe(statusTopic(1))
	other := c.Subscribe(statusTopic(0))

	c.Publish(c.NewMessage(statusTopic(1), "idle", false))

	assert.Equal(t, "idle", recv(t, s).Payload)
	quiet(t, other)
}

func TestRetainedDeliveredOnSubscribe(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("i2c")
	c.Publish(c.NewMessage(statusTopic(1), "error", true))
	c.Publish(c.NewMessage(statusTopic(1), "idle", true))

	s := c.Subscribe(statusTopic(1))
	assert.Equal(t, "idle", recv(t, s).Payload)
	quiet(t, s)
}

func TestRetainedClearedByNilPayload(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("i2c")
	c.Publish(c.NewMessage(statusTopic(0), "a", true))
	c.Publish(c.NewMessage(statusTopic(1), "b", true))
	c.Publish(c.NewMessage(statusTopic(0), nil, true))

	s := c.Subscribe(T("i2c", "ctrl", "+", "status"))
	assert.Equal(t, []string{"b"}, payloads(t, s, 1))
	quiet(t, s)
}

func TestWildcardMatching(t *testing.T) {
	tests := []struct {
		pattern Topic
		hits    []Topic
		misses  []Topic
	}{
		{
			pattern: T("i2c", "ctrl", "+", "status"),
			hits:    []Topic{statusTopic(0), statusTopic(7)},
			misses:  []Topic{T("i2c", "ctrl", 0, "recovery"), T("i2c", "ctrl", 0), T("i2c", "ctrl", 0, "status", "x")},
		},
		{
			pattern: T("i2c", "#"),
			hits:    []Topic{T("i2c"), T("i2c", "ctrl"), T("i2c", "ctrl", 2, "cmd", "reset")},
			misses:  []Topic{T("config", "tasks")},
		},
		{
			pattern: T("#"),
			hits:    []Topic{T("config"), statusTopic(1)},
		},
		{
			pattern: T("i2c", "ctrl", "+", "cmd", "#"),
			hits:    []Topic{T("i2c", "ctrl", 1, "cmd"), T("i2c", "ctrl", 1, "cmd", "stats")},
			misses:  []Topic{statusTopic(1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.pattern.String(), func(t *testing.T) {
			b := NewBus(8)
			c := b.NewConnection("t")
			s := c.Subscribe(tt.pattern)
			for _, topic := range tt.hits {
				c.Publish(c.NewMessage(topic, topic.String(), false))
				assert.Equal(t, topic.String(), recv(t, s).Payload)
			}
			for _, topic := range tt.misses {
				c.Publish(c.NewMessage(topic, topic.String(), false))
			}
			quiet(t, s)
		})
	}
}

func TestRetainedThroughWildcards(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("i2c")
	c.Publish(c.NewMessage(T("i2c"), "root", true))
	c.Publish(c.NewMessage(statusTopic(0), "s0", true))
	c.Publish(c.NewMessage(statusTopic(1), "s1", true))
	c.Publish(c.NewMessage(T("i2c", "ctrl", 1, "recovery"), "r1", true))

	all := c.Subscribe(T("i2c", "#"))
	assert.ElementsMatch(t, []string{"root", "s0", "s1", "r1"}, payloads(t, all, 4))

	status := c.Subscribe(T("i2c", "ctrl", "+", "status"))
	assert.ElementsMatch(t, []string{"s0", "s1"}, payloads(t, status, 2))
}

func TestIntAndStringTokensDiffer(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("t")
	sInt := c.Subscribe(statusTopic(1))
	sStr := c.Subscribe(T("i2c", "ctrl", "1", "status"))

	c.Publish(c.NewMessage(statusTopic(1), "int", false))
	assert.Equal(t, "int", recv(t, sInt).Payload)
	quiet(t, sStr)
}

func TestNonComparableTokenPanics(t *testing.T) {
	assert.Panics(t, func() { T("i2c", []byte{1}) })
	assert.Panics(t, func() { T(nil) })
}

func TestTopicString(t *testing.T) {
	assert.Equal(t, "i2c/ctrl/3/status", statusTopic(3).String())
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("t")
	s := c.Subscribe(T("i2c", "ctrl", 0, "recovery"))
	for _, p := range []string{"first", "second", "third"} {
		c.Publish(c.NewMessage(T("i2c", "ctrl", 0, "recovery"), p, false))
	}
	assert.Equal(t, []string{"second", "third"}, payloads(t, s, 2))
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("t")
	s := c.Subscribe(T("i2c", "+", "+", "recovery"))
	s.Unsubscribe()
	s.Unsubscribe()

	_, ok := <-s.Channel()
	assert.False(t, ok)
	assert.NotPanics(t, func() {
		c.Publish(c.NewMessage(T("i2c", "ctrl", 0, "recovery"), "x", false))
	})
}

func TestDisconnectClosesEverySubscription(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("monitor")
	s1 := c.Subscribe(statusTopic(0))
	s2 := c.Subscribe(T("i2c", "#"))
	c.Disconnect()

	for _, s := range []*Subscription{s1, s2} {
		_, ok := <-s.Channel()
		assert.False(t, ok, "%v still open", s.Topic())
	}
}

func TestRequestWaitGetsReply(t *testing.T) {
	b := NewBus(4)
	client := b.NewConnection("diag")
	server := b.NewConnection("i2c")

	cmd := T("i2c", "ctrl", 2, "cmd", "stats")
	in := server.Subscribe(cmd)
	go func() {
		if m, ok := <-in.Channel(); ok {
			server.Reply(m, "idle", false)
		}
	}()

	req := client.NewMessage(cmd, nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rep, err := client.RequestWait(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "idle", rep.Payload)
	assert.Equal(t, req.ReplyTo, rep.Topic)
}

func TestRequestWaitTimesOut(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("diag")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.RequestWait(ctx, c.NewMessage(T("i2c", "ctrl", 9, "cmd", "stats"), nil, false))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestRepliesAreUniquePerCall(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("diag")
	m1 := c.NewMessage(T("x"), nil, false)
	m2 := c.NewMessage(T("x"), nil, false)
	s1 := c.Request(m1)
	s2 := c.Request(m2)
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()

	assert.NotEqual(t, m1.ReplyTo, m2.ReplyTo)
	assert.True(t, m1.CanReply())
}

func TestReplyNeedsReplyTo(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("i2c")
	assert.False(t, c.Reply(c.NewMessage(T("x"), nil, false), "ok", false))
}

package eventbus

import "testing"

func TestPublishEventDeliversToSubscriber(t *testing.T) {
	b := New("n1")
	sub := b.Subscribe()
	defer b.Unsubscribe(sub.ID)

	b.PublishEvent("instance_start", map[string]interface{}{"path": "root/svc/web"})

	select {
	case ev := <-sub.Events:
		if ev.Name != "instance_start" {
			t.Errorf("expected instance_start, got %q", ev.Name)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestOverflowNeverBlocksProducer(t *testing.T) {
	b := &Bus{subscribers: map[uint64]*Subscriber{}, nodeName: "n1", queueSize: 1}
	sub := b.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		// Queue size 1: the second publish must overflow and be dropped,
		// not block this goroutine.
		b.PublishEvent("a", nil)
		b.PublishEvent("b", nil)
		close(done)
	}()
	<-done
}

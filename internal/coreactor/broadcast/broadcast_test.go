package broadcast

import "testing"

func TestSubscribersMissHistoricalEvents(t *testing.T) {
	s := NewSender[int]()
	s.Publish(1)

	recv := s.Subscribe()
	defer recv.Close()

	s.Publish(2)

	select {
	case v := <-recv.C():
		if v != 2 {
			t.Fatalf("got %d, want 2", v)
		}
	default:
		t.Fatal("expected the post-subscribe event to be delivered")
	}

	select {
	case v := <-recv.C():
		t.Fatalf("unexpected extra event %d", v)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := NewSender[int]()
	recv := s.Subscribe()
	defer recv.Close()

	for i := 0; i < defaultBuffer+10; i++ {
		s.Publish(i)
	}
	// Publish must return promptly even though recv never drained; reaching
	// this line at all is the assertion.
}

func TestCloseUnsubscribes(t *testing.T) {
	s := NewSender[int]()
	recv := s.Subscribe()
	if got := s.SubscriberCount(); got != 1 {
		t.Fatalf("subscriber count = %d, want 1", got)
	}
	recv.Close()
	if got := s.SubscriberCount(); got != 0 {
		t.Fatalf("subscriber count after close = %d, want 0", got)
	}
}

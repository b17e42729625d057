package ledger

import "testing"

func TestNotifier_FanOut(t *testing.T) {
	n := NewNotifier()
	counts := make([]int, 3)
	var cancels []func()
	for i := range counts {
		cancels = append(cancels, n.SubscribeReorgs(func(h uint64) {
			if h != 12 {
				t.Errorf("subscriber %d got height %d", i, h)
			}
			counts[i]++
		}))
	}
	if n.Subscribers() != 3 {
		t.Fatalf("Subscribers() = %d, want 3", n.Subscribers())
	}

	n.Publish(12)
	for i, c := range counts {
		if c != 1 {
			t.Errorf("subscriber %d called %d times, want 1", i, c)
		}
	}

	// Cancelling one closure must not remove its siblings.
	cancels[1]()
	cancels[1]()
	n.Publish(12)
	want := []int{2, 1, 2}
	for i := range counts {
		if counts[i] != want[i] {
			t.Errorf("subscriber %d count = %d, want %d", i, counts[i], want[i])
		}
	}
	if n.Subscribers() != 2 {
		t.Errorf("Subscribers() = %d, want 2", n.Subscribers())
	}
}

func TestNotifier_DeliversInSubscriptionOrder(t *testing.T) {
	n := NewNotifier()
	var order []int
	var cancels []func()
	for i := 0; i < 8; i++ {
		cancels = append(cancels, n.SubscribeReorgs(func(uint64) {
			order = append(order, i)
		}))
	}
	cancels[3]()

	for round := 0; round < 20; round++ {
		order = order[:0]
		n.Publish(5)
		want := []int{0, 1, 2, 4, 5, 6, 7}
		if len(order) != len(want) {
			t.Fatalf("round %d: delivered %v, want %v", round, order, want)
		}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("round %d: delivered %v, want %v", round, order, want)
			}
		}
	}
}

package mailbox

import (
	"sync"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	m := New[int]()
	for i := 0; i < 100; i++ {
		if !m.Put(i) {
			t.Fatal("Put on open mailbox failed")
		}
	}
	if m.Len() != 100 {
		t.Fatalf("Len = %d, want 100", m.Len())
	}
	for i := 0; i < 100; i++ {
		v, ok := m.Receive(nil)
		if !ok || v != i {
			t.Fatalf("Receive = %d, %v; want %d", v, ok, i)
		}
	}
}

func TestReceiveBlocksUntilPut(t *testing.T) {
	m := New[string]()
	got := make(chan string, 1)
	go func() {
		v, _ := m.Receive(nil)
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("Receive returned %q before Put", v)
	case <-time.After(20 * time.Millisecond):
	}

	m.Put("scan")
	select {
	case v := <-got:
		if v != "scan" {
			t.Errorf("Receive = %q, want scan", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not wake up")
	}
}

func TestCloseDrainsThenStops(t *testing.T) {
	m := New[int]()
	m.Put(1)
	m.Put(2)
	m.Close()

	if m.Put(3) {
		t.Error("Put after Close succeeded")
	}
	for _, want := range []int{1, 2} {
		v, ok := m.Receive(nil)
		if !ok || v != want {
			t.Fatalf("Receive = %d, %v; want %d", v, ok, want)
		}
	}
	if _, ok := m.Receive(nil); ok {
		t.Error("Receive on drained closed mailbox reported ok")
	}
}

func TestReceiveDone(t *testing.T) {
	m := New[int]()
	done := make(chan struct{})
	close(done)
	if _, ok := m.Receive(done); ok {
		t.Error("Receive with closed done reported ok")
	}
}

func TestConcurrentProducers(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				m.Put(i)
			}
		}()
	}
	wg.Wait()
	m.Close()

	n := 0
	for {
		if _, ok := m.Receive(nil); !ok {
			break
		}
		n++
	}
	if n != 2000 {
		t.Errorf("received %d, want 2000", n)
	}
}

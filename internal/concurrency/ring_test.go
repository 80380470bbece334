package concurrency

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestRingBuffer_FIFO(t *testing.T) {
	r := NewRingBuffer[int](8)
	for i := 0; i < 8; i++ {
		if !r.Enqueue(i) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	if r.Enqueue(99) {
		t.Fatal("enqueue on full ring succeeded")
	}
	for i := 0; i < 8; i++ {
		v, ok := r.Dequeue()
		if !ok || v != i {
			t.Fatalf("dequeue = %d,%v want %d", v, ok, i)
		}
	}
	if _, ok := r.Dequeue(); ok {
		t.Fatal("dequeue on empty ring succeeded")
	}
}

func TestRingBuffer_BatchPartial(t *testing.T) {
	r := NewRingBuffer[int](4)
	if n := r.EnqueueBatch([]int{1, 2, 3, 4, 5, 6}); n != 4 {
		t.Fatalf("EnqueueBatch accepted %d, want 4", n)
	}
	dst := make([]int, 3)
	if n := r.DequeueBatch(dst); n != 3 || dst[0] != 1 || dst[2] != 3 {
		t.Fatalf("DequeueBatch = %d %v", n, dst)
	}
	if n := r.EnqueueBatch([]int{7, 8}); n != 2 {
		t.Fatalf("wrapped EnqueueBatch accepted %d, want 2", n)
	}
	out := make([]int, 8)
	n := r.DequeueBatch(out)
	want := []int{4, 7, 8}
	if n != len(want) {
		t.Fatalf("DequeueBatch = %d, want %d", n, len(want))
	}
	for i, v := range want {
		if out[i] != v {
			t.Errorf("out[%d] = %d, want %d", i, out[i], v)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after drain", r.Len())
	}
}

func TestRingBuffer_SPSCOrder(t *testing.T) {
	const total = 100000
	r := NewRingBuffer[int](64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		batch := make([]int, 0, 16)
		next := 0
		for next < total {
			batch = batch[:0]
			for i := 0; i < 16 && next+i < total; i++ {
				batch = append(batch, next+i)
			}
			n := r.EnqueueBatch(batch)
			if n == 0 {
				runtime.Gosched()
			}
			next += n
		}
	}()

	done := make(chan error, 1)
	go func() {
		buf := make([]int, 16)
		expect := 0
		for expect < total {
			n := r.DequeueBatch(buf)
			if n == 0 {
				runtime.Gosched()
				continue
			}
			for i := 0; i < n; i++ {
				if buf[i] != expect {
					done <- errOrder{got: buf[i], want: expect}
					return
				}
				expect++
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for consumer")
	}
	wg.Wait()
}

type errOrder struct{ got, want int }

func (e errOrder) Error() string {
	return "out of order"
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[uint64]uint64{0: 1, 1: 1, 3: 4, 4: 4, 1000: 1024, 1025: 2048}
	for in, want := range cases {
		if got := NextPowerOfTwo(in); got != want {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", in, got, want)
		}
	}
}

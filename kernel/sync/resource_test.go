package sync

import "testing"

func TestResourceAcquireRelease(t *testing.T) {
	var r Resource

	if r.Taken() {
		t.Fatal("expected fresh resource to be free")
	}

	r.Acquire()
	if !r.Taken() {
		t.Fatal("expected resource to be taken after Acquire")
	}

	if r.TryAcquire() {
		t.Fatal("expected TryAcquire to fail while resource is held")
	}

	r.Release()
	if r.Taken() {
		t.Fatal("expected resource to be free after Release")
	}

	// Releasing an already-free resource must not panic.
	r.Release()
}

func TestResourceDoubleAcquirePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected double Acquire to panic")
		}
	}()

	var r Resource
	r.Acquire()
	r.Acquire()
}

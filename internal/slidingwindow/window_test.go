package slidingwindow

import "testing"

func TestNewAndAccept(t *testing.T) {
	w := New(128)
	isNew, _ := w.Check(5)
	if !isNew {
		t.Fatal("expected 5 to be new on empty window")
	}
	w.Accept(5)
	isNew, _ = w.Check(5)
	if isNew {
		t.Fatal("expected 5 to be a duplicate after accept")
	}
}

func TestBelowWindow(t *testing.T) {
	w := New(128)
	w.Accept(1000)
	isNew, gap := w.Check(800)
	if isNew {
		t.Fatal("expected 800 to be below window")
	}
	if gap == 0 {
		t.Fatal("expected non-zero gap for below-window packet")
	}
}

func TestNeverReportsSameNumberNewTwice(t *testing.T) {
	w := New(128)
	for _, pn := range []uint64{1, 2, 3, 50, 49, 2, 3, 100} {
		isNew, _ := w.Check(pn)
		if isNew {
			w.Accept(pn)
		}
	}
	for _, pn := range []uint64{1, 2, 3, 49, 50, 100} {
		isNew, _ := w.Check(pn)
		if isNew {
			t.Fatalf("packet %d reported new twice", pn)
		}
	}
}

func TestSlideForward(t *testing.T) {
	w := New(128)
	for i := uint64(0); i < 300; i++ {
		isNew, _ := w.Check(i)
		if !isNew {
			t.Fatalf("expected %d new on first pass", i)
		}
		w.Accept(i)
	}
	// 0 is now far below the window and must read as below-window, not duplicate.
	isNew, gap := w.Check(0)
	if isNew {
		t.Fatal("expected 0 to no longer be new")
	}
	if gap == 0 {
		t.Fatal("expected gap for long-retired packet number")
	}
}

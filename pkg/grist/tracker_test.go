package grist

import "testing"

func TestTrackerObserve(t *testing.T) {
	o := New(0)
	defer o.Release()
	tr := NewTracker(o)

	if !tr.Changed() {
		t.Error("new tracker should report a change")
	}
	if v, changed := tr.Observe(); !changed || v != 0 {
		t.Errorf("first Observe = (%d, %v), want (0, true)", v, changed)
	}
	if _, changed := tr.Observe(); changed {
		t.Error("second Observe without writes should report no change")
	}

	o.Set(1)
	o.Set(2)
	if !tr.Changed() {
		t.Error("expected Changed after writes")
	}
	if v, changed := tr.Observe(); !changed || v != 2 {
		t.Errorf("Observe = (%d, %v), want (2, true)", v, changed)
	}
	if tr.Seen() != 2 {
		t.Errorf("Seen = %d, want 2", tr.Seen())
	}

	tr.Reset()
	if _, changed := tr.Observe(); !changed {
		t.Error("Observe after Reset should report a change")
	}
}

func TestTrackerOnWeak(t *testing.T) {
	o := New(0)
	w := o.Downgrade()
	defer w.Release()
	tr := NewTracker(w)
	tr.Observe()

	o.Set(1)
	o.Release()

	if v, changed := tr.Observe(); !changed || v != 1 {
		t.Errorf("Observe = (%d, %v), want (1, true)", v, changed)
	}
}

func TestDirtyCoalesces(t *testing.T) {
	o := New(0)
	defer o.Release()

	var d Dirty
	sub := o.Subscribe(&d)
	defer sub.Unsubscribe()

	if d.Take() {
		t.Error("fresh Dirty should be clean")
	}

	for i := 0; i < 5; i++ {
		o.Set(i)
	}
	if !d.Peek() {
		t.Error("Peek should report dirty")
	}
	if !d.Take() {
		t.Error("Take should report dirty")
	}
	if d.Take() {
		t.Error("Take should clear the flag")
	}
	if d.Count() != 5 {
		t.Errorf("expected 5 notifications, got %d", d.Count())
	}
}

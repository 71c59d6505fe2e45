package grist

import (
	"errors"
	"sync"
	"testing"
)

func TestUpgradeWhileAlive(t *testing.T) {
	o := New(5, WithName("hp"))
	w := o.Downgrade()
	defer w.Release()

	if o.WeakCount() != 1 {
		t.Errorf("expected weak count 1, got %d", o.WeakCount())
	}
	if !w.Points(o) {
		t.Error("weak handle should point at o")
	}

	up, err := w.Upgrade()
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if !up.Same(o) {
		t.Error("upgraded handle should be Same as o")
	}
	if o.StrongCount() != 2 {
		t.Errorf("expected strong count 2 after upgrade, got %d", o.StrongCount())
	}

	o.Release()
	if up.Get() != 5 {
		t.Errorf("upgraded handle keeps value alive, got %d", up.Get())
	}
	up.Release()
}

func TestUpgradeAfterDrop(t *testing.T) {
	var dropped bool
	o := New(1, WithDrop(func(int) { dropped = true }))
	o.Set(2)
	w := o.Downgrade()
	defer w.Release()

	if !w.Exists() {
		t.Fatal("expected Exists while a strong handle is live")
	}

	o.Release()
	if !dropped {
		t.Fatal("weak handle must not keep the value alive")
	}
	if w.Exists() {
		t.Error("expected !Exists after last strong release")
	}

	if _, err := w.Upgrade(); !errors.Is(err, ErrDead) {
		t.Errorf("expected ErrDead, got %v", err)
	}
	if w.Version() != 1 {
		t.Errorf("expected final version 1 after drop, got %d", w.Version())
	}
}

func TestMustUpgradeDead(t *testing.T) {
	o := New(0)
	w := o.Downgrade()
	defer w.Release()
	o.Release()

	err := expectMisuse(t, CodeDeadUpgrade, func() { w.MustUpgrade() })
	if !errors.Is(err, ErrDead) {
		t.Errorf("expected MisuseError to wrap ErrDead, got %v", err.Wrapped)
	}
}

func TestWeakCloneAndRelease(t *testing.T) {
	o := New(0)
	defer o.Release()

	w1 := o.Downgrade()
	w2 := w1.Clone()
	if !w1.Same(w2) || w1.ID() != o.ID() {
		t.Error("cloned weak handle should refer to the same value")
	}
	if o.WeakCount() != 2 {
		t.Errorf("expected weak count 2, got %d", o.WeakCount())
	}

	w1.Release()
	w2.Release()
	if o.WeakCount() != 0 {
		t.Errorf("expected weak count 0, got %d", o.WeakCount())
	}

	expectMisuse(t, CodeHandleReleased, w1.Release)
	expectMisuse(t, CodeHandleReleased, func() { _, _ = w1.Upgrade() })
}

func TestUpgradeRacesLastRelease(t *testing.T) {
	for i := 0; i < 200; i++ {
		var drops int
		var mu sync.Mutex
		o := New(i, WithDrop(func(int) {
			mu.Lock()
			drops++
			mu.Unlock()
		}))
		w := o.Downgrade()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			o.Release()
		}()
		go func() {
			defer wg.Done()
			if up, err := w.Upgrade(); err == nil {
				if up.Get() != i {
					t.Errorf("upgraded to a dropped value")
				}
				up.Release()
			}
		}()
		wg.Wait()
		w.Release()

		mu.Lock()
		if drops != 1 {
			t.Fatalf("iteration %d: expected exactly one drop, got %d", i, drops)
		}
		mu.Unlock()
	}
}

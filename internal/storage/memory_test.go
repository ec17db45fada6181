package storage

import (
	"errors"
	"testing"

	"github.com/starford/minicycle/internal/apperr"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory(0)
	if got, err := m.Read("k"); err != nil || got != nil {
		t.Fatalf("Read absent = %q, %v", got, err)
	}
	raw := []byte("value")
	if err := m.Write("k", raw); err != nil {
		t.Fatal(err)
	}
	raw[0] = 'X'
	got, _ := m.Read("k")
	if string(got) != "value" {
		t.Errorf("stored value aliased caller buffer: %q", got)
	}
	if m.WriteCount("k") != 1 {
		t.Errorf("WriteCount = %d", m.WriteCount("k"))
	}
}

func TestMemoryQuota(t *testing.T) {
	m := NewMemory(4)
	if err := m.Write("a", []byte("1234")); err != nil {
		t.Fatal(err)
	}
	if err := m.Write("b", []byte("5")); !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if m.WriteCount("b") != 0 {
		t.Error("failed write must not be counted")
	}
}

func TestMemoryUnavailable(t *testing.T) {
	m := NewMemory(0)
	m.SetUnavailable(true)
	if _, err := m.Read("k"); !errors.Is(err, apperr.ErrStorageUnavailable) {
		t.Errorf("Read err = %v", err)
	}
	if err := m.Write("k", []byte("v")); !errors.Is(err, apperr.ErrStorageUnavailable) {
		t.Errorf("Write err = %v", err)
	}
	m.SetUnavailable(false)
	if err := m.Write("k", []byte("v")); err != nil {
		t.Errorf("Write after recovery: %v", err)
	}
}

func TestOverlayDoesNotTouchBase(t *testing.T) {
	base := NewMemory(0)
	_ = base.Write("keep", []byte("base"))
	_ = base.Write("drop", []byte("base"))

	o := NewOverlay(base)
	_ = o.Write("new", []byte("overlay"))
	_ = o.Write("keep", []byte("overlay"))
	_ = o.Remove("drop")

	if got, _ := o.Read("keep"); string(got) != "overlay" {
		t.Errorf("overlay read keep = %q", got)
	}
	if got, _ := o.Read("drop"); got != nil {
		t.Errorf("overlay read drop = %q", got)
	}
	if got, _ := base.Read("keep"); string(got) != "base" {
		t.Errorf("base was modified: %q", got)
	}
	if got, _ := base.Read("new"); got != nil {
		t.Error("base should not see overlay writes")
	}

	keys, _ := o.Keys()
	if len(keys) != 2 || keys[0] != "keep" || keys[1] != "new" {
		t.Errorf("overlay keys = %v", keys)
	}
	if p := o.Pending(); len(p) != 2 {
		t.Errorf("pending = %v", p)
	}
}

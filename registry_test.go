package autohands

import "testing"

type fakeHandle struct{ id string }

func (f fakeHandle) RegistryID() string { return f.id }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry[fakeHandle]()
	if err := r.Register(fakeHandle{"a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok := r.Get("a")
	if !ok {
		t.Fatal("expected to find registered handle")
	}
	if got.id != "a" {
		t.Errorf("got id %q, want %q", got.id, "a")
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry[fakeHandle]()
	if err := r.Register(fakeHandle{"a"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(fakeHandle{"a"})
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if _, ok := err.(*ErrDuplicateID); !ok {
		t.Errorf("expected *ErrDuplicateID, got %T", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry[fakeHandle]()
	r.Register(fakeHandle{"a"})
	if err := r.Unregister("a"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, ok := r.Get("a"); ok {
		t.Error("expected handle to be gone after unregister")
	}
}

func TestRegistryUnregisterNotFound(t *testing.T) {
	r := NewRegistry[fakeHandle]()
	err := r.Unregister("missing")
	if _, ok := err.(*ErrNotFound); !ok {
		t.Errorf("expected *ErrNotFound, got %v", err)
	}
}

func TestRegistryListAndLen(t *testing.T) {
	r := NewRegistry[fakeHandle]()
	r.Register(fakeHandle{"a"})
	r.Register(fakeHandle{"b"})
	r.Register(fakeHandle{"c"})

	if r.Len() != 3 {
		t.Errorf("expected len 3, got %d", r.Len())
	}
	ids := map[string]bool{}
	for _, h := range r.List() {
		ids[h.id] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !ids[want] {
			t.Errorf("expected %q in List()", want)
		}
	}
}

func TestRegistryListIDs(t *testing.T) {
	r := NewRegistry[fakeHandle]()
	r.Register(fakeHandle{"x"})
	r.Register(fakeHandle{"y"})
	ids := r.ListIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
}

func TestChannelRegistryRouteToGoneChannel(t *testing.T) {
	r := NewChannelRegistry()
	addr := &ReplyAddress{ChannelID: "nope", ConnectionID: "conn"}
	err := r.Route(nil, addr, "hi")
	if _, ok := err.(*ErrChannelGone); !ok {
		t.Errorf("expected *ErrChannelGone, got %v", err)
	}
}

func TestChannelRegistryRouteNilAddressIsNoop(t *testing.T) {
	r := NewChannelRegistry()
	if err := r.Route(nil, nil, "hi"); err != nil {
		t.Errorf("nil address should be a no-op, got %v", err)
	}
}

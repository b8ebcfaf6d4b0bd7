package models

import "testing"

func TestStatusCanAdvanceTo(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusSent, StatusDelivered}: true,
		{StatusDelivered, StatusRead}: true,
	}
	all := []Status{StatusSent, StatusDelivered, StatusRead}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := from.CanAdvanceTo(to); got != want {
				t.Fatalf("CanAdvanceTo(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusSent, StatusDelivered, StatusRead} {
		if !s.Valid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	if Status("archived").Valid() {
		t.Fatalf("unknown status should be invalid")
	}
}

func TestMessageLine(t *testing.T) {
	m := Message{Sender: "alice", Body: "hello there"}
	if got := m.Line(); got != "alice: hello there" {
		t.Fatalf("Line = %q", got)
	}
}

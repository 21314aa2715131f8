package store_test

import (
	"testing"

	"github.com/siftink/siftbox/pattern"
	"github.com/siftink/siftbox/store"
)

func TestAliasesReverseLookup(t *testing.T) {
	a := store.Aliases{"bob@example.com": "bob"}
	name, ok := a.ReverseLookup(pattern.Address{Mailbox: "Bob@Example.com"})
	if !ok || name != "bob" {
		t.Errorf("ReverseLookup = %q, %v, want bob, true", name, ok)
	}
	if _, ok := a.ReverseLookup(pattern.Address{Mailbox: "nobody@example.com"}); ok {
		t.Error("ReverseLookup of unknown address should fail")
	}
}

func TestGroupsMatch(t *testing.T) {
	g := store.Groups{
		"team": {"alice@example.com", "@corp.example.com"},
	}
	cases := []struct {
		addr string
		want bool
	}{
		{"alice@example.com", true},
		{"ALICE@example.com", true},
		{"bob@corp.example.com", true},
		{"bob@other.example.com", false},
	}
	for _, c := range cases {
		if got := g.Match("team", c.addr); got != c.want {
			t.Errorf("Match(team, %q) = %v, want %v", c.addr, got, c.want)
		}
	}
	if g.Match("nosuchgroup", "alice@example.com") {
		t.Error("Match on unknown group should be false")
	}
}

func TestListsSubscription(t *testing.T) {
	l := store.Lists{
		All:        map[string]bool{"announce@example.com": true},
		Subscribed: map[string]bool{"announce@example.com": true},
	}
	addr := pattern.Address{Mailbox: "Announce@Example.com"}
	if !l.IsMailingList(addr) {
		t.Error("IsMailingList should match case-insensitively")
	}
	if !l.IsSubscribed(addr) {
		t.Error("IsSubscribed should match case-insensitively")
	}
	other := pattern.Address{Mailbox: "other@example.com"}
	if l.IsMailingList(other) || l.IsSubscribed(other) {
		t.Error("unrelated address should not match")
	}
}

func TestDefaultHeaderLists(t *testing.T) {
	lists := store.DefaultHeaderLists()
	if len(lists.Ignore) == 0 {
		t.Fatal("DefaultHeaderLists: Ignore is empty")
	}
	found := false
	for _, p := range lists.UnIgnore {
		if p == "Subject:" {
			found = true
		}
	}
	if !found {
		t.Error("Subject: should be in the default UnIgnore list")
	}
}

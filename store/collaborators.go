package store

import (
	"strings"

	"github.com/siftink/siftbox/pattern"
)

// Aliases is a static pattern.AliasResolver keyed by lower-cased
// mailbox address, the address-book equivalent of mutt's alias file.
type Aliases map[string]string

func (a Aliases) ReverseLookup(addr pattern.Address) (string, bool) {
	name, ok := a[strings.ToLower(addr.Mailbox)]
	return name, ok
}

// Groups is a static pattern.GroupRegistry: group name to member
// addresses or domains, matched the way mutt's address groups do
// (exact mailbox match, or a "@domain" entry matching any mailbox at
// that domain).
type Groups map[string][]string

func (g Groups) Match(group, s string) bool {
	members, ok := g[group]
	if !ok {
		return false
	}
	s = strings.ToLower(s)
	for _, m := range members {
		m = strings.ToLower(m)
		if strings.HasPrefix(m, "@") {
			if strings.HasSuffix(s, m) {
				return true
			}
			continue
		}
		if m == s {
			return true
		}
	}
	return false
}

// Lists is a static pattern.ListRegistry distinguishing mailing lists
// the user is merely aware of from ones actively subscribed to,
// mirroring mutt's lists/subscribe muttrc commands.
type Lists struct {
	All        map[string]bool
	Subscribed map[string]bool
}

func (l Lists) IsMailingList(addr pattern.Address) bool {
	return l.All[strings.ToLower(addr.Mailbox)]
}

func (l Lists) IsSubscribed(addr pattern.Address) bool {
	return l.Subscribed[strings.ToLower(addr.Mailbox)]
}

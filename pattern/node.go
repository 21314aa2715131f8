package pattern

import (
	"regexp"
	"time"
)

// Sentinel marks an unbounded upper range bound (spec.md §3: "max ==
// SENTINEL means unbounded"), mirroring original_source/pattern.c's
// MUTT_MAXRANGE.
const Sentinel int64 = -1

// Node is one compiled pattern tree node. Exactly one payload field
// group is live at a time, selected by Op; spec.md §9 prefers a tagged
// union to the source's flat struct-plus-booleans, so the payload
// fields below are grouped by the op classes that use them rather than
// mirrored one-for-one from pattern_t.
type Node struct {
	Op Op

	Negate   bool // '!'
	AllAddr  bool // '^'
	IsAlias  bool // '@'
	SendMode bool
	Dynamic  bool // a date pattern whose bounds are relative to "now"

	// string/regex payload (ArgRegexp ops)
	Literal    string // raw bytes, used when Regex is nil (literal substring match, '=' operator)
	IgnoreCase bool
	Regex      *regexp.Regexp // nil when Literal substring match is used instead
	Group      string         // group reference, '%' operator

	// range payload (ArgRange ops): Min/Max are inclusive; Max == Sentinel is unbounded.
	Min, Max int64

	// date payload (ArgDate ops): absolute instants, always inclusive on both ends.
	DateMin, DateMax time.Time
	// DateSource is the original token text, kept so Dynamic nodes can
	// be re-evaluated against a new "now" at match time.
	DateSource string

	// sub-pattern payload (AND/OR/THREAD/PARENT/CHILDREN)
	Children []*Node

	// Next mirrors the source's linked sibling list. compile.go does
	// not set it: it collects AND/OR operands in a slice and stores
	// them in Children, and the evaluator reads only Children.
	Next *Node
}

// Cache holds the eight memoized tri-state slots for the four
// cacheable address-list predicates (§3, §4.C), one pair (all-addr,
// any-addr) per predicate. A nil *bool means "unset"; spec.md §9 notes
// this replaces the source's sentinel-encoded tri-state ints with a
// plain optional bool.
type Cache struct {
	listAll, listAny                   *bool
	subscribedListAll, subscribedListAny *bool
	personalRecipAll, personalRecipAny *bool
	personalFromAll, personalFromAny   *bool
}

func (c *Cache) slot(op Op, allAddr bool) **bool {
	if c == nil {
		return nil
	}
	switch op {
	case OpList:
		if allAddr {
			return &c.listAll
		}
		return &c.listAny
	case OpSubscribedList:
		if allAddr {
			return &c.subscribedListAll
		}
		return &c.subscribedListAny
	case OpPersonalRecip:
		if allAddr {
			return &c.personalRecipAll
		}
		return &c.personalRecipAny
	case OpPersonalFrom:
		if allAddr {
			return &c.personalFromAll
		}
		return &c.personalFromAny
	default:
		return nil
	}
}

// get returns (value, found).
func (c *Cache) get(op Op, allAddr bool) (bool, bool) {
	s := c.slot(op, allAddr)
	if s == nil || *s == nil {
		return false, false
	}
	return **s, true
}

func (c *Cache) set(op Op, allAddr, value bool) {
	s := c.slot(op, allAddr)
	if s == nil {
		return
	}
	v := value
	*s = &v
}

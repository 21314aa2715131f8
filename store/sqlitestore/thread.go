package sqlitestore

import (
	"sort"

	"github.com/siftink/siftbox/pattern"
)

// threadNode is a pattern.ThreadNode backed by the first-child/
// next-sibling shape pattern.Eval's thread walk expects. The index is
// built from the References/In-Reply-To headers of every message in
// the store on the first Store.Open after the store is opened or
// InvalidateThreads runs, and reused by later Open calls. Parent
// resolution mirrors the
// IMAP THREAD=REFERENCES algorithm: In-Reply-To first, then the last
// resolvable entry of References.
type threadNode struct {
	msg      *pattern.Message
	parent   *threadNode
	child    *threadNode
	next     *threadNode
	prev     *threadNode
	msgIDDup bool
}

func (t *threadNode) Parent() pattern.ThreadNode {
	if t.parent == nil {
		return nil
	}
	return t.parent
}
func (t *threadNode) Child() pattern.ThreadNode {
	if t.child == nil {
		return nil
	}
	return t.child
}
func (t *threadNode) Next() pattern.ThreadNode {
	if t.next == nil {
		return nil
	}
	return t.next
}
func (t *threadNode) Prev() pattern.ThreadNode {
	if t.prev == nil {
		return nil
	}
	return t.prev
}
func (t *threadNode) Message() pattern.Message   { return *t.msg }
func (t *threadNode) DuplicateThread() bool      { return t.msgIDDup }

// buildThreads links msgs into threadNode trees and returns, for each
// message, the node representing it (in the same order as msgs).
func buildThreads(msgs []*pattern.Message) []*threadNode {
	nodes := make([]*threadNode, len(msgs))
	byMsgID := make(map[string]*threadNode, len(msgs))

	for i, m := range msgs {
		n := &threadNode{msg: m}
		nodes[i] = n
		if m.MessageID == "" {
			continue
		}
		if _, dup := byMsgID[m.MessageID]; dup {
			n.msgIDDup = true
			continue
		}
		byMsgID[m.MessageID] = n
	}

	childrenOf := make(map[*threadNode][]*threadNode)
	var roots []*threadNode

	for i, m := range msgs {
		n := nodes[i]
		var parent *threadNode

		for _, id := range m.InReplyTo {
			if p, ok := byMsgID[id]; ok && p != n {
				parent = p
				break
			}
		}
		if parent == nil {
			for j := len(m.References) - 1; j >= 0; j-- {
				if p, ok := byMsgID[m.References[j]]; ok && p != n {
					parent = p
					break
				}
			}
		}

		if parent != nil {
			n.parent = parent
			childrenOf[parent] = append(childrenOf[parent], n)
		} else {
			roots = append(roots, n)
		}
	}

	linkSiblings := func(siblings []*threadNode) {
		sort.Slice(siblings, func(i, j int) bool {
			return siblings[i].msg.DateSent.Before(siblings[j].msg.DateSent)
		})
		for i, s := range siblings {
			if i > 0 {
				s.prev = siblings[i-1]
			}
			if i+1 < len(siblings) {
				s.next = siblings[i+1]
			}
		}
	}

	linkSiblings(roots)
	for parent, kids := range childrenOf {
		linkSiblings(kids)
		parent.child = kids[0]
	}

	return nodes
}

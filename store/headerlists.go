// Package store provides the ambient configuration and sqlite-backed
// message store (store/sqlitestore) that sit behind the pattern
// package's collaborator interfaces.
package store

import "github.com/siftink/siftbox/pattern/copier"

// DefaultIgnore is the default Ignore prefix list used by CopyHeader's
// weeding step: headers a mail reader has no use for once a message
// has been copied out of the store. Grounded on mutt's default
// ignore/unignore set (original_source/init.h's reference.c
// DefaultUnIgnoreList and the common muttrc idiom of "ignore *" plus a
// short unignore list).
var DefaultIgnore = []string{"*"}

// DefaultUnIgnore lists the headers kept even though DefaultIgnore
// weeds everything.
var DefaultUnIgnore = []string{
	"From:", "Date:", "To:", "Cc:", "Subject:",
	"Message-ID:", "In-Reply-To:", "References:",
	"X-Label:", "MIME-Version:", "Content-Type:",
	"Content-Transfer-Encoding:", "Content-Length:",
}

// DefaultHeaderOrder is the default display order CopyHeader's
// reorder step sorts by.
var DefaultHeaderOrder = []string{
	"Date:", "From:", "To:", "Cc:", "Subject:",
	"Message-ID:", "In-Reply-To:", "References:", "X-Label:",
}

// DefaultHeaderLists bundles the three lists above into the shape
// pattern/copier.CopyOptions expects.
func DefaultHeaderLists() copier.HeaderLists {
	return copier.HeaderLists{
		Ignore:      DefaultIgnore,
		UnIgnore:    DefaultUnIgnore,
		HeaderOrder: DefaultHeaderOrder,
	}
}

package pattern

import (
	"io"
	"time"
)

// Address is an address-list entry as seen by the pattern language;
// shaped like email.Address but kept local so this package has no
// compile-time dependency on the message model, matching the way
// imap/imapparser/search.go's MatchMessage interface keeps the search
// tree decoupled from any concrete header type.
type Address struct {
	Mailbox  string
	Personal string
}

// Security holds the crypto status bits the 'g'/'G'/'k'/'V' ops read.
type Security uint8

const (
	SecuritySign Security = 1 << iota
	SecurityGoodSign
	SecurityEncrypt
	SecurityPGPKey
)

// MIMENode is one node of a message's parsed MIME tree (§3 "Body").
// Parts is the first child, Next the next sibling, mirroring the
// source's BODY struct.
type MIMENode struct {
	Type, Subtype string
	Charset       string // non-empty for text/* parts whose body isn't already UTF-8
	Filename      string
	Offset        int64 // first content byte
	HdrOffset     int64 // first header byte
	Length        int64
	Deleted       bool
	Parts         *MIMENode
	Next          *MIMENode
}

// ContentType returns the canonical "type/subtype" string matched by
// the MIMETYPE op.
func (m *MIMENode) ContentType() string {
	if m == nil {
		return ""
	}
	return m.Type + "/" + m.Subtype
}

// ThreadNode is one node of the reply-relationship DAG (§3 "Thread").
type ThreadNode interface {
	Parent() ThreadNode
	Child() ThreadNode
	Next() ThreadNode
	Prev() ThreadNode
	Message() Message
	DuplicateThread() bool
}

// Message is the header record the evaluator reads (§3 "Message
// view"). Collaborator-owned; the pattern package never mutates it.
type Message struct {
	MsgNo int

	From       []Address
	Sender     []Address
	To         []Address
	CC         []Address
	Subject    string
	MessageID  string
	References []string
	InReplyTo  []string
	XLabel     string
	SpamTag    string

	Read       bool
	Old        bool
	Replied    bool
	Flagged    bool
	Deleted    bool
	Tagged     bool
	Expired    bool
	Superseded bool
	Collapsed  bool
	NumHidden  int

	Score int64
	Size  int64

	DateSent     time.Time
	DateReceived time.Time

	Body     *MIMENode
	Thread   ThreadNode
	Security Security

	// Matched is set by a folder driver capable of server-side search
	// (e.g. IMAP) ahead of evaluation; the BODY/WHOLE_MSG/HEADER ops
	// read it instead of invoking the scanner when it is non-nil and
	// the node is a literal-substring match (no regex, no group).
	Matched *bool

	// Offset, ContentOffset, ContentLength locate the header's bytes
	// in the underlying message file, consumed by pattern/scan and
	// pattern/copier.
	Offset        int64
	ContentOffset int64
	ContentLength int64
}

// MessageFile is an opened message, positioned for reading raw bytes.
type MessageFile interface {
	io.ReadSeeker
	io.Closer
	Header() *Message
}

// MessageStore is the "message store" collaborator (§6): it opens
// messages by number and reports how many messages it holds.
type MessageStore interface {
	Open(msgno int, headersOnly bool) (MessageFile, error)
	Count() int
}

// AliasResolver is the "address alias resolver" collaborator.
type AliasResolver interface {
	ReverseLookup(addr Address) (alias string, ok bool)
}

// GroupRegistry is the "group registry" collaborator ('%' operator).
type GroupRegistry interface {
	Match(group, s string) bool
}

// ListRegistry answers the 'l'/'u' mailing-list ops; not named
// explicitly in spec.md §6's bullet list but implied by the "list /
// subscribed-list" tag-table row, so it's split out as its own small
// contract rather than folded into AliasResolver.
type ListRegistry interface {
	IsMailingList(addr Address) bool
	IsSubscribed(addr Address) bool
}

// Interrupted is the "interrupt flag" collaborator: a process-wide
// atomic the sweep driver polls between messages (§5).
type Interrupted func() bool

// EvalContext bundles every collaborator the evaluator and scanner
// need, plus the flags that change their behavior (send-mode,
// full-address matching, thorough scanning).
type EvalContext struct {
	Store   MessageStore
	Aliases AliasResolver
	Groups  GroupRegistry
	Lists   ListRegistry
	Scanner Scanner

	IsUserAddress func(Address) bool

	CryptoAvailable bool
	FullAddress     bool // MUTT_MATCH_FULL_ADDRESS: personal-name matching allowed
	SendMode        bool
	Thorough        bool

	// Now returns the evaluator's notion of the current time, used to
	// recompute Dynamic date nodes. Defaults to time.Now via NewContext.
	Now func() time.Time

	Logf func(format string, v ...interface{})
}

// NewContext returns an EvalContext with Now and Logf defaulted.
func NewContext(store MessageStore) *EvalContext {
	return &EvalContext{
		Store: store,
		Now:   time.Now,
		Logf:  func(string, ...interface{}) {},
	}
}

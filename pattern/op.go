package pattern

// Op identifies a pattern node's operation. The closed set mirrors the
// tag table in the external grammar: one Op per letter (or letter pair
// for the flag ops that share a tag class).
type Op int

const (
	OpAll Op = iota
	OpAnd
	OpOr

	OpBody
	OpWholeMsg
	OpCC
	OpRecipient
	OpDate
	OpDeleted
	OpSender
	OpExpired
	OpFrom
	OpFlag
	OpCryptoSign
	OpCryptoGoodSign
	OpCryptoEncrypt
	OpCryptoPGPKey
	OpHeader
	OpHormel
	OpID
	OpList
	OpSubscribedList
	OpAddress
	OpMessage
	OpMimeType
	OpScore
	OpNew
	OpOld
	OpRead
	OpUnread
	OpPersonalRecip
	OpPersonalFrom
	OpReplied
	OpDateReceived
	OpSubject
	OpSuperseded
	OpTo
	OpTag
	OpCollapsed
	OpReference
	OpMimeAttach
	OpXLabel
	OpSize
	OpDuplicated
	OpUnreferenced

	OpThread
	OpParent
	OpChildren
)

// ArgKind identifies which argument eater (§4.A) a tag's tail is parsed
// with, or that the tag takes no argument at all.
type ArgKind int

const (
	ArgNone ArgKind = iota
	ArgRegexp
	ArgRange
	ArgDate
	ArgSubPattern // thread navigators: '(', '<(', '>('
)

// ClassMask restricts which evaluation contexts an op may appear in.
// The original groups ops by MUTT_FULL_MSG (requires body access) and
// MUTT_SEND_MODE_SEARCH (body/header ops usable against a draft being
// composed); the exact bit values aren't load-bearing, only the two
// distinctions spec.md §4.B calls out.
type ClassMask uint8

const (
	ClassFullMessage ClassMask = 1 << iota
	ClassSendModeSearch
)

// opInfo describes one entry of the tag table.
type opInfo struct {
	op    Op
	class ClassMask
	arg   ArgKind
}

// tagTable is the closed operator table from spec.md §6, ported from
// original_source/pattern.c's Flags[]. Tags g/G/k/V share the "crypto"
// arg kind (none) but differ in Op.
var tagTable = map[byte]opInfo{
	'A': {OpAll, 0, ArgNone},
	'b': {OpBody, ClassFullMessage | ClassSendModeSearch, ArgRegexp},
	'B': {OpWholeMsg, ClassFullMessage | ClassSendModeSearch, ArgRegexp},
	'c': {OpCC, 0, ArgRegexp},
	'C': {OpRecipient, 0, ArgRegexp},
	'd': {OpDate, 0, ArgDate},
	'D': {OpDeleted, 0, ArgNone},
	'e': {OpSender, 0, ArgRegexp},
	'E': {OpExpired, 0, ArgNone},
	'f': {OpFrom, 0, ArgRegexp},
	'F': {OpFlag, 0, ArgNone},
	'g': {OpCryptoSign, 0, ArgNone},
	'G': {OpCryptoEncrypt, 0, ArgNone},
	'h': {OpHeader, ClassFullMessage | ClassSendModeSearch, ArgRegexp},
	'H': {OpHormel, 0, ArgRegexp},
	'i': {OpID, 0, ArgRegexp},
	'k': {OpCryptoPGPKey, 0, ArgNone},
	'l': {OpList, 0, ArgNone},
	'L': {OpAddress, 0, ArgRegexp},
	'm': {OpMessage, 0, ArgRange},
	'M': {OpMimeType, ClassFullMessage, ArgRegexp},
	'n': {OpScore, 0, ArgRange},
	'N': {OpNew, 0, ArgNone},
	'O': {OpOld, 0, ArgNone},
	'p': {OpPersonalRecip, 0, ArgNone},
	'P': {OpPersonalFrom, 0, ArgNone},
	'Q': {OpReplied, 0, ArgNone},
	'r': {OpDateReceived, 0, ArgDate},
	'R': {OpRead, 0, ArgNone},
	's': {OpSubject, 0, ArgRegexp},
	'S': {OpSuperseded, 0, ArgNone},
	't': {OpTo, 0, ArgRegexp},
	'T': {OpTag, 0, ArgNone},
	'u': {OpSubscribedList, 0, ArgNone},
	'U': {OpUnread, 0, ArgNone},
	'v': {OpCollapsed, 0, ArgNone},
	'V': {OpCryptoGoodSign, 0, ArgNone},
	'x': {OpReference, 0, ArgRegexp},
	'X': {OpMimeAttach, ClassFullMessage, ArgRange},
	'y': {OpXLabel, 0, ArgRegexp},
	'z': {OpSize, 0, ArgRange},
	'=': {OpDuplicated, 0, ArgNone},
	'$': {OpUnreferenced, 0, ArgNone},
}

func (o Op) String() string {
	switch o {
	case OpAll:
		return "ALL"
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpBody:
		return "BODY"
	case OpWholeMsg:
		return "WHOLE_MSG"
	case OpCC:
		return "CC"
	case OpRecipient:
		return "RECIPIENT"
	case OpDate:
		return "DATE"
	case OpDeleted:
		return "DELETED"
	case OpSender:
		return "SENDER"
	case OpExpired:
		return "EXPIRED"
	case OpFrom:
		return "FROM"
	case OpFlag:
		return "FLAG"
	case OpCryptoSign:
		return "CRYPTO_SIGN"
	case OpCryptoGoodSign:
		return "CRYPTO_GOODSIGN"
	case OpCryptoEncrypt:
		return "CRYPTO_ENCRYPT"
	case OpCryptoPGPKey:
		return "CRYPTO_PGPKEY"
	case OpHeader:
		return "HEADER"
	case OpHormel:
		return "HORMEL"
	case OpID:
		return "ID"
	case OpList:
		return "LIST"
	case OpSubscribedList:
		return "SUBSCRIBED_LIST"
	case OpAddress:
		return "ADDRESS"
	case OpMessage:
		return "MESSAGE"
	case OpMimeType:
		return "MIMETYPE"
	case OpScore:
		return "SCORE"
	case OpNew:
		return "NEW"
	case OpOld:
		return "OLD"
	case OpRead:
		return "READ"
	case OpUnread:
		return "UNREAD"
	case OpPersonalRecip:
		return "PERSONAL_RECIP"
	case OpPersonalFrom:
		return "PERSONAL_FROM"
	case OpReplied:
		return "REPLIED"
	case OpDateReceived:
		return "DATE_RECEIVED"
	case OpSubject:
		return "SUBJECT"
	case OpSuperseded:
		return "SUPERSEDED"
	case OpTo:
		return "TO"
	case OpTag:
		return "TAG"
	case OpCollapsed:
		return "COLLAPSED"
	case OpReference:
		return "REFERENCE"
	case OpMimeAttach:
		return "MIMEATTACH"
	case OpXLabel:
		return "XLABEL"
	case OpSize:
		return "SIZE"
	case OpDuplicated:
		return "DUPLICATED"
	case OpUnreferenced:
		return "UNREFERENCED"
	case OpThread:
		return "THREAD"
	case OpParent:
		return "PARENT"
	case OpChildren:
		return "CHILDREN"
	default:
		return "UNKNOWN"
	}
}

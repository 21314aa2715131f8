package sqlitestore

// createSQL is executed by Init against a fresh connection; every
// statement is idempotent so opening an existing store is a no-op.
const createSQL = `
PRAGMA auto_vacuum = INCREMENTAL;

-- Messages holds one row per stored message: its parsed header fields
-- (queried directly by sweep-time filters that don't need the pattern
-- evaluator, such as listing) plus the raw bytes the evaluator's
-- scanner and the attachment-deletion copier read from.
CREATE TABLE IF NOT EXISTS Messages (
	MsgNo         INTEGER PRIMARY KEY,
	MessageID     TEXT NOT NULL,
	Subject       TEXT NOT NULL,
	FromAddr      TEXT NOT NULL, -- JSON []Address
	SenderAddr    TEXT NOT NULL,
	ToAddr        TEXT NOT NULL,
	CCAddr        TEXT NOT NULL,
	RefIDs        TEXT NOT NULL, -- JSON []string, References header
	InReplyTo     TEXT NOT NULL, -- JSON []string
	XLabel        TEXT NOT NULL,
	SpamTag       TEXT NOT NULL,

	Read          BOOLEAN NOT NULL,
	Old           BOOLEAN NOT NULL,
	Replied       BOOLEAN NOT NULL,
	Flagged       BOOLEAN NOT NULL,
	Deleted       BOOLEAN NOT NULL,
	Tagged        BOOLEAN NOT NULL,
	Expired       BOOLEAN NOT NULL,
	Superseded    BOOLEAN NOT NULL,

	Score         INTEGER NOT NULL,
	Size          INTEGER NOT NULL,
	Security      INTEGER NOT NULL,

	DateSent      INTEGER NOT NULL, -- unix seconds
	DateReceived  INTEGER NOT NULL,

	HdrOffset     INTEGER NOT NULL,
	ContentOffset INTEGER NOT NULL,
	ContentLength INTEGER NOT NULL,

	Raw           BLOB NOT NULL
);

-- MimeParts is the flattened MIME tree for a message's Body, one row
-- per node; ParentPartNo of 0 marks the implicit root's direct
-- children (the root node itself, "part 0", always exists implicitly
-- and is not stored).
CREATE TABLE IF NOT EXISTS MimeParts (
	MsgNo        INTEGER NOT NULL,
	PartNo       INTEGER NOT NULL,
	ParentPartNo INTEGER NOT NULL,
	Type         TEXT NOT NULL,
	Subtype      TEXT NOT NULL,
	Charset      TEXT NOT NULL,
	Filename     TEXT NOT NULL,
	Offset       INTEGER NOT NULL,
	HdrOffset    INTEGER NOT NULL,
	Length       INTEGER NOT NULL,
	Deleted      BOOLEAN NOT NULL,

	PRIMARY KEY (MsgNo, PartNo),
	FOREIGN KEY (MsgNo) REFERENCES Messages(MsgNo)
);

CREATE TABLE IF NOT EXISTS Mailboxes (
	Mailbox      TEXT PRIMARY KEY,
	PassHash     TEXT NOT NULL
);
`

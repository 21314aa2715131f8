// Package sqlitestore is a pattern.MessageStore backed by a single
// sqlite database: one row per message in Messages, with its MIME
// tree flattened into MimeParts and its raw bytes held in a BLOB
// column. Grounded on spilldb/spillbox/spillbox.go's mailbox storage
// and spilldb/db/db.go's Open/Init/LoadMsg.
package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/siftink/siftbox/pattern"
)

// Store is a pattern.MessageStore backed by a sqlite file, plus the
// in-memory thread index built from it and the message-insertion and
// mailbox-credential helpers that write to the same file.
type Store struct {
	pool  *sqlitex.Pool
	filer *iox.Filer
	Logf  func(format string, v ...interface{})

	mu      sync.Mutex
	threads map[int]*threadNode // MsgNo -> node, rebuilt lazily
}

// Open opens (creating if necessary) the sqlite file at dbfile and
// returns a Store using filer to stage any temp files its collaborators
// need (e.g. pattern/scan.TextScanner's thorough mode).
func Open(dbfile string, filer *iox.Filer) (*Store, error) {
	conn, err := sqlite.OpenConn(dbfile, 0)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore.Open: init open: %v", err)
	}
	if err := Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore.Open: init: %v", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("sqlitestore.Open: init close: %v", err)
	}
	pool, err := sqlitex.Open(dbfile, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore.Open: pool: %v", err)
	}
	return &Store{
		pool:  pool,
		filer: filer,
		Logf:  func(string, ...interface{}) {},
	}, nil
}

func Init(conn *sqlite.Conn) error {
	if err := sqlitex.ExecTransient(conn, "PRAGMA journal_mode=WAL;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// Exec runs a single DML statement with named parameters, binding
// int64, string, []byte and bool values. It exists for the small
// number of write paths (message ingestion, mailbox provisioning,
// test fixtures) that don't warrant their own named function.
func (s *Store) Exec(query string, args map[string]interface{}) error {
	conn := s.pool.Get(context.Background())
	if conn == nil {
		return context.Canceled
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(query)
	defer stmt.Reset()
	for name, v := range args {
		switch val := v.(type) {
		case int64:
			stmt.SetInt64(name, val)
		case int:
			stmt.SetInt64(name, int64(val))
		case string:
			stmt.SetText(name, val)
		case []byte:
			stmt.SetBytes(name, val)
		case bool:
			b := int64(0)
			if val {
				b = 1
			}
			stmt.SetInt64(name, b)
		default:
			return fmt.Errorf("sqlitestore: Exec: unsupported bind type %T for %s", v, name)
		}
	}
	_, err := stmt.Step()
	return err
}

// Count implements pattern.MessageStore.
func (s *Store) Count() int {
	conn := s.pool.Get(context.Background())
	if conn == nil {
		return 0
	}
	defer s.pool.Put(conn)
	n, err := sqlitex.ResultInt(conn.Prep("SELECT count(*) FROM Messages;"))
	if err != nil {
		return 0
	}
	return n
}

// messageFile implements pattern.MessageFile over a staged copy of
// one message's bytes.
type messageFile struct {
	buf *iox.BufferFile
	hdr *pattern.Message
}

func (m *messageFile) Read(p []byte) (int, error)               { return m.buf.Read(p) }
func (m *messageFile) Seek(off int64, whence int) (int64, error) { return m.buf.Seek(off, whence) }
func (m *messageFile) Close() error                              { return m.buf.Close() }
func (m *messageFile) Header() *pattern.Message                  { return m.hdr }

// Open implements pattern.MessageStore. headersOnly stages only the
// header section of the message (up to ContentOffset), sufficient for
// ops that never reach into the scanner.
func (s *Store) Open(msgno int, headersOnly bool) (pattern.MessageFile, error) {
	conn := s.pool.Get(context.Background())
	if conn == nil {
		return nil, context.Canceled
	}
	defer s.pool.Put(conn)

	hdr, err := s.loadHeader(conn, msgno)
	if err != nil {
		return nil, err
	}

	blob, err := conn.OpenBlob("", "Messages", "Raw", int64(msgno), false)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open blob for msgno %d: %v", msgno, err)
	}
	defer blob.Close()

	buf := s.filer.BufferFile(0)
	var src io.Reader = blob
	if headersOnly {
		src = io.LimitReader(blob, hdr.ContentOffset)
	}
	if _, err := io.Copy(buf, src); err != nil {
		buf.Close()
		return nil, err
	}
	if _, err := buf.Seek(0, io.SeekStart); err != nil {
		buf.Close()
		return nil, err
	}

	return &messageFile{buf: buf, hdr: hdr}, nil
}

type jsonAddrs []pattern.Address

func (s *Store) loadHeader(conn *sqlite.Conn, msgno int) (*pattern.Message, error) {
	stmt := conn.Prep(`SELECT MessageID, Subject, FromAddr, SenderAddr, ToAddr, CCAddr,
		RefIDs, InReplyTo, XLabel, SpamTag, Read, Old, Replied, Flagged, Deleted,
		Tagged, Expired, Superseded, Score, Size, Security, DateSent, DateReceived,
		HdrOffset, ContentOffset, ContentLength
		FROM Messages WHERE MsgNo = $msgno;`)
	stmt.SetInt64("$msgno", int64(msgno))
	defer stmt.Reset()

	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		return nil, fmt.Errorf("sqlitestore: no message %d", msgno)
	}

	msg := &pattern.Message{MsgNo: msgno}
	msg.MessageID = stmt.GetText("MessageID")
	msg.Subject = stmt.GetText("Subject")
	msg.From = decodeAddrs(stmt.GetText("FromAddr"))
	msg.Sender = decodeAddrs(stmt.GetText("SenderAddr"))
	msg.To = decodeAddrs(stmt.GetText("ToAddr"))
	msg.CC = decodeAddrs(stmt.GetText("CCAddr"))
	msg.References = decodeStrings(stmt.GetText("RefIDs"))
	msg.InReplyTo = decodeStrings(stmt.GetText("InReplyTo"))
	msg.XLabel = stmt.GetText("XLabel")
	msg.SpamTag = stmt.GetText("SpamTag")
	msg.Read = stmt.GetInt64("Read") != 0
	msg.Old = stmt.GetInt64("Old") != 0
	msg.Replied = stmt.GetInt64("Replied") != 0
	msg.Flagged = stmt.GetInt64("Flagged") != 0
	msg.Deleted = stmt.GetInt64("Deleted") != 0
	msg.Tagged = stmt.GetInt64("Tagged") != 0
	msg.Expired = stmt.GetInt64("Expired") != 0
	msg.Superseded = stmt.GetInt64("Superseded") != 0
	msg.Score = stmt.GetInt64("Score")
	msg.Size = stmt.GetInt64("Size")
	msg.Security = pattern.Security(stmt.GetInt64("Security"))
	msg.DateSent = time.Unix(stmt.GetInt64("DateSent"), 0).UTC()
	msg.DateReceived = time.Unix(stmt.GetInt64("DateReceived"), 0).UTC()
	msg.Offset = stmt.GetInt64("HdrOffset")
	msg.ContentOffset = stmt.GetInt64("ContentOffset")
	msg.ContentLength = stmt.GetInt64("ContentLength")

	body, err := s.loadMIMETree(conn, msgno)
	if err != nil {
		return nil, err
	}
	msg.Body = body

	if t := s.threadFor(conn, msgno); t != nil {
		msg.Thread = t
	}

	return msg, nil
}

func decodeAddrs(raw string) []pattern.Address {
	if raw == "" {
		return nil
	}
	var addrs []pattern.Address
	if err := json.Unmarshal([]byte(raw), &addrs); err != nil {
		return nil
	}
	return addrs
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil
	}
	return ss
}

type mimeRow struct {
	partNo, parentNo                    int64
	typ, subtype, charset, filename     string
	offset, hdrOffset, length           int64
	deleted                             bool
}

func (s *Store) loadMIMETree(conn *sqlite.Conn, msgno int) (*pattern.MIMENode, error) {
	stmt := conn.Prep(`SELECT PartNo, ParentPartNo, Type, Subtype, Charset, Filename,
		Offset, HdrOffset, Length, Deleted FROM MimeParts
		WHERE MsgNo = $msgno ORDER BY ParentPartNo, PartNo;`)
	stmt.SetInt64("$msgno", int64(msgno))
	defer stmt.Reset()

	var rows []mimeRow
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		rows = append(rows, mimeRow{
			partNo:    stmt.GetInt64("PartNo"),
			parentNo:  stmt.GetInt64("ParentPartNo"),
			typ:       stmt.GetText("Type"),
			subtype:   stmt.GetText("Subtype"),
			charset:   stmt.GetText("Charset"),
			filename:  stmt.GetText("Filename"),
			offset:    stmt.GetInt64("Offset"),
			hdrOffset: stmt.GetInt64("HdrOffset"),
			length:    stmt.GetInt64("Length"),
			deleted:   stmt.GetInt64("Deleted") != 0,
		})
	}
	if len(rows) == 0 {
		return nil, nil
	}

	nodes := make(map[int64]*pattern.MIMENode, len(rows))
	for _, r := range rows {
		nodes[r.partNo] = &pattern.MIMENode{
			Type: r.typ, Subtype: r.subtype, Charset: r.charset,
			Filename: r.filename, Offset: r.offset, HdrOffset: r.hdrOffset,
			Length: r.length, Deleted: r.deleted,
		}
	}

	childrenOf := make(map[int64][]int64)
	for _, r := range rows {
		childrenOf[r.parentNo] = append(childrenOf[r.parentNo], r.partNo)
	}
	for parent, kids := range childrenOf {
		sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
		for i, k := range kids {
			if i+1 < len(kids) {
				nodes[k].Next = nodes[kids[i+1]]
			}
			if parent != 0 {
				nodes[parent].Parts = nodes[kids[0]]
			}
		}
	}

	root := &pattern.MIMENode{}
	if kids := childrenOf[0]; len(kids) > 0 {
		sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
		root.Parts = nodes[kids[0]]
	}
	return root, nil
}

// threadFor returns msgno's node in the store's thread index,
// rebuilding the whole index the first time it's asked for after
// the store was opened or invalidated.
func (s *Store) threadFor(conn *sqlite.Conn, msgno int) *threadNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threads == nil {
		s.threads = s.rebuildThreads(conn)
	}
	return s.threads[msgno]
}

// InvalidateThreads forces the next Open call to rebuild the thread
// index, used after inserting or deleting messages.
func (s *Store) InvalidateThreads() {
	s.mu.Lock()
	s.threads = nil
	s.mu.Unlock()
}

func (s *Store) rebuildThreads(conn *sqlite.Conn) map[int]*threadNode {
	stmt := conn.Prep(`SELECT MsgNo, MessageID, RefIDs, InReplyTo, DateSent FROM Messages ORDER BY MsgNo;`)
	defer stmt.Reset()

	var msgnos []int
	var msgs []*pattern.Message
	for {
		hasRow, err := stmt.Step()
		if err != nil || !hasRow {
			break
		}
		msgnos = append(msgnos, int(stmt.GetInt64("MsgNo")))
		msgs = append(msgs, &pattern.Message{
			MessageID:  stmt.GetText("MessageID"),
			References: decodeStrings(stmt.GetText("RefIDs")),
			InReplyTo:  decodeStrings(stmt.GetText("InReplyTo")),
			DateSent:   time.Unix(stmt.GetInt64("DateSent"), 0).UTC(),
		})
	}

	nodes := buildThreads(msgs)
	out := make(map[int]*threadNode, len(nodes))
	for i, n := range nodes {
		out[msgnos[i]] = n
	}
	return out
}

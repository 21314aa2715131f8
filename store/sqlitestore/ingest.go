package sqlitestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"crawshaw.io/sqlite/sqlitex"

	"github.com/siftink/siftbox/pattern"
	"github.com/siftink/siftbox/third_party/imf"
)

// Ingest parses raw as an RFC 5322 message and inserts it as the next
// message in the store, computing the byte offsets pattern/scan and
// pattern/copier need directly from raw (msgcleaver.Cleave re-encodes
// a message into freshly allocated part buffers, which loses the
// original byte layout those packages rely on, so header parsing
// reuses third_party/imf.Reader while the MIME byte bookkeeping is
// done against raw itself, the way original_source/copy.c's
// mutt_copy_message walks a message in place rather than through a
// decoded copy). It returns the assigned message number.
func (s *Store) Ingest(raw []byte) (int, error) {
	headerEnd := bytes.Index(raw, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return 0, fmt.Errorf("sqlitestore: Ingest: no header/body boundary found")
	}
	headerEnd += 4

	hdr, err := imf.NewReader(bufio.NewReader(bytes.NewReader(raw[:headerEnd]))).ReadMIMEHeader()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: Ingest: parse header: %v", err)
	}

	msg := &rawMessage{}
	msg.subject = string(hdr.Get("Subject"))
	msg.messageID = strings.Trim(string(hdr.Get("Message-ID")), "<>")
	msg.xlabel = string(hdr.Get("X-Label"))
	msg.from = parseAddrList(hdr.Get("From"))
	msg.sender = parseAddrList(hdr.Get("Sender"))
	msg.to = parseAddrList(hdr.Get("To"))
	msg.cc = parseAddrList(hdr.Get("CC"))
	if refs, err := imf.ParseReferences(string(hdr.Get("References"))); err == nil {
		msg.references = refs
	}
	if irt, err := imf.ParseReferences(string(hdr.Get("In-Reply-To"))); err == nil {
		msg.inReplyTo = irt
	}
	if dateStr := string(hdr.Get("Date")); dateStr != "" {
		if t, err := mail.ParseDate(dateStr); err == nil {
			msg.dateSent = t
		}
	}

	mediaType, params, err := mime.ParseMediaType(string(hdr.Get("Content-Type")))
	var parts []rawPart
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		parts = scanMultipart(raw, int64(headerEnd), params["boundary"], 0)
	} else {
		parts = []rawPart{{
			typ: firstNonEmpty(mediaType, "text"), subtype: subtypeOf(mediaType, "plain"),
			hdrOffset: 0, offset: int64(headerEnd), length: int64(len(raw) - headerEnd),
			parentPartNo: 0, partNo: 1,
		}}
	}

	return s.insertMessage(msg, raw, int64(headerEnd), int64(len(raw)-headerEnd), parts)
}

func firstNonEmpty(s, fallback string) string {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return fallback
}

func subtypeOf(s, fallback string) string {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return fallback
}

func parseAddrList(raw []byte) []pattern.Address {
	if len(raw) == 0 {
		return nil
	}
	addrs, err := imf.ParseAddressList(string(raw))
	if err != nil {
		return nil
	}
	out := make([]pattern.Address, len(addrs))
	for i, a := range addrs {
		out[i] = pattern.Address{Mailbox: a.Addr, Personal: a.Name}
	}
	return out
}

// rawMessage holds the header fields Ingest parsed, staged for
// insertMessage's column binding.
type rawMessage struct {
	subject, messageID, xlabel string
	from, sender, to, cc       []pattern.Address
	references, inReplyTo      []string
	dateSent                   time.Time
}

// rawPart is one MIME part located by byte offset within the
// message's raw bytes, mirroring the MimeParts schema's columns
// directly so insertMessage can bind it without translation.
type rawPart struct {
	partNo, parentPartNo      int
	typ, subtype, filename    string
	hdrOffset, offset, length int64
}

// scanMultipart walks a multipart body in raw starting at bodyOffset,
// splitting on "--boundary" markers the way original_source/copy.c's
// own boundary scanning does, and recurses into any child that is
// itself multipart/*. parentPartNo is this body's own PartNo (0 for
// the implicit message root).
func scanMultipart(raw []byte, bodyOffset int64, boundary string, parentPartNo int) []rawPart {
	if boundary == "" {
		return nil
	}
	delim := []byte("--" + boundary)
	body := raw[bodyOffset:]

	var starts []int64
	pos := int64(0)
	for {
		idx := bytes.Index(body[pos:], delim)
		if idx < 0 {
			break
		}
		starts = append(starts, bodyOffset+pos+int64(idx))
		pos += int64(idx) + int64(len(delim))
	}

	var parts []rawPart
	for i := 0; i+1 < len(starts); i++ {
		hdrStart := starts[i] + int64(len(delim))
		if hdrStart+2 <= int64(len(raw)) && raw[hdrStart] == '-' && raw[hdrStart+1] == '-' {
			break // closing delimiter "--boundary--"
		}
		hdrStart += 2 // skip the CRLF after the opening delimiter line
		contentEnd := starts[i+1]
		if contentEnd >= 2 && raw[contentEnd-2] == '\r' && raw[contentEnd-1] == '\n' {
			contentEnd -= 2
		}

		rel := bytes.Index(raw[hdrStart:contentEnd], []byte("\r\n\r\n"))
		if rel < 0 {
			continue
		}
		contentStart := hdrStart + int64(rel) + 4

		partHdr, err := imf.NewReader(bufio.NewReader(bytes.NewReader(raw[hdrStart:contentStart]))).ReadMIMEHeader()
		mediaType, hparams := "text/plain", map[string]string{}
		if err == nil {
			if mt, p, mErr := mime.ParseMediaType(string(partHdr.Get("Content-Type"))); mErr == nil {
				mediaType, hparams = mt, p
			}
		}
		filename := hparams["name"]
		if _, dparams, dErr := mime.ParseMediaType(string(partHdr.Get("Content-Disposition"))); dErr == nil && dparams["filename"] != "" {
			filename = dparams["filename"]
		}

		p := rawPart{
			parentPartNo: parentPartNo,
			typ:          firstNonEmpty(mediaType, "text"),
			subtype:      subtypeOf(mediaType, "plain"),
			filename:     filename,
			hdrOffset:    hdrStart,
			offset:       contentStart,
			length:       contentEnd - contentStart,
		}
		parts = append(parts, p)

		if strings.HasPrefix(mediaType, "multipart/") {
			children := scanMultipart(raw, contentStart, hparams["boundary"], len(parts))
			parts = append(parts, children...)
		}
	}

	renumber(parts)
	return parts
}

// renumber assigns sequential PartNo values in tree order once the
// full set of parts (and their positions within parts, which double
// as provisional parent references during the recursive scan) is known.
func renumber(parts []rawPart) {
	// scanMultipart already appends children immediately after their
	// parent, in document order, so the slice index + 1 is already the
	// final, stable PartNo; ParentPartNo values recorded during the
	// scan refer to other entries' (pre-renumber) slice positions,
	// which match 1-based PartNo once shifted by one.
	for i := range parts {
		parts[i].partNo = i + 1
	}
}

func (s *Store) insertMessage(msg *rawMessage, raw []byte, contentOffset, contentLength int64, parts []rawPart) (int, error) {
	conn := s.pool.Get(context.Background())
	if conn == nil {
		return 0, context.Canceled
	}
	defer s.pool.Put(conn)

	fromJSON, _ := json.Marshal(msg.from)
	senderJSON, _ := json.Marshal(msg.sender)
	toJSON, _ := json.Marshal(msg.to)
	ccJSON, _ := json.Marshal(msg.cc)
	refJSON, _ := json.Marshal(msg.references)
	irtJSON, _ := json.Marshal(msg.inReplyTo)

	stmt := conn.Prep(`INSERT INTO Messages
		(MessageID, Subject, FromAddr, SenderAddr, ToAddr, CCAddr, RefIDs, InReplyTo,
		 XLabel, SpamTag, Read, Old, Replied, Flagged, Deleted, Tagged, Expired, Superseded,
		 Score, Size, Security, DateSent, DateReceived, HdrOffset, ContentOffset, ContentLength, Raw)
		VALUES ($mid, $subj, $from, $sender, $to, $cc, $refs, $irt,
		 $xlabel, '', 0, 0, 0, 0, 0, 0, 0, 0,
		 0, $size, 0, $datesent, $datesent, 0, $contentoffset, $contentlength, $raw);`)
	stmt.SetText("$mid", msg.messageID)
	stmt.SetText("$subj", msg.subject)
	stmt.SetText("$from", string(fromJSON))
	stmt.SetText("$sender", string(senderJSON))
	stmt.SetText("$to", string(toJSON))
	stmt.SetText("$cc", string(ccJSON))
	stmt.SetText("$refs", string(refJSON))
	stmt.SetText("$irt", string(irtJSON))
	stmt.SetText("$xlabel", msg.xlabel)
	stmt.SetInt64("$size", int64(len(raw)))
	stmt.SetInt64("$datesent", msg.dateSent.Unix())
	stmt.SetInt64("$contentoffset", contentOffset)
	stmt.SetInt64("$contentlength", contentLength)
	stmt.SetBytes("$raw", raw)
	if _, err := stmt.Step(); err != nil {
		stmt.Reset()
		return 0, fmt.Errorf("sqlitestore: Ingest: insert message: %v", err)
	}
	stmt.Reset()

	msgno, err := sqlitex.ResultInt(conn.Prep("SELECT last_insert_rowid();"))
	if err != nil {
		return 0, err
	}

	for _, p := range parts {
		pstmt := conn.Prep(`INSERT INTO MimeParts
			(MsgNo, PartNo, ParentPartNo, Type, Subtype, Charset, Filename, Offset, HdrOffset, Length, Deleted)
			VALUES ($msgno, $partno, $parentno, $type, $subtype, '', $filename, $offset, $hdroffset, $length, 0);`)
		pstmt.SetInt64("$msgno", int64(msgno))
		pstmt.SetInt64("$partno", int64(p.partNo))
		pstmt.SetInt64("$parentno", int64(p.parentPartNo))
		pstmt.SetText("$type", p.typ)
		pstmt.SetText("$subtype", p.subtype)
		pstmt.SetText("$filename", p.filename)
		pstmt.SetInt64("$offset", p.offset)
		pstmt.SetInt64("$hdroffset", p.hdrOffset)
		pstmt.SetInt64("$length", p.length)
		if _, err := pstmt.Step(); err != nil {
			pstmt.Reset()
			return int(msgno), fmt.Errorf("sqlitestore: Ingest: insert part %d: %v", p.partNo, err)
		}
		pstmt.Reset()
	}

	s.InvalidateThreads()
	return int(msgno), nil
}

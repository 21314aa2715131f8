// Package copier implements the attachment-deletion message copier
// (§4.E): it re-emits a message's bytes, rewriting the MIME subtree so
// that parts flagged deleted are replaced by a short notice. With
// UpdateLen, each surviving container's Content-Length is rewritten,
// and the new body length is returned to the caller; the byte offsets
// recorded on the message and its parts are not updated. Grounded on
// original_source/copy.c's mutt_copy_hdr/mutt_copy_header/
// copy_delete_attach.
package copier

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/siftink/siftbox/pattern"
)

// ErrNotMultipart is returned when attachment deletion is requested on
// a message whose body isn't multipart (§4.E, §9 Open Question #4: a
// correctly-maintained store should never set Deleted on a leaf of a
// non-multipart message, so this is treated as a bug-guard rather than
// a reachable, recoverable condition).
var ErrNotMultipart = errors.New("copier: deleting parts of a non-multipart message is not supported")

// HeaderLists are the collaborator-supplied ordered prefix lists that
// drive weeding and reordering (§6).
type HeaderLists struct {
	Ignore      []string
	UnIgnore    []string
	HeaderOrder []string
}

// matchesPrefix and orderSlot compare against the header name with its
// ':' restored, so list entries match whether written "Subject" or
// "Subject:".
func matchesPrefix(name string, prefixes []string) bool {
	lower := strings.ToLower(name) + ":"
	for _, p := range prefixes {
		if p == "*" {
			return true
		}
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (l HeaderLists) weeded(name string) bool {
	return matchesPrefix(name, l.Ignore) && !matchesPrefix(name, l.UnIgnore)
}

func (l HeaderLists) orderSlot(name string) int {
	lower := strings.ToLower(name) + ":"
	for i, p := range l.HeaderOrder {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return i
		}
	}
	return len(l.HeaderOrder)
}

// CopyOptions selects the header-copy transformations of §4.E.
type CopyOptions struct {
	Lists HeaderLists

	Weed      bool
	Reorder   bool
	UpdateLen bool // drop Content-Length/Lines, write Content-Length from msg.ContentLength; no Lines header is written
	Status    bool // rewrite Status/X-Status from flags
	StripMIME bool // drop Content-Type/Content-Transfer-Encoding/Mime-Version
	Decode    bool // RFC 2047-decode header values
	KeepFrom  bool // retain the leading "From " envelope line

	// ReplacementTemplate formats the one-line notice substituted for
	// a deleted part's body. %s verbs receive, in order: content
	// type, filename.
	ReplacementTemplate string
}

const defaultReplacementTemplate = "[-- Attachment %s (%s) has been deleted --]\r\n"

func (o CopyOptions) replacementTemplate() string {
	if o.ReplacementTemplate != "" {
		return o.ReplacementTemplate
	}
	return defaultReplacementTemplate
}

// headerLine is one raw, unfolded header line read from the source.
type headerLine struct {
	name string // header name, before the ':'
	raw  string // the full line(s), including any folded continuations, CRLF-terminated
}

// CopyHeader streams src's header section to dst applying weeding,
// reordering, status/length rewriting, MIME stripping and RFC 2047
// decoding per opts. keepFromLine, when opts.KeepFrom is set and it is
// non-empty, is emitted first verbatim (the mbox "From " envelope line).
func CopyHeader(dst io.Writer, src io.Reader, msg *pattern.Message, opts CopyOptions, keepFromLine string) error {
	if opts.KeepFrom && keepFromLine != "" {
		if _, err := io.WriteString(dst, keepFromLine); err != nil {
			return err
		}
	}

	lines, err := readHeaderLines(src)
	if err != nil {
		return err
	}

	var kept []headerLine
	for _, l := range lines {
		switch strings.ToLower(l.name) {
		case "status", "x-status":
			if opts.Status {
				continue
			}
		case "content-length", "lines":
			if opts.UpdateLen {
				continue
			}
		case "content-type", "content-transfer-encoding", "mime-version":
			if opts.StripMIME {
				continue
			}
		}
		if opts.Weed && opts.Lists.weeded(l.name) {
			continue
		}
		kept = append(kept, l)
	}

	if opts.Reorder {
		stableSortBySlot(kept, opts.Lists)
	}

	for _, l := range kept {
		line := l.raw
		if opts.Decode {
			line = decodeHeaderLine(line)
		}
		if _, err := io.WriteString(dst, line); err != nil {
			return err
		}
	}

	if opts.Status {
		if _, err := io.WriteString(dst, statusLine(msg)); err != nil {
			return err
		}
	}
	if opts.UpdateLen {
		if _, err := io.WriteString(dst, fmt.Sprintf("Content-Length: %d\r\n", msg.ContentLength)); err != nil {
			return err
		}
	}

	_, err = io.WriteString(dst, "\r\n")
	return err
}

func statusLine(msg *pattern.Message) string {
	var status, xstatus strings.Builder
	if msg.Read {
		status.WriteString("RO")
	} else if msg.Old {
		status.WriteByte('O')
	}
	if msg.Flagged {
		xstatus.WriteByte('F')
	}
	if msg.Replied {
		xstatus.WriteByte('A')
	}
	var b strings.Builder
	if status.Len() > 0 {
		fmt.Fprintf(&b, "Status: %s\r\n", status.String())
	}
	if xstatus.Len() > 0 {
		fmt.Fprintf(&b, "X-Status: %s\r\n", xstatus.String())
	}
	return b.String()
}

func decodeHeaderLine(line string) string {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line
	}
	name, value := line[:idx+1], line[idx+1:]
	dec := new(mime.WordDecoder)
	if d, err := dec.DecodeHeader(strings.TrimRight(value, "\r\n")); err == nil {
		return name + d + "\r\n"
	}
	return line
}

func stableSortBySlot(lines []headerLine, lists HeaderLists) {
	// insertion sort: stable, and the list is always small (dozens of headers).
	for i := 1; i < len(lines); i++ {
		cur := lines[i]
		slot := lists.orderSlot(cur.name)
		j := i - 1
		for j >= 0 && lists.orderSlot(lines[j].name) > slot {
			lines[j+1] = lines[j]
			j--
		}
		lines[j+1] = cur
	}
}

// readHeaderLines reads RFC 822 header lines from r, joining folded
// continuations into one logical line per entry (so weeding/reorder
// operate on whole entries, matching mutt_copy_hdr's array-based
// approach rather than copying byte-for-byte).
func readHeaderLines(r io.Reader) ([]headerLine, error) {
	br := bufio.NewReader(r)
	var lines []headerLine
	var cur *headerLine
	for {
		raw, err := br.ReadString('\n')
		if raw == "" && err != nil {
			break
		}
		if raw == "\r\n" || raw == "\n" {
			break // end of headers
		}
		if len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t') && cur != nil {
			cur.raw += raw
		} else {
			name := raw
			if i := strings.IndexByte(raw, ':'); i >= 0 {
				name = raw[:i]
			}
			lines = append(lines, headerLine{name: name, raw: raw})
			cur = &lines[len(lines)-1]
		}
		if err != nil {
			break
		}
	}
	return lines, nil
}

// CopyDeleteAttach implements the body half of §4.E: src must be
// positioned at the first content byte of a multipart body; root
// describes that body's immediate MIME children. Deleted children are
// replaced by a one-line notice; non-deleted container children
// recurse. The new cumulative length actually written is returned so
// the caller can update Message.ContentLength.
func CopyDeleteAttach(dst io.Writer, src io.ReadSeeker, root *pattern.MIMENode, opts CopyOptions, baseOffset int64) (int64, error) {
	if root == nil || root.Parts == nil {
		return 0, ErrNotMultipart
	}

	var written int64
	cur := baseOffset
	count := func(n int, err error) error {
		written += int64(n)
		return err
	}

	for part := root.Parts; part != nil; part = part.Next {
		if err := copyVerbatim(dst, src, cur, part.HdrOffset, count); err != nil {
			return written, err
		}
		cur = part.HdrOffset

		switch {
		case part.Parts != nil && !part.Deleted:
			hdrEnd := part.Offset
			// The new Content-Length for this container isn't known
			// until its (possibly attachment-deleted) body is fully
			// written, so the recursive body is computed into a
			// buffer first and the real length fed to copyPartHeader.
			var sub bytes.Buffer
			subWritten, err := CopyDeleteAttach(&sub, src, part, opts, hdrEnd)
			if err != nil {
				return written, err
			}
			if err := copyPartHeader(dst, src, cur, hdrEnd, opts, false, subWritten, count); err != nil {
				return written, err
			}
			n, err := dst.Write(sub.Bytes())
			written += int64(n)
			if err != nil {
				return written, err
			}
			cur = part.Offset + part.Length

		case part.Deleted:
			hdrEnd := part.Offset
			notice := fmt.Sprintf(opts.replacementTemplate(), part.ContentType(), part.Filename)
			if err := copyPartHeader(dst, src, cur, hdrEnd, opts, true, int64(len(notice)), count); err != nil {
				return written, err
			}
			n, err := io.WriteString(dst, notice)
			written += int64(n)
			if err != nil {
				return written, err
			}
			cur = part.Offset + part.Length

		default:
			hdrEnd := part.Offset + part.Length
			if err := copyVerbatim(dst, src, cur, hdrEnd, count); err != nil {
				return written, err
			}
			cur = hdrEnd
		}
	}

	if root.Length > 0 {
		// A nested container's copy ends where its own body ends.
		err := copyVerbatim(dst, src, cur, root.Offset+root.Length, count)
		return written, err
	}
	if _, err := src.Seek(cur, io.SeekStart); err != nil {
		return written, err
	}
	tail, err := io.Copy(dst, src)
	written += tail
	return written, err
}

func copyVerbatim(dst io.Writer, src io.ReadSeeker, from, to int64, count func(int, error) error) error {
	if to <= from {
		return nil
	}
	if _, err := src.Seek(from, io.SeekStart); err != nil {
		return err
	}
	n, err := io.CopyN(dst, src, to-from)
	return count(int(n), err)
}

// copyPartHeader re-emits one subpart's own header (between from and
// to in src), rewriting Content-Length to newLength and, when
// stripMIME is set, dropping Content-Type/Content-Transfer-Encoding/
// Mime-Version (the part's body is about to be replaced by a plain
// notice, so those no longer describe what follows).
func copyPartHeader(dst io.Writer, src io.ReadSeeker, from, to int64, opts CopyOptions, stripMIME bool, newLength int64, count func(int, error) error) error {
	if _, err := src.Seek(from, io.SeekStart); err != nil {
		return err
	}
	raw := make([]byte, to-from)
	if _, err := io.ReadFull(src, raw); err != nil {
		return err
	}
	lines, err := readHeaderLines(bytes.NewReader(raw))
	if err != nil {
		return err
	}

	n := 0
	write := func(s string) error {
		w, err := io.WriteString(dst, s)
		n += w
		return err
	}

	for _, l := range lines {
		switch strings.ToLower(l.name) {
		case "content-type", "content-transfer-encoding", "mime-version":
			if stripMIME {
				continue
			}
		case "content-length":
			if opts.UpdateLen {
				continue
			}
		}
		if err := write(l.raw); err != nil {
			return count(n, err)
		}
	}
	if opts.UpdateLen {
		if err := write(fmt.Sprintf("Content-Length: %d\r\n", newLength)); err != nil {
			return count(n, err)
		}
	}
	return count(n, write("\r\n"))
}

// RecomputeLengthAndLines scans body (the copier's output) and returns
// its byte length and newline count, for callers that buffer the body
// before writing the header.
func RecomputeLengthAndLines(body []byte) (length int64, lines int64) {
	length = int64(len(body))
	lines = int64(bytes.Count(body, []byte("\n")))
	return length, lines
}

var now = time.Now

package scan

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/siftink/siftbox/pattern"
)

type memFile struct {
	*bytes.Reader
	hdr *pattern.Message
}

func (m *memFile) Close() error             { return nil }
func (m *memFile) Header() *pattern.Message { return m.hdr }

func newMemFile(raw string, hdrOffset, contentOffset, contentLength int64) *memFile {
	hdr := &pattern.Message{
		Offset:        hdrOffset,
		ContentOffset: contentOffset,
		ContentLength: contentLength,
	}
	return &memFile{Reader: bytes.NewReader([]byte(raw)), hdr: hdr}
}

func TestScanRawBodyMatch(t *testing.T) {
	raw := "Subject: hi\r\n\r\nthis body has a needle in it\r\n"
	headerEnd := int64(strings.Index(raw, "\r\n\r\n") + 4)
	mf := newMemFile(raw, 0, headerEnd, int64(len(raw))-headerEnd)

	node := &pattern.Node{Op: pattern.OpBody, Literal: "needle", IgnoreCase: true}
	s := &TextScanner{}
	ok, err := s.Scan(mf, mf.Header(), false, true, node)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("body scan should find the literal in the body")
	}
}

func TestScanRawHeaderDoesNotSeeBody(t *testing.T) {
	raw := "Subject: hi\r\n\r\nneedle only in body\r\n"
	headerEnd := int64(strings.Index(raw, "\r\n\r\n") + 4)
	mf := newMemFile(raw, 0, headerEnd, int64(len(raw))-headerEnd)

	node := &pattern.Node{Op: pattern.OpHeader, Literal: "needle", IgnoreCase: true}
	s := &TextScanner{}
	ok, err := s.Scan(mf, mf.Header(), true, false, node)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("header-only scan should not see a body-only literal")
	}
}

func TestScanRawWholeMessageSeesBoth(t *testing.T) {
	raw := "Subject: needle\r\n\r\nplain body\r\n"
	headerEnd := int64(strings.Index(raw, "\r\n\r\n") + 4)
	mf := newMemFile(raw, 0, headerEnd, int64(len(raw))-headerEnd)

	node := &pattern.Node{Op: pattern.OpWholeMsg, Literal: "needle", IgnoreCase: true}
	s := &TextScanner{}
	ok, err := s.Scan(mf, mf.Header(), true, true, node)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("whole-message scan should find a header-only literal too")
	}
}

func TestScanLinesUnfoldsContinuations(t *testing.T) {
	raw := "X-Long: part one\r\n continuation\r\n\r\n"
	node := &pattern.Node{Op: pattern.OpHeader, Literal: "one continuation", IgnoreCase: true}
	ok, err := scanLines(strings.NewReader(raw), node, 1<<20, true)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("unfolded continuation should join into one matchable line")
	}
}

func TestScanLinesNoUnfoldKeepsLinesSeparate(t *testing.T) {
	raw := "X-Long: part one\r\n continuation\r\n\r\n"
	node := &pattern.Node{Op: pattern.OpBody, Literal: "one continuation", IgnoreCase: true}
	ok, err := scanLines(strings.NewReader(raw), node, 1<<20, false)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("without unfolding, the continuation should not join the prior line")
	}
}

func TestHtmlToTextStripsMarkupAndScripts(t *testing.T) {
	doc := `<html><head><style>body{color:red}</style></head>` +
		`<body><p>Hello <b>World</b></p><script>alert(1)</script></body></html>`
	got := htmlToText(strings.NewReader(doc))
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "World") {
		t.Errorf("text content missing from %q", got)
	}
	if strings.Contains(got, "alert") {
		t.Error("script contents should be dropped")
	}
	if strings.Contains(got, "color:red") {
		t.Error("style contents should be dropped")
	}
}

func TestMatchLineLiteralCaseSensitivity(t *testing.T) {
	n := &pattern.Node{Op: pattern.OpBody, Literal: "abc"}
	if !matchLine(n, "xxabcxx") {
		t.Error("literal substring should match")
	}
	if matchLine(n, "ABC") {
		t.Error("case-sensitive literal should not match differing case")
	}
}

func TestMatchLineRegex(t *testing.T) {
	node := &pattern.Node{Op: pattern.OpBody, Regex: regexp.MustCompile(`fo+`)}
	if !matchLine(node, "xfooy") {
		t.Error("regex should match")
	}
	if matchLine(node, "bar") {
		t.Error("regex should not match unrelated text")
	}
}

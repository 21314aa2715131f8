package sqlitestore_test

import (
	"io/ioutil"
	"strings"
	"testing"
)

func TestIngestPlainMessage(t *testing.T) {
	s, _ := openTestStore(t)

	raw := "From: Alice <alice@example.com>\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: hello\r\n" +
		"Message-ID: <1@example.com>\r\n" +
		"\r\n" +
		"plain body text\r\n"

	msgno, err := s.Ingest([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if msgno != 1 {
		t.Fatalf("msgno = %d, want 1", msgno)
	}
	if got, want := s.Count(), 1; got != want {
		t.Fatalf("Count() = %d, want %d", got, want)
	}

	mf, err := s.Open(msgno, false)
	if err != nil {
		t.Fatal(err)
	}
	defer mf.Close()

	hdr := mf.Header()
	if hdr.Subject != "hello" {
		t.Errorf("Subject = %q, want hello", hdr.Subject)
	}
	if hdr.MessageID != "1@example.com" {
		t.Errorf("MessageID = %q, want 1@example.com", hdr.MessageID)
	}
	if len(hdr.From) != 1 || hdr.From[0].Mailbox != "alice@example.com" || hdr.From[0].Personal != "Alice" {
		t.Errorf("From = %+v, want one Alice <alice@example.com>", hdr.From)
	}
	if len(hdr.To) != 1 || hdr.To[0].Mailbox != "bob@example.com" {
		t.Errorf("To = %+v, want bob@example.com", hdr.To)
	}

	body, err := ioutil.ReadAll(mf)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != raw {
		t.Errorf("round-tripped raw bytes differ: got %q, want %q", body, raw)
	}
}

func TestIngestMultipartLocatesParts(t *testing.T) {
	s, _ := openTestStore(t)

	raw := "From: a@x\r\n" +
		"Subject: attachment\r\n" +
		"Content-Type: multipart/mixed; boundary=xyz\r\n" +
		"\r\n" +
		"--xyz\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"hello there\r\n" +
		"--xyz\r\n" +
		"Content-Type: image/png\r\n" +
		"Content-Disposition: attachment; filename=\"pic.png\"\r\n" +
		"\r\n" +
		"PNGBYTES\r\n" +
		"--xyz--\r\n"

	msgno, err := s.Ingest([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}

	mf, err := s.Open(msgno, false)
	if err != nil {
		t.Fatal(err)
	}
	defer mf.Close()

	hdr := mf.Header()
	if hdr.Body == nil || hdr.Body.Parts == nil {
		t.Fatal("expected a multipart body tree")
	}
	p1 := hdr.Body.Parts
	if p1.ContentType() != "text/plain" {
		t.Errorf("first part type = %q, want text/plain", p1.ContentType())
	}
	p2 := p1.Next
	if p2 == nil {
		t.Fatal("expected a second part")
	}
	if p2.ContentType() != "image/png" {
		t.Errorf("second part type = %q, want image/png", p2.ContentType())
	}
	if p2.Filename != "pic.png" {
		t.Errorf("second part filename = %q, want pic.png", p2.Filename)
	}

	full, err := ioutil.ReadAll(mf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(full[p1.Offset : p1.Offset+p1.Length]); !strings.HasPrefix(got, "hello there") {
		t.Errorf("first part body offset/length wrong: got %q", got)
	}
	if got := string(full[p2.Offset : p2.Offset+p2.Length]); !strings.HasPrefix(got, "PNGBYTES") {
		t.Errorf("second part body offset/length wrong: got %q", got)
	}
}

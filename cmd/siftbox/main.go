// Command siftbox compiles a pattern (§4.B) and sweeps it against a
// sqlite-backed mailbox (§5), grounded directly on cmd/spilld/main.go's
// flag/TLS/shutdown wiring.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"crawshaw.io/iox"

	"github.com/siftink/siftbox/pattern"
	"github.com/siftink/siftbox/pattern/copier"
	"github.com/siftink/siftbox/pattern/scan"
	"github.com/siftink/siftbox/pattern/sweep"
	"github.com/siftink/siftbox/store"
	"github.com/siftink/siftbox/store/sqlitestore"
	"github.com/siftink/siftbox/util/devcert"
)

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		log.Fatal("usage: siftbox <search|tag|delete|copy|serve> [flags]")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "search":
		runSearch(args)
	case "tag":
		runMutate(args, "tag")
	case "delete":
		runMutate(args, "delete")
	case "serve":
		runServe(args)
	case "copy":
		runCopy(args)
	default:
		log.Fatalf("siftbox: unknown command %q", cmd)
	}
}

// commonFlags are shared by every subcommand that opens a store and
// compiles a pattern against it.
type commonFlags struct {
	fs       *flag.FlagSet
	dbFile   *string
	pattern  *string
	sendMode *bool
	thorough *bool
	fullAddr *bool
}

func newCommonFlags(name string) *commonFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &commonFlags{
		fs:       fs,
		dbFile:   fs.String("db", "", "sqlite mailbox file"),
		pattern:  fs.String("pattern", "", "pattern string (§4.B sigil grammar)"),
		sendMode: fs.Bool("send_mode", false, "compile as a send-mode search (body/header ops only)"),
		thorough: fs.Bool("thorough", false, "scan MIME parts thoroughly instead of raw bytes"),
		fullAddr: fs.Bool("full_address", false, "match personal names as well as mailboxes"),
	}
}

func (c *commonFlags) open(args []string) (*sqlitestore.Store, *pattern.Node) {
	c.fs.Parse(args)
	if *c.dbFile == "" {
		log.Fatal("siftbox: -db is required")
	}
	if *c.pattern == "" {
		log.Fatal("siftbox: -pattern is required")
	}

	filer := iox.NewFiler(0)
	st, err := sqlitestore.Open(*c.dbFile, filer)
	if err != nil {
		log.Fatalf("siftbox: open %s: %v", *c.dbFile, err)
	}
	st.Logf = log.Printf

	classes := pattern.ClassFullMessage
	node, err := pattern.Compile(*c.pattern, classes, *c.sendMode, nil)
	if err != nil {
		st.Close()
		log.Fatalf("siftbox: compile pattern: %v", err)
	}
	return st, node
}

func (c *commonFlags) evalContext(st *sqlitestore.Store) *pattern.EvalContext {
	ctx := pattern.NewContext(st)
	ctx.Scanner = &scan.TextScanner{Filer: iox.NewFiler(0), Thorough: *c.thorough, Logf: log.Printf}
	ctx.Aliases = store.Aliases{}
	ctx.Groups = store.Groups{}
	ctx.Lists = store.Lists{All: map[string]bool{}, Subscribed: map[string]bool{}}
	ctx.FullAddress = *c.fullAddr
	ctx.SendMode = *c.sendMode
	ctx.Thorough = *c.thorough
	ctx.Logf = log.Printf
	return ctx
}

// runSearch compiles -pattern and sweeps -db once, printing every
// matching message number to stdout.
func runSearch(args []string) {
	cf := newCommonFlags("search")
	st, node := cf.open(args)
	defer st.Close()

	sw := &sweep.Sweep{
		Pattern: node,
		Context: cf.evalContext(st),
		Logf:    log.Printf,
	}
	results, err := sw.Run()
	if err != nil && err != sweep.ErrInterrupted {
		log.Fatalf("siftbox: sweep: %v", err)
	}
	for _, r := range results {
		if r.Matched {
			fmt.Println(r.MsgNo)
		}
	}
}

// runMutate sweeps -db and, for every match, tags or deletes the
// message by rewriting its flag column directly (the pattern language
// itself has no side effects, per spec.md §5).
func runMutate(args []string, verb string) {
	cf := newCommonFlags(verb)
	st, node := cf.open(args)
	defer st.Close()

	column := "Tagged"
	if verb == "delete" {
		column = "Deleted"
	}

	sw := &sweep.Sweep{
		Pattern: node,
		Context: cf.evalContext(st),
		Logf:    log.Printf,
		Action: func(msgno int, msg *pattern.Message) error {
			query := fmt.Sprintf("UPDATE Messages SET %s = 1 WHERE MsgNo = $msgno;", column)
			return st.Exec(query, map[string]interface{}{"msgno": int64(msgno)})
		},
	}
	results, err := sw.Run()
	if err != nil && err != sweep.ErrInterrupted {
		log.Fatalf("siftbox: sweep: %v", err)
	}
	if column == "Deleted" {
		st.InvalidateThreads()
	}

	n := 0
	for _, r := range results {
		if r.Matched {
			n++
		}
	}
	log.Printf("siftbox: %sd %d of %d messages", verb, n, len(results))
}

// runCopy sweeps -db for -pattern and, for each match, re-emits the
// message through pattern/copier.CopyHeader/CopyDeleteAttach to stdout
// (or -out, one file per message named by MsgNo), exercising the
// weed/reorder/status/update_len/strip_mime/decode header-copy options
// and the ignore/un-ignore/header-order lists §3 calls out as CLI
// configuration, defaulting to store.DefaultHeaderLists() when the
// corresponding flag is left empty.
func runCopy(args []string) {
	fs := flag.NewFlagSet("copy", flag.ExitOnError)
	dbFile := fs.String("db", "", "sqlite mailbox file")
	patternStr := fs.String("pattern", "all", "pattern string selecting which messages to copy")
	out := fs.String("out", "", "directory to write copied messages into (one file per MsgNo); default stdout")
	ignore := fs.String("ignore", "", "comma-separated header-name prefixes to weed (default: built-in ignore-everything list)")
	unignore := fs.String("unignore", "", "comma-separated header-name prefixes exempted from -ignore")
	headerOrder := fs.String("header_order", "", "comma-separated header-name prefixes giving display order")
	weed := fs.Bool("weed", true, "drop headers matched by -ignore/-unignore")
	reorder := fs.Bool("reorder", true, "sort kept headers by -header_order")
	updateLen := fs.Bool("update_len", true, "rewrite Content-Length from the copied body")
	status := fs.Bool("status", false, "rewrite Status/X-Status from the message's flags")
	stripMIME := fs.Bool("strip_mime", false, "drop Content-Type/Content-Transfer-Encoding/MIME-Version")
	decode := fs.Bool("decode", false, "RFC 2047-decode header values")
	fs.Parse(args)

	if *dbFile == "" {
		log.Fatal("siftbox copy: -db is required")
	}

	filer := iox.NewFiler(0)
	st, err := sqlitestore.Open(*dbFile, filer)
	if err != nil {
		log.Fatalf("siftbox copy: open %s: %v", *dbFile, err)
	}
	defer st.Close()
	st.Logf = log.Printf

	node, err := pattern.Compile(*patternStr, pattern.ClassFullMessage, false, nil)
	if err != nil {
		log.Fatalf("siftbox copy: compile pattern: %v", err)
	}

	lists := store.DefaultHeaderLists()
	if *ignore != "" {
		lists.Ignore = strings.Split(*ignore, ",")
	}
	if *unignore != "" {
		lists.UnIgnore = strings.Split(*unignore, ",")
	}
	if *headerOrder != "" {
		lists.HeaderOrder = strings.Split(*headerOrder, ",")
	}
	opts := copier.CopyOptions{
		Lists:     lists,
		Weed:      *weed,
		Reorder:   *reorder,
		UpdateLen: *updateLen,
		Status:    *status,
		StripMIME: *stripMIME,
		Decode:    *decode,
	}

	ctx := pattern.NewContext(st)
	ctx.Scanner = &scan.TextScanner{Filer: filer, Logf: log.Printf}
	ctx.Aliases = store.Aliases{}
	ctx.Groups = store.Groups{}
	ctx.Lists = store.Lists{All: map[string]bool{}, Subscribed: map[string]bool{}}
	ctx.Logf = log.Printf

	copied := 0
	sw := &sweep.Sweep{
		Pattern: node,
		Context: ctx,
		Logf:    log.Printf,
		Action: func(msgno int, msg *pattern.Message) error {
			return copyMessage(st, msgno, msg, opts, *out)
		},
	}
	results, err := sw.Run()
	if err != nil && err != sweep.ErrInterrupted {
		log.Fatalf("siftbox copy: sweep: %v", err)
	}
	for _, r := range results {
		if r.Matched {
			copied++
		}
	}
	log.Printf("siftbox copy: copied %d of %d messages", copied, len(results))
}

func copyMessage(st *sqlitestore.Store, msgno int, msg *pattern.Message, opts copier.CopyOptions, outDir string) error {
	mf, err := st.Open(msgno, false)
	if err != nil {
		return fmt.Errorf("open msgno %d: %v", msgno, err)
	}
	defer mf.Close()

	var dst io.Writer = os.Stdout
	if outDir != "" {
		f, err := os.Create(filepath.Join(outDir, fmt.Sprintf("%d.eml", msgno)))
		if err != nil {
			return err
		}
		defer f.Close()
		dst = f
	}

	if msg.Body != nil && msg.Body.Parts != nil {
		// The post-deletion body must be computed before the header is
		// written, so Content-Length (when opts.UpdateLen is set)
		// reflects the new body rather than the stale pre-deletion one.
		var body bytes.Buffer
		if _, err := mf.Seek(msg.ContentOffset, io.SeekStart); err != nil {
			return err
		}
		if _, err := copier.CopyDeleteAttach(&body, mf, msg.Body, opts, msg.ContentOffset); err != nil {
			return err
		}
		length, _ := copier.RecomputeLengthAndLines(body.Bytes())
		rewritten := *msg
		rewritten.ContentLength = length

		if _, err := mf.Seek(msg.Offset, io.SeekStart); err != nil {
			return err
		}
		if err := copier.CopyHeader(dst, mf, &rewritten, opts, ""); err != nil {
			return fmt.Errorf("copy header for msgno %d: %v", msgno, err)
		}
		_, err = dst.Write(body.Bytes())
		return err
	}

	if _, err := mf.Seek(msg.Offset, io.SeekStart); err != nil {
		return err
	}
	if err := copier.CopyHeader(dst, mf, msg, opts, ""); err != nil {
		return fmt.Errorf("copy header for msgno %d: %v", msgno, err)
	}
	if _, err := mf.Seek(msg.ContentOffset, io.SeekStart); err != nil {
		return err
	}
	_, err = io.Copy(dst, mf)
	return err
}

// runServe runs a long-lived sweep loop (a thin variant of search that
// re-sweeps on an interval), optionally behind TLS provisioned the
// same way cmd/spilld does: -dev substitutes util/devcert for local
// testing, otherwise -https requests a Let's Encrypt certificate via
// autocert for a small status endpoint reporting the last sweep's
// match count.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbFile := fs.String("db", "", "sqlite mailbox file")
	patternStr := fs.String("pattern", "", "pattern string (§4.B sigil grammar)")
	interval := fs.Duration("interval", time.Minute, "time between sweeps")
	httpsFlag := fs.Bool("https", false, "serve a status endpoint over autocert-provisioned TLS")
	devFlag := fs.Bool("dev", false, "development mode: use a local self-signed cert instead of autocert")
	statusAddr := fs.String("status_addr", ":8443", "address for the TLS status endpoint")
	hostname := fs.String("hostname", "", "hostname autocert should request a certificate for")
	fs.Parse(args)

	if *dbFile == "" || *patternStr == "" {
		log.Fatal("siftbox serve: -db and -pattern are required")
	}

	filer := iox.NewFiler(0)
	tempdir, err := ioutil.TempDir("", "siftbox-")
	if err != nil {
		log.Fatal(err)
	}
	filer.SetTempdir(tempdir)

	st, err := sqlitestore.Open(*dbFile, filer)
	if err != nil {
		log.Fatalf("siftbox serve: open %s: %v", *dbFile, err)
	}
	st.Logf = log.Printf

	node, err := pattern.Compile(*patternStr, pattern.ClassFullMessage, false, nil)
	if err != nil {
		log.Fatalf("siftbox serve: compile pattern: %v", err)
	}

	ctx := pattern.NewContext(st)
	ctx.Scanner = &scan.TextScanner{Filer: filer, Logf: log.Printf}
	ctx.Aliases = store.Aliases{}
	ctx.Groups = store.Groups{}
	ctx.Lists = store.Lists{All: map[string]bool{}, Subscribed: map[string]bool{}}
	ctx.Logf = log.Printf

	var lastMatched int
	var mu sync.Mutex

	if *httpsFlag {
		var tlsConfig *tls.Config
		if *devFlag {
			log.Printf("***DEVELOPMENT MODE***")
			tlsConfig, err = devcert.Config()
			if err != nil {
				log.Fatal(err)
			}
		} else {
			certManager := &autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(*hostname),
				Cache:      autocert.DirCache(filepath.Join(filepath.Dir(*dbFile), "tls_certs")),
			}
			tlsConfig = &tls.Config{GetCertificate: certManager.GetCertificate}
			go func() {
				err := http.ListenAndServe(":80", certManager.HTTPHandler(nil))
				if err != nil && err != http.ErrServerClosed {
					log.Printf("siftbox serve: acme http-01: %v", err)
				}
			}()
		}

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(w, "last sweep matched %d messages\n", lastMatched)
		})
		srv := &http.Server{TLSConfig: tlsConfig, Handler: handler, Addr: *statusAddr}
		go func() {
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				log.Printf("siftbox serve: status endpoint: %v", err)
			}
		}()
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		<-interrupt
		cancel()
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	runOnce := func() {
		sw := &sweep.Sweep{Pattern: node, Context: ctx, Logf: log.Printf}
		results, err := sw.Run()
		if err != nil && err != sweep.ErrInterrupted {
			log.Printf("siftbox serve: sweep: %v", err)
			return
		}
		n := 0
		for _, r := range results {
			if r.Matched {
				n++
			}
		}
		mu.Lock()
		lastMatched = n
		mu.Unlock()
		log.Printf("siftbox serve: swept %d messages, %d matched", len(results), n)
	}

	runOnce()
loop:
	for {
		select {
		case <-ticker.C:
			runOnce()
		case <-bgCtx.Done():
			break loop
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := filer.Shutdown(shutdownCtx); err != nil {
		log.Printf("siftbox serve: filer shutdown error: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("siftbox serve: store close error: %v", err)
	}
	log.Printf("siftbox serve: shut down")
}

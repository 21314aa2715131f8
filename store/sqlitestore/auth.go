package sqlitestore

import (
	"bytes"
	"context"
	"errors"
	"time"

	"crawshaw.io/sqlite/sqlitex"
	"golang.org/x/crypto/bcrypt"

	"github.com/siftink/siftbox/pattern"
	"github.com/siftink/siftbox/util/throttle"
)

// Authenticator checks mailbox-access credentials against the
// Mailboxes table, throttling repeated failures. Grounded on
// spilldb/db/auth.go's Authenticator.
type Authenticator struct {
	Pool     *sqlitex.Pool
	Throttle throttle.Throttle
	Logf     func(format string, v ...interface{})
	Where    string
}

// NewAuthenticator returns an Authenticator backed by s's own
// connection pool, so callers outside this package never need direct
// access to the pool to check mailbox credentials.
func (s *Store) NewAuthenticator(where string, logf func(format string, v ...interface{})) *Authenticator {
	return &Authenticator{Pool: s.pool, Logf: logf, Where: where}
}

var errAuthFailed = errors.New("sqlitestore: internal authenticator error")

// ErrBadCredentials is returned for any mailbox/password mismatch,
// without distinguishing "no such mailbox" from "wrong password".
var ErrBadCredentials = errors.New("sqlitestore: bad credentials")

func (a *Authenticator) Authenticate(ctx context.Context, remoteAddr, mailbox string, password []byte) (err error) {
	conn := a.Pool.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer a.Pool.Put(conn)

	start := time.Now()
	log := &pattern.Log{
		Where: a.Where,
		What:  "auth",
		When:  start,
		Data: map[string]interface{}{
			"remote_addr": remoteAddr,
			"mailbox":     mailbox,
		},
	}
	defer func() {
		log.Duration = time.Since(start)
		log.Err = err
		if a.Logf != nil {
			a.Logf("%s", log.String())
		}
	}()

	a.Throttle.Throttle(remoteAddr)
	a.Throttle.Throttle(mailbox)
	defer func() {
		if err != nil {
			a.Throttle.Add(remoteAddr)
			a.Throttle.Add(mailbox)
		}
	}()

	stmt := conn.Prep(`SELECT PassHash FROM Mailboxes WHERE Mailbox = $mailbox;`)
	stmt.SetText("$mailbox", mailbox)
	hasRow, stepErr := stmt.Step()
	if stepErr != nil {
		stmt.Reset()
		return errAuthFailed
	}
	if !hasRow {
		stmt.Reset()
		return ErrBadCredentials
	}
	passHash := []byte(stmt.GetText("PassHash"))
	stmt.Reset()

	if cmpErr := bcrypt.CompareHashAndPassword(passHash, password); cmpErr != nil {
		return ErrBadCredentials
	}
	return nil
}

// SetMailboxPassword hashes password with bcrypt and upserts the
// mailbox's credential row.
func (s *Store) SetMailboxPassword(mailbox string, password []byte) error {
	hash, err := bcrypt.GenerateFromPassword(bytes.TrimSpace(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	conn := s.pool.Get(context.Background())
	if conn == nil {
		return context.Canceled
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`INSERT INTO Mailboxes (Mailbox, PassHash) VALUES ($mailbox, $hash)
		ON CONFLICT(Mailbox) DO UPDATE SET PassHash = $hash;`)
	stmt.SetText("$mailbox", mailbox)
	stmt.SetText("$hash", string(hash))
	_, err = stmt.Step()
	stmt.Reset()
	return err
}

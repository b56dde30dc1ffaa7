// Package logger implements a per-ingestion in-memory log buffer.
//
// Detailed lines are buffered WHILE a file is being processed.
// ● If ingestion fails — the buffer is replayed followed by the final error.
// ● If everything is OK — the buffer is dropped and one short line is printed.
//
// Thread safety comes from a dedicated logger goroutine fed by a
// command channel; no mutexes.
package logger

import (
	"bytes"
	"log"
	"strings"
	"time"
)

// --- command types -----------------------------------------------------------

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
)

type cmd struct {
	act      action
	ingestID string
	message  string    // for Append
	filename string    // for Success
	err      error     // for FlushErr
	when     time.Time // timestamp, kept for ordering if ever needed
}

// --- public entry points (they only send to the channel) ---------------------

var ch = make(chan cmd, 128) // buffered for upload bursts

// Begin switches on buffering for ingestID.
func Begin(ingestID string) { ch <- cmd{act: actBegin, ingestID: ingestID, when: time.Now()} }

// Append adds one detailed log line to the buffer.
func Append(ingestID, msg string) {
	ch <- cmd{act: actAppend, ingestID: ingestID, message: msg, when: time.Now()}
}

// Success drops the buffer and prints a single summary line.
func Success(ingestID, filename string) {
	ch <- cmd{act: actSuccess, ingestID: ingestID, filename: filename, when: time.Now()}
}

// FlushError replays the buffered lines and prints the final error.
func FlushError(ingestID string, err error) {
	ch <- cmd{act: actFlushErr, ingestID: ingestID, err: err, when: time.Now()}
}

// --- init: start the goroutine ----------------------------------------------

func init() { go runloop() }

// --- private implementation --------------------------------------------------

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.ingestID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.ingestID]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Print(c.message) // no buffer → print immediately
			}

		case actSuccess:
			log.Printf("[%-6s][Ingest] ✔ processed %q", c.ingestID, c.filename)
			delete(buffers, c.ingestID)

		case actFlushErr:
			if b := buffers[c.ingestID]; b != nil {
				lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
				for _, ln := range lines {
					log.Print(ln)
				}
				delete(buffers, c.ingestID)
			}
			log.Printf("[%-6s][ERROR] %v", c.ingestID, c.err)
		}
	}
}

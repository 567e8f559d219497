package bridge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/asheshgoplani/termbot/internal/logging"
	"github.com/asheshgoplani/termbot/internal/termfmt"
)

// Detector decides whether a connection's pane has something new to show.
type Detector interface {
	// Detect returns the text to deliver and whether it should be delivered.
	Detect(c *Connection) (string, bool, error)
}

func newDetector(mode Mode, term Terminal, opts termfmt.Options) Detector {
	if mode == ModeStream {
		return &deltaDetector{term: term}
	}
	return &snapshotDetector{term: term, opts: opts}
}

// snapshotDetector renders the whole visible window and emits it when its
// fingerprint differs from the last rendered one.
type snapshotDetector struct {
	term Terminal
	opts termfmt.Options
}

func (d *snapshotDetector) Detect(c *Connection) (string, bool, error) {
	content, err := d.term.CaptureSnapshot(c.Pane)
	if err != nil {
		return "", false, err
	}
	window := termfmt.Window(content, d.opts)
	fp := fingerprint(window)

	c.mu.Lock()
	defer c.mu.Unlock()
	if fp == c.fingerprint {
		logging.Aggregate(logging.CompPoll, "window_unchanged")
		return "", false, nil
	}
	c.fingerprint = fp
	return window, true, nil
}

// deltaDetector returns only lines the adapter has not reported to this
// connection before. The result is raw pane text; it is formatted when
// delivered.
type deltaDetector struct {
	term Terminal
}

func (d *deltaDetector) Detect(c *Connection) (string, bool, error) {
	delta, err := d.term.Delta(c.reader, c.Pane)
	if err != nil {
		return "", false, err
	}
	// teardown may have dropped the baseline while Delta recreated it.
	if c.isClosed() {
		d.term.ClearHistory(c.reader)
		return "", false, nil
	}
	if strings.TrimSpace(termfmt.Sanitize(delta)) == "" {
		logging.Aggregate(logging.CompPoll, "delta_empty")
		return "", false, nil
	}
	return delta, true, nil
}

func fingerprint(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

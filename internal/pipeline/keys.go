package pipeline

import (
	"bytes"
	"errors"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrNotTerminal is returned when keyboard controls are requested but stdin
// is not a terminal
var ErrNotTerminal = errors.New("stdin is not a terminal")

// ctrlC arrives as a plain byte in raw mode instead of raising SIGINT
const ctrlC = 0x03

// KeyReader switches a terminal to raw mode so single key presses are
// delivered without waiting for Enter
type KeyReader struct {
	fd   int
	old  *term.State
	keys chan byte
}

// StartKeys puts in into raw mode and starts reading it. Call Restore before
// exiting or the shell is left in raw mode.
//
// onQuit runs on the reading goroutine for every q or Ctrl+C with the number
// of quit presses so far, so a quit is seen even while the frame loop is
// blocked. From the second press on the terminal is restored first.
func StartKeys(in *os.File, onQuit func(presses int)) (*KeyReader, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}

	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}

	k := &KeyReader{fd: fd, old: old, keys: make(chan byte, 16)}
	go readKeys(in, k.keys, func(presses int) {
		if presses > 1 {
			k.Restore()
		}
		if onQuit != nil {
			onQuit(presses)
		}
	})
	return k, nil
}

func isQuitKey(b byte) bool {
	return b == 'q' || b == 'Q' || b == ctrlC
}

// readKeys forwards bytes from r until it fails. Presses arriving while the
// channel is full are dropped, quit keys still reach onQuit.
func readKeys(r io.Reader, keys chan<- byte, onQuit func(presses int)) {
	defer close(keys)
	buf := make([]byte, 1)
	quits := 0
	for {
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		if n == 1 {
			if isQuitKey(buf[0]) && onQuit != nil {
				quits++
				onQuit(quits)
			}
			select {
			case keys <- buf[0]:
			default:
			}
		}
	}
}

// Keys returns the channel of key presses
func (k *KeyReader) Keys() <-chan byte {
	return k.keys
}

// Restore returns the terminal to the mode it was in before StartKeys
func (k *KeyReader) Restore() error {
	return term.Restore(k.fd, k.old)
}

// CRLFWriter translates "\n" to "\r\n". Raw mode turns off output
// post-processing, so log lines need an explicit carriage return.
type CRLFWriter struct {
	W io.Writer
}

func (c CRLFWriter) Write(p []byte) (int, error) {
	if _, err := c.W.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

package audio

import (
	"bufio"
	"context"
	"errors"
	"io"
)

// EnterStopSignal fires when a line (or EOF) is read from its input, e.g.
// the user pressing Enter on stdin.
type EnterStopSignal struct {
	lines chan error
}

// NewEnterStopSignal starts reading r. Reads cannot be interrupted, so the
// reader goroutine lives until r yields a line or fails.
func NewEnterStopSignal(r io.Reader) *EnterStopSignal {
	s := &EnterStopSignal{lines: make(chan error)}
	go func() {
		br := bufio.NewReader(r)
		for {
			_, err := br.ReadString('\n')
			if errors.Is(err, io.EOF) {
				// A closed input fires every later Wait.
				close(s.lines)
				return
			}
			s.lines <- err
			if err != nil {
				return
			}
		}
	}()
	return s
}

// Wait blocks until the next line is read or ctx ends.
func (s *EnterStopSignal) Wait(ctx context.Context) error {
	select {
	case err := <-s.lines:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

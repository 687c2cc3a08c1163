package speech

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

type execMarker struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// execResponse is one NDJSON line, written by the command as each word
// starts playing.
type execResponse struct {
	Word     string `json:"word"`
	OffsetMS int64  `json:"offset_ms"`
}

func NewExecMarker(command string) (Marker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse marker command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("marker command empty")
	}
	return &execMarker{cmd: args}, nil
}

func (e *execMarker) Mark(ctx context.Context, req Request) (<-chan Mark, <-chan error) {
	e.mu.Lock()
	marks := make(chan Mark)
	errs := make(chan error, 1)
	go func() {
		defer close(marks)
		defer close(errs)
		defer e.mu.Unlock()

		data, err := json.Marshal(execRequest{Text: req.Text, Voice: req.Voice})
		if err != nil {
			errs <- err
			return
		}

		cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- err
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- err
			return
		}

		if _, err := stdin.Write(data); err != nil {
			errs <- err
			_ = cmd.Wait()
			return
		}
		stdin.Close()

		scanner := bufio.NewScanner(stdout)
		seq := 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- fmt.Errorf("decode marker output: %w", err)
				_ = cmd.Wait()
				return
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				_ = cmd.Wait()
				return
			case marks <- Mark{
				SessionID: req.SessionID,
				Sequence:  seq,
				Word:      resp.Word,
				Offset:    time.Duration(resp.OffsetMS) * time.Millisecond,
			}:
			}
			seq++
		}
		if err := cmd.Wait(); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			errs <- err
			return
		}
		if scanErr := scanner.Err(); scanErr != nil {
			errs <- scanErr
		}
	}()
	return marks, errs
}

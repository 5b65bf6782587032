package pipeline

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"
)

const (
	stagePreprocess = "preprocess"
	stageSegment    = "segment"
	stageParse      = "parse"
)

type stageRequest struct {
	ID       string          `json:"id"`
	Stage    string          `json:"stage"`
	Sentence *Sentence       `json:"sentence,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

type stageResponse struct {
	ID          string            `json:"id"`
	Annotations []json.RawMessage `json:"annotations"`
	Traces      []json.RawMessage `json:"traces"`
	Error       string            `json:"error,omitempty"`
}

// StageConfig locates the spec and checkpoint of one model stage.
type StageConfig struct {
	Spec       string `json:"spec"`
	Checkpoint string `json:"checkpoint"`
	Dir        string `json:"dir"`
}

// WorkerConfig is the startup line every worker process receives.
type WorkerConfig struct {
	Language  string      `json:"language"`
	Segmenter StageConfig `json:"segmenter"`
	Parser    StageConfig `json:"parser"`
}

type readyMessage struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Process is a running worker: JSON lines go in through Stdin and come
// back through Stdout.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Kill   func() error
}

// Launcher starts the worker process with the given id.
type Launcher func(id int) (*Process, error)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newCallID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// conn is the line-oriented channel to one process. Any error it returns
// leaves the stream in an unknown state.
type conn struct {
	proc   *Process
	reader *bufio.Reader
}

func newConn(proc *Process) *conn {
	return &conn{proc: proc, reader: bufio.NewReader(proc.Stdout)}
}

func (c *conn) handshake(ctx context.Context, cfg WorkerConfig) error {
	line, err := c.exchange(ctx, cfg)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	var ready readyMessage
	if err := json.Unmarshal(line, &ready); err != nil {
		return fmt.Errorf("failed to parse ready message: %w", err)
	}
	if ready.Status != "ready" {
		return fmt.Errorf("unexpected startup status %q: %s", ready.Status, ready.Error)
	}
	return nil
}

func (c *conn) roundTrip(ctx context.Context, req stageRequest) (*stageResponse, error) {
	line, err := c.exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp stageResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", req.Stage, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("%s response id %q does not match request %q", req.Stage, resp.ID, req.ID)
	}
	return &resp, nil
}

// exchange writes one line and waits for one line back, or for ctx.
func (c *conn) exchange(ctx context.Context, msg any) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	payload = append(payload, '\n')

	type result struct {
		line []byte
		err  error
	}
	done := make(chan result, 1)

	go func() {
		if _, err := c.proc.Stdin.Write(payload); err != nil {
			done <- result{err: fmt.Errorf("write request: %w", err)}
			return
		}
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			done <- result{err: fmt.Errorf("read stdout: %w", err)}
			return
		}
		done <- result{line: line}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.line, r.err
	}
}

func (c *conn) close() {
	if c.proc.Stdin != nil {
		c.proc.Stdin.Close()
	}
	if c.proc.Kill != nil {
		c.proc.Kill()
	}
	if c.proc.Stdout != nil {
		c.proc.Stdout.Close()
	}
}

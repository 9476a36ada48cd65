package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// Executor runs encoded commands. It never sees technology: everything it
// needs is in the command.
type Executor interface {
	Read(cmd cart.Command) ([]byte, error)
	Program(cmd cart.Command, data []byte) error
	Erase(cmd cart.Command) error
}

// Status is the terminal state of a transfer.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusVerifyFailed
	StatusBusFault
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusVerifyFailed:
		return "verify failed"
	case StatusBusFault:
		return "bus fault"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Result reports how a transfer ended.
type Result struct {
	Status      Status
	BytesDone   int
	BytesTotal  int
	Attempts    []int // per op, 0 for ops never started
	FailedChunk int   // -1 unless Status is a failure
}

// Engine executes plans.
type Engine struct {
	exec Executor
	cfg  Config
	log  cart.Logger
}

// NewEngine creates an engine over an executor.
func NewEngine(exec Executor, opts ...Option) (*Engine, error) {
	if exec == nil {
		return nil, fmt.Errorf("transfer: executor cannot be nil")
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{exec: exec, cfg: *cfg, log: cfg.Logger}
	if e.log == nil {
		e.log = nopLogger{}
	}
	return e, nil
}

// session is the mutable state of one transfer.
type session struct {
	plan   *Plan
	result Result
	stash  *stash
	sink   io.Writer
	source io.Reader
}

// ReadTo executes a read plan, pushing bytes to sink in plan order.
func (e *Engine) ReadTo(ctx context.Context, plan *Plan, sink io.Writer) (Result, error) {
	if plan.Direction != DirRead {
		return Result{FailedChunk: -1}, fmt.Errorf("transfer: %s plan passed to ReadTo", plan.Direction)
	}
	return e.execute(ctx, &session{plan: plan, sink: sink})
}

// WriteFrom executes a write plan, pulling caller bytes from source in plan
// order. Bytes already committed are not rolled back on failure.
func (e *Engine) WriteFrom(ctx context.Context, plan *Plan, source io.Reader) (Result, error) {
	if plan.Direction != DirWrite {
		return Result{FailedChunk: -1}, fmt.Errorf("transfer: %s plan passed to WriteFrom", plan.Direction)
	}
	return e.execute(ctx, &session{plan: plan, source: source, stash: newStash(uint32(plan.Geometry.AlignUnit()))})
}

func (e *Engine) execute(ctx context.Context, s *session) (Result, error) {
	s.result = Result{
		BytesTotal:  s.plan.Length,
		Attempts:    make([]int, len(s.plan.Ops)),
		FailedChunk: -1,
	}

	for i, op := range s.plan.Ops {
		if err := e.aborted(ctx); err != nil {
			return e.fail(s, StatusAborted, cart.ErrAborted, i, err)
		}

		data, err := e.prepare(s, op)
		if err != nil {
			return e.fail(s, StatusAborted, cart.ErrAborted, i, err)
		}

		for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
			s.result.Attempts[i] = attempt
			err = e.run(s, op, data)
			if err == nil || errors.Is(err, errSink) {
				break
			}
			e.log.Debug("chunk attempt failed", "chunk", i, "kind", op.Kind.String(),
				"offset", op.Offset, "attempt", attempt, "error", err)
		}
		if err != nil {
			if errors.Is(err, cart.ErrVerifyFailed) {
				return e.fail(s, StatusVerifyFailed, cart.ErrVerifyFailed, i, err)
			}
			if errors.Is(err, errSink) {
				return e.fail(s, StatusAborted, cart.ErrAborted, i, err)
			}
			return e.fail(s, StatusBusFault, cart.ErrBusFault, i, err)
		}

		s.result.BytesDone += s.plan.CallerBytes(op)
		if e.cfg.Progress != nil {
			e.cfg.Progress(s.result.BytesDone, s.result.BytesTotal)
		}
	}

	s.result.Status = StatusSuccess
	e.log.Info("transfer complete", "direction", s.plan.Direction.String(), "bytes", s.result.BytesDone)
	return s.result, nil
}

func (e *Engine) aborted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.cfg.Abort != nil && e.cfg.Abort() {
		return errors.New("abort requested")
	}
	return nil
}

var errSink = errors.New("sink")

// prepare assembles the data a program op writes: caller bytes from the
// source, the rest from the stash.
func (e *Engine) prepare(s *session, op ChunkOp) ([]byte, error) {
	if op.Kind != cart.OpProgram {
		return nil, nil
	}
	data := make([]byte, op.Length)
	for i := range data {
		data[i] = s.plan.Geometry.ErasedValue
	}

	callerLo, callerHi := op.Offset, op.End()
	if op.Fill {
		callerLo, callerHi = op.End(), op.End()
	} else {
		if callerLo < s.plan.Offset {
			callerLo = s.plan.Offset
		}
		if callerHi > s.plan.End() {
			callerHi = s.plan.End()
		}
	}
	if callerHi > callerLo {
		if _, err := io.ReadFull(s.source, data[callerLo-op.Offset:callerHi-op.Offset]); err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
	}

	s.stash.drop(op.Offset)
	for off := op.Offset; off < op.End(); off++ {
		if off >= callerLo && off < callerHi {
			continue
		}
		if b, ok := s.stash.get(off); ok {
			data[off-op.Offset] = b
		}
	}
	return data, nil
}

func (e *Engine) run(s *session, op ChunkOp, data []byte) error {
	switch op.Kind {
	case cart.OpRead:
		buf, err := e.read(op.Command)
		if err != nil {
			return err
		}
		if _, err := s.sink.Write(buf); err != nil {
			return fmt.Errorf("%w: %w", errSink, err)
		}
		return nil
	case cart.OpStash:
		buf, err := e.read(op.Command)
		if err != nil {
			return err
		}
		s.stash.put(op.Offset, buf)
		return nil
	case cart.OpErase:
		if err := e.exec.Erase(op.Command); err != nil {
			return err
		}
		return e.verify(op, nil, s.plan.Geometry.ErasedValue)
	case cart.OpProgram:
		if err := e.exec.Program(op.Command, data); err != nil {
			return err
		}
		return e.verify(op, data, 0)
	}
	return fmt.Errorf("transfer: unknown op kind %d", op.Kind)
}

func (e *Engine) read(cmd cart.Command) ([]byte, error) {
	buf, err := e.exec.Read(cmd)
	if err != nil {
		return nil, err
	}
	if len(buf) != cmd.Length {
		return nil, fmt.Errorf("%w: read %d bytes, want %d", cart.ErrBusFault, len(buf), cmd.Length)
	}
	return buf, nil
}

// verify reads op back and compares it with want, or with erased when want
// is nil.
func (e *Engine) verify(op ChunkOp, want []byte, erased byte) error {
	if !e.cfg.Verify {
		return nil
	}
	got := make([]byte, 0, op.Length)
	for _, cmd := range op.Verify {
		buf, err := e.read(cmd)
		if err != nil {
			return err
		}
		got = append(got, buf...)
	}
	if want == nil {
		want = bytes.Repeat([]byte{erased}, op.Length)
	}
	if !bytes.Equal(got, want) {
		for i := range want {
			if i >= len(got) || got[i] != want[i] {
				return fmt.Errorf("%w: %s at %#x differs at byte %d", cart.ErrVerifyFailed, op.Kind, op.Offset, i)
			}
		}
		return fmt.Errorf("%w: %s at %#x length mismatch", cart.ErrVerifyFailed, op.Kind, op.Offset)
	}
	return nil
}

func (e *Engine) fail(s *session, status Status, kind error, chunk int, err error) (Result, error) {
	s.result.Status = status
	s.result.FailedChunk = chunk
	e.log.Error("transfer failed", "status", status.String(), "chunk", chunk,
		"bytes", s.result.BytesDone, "error", err)
	return s.result, &cart.TransferError{
		Kind:      kind,
		Chunk:     chunk,
		BytesDone: s.result.BytesDone,
		Err:       err,
	}
}

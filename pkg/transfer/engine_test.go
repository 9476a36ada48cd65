package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)*13 + seed
	}
	return out
}

func mustPlan(t *testing.T, p cart.Profile, offset uint32, length int, dir Direction) *Plan {
	t.Helper()
	plan, err := NewPlan(p, offset, length, dir)
	if err != nil {
		t.Fatalf("NewPlan(%#x, %d, %s): %v", offset, length, dir, err)
	}
	return plan
}

func mustEngine(t *testing.T, exec Executor, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(exec, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngineRoundTrip(t *testing.T) {
	for name, mk := range allProfiles {
		p := mk()
		for _, r := range rangesFor(p.Capacity) {
			chip := newMemChip(p)
			before := append([]byte(nil), chip.data...)
			e := mustEngine(t, chip)
			data := pattern(r.length, byte(r.offset))

			res, err := e.WriteFrom(context.Background(), mustPlan(t, p, r.offset, r.length, DirWrite), bytes.NewReader(data))
			if err != nil {
				t.Fatalf("%s %+v: WriteFrom: %v", name, r, err)
			}
			if res.Status != StatusSuccess || res.BytesDone != r.length {
				t.Fatalf("%s %+v: result %+v", name, r, res)
			}

			var out bytes.Buffer
			res, err = e.ReadTo(context.Background(), mustPlan(t, p, r.offset, r.length, DirRead), &out)
			if err != nil {
				t.Fatalf("%s %+v: ReadTo: %v", name, r, err)
			}
			if !bytes.Equal(out.Bytes(), data) {
				t.Fatalf("%s %+v: read back differs", name, r)
			}

			end := int(r.offset) + r.length
			if !bytes.Equal(chip.data[:r.offset], before[:r.offset]) || !bytes.Equal(chip.data[end:], before[end:]) {
				t.Fatalf("%s %+v: bytes outside the request changed", name, r)
			}
		}
	}
}

func TestEngineRetriesChunkOnce(t *testing.T) {
	p := eepromProfile()
	chip := newMemChip(p)
	chip.corrupt[0x40] = 1
	e := mustEngine(t, chip)

	plan := mustPlan(t, p, 0, p.Capacity, DirWrite)
	data := pattern(p.Capacity, 1)
	res, err := e.WriteFrom(context.Background(), plan, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("WriteFrom: %v", err)
	}
	for i, op := range plan.Ops {
		want := 1
		if op.Offset == 0x40 {
			want = 2
		}
		if res.Attempts[i] != want {
			t.Fatalf("op %d at %#x: attempts = %d, want %d", i, op.Offset, res.Attempts[i], want)
		}
	}
	if !bytes.Equal(chip.data, data) {
		t.Fatalf("data not committed after retry")
	}
}

func TestEngineVerifyFailure(t *testing.T) {
	p := eepromProfile()
	chip := newMemChip(p)
	chip.corrupt[0x40] = -1
	e := mustEngine(t, chip)

	plan := mustPlan(t, p, 0, p.Capacity, DirWrite)
	res, err := e.WriteFrom(context.Background(), plan, bytes.NewReader(pattern(p.Capacity, 2)))
	if !errors.Is(err, cart.ErrVerifyFailed) {
		t.Fatalf("error = %v, want verify failed", err)
	}
	var terr *cart.TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("error %T is not a TransferError", err)
	}

	failed := -1
	want := 0
	for i, op := range plan.Ops {
		if op.Offset == 0x40 {
			failed = i
			break
		}
		want += plan.CallerBytes(op)
	}
	if res.Status != StatusVerifyFailed || res.FailedChunk != failed {
		t.Fatalf("result = %+v, want verify failure at %d", res, failed)
	}
	if res.BytesDone != want || terr.BytesDone != want || terr.Chunk != failed {
		t.Fatalf("bytes done = %d (error %d), want %d", res.BytesDone, terr.BytesDone, want)
	}
	if res.Attempts[failed] != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts[failed])
	}
	for i := failed + 1; i < len(plan.Ops); i++ {
		if res.Attempts[i] != 0 {
			t.Fatalf("op %d ran after the failure", i)
		}
	}
	if chip.programs[plan.Ops[failed+1].Offset] != 0 {
		t.Fatalf("op after failure was programmed")
	}
}

func TestEngineBusFault(t *testing.T) {
	p := framProfile()

	tests := []struct {
		name   string
		faults int
		status Status
	}{
		{"recovers", 2, StatusSuccess},
		{"persistent", -1, StatusBusFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := newMemChip(p)
			chip.faults[0x100] = tt.faults
			e := mustEngine(t, chip)

			var out bytes.Buffer
			res, err := e.ReadTo(context.Background(), mustPlan(t, p, 0, 1024, DirRead), &out)
			if res.Status != tt.status {
				t.Fatalf("status = %s, want %s (%v)", res.Status, tt.status, err)
			}
			if tt.status == StatusBusFault {
				if !errors.Is(err, cart.ErrBusFault) {
					t.Fatalf("error = %v, want bus fault", err)
				}
				if res.BytesDone != 0x100 || out.Len() != 0x100 {
					t.Fatalf("bytes done = %d, sink = %d, want 256", res.BytesDone, out.Len())
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadTo: %v", err)
			}
			if res.Attempts[1] != 3 {
				t.Fatalf("attempts = %v", res.Attempts)
			}
		})
	}
}

func TestEngineAbortBetweenChunks(t *testing.T) {
	p := eepromProfile()
	chip := newMemChip(p)
	calls := 0
	e := mustEngine(t, chip,
		WithProgress(func(int, int) { calls++ }),
		WithAbort(func() bool { return calls == 3 }),
	)

	plan := mustPlan(t, p, 0, p.Capacity, DirWrite)
	res, err := e.WriteFrom(context.Background(), plan, bytes.NewReader(pattern(p.Capacity, 3)))
	if !errors.Is(err, cart.ErrAborted) {
		t.Fatalf("error = %v, want aborted", err)
	}
	if res.Status != StatusAborted || res.FailedChunk != 3 || res.BytesDone != 3*16 {
		t.Fatalf("result = %+v", res)
	}
	if chip.programs[plan.Ops[3].Offset] != 0 {
		t.Fatalf("aborted op was issued")
	}
}

func TestEngineContextCancel(t *testing.T) {
	p := framProfile()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := mustEngine(t, newMemChip(p))
	res, err := e.ReadTo(ctx, mustPlan(t, p, 0, 16, DirRead), io.Discard)
	if !errors.Is(err, cart.ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
	if res.Status != StatusAborted || res.BytesDone != 0 || res.FailedChunk != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestEngineProgressMonotonic(t *testing.T) {
	for name, mk := range allProfiles {
		p := mk()
		for _, dir := range []Direction{DirRead, DirWrite} {
			offset, length := uint32(p.Capacity/4+3), p.Capacity/8+5
			var seen []int
			e := mustEngine(t, newMemChip(p), WithProgress(func(done, total int) {
				if total != length {
					t.Fatalf("%s: total = %d, want %d", name, total, length)
				}
				seen = append(seen, done)
			}))

			plan := mustPlan(t, p, offset, length, dir)
			var err error
			if dir == DirRead {
				_, err = e.ReadTo(context.Background(), plan, io.Discard)
			} else {
				_, err = e.WriteFrom(context.Background(), plan, bytes.NewReader(pattern(length, 4)))
			}
			if err != nil {
				t.Fatalf("%s %s: %v", name, dir, err)
			}
			if len(seen) != len(plan.Ops) {
				t.Fatalf("%s %s: %d progress calls for %d ops", name, dir, len(seen), len(plan.Ops))
			}
			for i := range seen {
				if i > 0 && seen[i] < seen[i-1] {
					t.Fatalf("%s %s: progress went backwards: %v", name, dir, seen)
				}
				if i < len(seen)-1 && seen[i] == length {
					t.Fatalf("%s %s: total reached before the last op", name, dir)
				}
			}
			if seen[len(seen)-1] != length {
				t.Fatalf("%s %s: final progress %d", name, dir, seen[len(seen)-1])
			}
		}
	}
}

type failingWriter struct{ writes int }

func (w *failingWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("disk full")
}

func TestEngineSinkErrorIsNotRetried(t *testing.T) {
	p := framProfile()
	w := &failingWriter{}
	e := mustEngine(t, newMemChip(p))
	res, err := e.ReadTo(context.Background(), mustPlan(t, p, 0, 64, DirRead), w)
	if !errors.Is(err, cart.ErrAborted) {
		t.Fatalf("error = %v, want aborted", err)
	}
	if w.writes != 1 || res.Attempts[0] != 1 {
		t.Fatalf("writes = %d, attempts = %v", w.writes, res.Attempts)
	}
}

func TestEngineShortSource(t *testing.T) {
	p := flashProfile()
	chip := newMemChip(p)
	e := mustEngine(t, chip)
	res, err := e.WriteFrom(context.Background(), mustPlan(t, p, 0, 4096, DirWrite), bytes.NewReader(make([]byte, 100)))
	if !errors.Is(err, cart.ErrAborted) || res.Status != StatusAborted {
		t.Fatalf("result = %+v, error = %v", res, err)
	}
}

func TestEngineRejectsWrongDirection(t *testing.T) {
	p := framProfile()
	e := mustEngine(t, newMemChip(p))
	if _, err := e.ReadTo(context.Background(), mustPlan(t, p, 0, 8, DirWrite), io.Discard); err == nil {
		t.Fatalf("write plan accepted by ReadTo")
	}
	if _, err := e.WriteFrom(context.Background(), mustPlan(t, p, 0, 8, DirRead), bytes.NewReader(nil)); err == nil {
		t.Fatalf("read plan accepted by WriteFrom")
	}
}

func TestNewEngineValidates(t *testing.T) {
	if _, err := NewEngine(nil); err == nil {
		t.Fatalf("nil executor accepted")
	}
	if _, err := NewEngine(newMemChip(framProfile()), WithAttempts(0)); err == nil {
		t.Fatalf("zero attempts accepted")
	}
}

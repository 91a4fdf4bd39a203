package gpusync

import (
	"errors"
	"testing"

	"github.com/gogpu/atmos/gpucore"
)

type sem string

func (s sem) Label() string { return string(s) }

func wait(s gpucore.Semaphore) []gpucore.SemaphoreWait {
	return []gpucore.SemaphoreWait{{Semaphore: s, Stage: gpucore.StageAllCommands}}
}

func TestLedgerSignalThenWait(t *testing.T) {
	var l Ledger
	s := sem("s")

	if err := l.Submit("release", nil, []gpucore.Semaphore{s}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if !l.Pending(s) {
		t.Fatal("s should be pending after signal")
	}
	if err := l.Submit("acquire", wait(s), nil); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if l.Pending(s) {
		t.Error("s should be consumed after wait")
	}
}

func TestLedgerWaitBeforeSignal(t *testing.T) {
	var l Ledger
	s := sem("s")

	err := l.Submit("acquire", wait(s), nil)
	if !errors.Is(err, gpucore.ErrWaitBeforeSignal) {
		t.Fatalf("error = %v, want ErrWaitBeforeSignal", err)
	}

	// A failed submission commits nothing.
	if err := l.Submit("release", nil, []gpucore.Semaphore{s}); err != nil {
		t.Fatalf("signal after failed wait: %v", err)
	}
}

func TestLedgerDoubleWait(t *testing.T) {
	var l Ledger
	s := sem("s")
	_ = l.Submit("release", nil, []gpucore.Semaphore{s})
	_ = l.Submit("acquire", wait(s), nil)

	if err := l.Submit("acquire-again", wait(s), nil); !errors.Is(err, gpucore.ErrWaitBeforeSignal) {
		t.Errorf("error = %v, want ErrWaitBeforeSignal", err)
	}
}

func TestLedgerDoubleSignal(t *testing.T) {
	tests := []struct {
		name    string
		first   []gpucore.Semaphore
		second  []gpucore.Semaphore
		wantErr bool
	}{
		{"twice across submissions", []gpucore.Semaphore{sem("s")}, []gpucore.Semaphore{sem("s")}, true},
		{"twice in one submission", nil, []gpucore.Semaphore{sem("s"), sem("s")}, true},
		{"distinct semaphores", []gpucore.Semaphore{sem("a")}, []gpucore.Semaphore{sem("b")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Ledger
			if err := l.Submit("first", nil, tt.first); err != nil {
				t.Fatalf("first: %v", err)
			}
			err := l.Submit("second", nil, tt.second)
			if got := errors.Is(err, gpucore.ErrDoubleSignal); got != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLedgerWaitAndResignal(t *testing.T) {
	var l Ledger
	s := sem("s")
	_ = l.Submit("first", nil, []gpucore.Semaphore{s})

	if err := l.Submit("relay", wait(s), []gpucore.Semaphore{s}); err != nil {
		t.Fatalf("wait and re-signal: %v", err)
	}
	if !l.Pending(s) {
		t.Error("s should be pending after re-signal")
	}
	l.Forget(s)
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after Forget", l.Len())
	}
}

package stages_test

import (
	"testing"

	"github.com/voxflow/voxflow/pkg/frame"
	"github.com/voxflow/voxflow/pkg/stages"
)

func TestEchoReplaysTurnAudio(t *testing.T) {
	t.Parallel()

	echo := stages.NewEcho()
	h, stop := newHarness(t, echo)

	// 40 ms of audio at 16 kHz replays as two 20 ms chunks.
	pcm := make([]byte, 1280)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	h.queue(t, frame.NewResponseTrigger(pcm, 16000))

	waitFor(t, "replay to finish", func() bool {
		return len(h.out.byName("SynthesisStopped")) == 1
	})
	echo.Wait()
	stop()

	if got := len(h.out.byName("SynthesisStarted")); got != 1 {
		t.Fatalf("SynthesisStarted count = %d, want 1", got)
	}
	audio := h.out.byName("SynthesizedAudio")
	if len(audio) != 2 {
		t.Fatalf("audio chunks = %d, want 2", len(audio))
	}
	var replayed []byte
	for _, f := range audio {
		replayed = append(replayed, f.(*frame.SynthesizedAudio).PCM...)
	}
	if len(replayed) != len(pcm) {
		t.Fatalf("replayed %d bytes, want %d", len(replayed), len(pcm))
	}
	for i := range pcm {
		if replayed[i] != pcm[i] {
			t.Fatalf("replayed byte %d = %d, want %d", i, replayed[i], pcm[i])
		}
	}
}

func TestEchoInterruptedByNewSpeech(t *testing.T) {
	t.Parallel()

	echo := stages.NewEcho()
	h, stop := newHarness(t, echo)

	// Two seconds of replay gives the interruption plenty of runway.
	h.queue(t, frame.NewResponseTrigger(make([]byte, 2*16000*2), 16000))
	waitFor(t, "replay to start", func() bool {
		return len(h.out.byName("SynthesisStarted")) == 1
	})

	// The user speaks over the response: the task raises the sweep and the
	// replay aborts.
	h.queue(t, frame.NewUserStartedSpeaking())
	waitFor(t, "interruption ack", func() bool {
		return len(h.out.byName("StopInterruption")) == 1
	})
	echo.Wait()
	stop()

	total := 0
	for _, f := range h.out.byName("SynthesizedAudio") {
		total += len(f.(*frame.SynthesizedAudio).PCM)
	}
	if total >= 2*16000*2 {
		t.Fatalf("replayed %d bytes, want an aborted replay", total)
	}
	if got := len(h.out.byName("SynthesisStopped")); got != 1 {
		t.Fatalf("SynthesisStopped count = %d, want 1", got)
	}
}

func TestEchoCancelLeavesNoTrailingFrames(t *testing.T) {
	t.Parallel()

	echo := stages.NewEcho()
	h, wait := newCancelHarness(t, echo)

	// Two seconds of replay keeps the worker busy when Cancel lands.
	h.queue(t, frame.NewResponseTrigger(make([]byte, 2*16000*2), 16000))
	waitFor(t, "replay output", func() bool {
		return len(h.out.byName("SynthesizedAudio")) >= 1
	})

	h.task.Cancel()
	wait()
	echo.Wait()

	seq := h.out.snapshot()
	if last := seq[len(seq)-1]; last.Name() != "Cancel" {
		t.Fatalf("last boundary frame = %s, want Cancel", last.Name())
	}
	if got := len(h.out.byName("SynthesisStopped")); got != 1 {
		t.Fatalf("SynthesisStopped count = %d, want 1", got)
	}
	if si, ci := h.out.indexOf("SynthesisStopped"), h.out.indexOf("Cancel"); si > ci {
		t.Fatalf("SynthesisStopped at %d arrived after Cancel at %d", si, ci)
	}
}

package stages_test

import (
	"testing"
	"time"

	"github.com/voxflow/voxflow/pkg/frame"
	"github.com/voxflow/voxflow/pkg/service"
	svcmock "github.com/voxflow/voxflow/pkg/service/mock"
	"github.com/voxflow/voxflow/pkg/stages"
)

func TestTranscriberEmitsTranscript(t *testing.T) {
	t.Parallel()

	svc := &svcmock.Transcriber{Result: service.Transcript{Text: "hello there", Language: "en"}}
	tr := stages.NewTranscriber(svc, stages.WithSpeakerID("caller-1"))
	h, stop := newHarness(t, tr)

	spoken := frame.NewResponseTrigger(make([]byte, 3200), 16000)
	h.queue(t, spoken)

	waitFor(t, "transcript at the boundary", func() bool {
		return len(h.out.byName("Transcript")) == 1
	})
	stop()

	tf := h.out.byName("Transcript")[0].(*frame.Transcript)
	if tf.Text != "hello there" || tf.SpeakerID != "caller-1" || tf.Language != "en" {
		t.Fatalf("transcript = %+v, want scripted result", tf)
	}
	if !tf.Timestamp.Equal(spoken.CreatedAt()) {
		t.Fatalf("timestamp = %v, want the trigger's creation time %v", tf.Timestamp, spoken.CreatedAt())
	}

	// The trigger was consumed, not forwarded.
	if got := len(h.out.byName("ResponseTrigger")); got != 0 {
		t.Fatalf("ResponseTrigger frames at the boundary = %d, want 0", got)
	}
}

func TestTranscriberNewTurnDisplacesInFlight(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	svc := &svcmock.Transcriber{
		Result: service.Transcript{Text: "final"},
		Block:  block,
	}
	tr := stages.NewTranscriber(svc)
	h, stop := newHarness(t, tr)

	h.queue(t, frame.NewResponseTrigger(make([]byte, 100), 16000))
	waitFor(t, "first recognition call", func() bool { return svc.CallCount() == 1 })

	// The second turn aborts the first call before it returns.
	h.queue(t, frame.NewResponseTrigger(make([]byte, 200), 16000))
	waitFor(t, "second recognition call", func() bool { return svc.CallCount() == 2 })

	close(block)
	waitFor(t, "surviving transcript", func() bool {
		return len(h.out.byName("Transcript")) >= 1
	})
	tr.Wait()
	stop()

	// Only the newest turn's result survives.
	if got := len(h.out.byName("Transcript")); got != 1 {
		t.Fatalf("transcript count = %d, want 1", got)
	}
}

func TestTranscriberInterruptionDropsResult(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	svc := &svcmock.Transcriber{
		Result: service.Transcript{Text: "stale"},
		Block:  block,
	}
	tr := stages.NewTranscriber(svc)
	h, stop := newHarness(t, tr)

	h.queue(t, frame.NewResponseTrigger(make([]byte, 100), 16000))
	waitFor(t, "recognition call", func() bool { return svc.CallCount() == 1 })

	h.queue(t, frame.NewStartInterruption())
	waitFor(t, "interruption to pass the stage", func() bool {
		return len(h.out.byName("StartInterruption")) == 1
	})
	close(block)
	tr.Wait()
	stop()

	if got := len(h.out.byName("Transcript")); got != 0 {
		t.Fatalf("transcript count = %d, want 0 after interruption", got)
	}
}

func TestTranscriberServiceErrorBecomesErrorFrame(t *testing.T) {
	t.Parallel()

	svc := &svcmock.Transcriber{Err: errRecognizer}
	tr := stages.NewTranscriber(svc)

	out := &collector{}
	errs := make(chan *frame.Error, 1)
	h, stop := newHarnessWith(t, out, errs, tr)

	h.queue(t, frame.NewResponseTrigger(make([]byte, 100), 16000))

	select {
	case ef := <-errs:
		if ef.Fatal {
			t.Fatal("recognition fault reported as fatal")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error frame never reached the input boundary")
	}
	tr.Wait()
	stop()
}

package stages

import (
	"context"
	"sync"
	"time"

	"github.com/voxflow/voxflow/pkg/frame"
	"github.com/voxflow/voxflow/pkg/pipeline"
)

// echoChunkMS is the duration of each replayed audio chunk.
const echoChunkMS = 20

// Echo replays each completed turn's audio back as a synthesised response.
// It needs no external service, making it the default response producer for
// loopback demos and a convenient in-flight response source in tests: the
// replay is paced at real time, brackets itself with SynthesisStarted /
// SynthesisStopped, and aborts on interruption like any other response
// producer.
type Echo struct {
	pipeline.Base

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEcho creates the loopback response stage.
func NewEcho() *Echo {
	return &Echo{Base: pipeline.NewBase("echo")}
}

var _ pipeline.Processor = (*Echo)(nil)

// Receive implements [pipeline.Processor].
func (e *Echo) Receive(ctx context.Context, f frame.Frame, dir frame.Direction) error {
	switch f := f.(type) {
	case *frame.ResponseTrigger:
		if dir == frame.Upstream {
			return e.Forward(ctx, f, dir)
		}
		e.replay(ctx, f)
		return nil

	case *frame.StartInterruption:
		e.abort()
		return e.Forward(ctx, f, dir)

	case *frame.Cancel, *frame.End:
		e.abort()
		// Await the replay goroutine so its closing SynthesisStopped lands
		// before the terminating frame passes downstream.
		e.wg.Wait()
		return e.Forward(ctx, f, dir)

	default:
		return e.Forward(ctx, f, dir)
	}
}

// Wait blocks until the replay goroutine has finished. Primarily useful in
// tests.
func (e *Echo) Wait() { e.wg.Wait() }

func (e *Echo) replay(ctx context.Context, trig *frame.ResponseTrigger) {
	e.abort() // newest turn displaces any replay still running

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	chunkBytes := trig.SampleRate * echoChunkMS / 1000 * 2
	if chunkBytes <= 0 {
		cancel()
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		_ = e.PushDownstream(rctx, frame.NewSynthesisStarted())
		defer func() {
			_ = e.PushDownstream(context.WithoutCancel(rctx), frame.NewSynthesisStopped())
		}()

		ticker := time.NewTicker(echoChunkMS * time.Millisecond)
		defer ticker.Stop()

		pcm := trig.PCM
		for off := 0; off < len(pcm); off += chunkBytes {
			end := off + chunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			af := frame.NewSynthesizedAudio(pcm[off:end], trig.SampleRate, 1)
			if err := e.PushDownstream(rctx, af); err != nil {
				return
			}
			select {
			case <-ticker.C:
			case <-rctx.Done():
				return
			}
		}
	}()
}

func (e *Echo) abort() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

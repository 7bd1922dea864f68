package stages

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxflow/voxflow/pkg/frame"
	"github.com/voxflow/voxflow/pkg/pipeline"
)

// Resampler normalises InputAudio frames to a target sample rate and channel
// count before they reach the rest of the pipeline. Frames that already match
// the target pass through untouched. Conversion resamples first and converts
// channels second, so a 48kHz stereo source never pays for resampling both
// channels when the target is mono.
//
// Create one per session; the mismatch warnings fire once per stream.
type Resampler struct {
	pipeline.Base

	sampleRate int
	channels   int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// NewResampler creates an input normalisation stage targeting the given PCM
// format. Typically placed first in the chain, ahead of the VAD gate.
func NewResampler(sampleRate, channels int) *Resampler {
	return &Resampler{
		Base:       pipeline.NewBase("resampler"),
		sampleRate: sampleRate,
		channels:   channels,
	}
}

var _ pipeline.Processor = (*Resampler)(nil)

// Receive implements [pipeline.Processor].
func (r *Resampler) Receive(ctx context.Context, f frame.Frame, dir frame.Direction) error {
	in, ok := f.(*frame.InputAudio)
	if !ok || dir != frame.Downstream {
		return r.Forward(ctx, f, dir)
	}

	// Odd byte counts mean the stream is not int16 PCM. Drop the chunk
	// rather than feed garbage to the VAD.
	if len(in.PCM)%2 != 0 {
		r.warnedCorrupt.Do(func() {
			slog.Warn("resampler: odd byte count in PCM chunk, dropping",
				"bytes", len(in.PCM),
				"sample_rate", in.SampleRate,
				"channels", in.Channels,
			)
		})
		return nil
	}

	if in.SampleRate == r.sampleRate && in.Channels == r.channels {
		return r.Forward(ctx, in, dir)
	}

	r.warnedMismatch.Do(func() {
		slog.Warn("resampler: input format mismatch, converting",
			"from", formatString(in.SampleRate, in.Channels),
			"to", formatString(r.sampleRate, r.channels),
		)
	})

	pcm := in.PCM
	rate, ch := in.SampleRate, in.Channels

	if rate != r.sampleRate {
		if ch == 1 {
			pcm = resampleMono16(pcm, rate, r.sampleRate)
		} else {
			pcm = resampleStereo16(pcm, rate, r.sampleRate)
		}
		rate = r.sampleRate
	}

	if ch != r.channels {
		switch {
		case ch == 1 && r.channels == 2:
			pcm = monoToStereo(pcm)
		case ch == 2 && r.channels == 1:
			pcm = stereoToMono(pcm)
		}
		ch = r.channels
	}

	if len(pcm) == 0 {
		return nil
	}
	return r.Forward(ctx, frame.NewInputAudio(pcm, rate, ch), dir)
}

// monoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func monoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// stereoToMono averages L+R per stereo frame. Uses int32 arithmetic to avoid
// overflow and clamps to the int16 range.
func stereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// resampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. Returns the input unchanged when the rates match.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// resampleStereo16 resamples 16-bit interleaved stereo PCM from srcRate to
// dstRate using linear interpolation per channel.
func resampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := int16(pcm[srcIdx*4]) | int16(pcm[srcIdx*4+1])<<8
		r0 := int16(pcm[srcIdx*4+2]) | int16(pcm[srcIdx*4+3])<<8

		l1, r1 := l0, r0
		if srcIdx+1 < srcFrames {
			l1 = int16(pcm[(srcIdx+1)*4]) | int16(pcm[(srcIdx+1)*4+1])<<8
			r1 = int16(pcm[(srcIdx+1)*4+2]) | int16(pcm[(srcIdx+1)*4+3])<<8
		}

		lv := int16(float64(l0)*(1-frac) + float64(l1)*frac)
		rv := int16(float64(r0)*(1-frac) + float64(r1)*frac)

		out[i*4] = byte(lv)
		out[i*4+1] = byte(lv >> 8)
		out[i*4+2] = byte(rv)
		out[i*4+3] = byte(rv >> 8)
	}
	return out
}

// formatString renders a PCM format for log output, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

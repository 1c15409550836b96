// Package wavio decodes recordings into pcm buffers and exports rendered
// buffers as 16-bit WAV.
package wavio

import (
	"io"
	"os"
	"path/filepath"

	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/algo-pitchedit/pcm"
	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"
	"github.com/pkg/errors"
)

// ErrDecode marks unsupported or corrupt input.
var ErrDecode = errors.New("decode error")

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (*pcm.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return buf, nil
}

// Decode reads a full WAV stream into a de-interleaved buffer.
func Decode(r io.ReadSeeker) (*pcm.Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.Wrap(ErrDecode, "invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "wav payload: %v", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, errors.Wrap(ErrDecode, "invalid wav buffer")
	}
	if buf.Format.SampleRate <= 0 {
		return nil, errors.Wrapf(ErrDecode, "invalid wav sample-rate: %d", buf.Format.SampleRate)
	}
	if len(buf.Data) < buf.Format.NumChannels {
		return nil, errors.Wrap(ErrDecode, "empty wav data")
	}
	out, err := pcm.Deinterleave(buf.Data, buf.Format.NumChannels, buf.Format.SampleRate)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%v", err)
	}
	return out, nil
}

// Resample converts every channel to toRate. A buffer already at toRate, or
// toRate <= 0, is returned unchanged.
func Resample(in *pcm.Buffer, toRate int) (*pcm.Buffer, error) {
	if toRate <= 0 || in.SampleRate == toRate {
		return in, nil
	}
	chans := make([][]float32, in.NumChannels())
	for c, ch := range in.Channels {
		r, err := dspresample.NewForRates(
			float64(in.SampleRate),
			float64(toRate),
			dspresample.WithQuality(dspresample.QualityBest),
		)
		if err != nil {
			return nil, errors.Wrapf(err, "resample %d -> %d", in.SampleRate, toRate)
		}
		chans[c] = toFloat32(r.Process(toFloat64(ch)))
	}
	n := len(chans[0])
	for c := range chans {
		if len(chans[c]) > n {
			chans[c] = chans[c][:n]
		}
	}
	return pcm.New(toRate, chans...)
}

// WriteFile exports buf as 16-bit PCM, creating parent directories.
func WriteFile(path string, buf *pcm.Buffer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := Encode(f, buf); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

// Encode writes buf as a 16-bit PCM WAV stream.
func Encode(w io.WriteSeeker, buf *pcm.Buffer) error {
	if buf == nil || buf.NumChannels() == 0 {
		return errors.New("nothing to encode")
	}
	enc := wav.NewEncoder(w, buf.SampleRate, 16, buf.NumChannels(), 1)
	data := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  buf.SampleRate,
			NumChannels: buf.NumChannels(),
		},
		Data:           buf.Interleave(),
		SourceBitDepth: 16,
	}
	if err := enc.Write(data); err != nil {
		return err
	}
	return enc.Close()
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

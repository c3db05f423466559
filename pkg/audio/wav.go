package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// WriteWAV encodes sig as 16-bit PCM WAV. Signals with more than two channels
// are mixed down to mono.
func WriteWAV(w io.WriteSeeker, sig *Signal) error {
	if sig.Len() == 0 {
		return errors.New("audio: write wav: empty signal")
	}
	channels := sig.Channels
	if len(channels) > 2 {
		channels = [][]float64{sig.Mono()}
	}
	left := channels[0]
	right := left
	if len(channels) == 2 {
		right = channels[1]
	}

	pos := 0
	streamer := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= len(left) {
			return 0, false
		}
		n := copyFrames(samples, left[pos:], right[pos:])
		pos += n
		return n, true
	})

	format := beep.Format{
		SampleRate:  beep.SampleRate(sig.SampleRate),
		NumChannels: len(channels),
		Precision:   2,
	}
	if err := wav.Encode(w, streamer, format); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	return nil
}

// WriteWAVFile writes sig to a new WAV file at path.
func WriteWAVFile(path string, sig *Signal) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := WriteWAV(f, sig); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFrames(dst [][2]float64, left, right []float64) int {
	n := min(len(dst), len(left))
	for i := range n {
		dst[i][0] = left[i]
		dst[i][1] = right[i]
	}
	return n
}

// Package audio loads audio files into memory as [Signal] values and provides
// the sample-level conversions used by the analysis pipeline.
//
// Decoding is delegated to github.com/gopxl/beep. WAV, MP3, FLAC and Ogg
// Vorbis are supported directly; raw 16-bit little-endian PCM (".pcm") is read
// with a configured sample rate and channel count. Anything else must be
// converted by the caller first (see internal/media).
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
)

var (
	// ErrDecode is matched by every error returned from [Load] and [Loader.Decode].
	ErrDecode = errors.New("cannot decode audio")

	// ErrEmptyFile is returned for 0-byte inputs.
	ErrEmptyFile = errors.New("file is empty")

	// ErrUnsupportedFormat is returned when neither the extension nor the
	// file header identifies a supported container.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrNoSamples is returned when a container decodes to zero samples.
	ErrNoSamples = errors.New("no audio samples")
)

// DecodeError describes a failure to decode an audio file. It matches both
// [ErrDecode] and the underlying cause with [errors.Is].
type DecodeError struct {
	Path   string
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("audio: decode %q as %s: %v", e.Path, e.Format, e.Err)
	}
	return fmt.Sprintf("audio: decode %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// Format names a container the loader can decode.
type Format string

const (
	FormatWAV    Format = "wav"
	FormatMP3    Format = "mp3"
	FormatFLAC   Format = "flac"
	FormatVorbis Format = "vorbis"
	FormatPCM    Format = "pcm"
)

// FormatFromPath returns the format implied by the file extension of path, or
// the empty string if the extension is not recognised.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	case ".flac":
		return FormatFLAC
	case ".ogg", ".oga":
		return FormatVorbis
	case ".pcm":
		return FormatPCM
	}
	return ""
}

// Sniff identifies a container from the first bytes of a file. Raw PCM has no
// header and is never sniffed.
func Sniff(header []byte) Format {
	switch {
	case len(header) >= 12 && bytes.Equal(header[:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(header, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(header, []byte("OggS")):
		return FormatVorbis
	case bytes.HasPrefix(header, []byte("ID3")):
		return FormatMP3
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return ""
}

// Loader decodes audio files. The zero value is ready to use.
type Loader struct {
	// RawSampleRate is the sample rate assumed for ".pcm" files. Default: 16000.
	RawSampleRate int

	// RawChannels is the channel count assumed for ".pcm" files. Default: 1.
	RawChannels int
}

// Load decodes the file at path with a zero-value [Loader].
func Load(path string) (*Signal, error) {
	var l Loader
	return l.Load(path)
}

// Load decodes the whole file at path into memory. The container is chosen
// from the file extension and, failing that, from the file header.
func (l *Loader) Load(path string) (*Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if info.Size() == 0 {
		return nil, &DecodeError{Path: path, Err: ErrEmptyFile}
	}

	format := FormatFromPath(path)
	if format == "" {
		header := make([]byte, 12)
		n, _ := io.ReadFull(f, header)
		format = Sniff(header[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
	}
	if format == "" {
		return nil, &DecodeError{Path: path, Err: ErrUnsupportedFormat}
	}

	sig, err := l.decode(f, format)
	if err != nil {
		return nil, &DecodeError{Path: path, Format: format, Err: err}
	}
	return sig, nil
}

// Decode reads a complete stream of the given format from rc. rc is closed
// when decoding finishes.
func (l *Loader) Decode(rc io.ReadCloser, format Format) (*Signal, error) {
	defer rc.Close()
	sig, err := l.decode(rc, format)
	if err != nil {
		return nil, &DecodeError{Path: "<stream>", Format: format, Err: err}
	}
	return sig, nil
}

func (l *Loader) decode(rc io.ReadCloser, format Format) (*Signal, error) {
	if format == FormatPCM {
		return l.decodePCM(rc)
	}

	var (
		stream beep.StreamSeekCloser
		bf     beep.Format
		err    error
	)
	// The beep decoders close rc through the returned stream.
	switch format {
	case FormatWAV:
		stream, bf, err = wav.Decode(rc)
	case FormatMP3:
		stream, bf, err = mp3.Decode(rc)
	case FormatFLAC:
		stream, bf, err = flac.Decode(rc)
	case FormatVorbis:
		stream, bf, err = vorbis.Decode(rc)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	channels := readAll(stream, bf.NumChannels)
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if len(channels[0]) == 0 {
		return nil, ErrNoSamples
	}
	return &Signal{Channels: channels, SampleRate: int(bf.SampleRate)}, nil
}

func (l *Loader) decodePCM(r io.Reader) (*Signal, error) {
	rate := l.RawSampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := l.RawChannels
	if channels <= 0 {
		channels = 1
	}
	pcm, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data := PCM16ToFloat(pcm, channels)
	if len(data[0]) == 0 {
		return nil, ErrNoSamples
	}
	return &Signal{Channels: data, SampleRate: rate}, nil
}

// readAll drains s into per-channel slices. beep always streams stereo
// pairs; mono sources carry the same value in both slots.
func readAll(s beep.Streamer, numChannels int) [][]float64 {
	if numChannels < 1 {
		numChannels = 1
	} else if numChannels > 2 {
		numChannels = 2
	}
	out := make([][]float64, numChannels)
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		for i := range n {
			for ch := range numChannels {
				out[ch] = append(out[ch], buf[i][ch])
			}
		}
		if !ok {
			return out
		}
	}
}

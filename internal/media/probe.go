package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Probe summarises a container as reported by ffprobe.
type Probe struct {
	FormatName   string  `json:"format_name"`
	Duration     float64 `json:"duration"`
	AudioStreams int     `json:"audio_streams"`
	VideoStreams int     `json:"video_streams"`

	// SampleRate and Channels describe the first audio stream.
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Probe runs ffprobe on path.
func (r *Resolver) Probe(ctx context.Context, path string) (Probe, error) {
	out, err := r.exec(ctx, ToolFFprobe, "-v", "error", "-show_format", "-show_streams", "-of", "json", path)
	if err != nil {
		return Probe{}, &MediaError{Path: path, Err: fmt.Errorf("probe: %w", err)}
	}
	p, err := parseProbe(out)
	if err != nil {
		return Probe{}, &MediaError{Path: path, Err: err}
	}
	return p, nil
}

func parseProbe(data []byte) (Probe, error) {
	var ff ffprobeOutput
	if err := json.Unmarshal(data, &ff); err != nil {
		return Probe{}, fmt.Errorf("probe: decode ffprobe output: %w", err)
	}
	p := Probe{FormatName: ff.Format.FormatName}
	p.Duration, _ = strconv.ParseFloat(strings.TrimSpace(ff.Format.Duration), 64)
	for _, s := range ff.Streams {
		switch s.CodecType {
		case "audio":
			if p.AudioStreams == 0 {
				p.SampleRate, _ = strconv.Atoi(strings.TrimSpace(s.SampleRate))
				p.Channels = s.Channels
			}
			p.AudioStreams++
		case "video":
			p.VideoStreams++
		}
	}
	return p, nil
}

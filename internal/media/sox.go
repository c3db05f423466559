package media

import (
	"context"
	"fmt"

	sox "github.com/thadeu/go-sox"
)

// convert rewrites path as 16-bit PCM WAV with SoX.
func (r *Resolver) convert(ctx context.Context, path, soxType string) (Resolved, error) {
	out := ExtractedPath(path)
	conv := sox.NewConverter(
		sox.AudioFormat{Type: soxType},
		sox.AudioFormat{Type: sox.TYPE_WAV, Encoding: sox.SIGNED_INTEGER, BitDepth: 16},
	)
	opts := sox.DefaultOptions()
	opts.SoxPath = r.paths[ToolSox]
	conv.WithOptions(opts)

	err := r.breakers.Get(string(ToolSox)).Do(ctx, func(context.Context) error {
		return conv.ConvertFile(path, out)
	})
	if err != nil {
		return Resolved{}, &MediaError{Path: path, Err: fmt.Errorf("%w: %w", ErrExtract, err)}
	}
	r.log.DebugContext(ctx, "converted audio", "input", path, "output", out, "type", soxType)
	return Resolved{Path: out, Source: path, Generated: true, keep: r.keep}, nil
}

func checkSox(path string) error {
	return sox.CheckSoxInstalled(path)
}

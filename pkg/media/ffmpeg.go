package media

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// A Transcoder converts audio between encodings.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, from, to string) ([]byte, error)
}

// TranscoderFunc is an adapter to use an ordinary function as a Transcoder.
type TranscoderFunc func(ctx context.Context, data []byte, from, to string) ([]byte, error)

// Transcode calls f(ctx, data, from, to).
func (f TranscoderFunc) Transcode(ctx context.Context, data []byte, from, to string) ([]byte, error) {
	return f(ctx, data, from, to)
}

// FFmpeg transcodes by piping audio through an ffmpeg process.
type FFmpeg struct {
	// Path is the ffmpeg executable; "ffmpeg" is looked up in $PATH if empty.
	Path string
}

// outputArgs maps a target mime type to ffmpeg's output options.
var outputArgs = map[string][]string{
	"audio/mpeg": {"-vn", "-ac", "1", "-codec:a", "libmp3lame", "-b:a", "64k", "-f", "mp3"},
	"audio/ogg":  {"-vn", "-ac", "1", "-codec:a", "libopus", "-b:a", "32k", "-f", "ogg"},
	"audio/webm": {"-vn", "-ac", "1", "-codec:a", "libopus", "-b:a", "32k", "-f", "webm"},
	"audio/aac":  {"-vn", "-ac", "1", "-codec:a", "aac", "-b:a", "64k", "-f", "adts"},
	"audio/wav":  {"-vn", "-ac", "1", "-codec:a", "pcm_s16le", "-f", "wav"},
}

// SupportsTarget reports whether FFmpeg can produce the given mime type.
func SupportsTarget(mimeType string) bool {
	_, ok := outputArgs[baseType(mimeType)]
	return ok
}

func ffmpegArgs(to string) ([]string, error) {
	out, ok := outputArgs[baseType(to)]
	if !ok {
		return nil, errors.Errorf("no ffmpeg output format for %q", to)
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}
	args = append(args, out...)
	return append(args, "pipe:1"), nil
}

// Transcode runs ffmpeg on data. The process is killed when ctx is done.
// ffmpeg probes the input, so from is only used in errors.
func (f FFmpeg) Transcode(ctx context.Context, data []byte, from, to string) ([]byte, error) {
	args, err := ffmpegArgs(to)
	if err != nil {
		return nil, err
	}
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrapf(err, "ffmpeg %s to %s: %s", from, to, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.Errorf("ffmpeg %s to %s produced no output", from, to)
	}
	return stdout.Bytes(), nil
}

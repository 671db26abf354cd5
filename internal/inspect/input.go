package inspect

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrInputTooLarge is returned by ReadInput when a stream exceeds its limit.
var ErrInputTooLarge = errors.New("inspect: input too large")

// ReadInput reads a whole elementary stream from path, or from stdin when
// path is "-". Files ending in .gz or .zst are decompressed. The returned
// name is path without the compression suffix, so CodecFromPath still sees
// the stream's own extension. A limit of 0 means no limit.
func ReadInput(path string, limit int64) ([]byte, string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, path, err
		}
		defer f.Close()
		r = f
	}

	name := path
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, path, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		r = zr
		name = path[:len(path)-len(ext)]
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, path, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		r = zr
		name = path[:len(path)-len(ext)]
	}

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, name, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, name, fmt.Errorf("%w: more than %s", ErrInputTooLarge, humanize.IBytes(uint64(limit)))
	}
	return data, name, nil
}

package upload

import (
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

type decoderFunc func(io.Reader) (io.ReadCloser, error)

var decoders = map[string]decoderFunc{
	"gzip": func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	},
	"zstd": func(r io.Reader) (io.ReadCloser, error) {
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	},
	"lz4": func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(lz4.NewReader(r)), nil
	},
}

var extensions = map[string]string{
	".gz":   "gzip",
	".gzip": "gzip",
	".zst":  "zstd",
	".zstd": "zstd",
	".lz4":  "lz4",
}

// Encodings lists the accepted compressed encodings.
func Encodings() []string {
	out := make([]string, 0, len(decoders))
	for name := range decoders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func unknownEncoding(enc string) error {
	return errors.Wrapf(ErrUnknownEncoding, "%q (supported: none, %s)", enc, strings.Join(Encodings(), ", "))
}

func validEncoding(enc string) bool {
	if enc == "" || enc == "none" {
		return true
	}
	_, ok := decoders[enc]
	return ok
}

// EncodingForPath guesses the encoding of a file from its extension.
// Unknown extensions are "none".
func EncodingForPath(path string) string {
	if enc, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return enc
	}
	return "none"
}

// NewDecoder wraps r so reads return decoded bytes. "" and "none" pass r
// through unchanged.
func NewDecoder(encoding string, r io.Reader) (io.ReadCloser, error) {
	if encoding == "" || encoding == "none" {
		return io.NopCloser(r), nil
	}
	dec, ok := decoders[encoding]
	if !ok {
		return nil, unknownEncoding(encoding)
	}
	return dec(r)
}

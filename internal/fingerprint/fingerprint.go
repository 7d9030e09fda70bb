// Package fingerprint derives content-addressed cache keys for audio blobs.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"audio-transcriber/internal/domain"
)

// ChunkSize is the read size used while hashing.
const ChunkSize = 64 * 1024

// Digest is the SHA-256 of an audio blob's bytes.
type Digest [sha256.Size]byte

// String returns the lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Compute hashes r in fixed-size chunks, checking ctx between chunks.
func Compute(ctx context.Context, r io.Reader) (Digest, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return Digest{}, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Digest{}, fmt.Errorf("read audio content: %w", err)
		}
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Blob opens the blob and hashes its full content.
func Blob(ctx context.Context, blob domain.AudioBlob) (Digest, error) {
	rc, err := blob.Open()
	if err != nil {
		return Digest{}, fmt.Errorf("open audio content: %w", err)
	}
	defer rc.Close()
	return Compute(ctx, rc)
}

// Key derives the cache key from a content digest and the options that change
// engine output. Output formats are rendering-only and do not participate.
func Key(d Digest, opts domain.Options) string {
	task := opts.Task
	if task == "" {
		task = domain.TaskTranscribe
	}
	lang := strings.ToLower(strings.TrimSpace(opts.Language))
	if lang == "auto" {
		lang = ""
	}

	h := sha256.New()
	h.Write(d[:])
	h.Write([]byte{0})
	h.Write([]byte(task))
	h.Write([]byte{0})
	h.Write([]byte(lang))
	return hex.EncodeToString(h.Sum(nil))
}

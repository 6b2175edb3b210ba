package httpclient

import (
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/webp"
)

// chunkThreshold is the size above which Download splits the transfer into
// parallel range requests instead of one sequential GET (spec §4.10 step 2).
const chunkThreshold = 2 * 1024 * 1024

// chunkSize is the size of each ranged segment.
const chunkSize = 1 * 1024 * 1024

// chunkConcurrency bounds how many range requests run at once per download.
const chunkConcurrency = 10

// Download fetches rawURL to destPath, chunking large files across ranged
// GETs and transparently re-encoding a WebP source into JPEG when destPath
// ends in .jpg/.jpeg (spec §4.10 step 5 — some mirrors only serve WebP).
func (c *Client) Download(ctx context.Context, rawURL, destPath string) error {
	size, err := c.HeadSize(ctx, rawURL)
	if err != nil || size <= 0 {
		return c.downloadSequential(ctx, rawURL, destPath)
	}

	if size <= chunkThreshold {
		return c.downloadSequential(ctx, rawURL, destPath)
	}
	return c.downloadChunked(ctx, rawURL, destPath, size)
}

func (c *Client) downloadSequential(ctx context.Context, rawURL, destPath string) error {
	resp, err := c.Request(ctx, http.MethodGet, rawURL, withDefaults(Options{}))
	if err != nil {
		return err
	}
	return writeMaybeTranscode(resp.Body, destPath)
}

func (c *Client) downloadChunked(ctx context.Context, rawURL, destPath string, size int64) error {
	numChunks := int((size + chunkSize - 1) / chunkSize)
	buffers := make([][]byte, numChunks)
	errs := make([]error, numChunks)

	sem := make(chan struct{}, chunkConcurrency)
	var wg sync.WaitGroup
	for i := 0; i < numChunks; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := int64(idx) * chunkSize
			end := start + chunkSize - 1
			if end >= size {
				end = size - 1
			}
			opts := withDefaults(Options{Headers: map[string]string{
				"Range": fmt.Sprintf("bytes=%d-%d", start, end),
			}})
			resp, err := c.Request(ctx, http.MethodGet, rawURL, opts)
			if err != nil {
				errs[idx] = err
				return
			}
			buffers[idx] = resp.Body
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("httpclient: chunked download: %w", err)
		}
	}

	full := make([]byte, 0, size)
	for _, b := range buffers {
		full = append(full, b...)
	}
	return writeMaybeTranscode(full, destPath)
}

// writeMaybeTranscode writes body to destPath as-is, unless destPath wants a
// JPEG and body is actually WebP, in which case it decodes and re-encodes
// at quality 95 (spec §4.10 step 5).
func writeMaybeTranscode(body []byte, destPath string) error {
	ext := strings.ToLower(filepath.Ext(destPath))
	wantsJPEG := ext == ".jpg" || ext == ".jpeg"

	if wantsJPEG && isWebP(body) {
		img, err := webp.Decode(newByteReader(body))
		if err != nil {
			return fmt.Errorf("httpclient: webp decode: %w", err)
		}
		f, err := os.Create(destPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	}

	return os.WriteFile(destPath, body, 0o644)
}

func isWebP(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WEBP"
}

// newByteReader adapts a []byte to an io.Reader without an extra copy.
func newByteReader(b []byte) io.Reader {
	return &byteReader{b: b}
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

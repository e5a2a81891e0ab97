package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sync"
)

var errAttemptDone = errors.New("apiclient: upload attempt finished")

// File is a multipart upload source. Content must be seekable so the body can
// be replayed after a token renewal.
type File struct {
	Field   string
	Name    string
	Content io.ReadSeeker
	Size    int64
}

// ProgressFunc receives whole percentages. Values never decrease and 100 is
// reported exactly once, after the server accepted the upload.
type ProgressFunc func(percent int)

// Upload posts file as multipart/form-data, streaming it through a pipe.
func (c *Client) Upload(ctx context.Context, path string, file File, onProgress ProgressFunc, out any, opts ...RequestOption) error {
	if file.Content == nil {
		return errors.New("apiclient: upload content is required")
	}
	field := file.Field
	if field == "" {
		field = "file"
	}
	name := filepath.Base(file.Name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload"
	}

	start, err := file.Content.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("apiclient: upload seek: %w", err)
	}
	size := file.Size
	if size <= 0 {
		end, err := file.Content.Seek(0, io.SeekEnd)
		if err != nil {
			return fmt.Errorf("apiclient: upload size: %w", err)
		}
		size = end - start
	}

	prog := &progress{fn: onProgress, last: -1}
	var attempt *pipeAttempt
	defer func() {
		if attempt != nil {
			attempt.abort()
		}
	}()

	newBody := func() (io.Reader, string, error) {
		if attempt != nil {
			attempt.abort()
		}
		if _, err := file.Content.Seek(start, io.SeekStart); err != nil {
			return nil, "", err
		}
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		attempt = &pipeAttempt{pr: pr, done: make(chan struct{})}
		done := attempt.done

		prog.report(0)
		go func() {
			defer close(done)
			part, err := mw.CreateFormFile(field, name)
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			src := &countingReader{r: file.Content, size: size, prog: prog}
			if _, err := io.Copy(part, src); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if err := mw.Close(); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			_ = pw.Close()
		}()
		return pr, mw.FormDataContentType(), nil
	}

	if err := c.execute(ctx, c.upload, http.MethodPost, path, newBody, out, opts); err != nil {
		return err
	}
	attempt.abort()
	prog.finish()
	return nil
}

type pipeAttempt struct {
	pr   *io.PipeReader
	done chan struct{}
	once sync.Once
}

// abort stops the writer goroutine and waits for it, so the source is never
// read by two attempts at once.
func (a *pipeAttempt) abort() {
	a.once.Do(func() {
		_ = a.pr.CloseWithError(errAttemptDone)
		<-a.done
	})
}

type progress struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last int
	done bool
}

func (p *progress) report(pct int) {
	if p.fn == nil {
		return
	}
	if pct > 99 {
		pct = 99
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done || pct <= p.last {
		return
	}
	p.last = pct
	p.fn(pct)
}

func (p *progress) finish() {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	p.last = 100
	p.fn(100)
}

type countingReader struct {
	r    io.Reader
	size int64
	read int64
	prog *progress
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		c.read += int64(n)
		if c.size > 0 {
			c.prog.report(int(c.read * 100 / c.size))
		}
	}
	return n, err
}

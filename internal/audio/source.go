package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/desertthunder/crowdspot/internal/shared"
)

// ContentStream is an opened payload for one track or episode.
//
// Offset counts leading bytes of Body that are not part of the playable content.
// When Offset is zero and Body can seek, the stream's current position is used instead.
type ContentStream struct {
	Body   io.ReadCloser
	Length int64
	Offset int64
}

// ContentFeeder opens content streams by media id.
type ContentFeeder interface {
	Load(ctx context.Context, id string) (*ContentStream, error)
}

// FeederFunc adapts a function to [ContentFeeder].
type FeederFunc func(ctx context.Context, id string) (*ContentStream, error)

func (f FeederFunc) Load(ctx context.Context, id string) (*ContentStream, error) { return f(ctx, id) }

// Source is a random-access view over a content stream.
type Source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Open loads id through feeder and wraps it in a [Source].
// Any failure is reported as [shared.ErrContentUnavailable] and no source is returned.
func Open(ctx context.Context, feeder ContentFeeder, id string) (Source, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty media id", shared.ErrContentUnavailable)
	}

	stream, err := feeder.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrContentUnavailable, id, err)
	}
	if stream == nil || stream.Body == nil {
		return nil, fmt.Errorf("%w: %s: no stream", shared.ErrContentUnavailable, id)
	}

	src, err := NewSource(stream)
	if err != nil {
		stream.Body.Close()
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrContentUnavailable, id, err)
	}
	return src, nil
}

// NewSource picks the seeking strategy when stream.Body implements io.Seeker and
// the buffering strategy otherwise.
func NewSource(stream *ContentStream) (Source, error) {
	if stream.Length < 0 || stream.Offset < 0 {
		return nil, fmt.Errorf("%w: negative length or offset", shared.ErrInvalidInput)
	}

	if rs, ok := stream.Body.(io.ReadSeeker); ok {
		offset := stream.Offset
		if offset == 0 {
			pos, err := rs.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, fmt.Errorf("failed to probe stream position: %w", err)
			}
			offset = pos
		}
		if offset > stream.Length {
			return nil, fmt.Errorf("%w: offset %d past length %d", shared.ErrInvalidInput, offset, stream.Length)
		}
		return &seekSource{rs: rs, closer: stream.Body, offset: offset, size: stream.Length - offset}, nil
	}

	if stream.Offset > stream.Length {
		return nil, fmt.Errorf("%w: offset %d past length %d", shared.ErrInvalidInput, stream.Offset, stream.Length)
	}
	return &bufferSource{body: stream.Body, offset: stream.Offset, size: stream.Length - stream.Offset}, nil
}

// closeOnce releases a stream exactly once.
type closeOnce struct {
	once sync.Once
	err  error
}

func (c *closeOnce) close(fn func() error) error {
	c.once.Do(func() { c.err = fn() })
	return c.err
}

// clip bounds a read of len(p) at off to size, returning io.EOF at or past the end.
func clip(p []byte, off, size int64) ([]byte, error) {
	if off < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", shared.ErrInvalidInput, off)
	}
	if off >= size {
		return nil, io.EOF
	}
	if remaining := size - off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	return p, nil
}

// seekSource reads in place by seeking the underlying stream before every read.
type seekSource struct {
	mu     sync.Mutex
	rs     io.ReadSeeker
	closer io.Closer
	offset int64
	size   int64
	closed closeOnce
}

func (s *seekSource) Size() int64 { return s.size }

func (s *seekSource) ReadAt(p []byte, off int64) (int, error) {
	buf, err := clip(p, off, s.size)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.rs.Seek(s.offset+off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(s.rs, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	if err == nil && len(buf) < len(p) {
		err = io.EOF
	}
	return n, err
}

func (s *seekSource) Close() error {
	return s.closed.close(s.closer.Close)
}

// bufferSource reads the whole stream on first access and serves reads from memory.
type bufferSource struct {
	mu     sync.Mutex
	body   io.ReadCloser
	offset int64
	size   int64
	data   *bytes.Reader
	err    error
	closed closeOnce
}

func (b *bufferSource) Size() int64 { return b.size }

func (b *bufferSource) load() (*bytes.Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data != nil || b.err != nil {
		return b.data, b.err
	}

	if _, err := io.CopyN(io.Discard, b.body, b.offset); err != nil {
		b.err = fmt.Errorf("failed to skip stream header: %w", err)
		return nil, b.err
	}
	content, err := io.ReadAll(io.LimitReader(b.body, b.size))
	if err != nil {
		b.err = fmt.Errorf("failed to buffer stream: %w", err)
		return nil, b.err
	}
	b.data = bytes.NewReader(content)
	return b.data, nil
}

func (b *bufferSource) ReadAt(p []byte, off int64) (int, error) {
	buf, err := clip(p, off, b.size)
	if err != nil {
		return 0, err
	}

	data, err := b.load()
	if err != nil {
		return 0, err
	}

	n, err := data.ReadAt(buf, off)
	if err == nil && len(buf) < len(p) {
		err = io.EOF
	}
	return n, err
}

func (b *bufferSource) Close() error {
	return b.closed.close(b.body.Close)
}

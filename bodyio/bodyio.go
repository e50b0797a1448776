// Package bodyio takes bounded snapshots of request and response
// bodies without changing what the consumer of the body reads.
package bodyio

import (
	"bytes"
	"errors"
	"io"
)

// DefaultLimit is the number of bytes captured when no positive
// limit is provided.
const DefaultLimit int64 = 64 * 1024

var _ io.ReadCloser = (*replayReader)(nil)

// replayReader returns the already captured bytes, and then continues
// with the rest of the original reader. Closing it closes the
// original reader.
type replayReader struct {
	io.Reader
	closer io.Closer
}

func (r *replayReader) Close() error {
	return r.closer.Close()
}

// Capture reads up to limit bytes from rc. It returns the read bytes
// and a reader to use instead of rc, that provides exactly the same
// content rc would have provided.
//
// If reading fails, the returned reader will report the same error
// once the captured bytes are consumed.
func Capture(rc io.ReadCloser, limit int64) ([]byte, io.ReadCloser, error) {
	if rc == nil {
		return nil, nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var buf bytes.Buffer
	_, err := io.Copy(&buf, io.LimitReader(rc, limit))
	captured := buf.Bytes()

	var rest io.Reader = rc
	if err != nil {
		rest = &errReader{err: err}
	}
	return captured, &replayReader{
		Reader: io.MultiReader(bytes.NewReader(captured), rest),
		closer: rc,
	}, err
}

// Snapshot gets a copy of a request body through getBody (like
// the [net/http.Request] GetBody field), so the request Body is not
// touched. It returns at most limit bytes.
func Snapshot(getBody func() (io.ReadCloser, error), limit int64) ([]byte, error) {
	if getBody == nil {
		return nil, errors.New("bodyio: no body getter")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	rc, err := getBody()
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, nil
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit))
}

type errReader struct {
	err error
}

func (r *errReader) Read([]byte) (int, error) {
	return 0, r.err
}

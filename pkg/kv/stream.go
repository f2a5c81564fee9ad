package kv

import "io"

// StreamWrapper transforms the byte streams a file backend reads and writes,
// for example to compress, encrypt or inject faults. The store itself only
// ever sees the plain buffer.
//
// WrapWriter's result is closed before the backend syncs the file, so a
// transform can flush trailing bytes there. Closing it must not close the
// underlying writer.
type StreamWrapper interface {
	WrapReader(r io.Reader) (io.Reader, error)
	WrapWriter(w io.Writer) (io.WriteCloser, error)
}

// NopStreams passes both streams through unchanged.
type NopStreams struct{}

func (NopStreams) WrapReader(r io.Reader) (io.Reader, error) { return r, nil }

func (NopStreams) WrapWriter(w io.Writer) (io.WriteCloser, error) { return nopCloser{w}, nil }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func streamsOrNop(s StreamWrapper) StreamWrapper {
	if s == nil {
		return NopStreams{}
	}

	return s
}

// writeThrough writes data through the wrapped form of dst and closes the
// wrapper.
func writeThrough(streams StreamWrapper, dst io.Writer, data []byte) error {
	w, err := streams.WrapWriter(dst)
	if err != nil {
		return err
	}

	_, err = w.Write(data)
	if err != nil {
		_ = w.Close()

		return err
	}

	return w.Close()
}

// readThrough reads everything from the wrapped form of src.
func readThrough(streams StreamWrapper, src io.Reader) ([]byte, error) {
	r, err := streams.WrapReader(src)
	if err != nil {
		return nil, err
	}

	return io.ReadAll(r)
}

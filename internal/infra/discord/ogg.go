package discord

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

const (
	oggPageHeaderSize = 27
	oggMaxSegments    = 255
	oggSegmentsOffset = 26
)

var oggCapture = []byte("OggS")

// errProviderClosed is reported when the voice connection drops the provider.
var errProviderClosed = errors.New("opus provider closed")

// opusFrames reads Opus packets out of an Ogg stream and hands them to the
// voice connection one frame at a time. It implements voice.OpusFrameProvider.
//
// ProvideOpusFrame is called from the connection's send loop only, so the
// parsing state needs no locking. finish is called once when the stream ends,
// with nil on a clean end of stream.
type opusFrames struct {
	r       *bufio.Reader
	header  [oggPageHeaderSize]byte
	lacing  [oggMaxSegments]byte
	partial bytes.Buffer
	pending [][]byte

	once   sync.Once
	finish func(error)
}

func newOpusFrames(r io.Reader, finish func(error)) *opusFrames {
	return &opusFrames{
		r:      bufio.NewReaderSize(r, 16*1024),
		finish: finish,
	}
}

// ProvideOpusFrame returns the next Opus packet.
func (o *opusFrames) ProvideOpusFrame() ([]byte, error) {
	for len(o.pending) == 0 {
		if err := o.readPage(); err != nil {
			o.end(err)
			return nil, err
		}
	}
	frame := o.pending[0]
	o.pending = o.pending[1:]
	return frame, nil
}

// Close is called by the voice connection when it lets go of the provider.
func (o *opusFrames) Close() {
	o.end(errProviderClosed)
}

func (o *opusFrames) end(err error) {
	o.once.Do(func() {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if o.finish != nil {
			o.finish(err)
		}
	})
}

// readPage consumes one Ogg page and queues every packet completed in it.
// Bytes before the capture pattern are skipped.
func (o *opusFrames) readPage() error {
	for {
		sig, err := o.r.Peek(len(oggCapture))
		if err != nil {
			return err
		}
		if bytes.Equal(sig, oggCapture) {
			break
		}
		if _, err := o.r.Discard(1); err != nil {
			return err
		}
	}

	// Past the capture pattern the page must be complete.
	if _, err := io.ReadFull(o.r, o.header[:]); err != nil {
		return errors.Wrap(truncated(err), "read ogg page header")
	}
	lacing := o.lacing[:o.header[oggSegmentsOffset]]
	if _, err := io.ReadFull(o.r, lacing); err != nil {
		return errors.Wrap(truncated(err), "read ogg segment table")
	}

	for _, n := range lacing {
		if _, err := io.CopyN(&o.partial, o.r, int64(n)); err != nil {
			return errors.Wrap(truncated(err), "read ogg segment")
		}
		// A segment shorter than 255 bytes terminates the packet.
		if n == oggMaxSegments {
			continue
		}
		packet := bytes.Clone(o.partial.Bytes())
		o.partial.Reset()
		if len(packet) == 0 || isOpusHeader(packet) {
			continue
		}
		o.pending = append(o.pending, packet)
	}
	return nil
}

func truncated(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func isOpusHeader(packet []byte) bool {
	return bytes.HasPrefix(packet, []byte("OpusHead")) || bytes.HasPrefix(packet, []byte("OpusTags"))
}

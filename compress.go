package wsengine

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
)

const (
	minWindowBits = 8
	maxWindowBits = 15

	// maxWindow is the largest deflate history a peer may refer back into.
	maxWindow = 1 << maxWindowBits
)

// syncTail is the empty stored block a sync flush ends with. RFC 7692 7.2.1
// has the sender strip it from the last frame of a message and the receiver
// put it back before inflating.
var syncTail = []byte{0x00, 0x00, 0xff, 0xff}

// inflateTail restores the sync tail and adds a final empty stored block so
// the inflater reports io.EOF at the end of the message.
var inflateTail = []byte{0x00, 0x00, 0xff, 0xff, 0x01, 0x00, 0x00, 0xff, 0xff}

// deflater is the outbound half of the compression adapter. Uncompressed
// bytes are fed in, compressed bytes are pulled out into caller regions.
type deflater struct {
	fw  *flate.Writer
	out bytes.Buffer
}

func newDeflater(level, windowBits int) (*deflater, error) {
	d := &deflater{}

	var err error
	if windowBits < maxWindowBits {
		d.fw, err = flate.NewWriterWindow(&d.out, 1<<windowBits)
	} else {
		d.fw, err = flate.NewWriter(&d.out, level)
	}
	if err != nil {
		return nil, compressionErr(err)
	}

	return d, nil
}

func (d *deflater) feed(p []byte) error {
	_, err := d.fw.Write(p)
	return compressionErr(err)
}

// flush pushes everything fed so far out as complete deflate blocks.
// When final, the trailing sync marker is removed.
func (d *deflater) flush(final bool) error {
	if err := d.fw.Flush(); err != nil {
		return compressionErr(err)
	}
	if !final {
		return nil
	}

	b := d.out.Bytes()
	if !bytes.HasSuffix(b, syncTail) {
		return compressionErr(errors.New("flush did not end with a sync marker"))
	}
	d.out.Truncate(len(b) - len(syncTail))
	return nil
}

// pending is the number of compressed bytes waiting to be pulled.
func (d *deflater) pending() int {
	return d.out.Len()
}

func (d *deflater) pull(dst []byte) int {
	n, _ := d.out.Read(dst)
	return n
}

// reset drops the history window, used when context takeover is disabled.
func (d *deflater) reset() {
	d.out.Reset()
	d.fw.Reset(&d.out)
}

func (d *deflater) close() error {
	err := d.fw.Close()
	d.out.Reset()
	return compressionErr(err)
}

// inflater is the inbound half of the compression adapter.
//
// The flate reader pulls from an io.Reader and cannot be suspended mid-block
// when input runs dry, so compressed bytes are fed in as they arrive and the
// message is pulled out once its last frame has been fed. Context takeover
// is carried across messages as a preset dictionary holding the tail of the
// previous output.
type inflater struct {
	fr       io.ReadCloser
	in       bytes.Buffer
	takeover bool
	hist     []byte
	reading  bool
}

func newInflater(takeover bool) *inflater {
	return &inflater{takeover: takeover}
}

func (f *inflater) feed(p []byte) {
	f.in.Write(p)
}

// buffered is the number of compressed bytes fed for the current message.
func (f *inflater) buffered() int {
	return f.in.Len()
}

// finish marks the end of the message; pull can then be called until io.EOF.
func (f *inflater) finish() error {
	f.in.Write(inflateTail)

	var dict []byte
	if f.takeover {
		dict = f.dict()
	}

	if f.fr == nil {
		f.fr = flate.NewReaderDict(&f.in, dict)
	} else if err := f.fr.(flate.Resetter).Reset(&f.in, dict); err != nil {
		return compressionErr(err)
	}

	f.reading = true
	return nil
}

// pull inflates into dst. It returns io.EOF once the message is exhausted.
func (f *inflater) pull(dst []byte) (int, error) {
	if !f.reading {
		return 0, io.EOF
	}

	n, err := f.fr.Read(dst)
	if f.takeover {
		f.remember(dst[:n])
	}

	if err == io.EOF {
		f.reading = false
		f.in.Reset()
		return n, io.EOF
	}
	if err != nil {
		f.reading = false
		return n, compressionErr(err)
	}

	return n, nil
}

// remember keeps at least the last maxWindow bytes of output for the next dictionary.
func (f *inflater) remember(p []byte) {
	f.hist = append(f.hist, p...)
	if len(f.hist) > 2*maxWindow {
		f.hist = append(f.hist[:0], f.hist[len(f.hist)-maxWindow:]...)
	}
}

func (f *inflater) dict() []byte {
	if len(f.hist) > maxWindow {
		return f.hist[len(f.hist)-maxWindow:]
	}
	return f.hist
}

// reset forgets the history window.
func (f *inflater) reset() {
	f.hist = f.hist[:0]
	f.in.Reset()
	f.reading = false
}

func (f *inflater) close() error {
	f.reset()
	f.hist = nil
	if f.fr == nil {
		return nil
	}
	return compressionErr(f.fr.Close())
}

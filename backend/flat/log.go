package flat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/annbridge/model"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// The dataset log is a sequence of frames:
//
//	[Type uint8][RawLen uint32][CompLen uint32][CompLen or RawLen bytes]
//
// CompLen == 0 means the payload is stored raw. Add and delete frames
// are LZ4 block compressed (fast, hot path); snapshot frames written by
// Compact are ZSTD compressed (better ratio, cold path). A snapshot
// frame resets replay state, so everything before it is dead weight
// until the rename that Compact performs drops it.
type frameType uint8

const (
	frameAdd      frameType = 1
	frameDelete   frameType = 2
	frameSnapshot frameType = 3
)

const frameHeaderSize = 9

// errTruncatedFrame marks a frame cut short by a crash mid-append.
// Replay treats it as the end of the log; everything before it is
// intact.
var errTruncatedFrame = errors.New("truncated log frame")

// Shared ZSTD coders; both are safe for concurrent use via EncodeAll /
// DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
}

// encodeFrame compresses payload and prepends the frame header.
func encodeFrame(ft frameType, payload []byte) ([]byte, error) {
	var compressed []byte
	switch ft {
	case frameAdd, frameDelete:
		buf := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, buf, nil)
		if err != nil {
			return nil, err
		}
		if n > 0 && float64(n) <= float64(len(payload))*0.9 {
			compressed = buf[:n]
		}
	case frameSnapshot:
		compressed = zstdEncoder.EncodeAll(payload, nil)
		if float64(len(compressed)) > float64(len(payload))*0.9 {
			compressed = nil
		}
	default:
		return nil, fmt.Errorf("unknown frame type %d", ft)
	}

	body := compressed
	if body == nil {
		body = payload
	}
	out := make([]byte, frameHeaderSize+len(body))
	out[0] = byte(ft)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(compressed)))
	copy(out[frameHeaderSize:], body)
	return out, nil
}

// readFrame reads one frame from r. Returns io.EOF cleanly at the end
// of the log and errTruncatedFrame when the log ends mid-frame.
func readFrame(r io.Reader) (frameType, []byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, nil, errTruncatedFrame
		}
		return 0, nil, err
	}
	ft := frameType(header[0])
	rawLen := binary.LittleEndian.Uint32(header[1:])
	compLen := binary.LittleEndian.Uint32(header[5:])

	bodyLen := compLen
	if bodyLen == 0 {
		bodyLen = rawLen
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, errTruncatedFrame
	}
	if compLen == 0 {
		return ft, body, nil
	}

	switch ft {
	case frameAdd, frameDelete:
		raw := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(body, raw)
		if err != nil {
			return 0, nil, err
		}
		if uint32(n) != rawLen {
			return 0, nil, errors.New("frame decompressed size mismatch")
		}
		return ft, raw, nil
	case frameSnapshot:
		raw, err := zstdDecoder.DecodeAll(body, make([]byte, 0, rawLen))
		if err != nil {
			return 0, nil, err
		}
		if uint32(len(raw)) != rawLen {
			return 0, nil, errors.New("frame decompressed size mismatch")
		}
		return ft, raw, nil
	default:
		return 0, nil, fmt.Errorf("unknown frame type %d", ft)
	}
}

// rowBlock is the payload of add and snapshot frames: a run of rows
// with labels, vectors and extra-column values in schema order.
type rowBlock struct {
	labels  []model.Label
	vectors []float32 // flat, len == len(labels)*dim
	cols    map[string][]model.Value
}

func encodeRowBlock(buf *bytes.Buffer, rb rowBlock, dim int, schema model.Schema) {
	putUint64(buf, uint64(len(rb.labels)))
	for _, l := range rb.labels {
		putUint64(buf, uint64(l))
	}
	for _, f := range rb.vectors {
		putUint32(buf, math.Float32bits(f))
	}
	for _, col := range schema {
		values := rb.cols[col.Name]
		for i := range rb.labels {
			var v model.Value
			if i < len(values) {
				v = values[i]
			} else {
				v = model.Null()
			}
			encodeValue(buf, v)
		}
	}
}

func decodeRowBlock(c *cursor, dim int, schema model.Schema) (rowBlock, error) {
	n := int(c.uint64())
	// Each row carries at least an 8-byte label; a count the payload
	// cannot hold is corruption, caught before it sizes an allocation.
	if n < 0 || n > c.remaining()/8 {
		return rowBlock{}, errShortPayload
	}
	rb := rowBlock{
		labels:  make([]model.Label, n),
		vectors: make([]float32, n*dim),
	}
	for i := 0; i < n; i++ {
		rb.labels[i] = model.Label(c.uint64())
	}
	for i := range rb.vectors {
		rb.vectors[i] = math.Float32frombits(c.uint32())
	}
	if len(schema) > 0 {
		rb.cols = make(map[string][]model.Value, len(schema))
		for _, col := range schema {
			values := make([]model.Value, n)
			for i := 0; i < n; i++ {
				values[i] = decodeValue(c)
			}
			rb.cols[col.Name] = values
		}
	}
	return rb, c.err
}

func encodeDeleteBlock(buf *bytes.Buffer, labels []model.Label) {
	putUint64(buf, uint64(len(labels)))
	for _, l := range labels {
		putUint64(buf, uint64(l))
	}
}

func decodeDeleteBlock(c *cursor) ([]model.Label, error) {
	n := int(c.uint64())
	if n < 0 || n > c.remaining()/8 {
		return nil, errShortPayload
	}
	labels := make([]model.Label, n)
	for i := range labels {
		labels[i] = model.Label(c.uint64())
	}
	return labels, c.err
}

// Value wire tags.
const (
	valNull  = 0
	valInt   = 1
	valFloat = 2
	valText  = 3
	valBool  = 4
)

func encodeValue(buf *bytes.Buffer, v model.Value) {
	switch v.Kind {
	case model.KindInt:
		buf.WriteByte(valInt)
		putUint64(buf, uint64(v.I64))
	case model.KindFloat:
		buf.WriteByte(valFloat)
		putUint64(buf, math.Float64bits(v.F64))
	case model.KindString:
		buf.WriteByte(valText)
		putUint32(buf, uint32(len(v.S)))
		buf.WriteString(v.S)
	case model.KindBool:
		buf.WriteByte(valBool)
		if v.B {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	default:
		buf.WriteByte(valNull)
	}
}

func decodeValue(c *cursor) model.Value {
	switch c.byte() {
	case valInt:
		return model.Int(int64(c.uint64()))
	case valFloat:
		return model.Float(math.Float64frombits(c.uint64()))
	case valText:
		n := int(c.uint32())
		return model.String(string(c.bytes(n)))
	case valBool:
		return model.Bool(c.byte() != 0)
	default:
		return model.Null()
	}
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

var errShortPayload = errors.New("short frame payload")

// cursor is a bounds-checked little-endian reader over a decoded frame
// payload. The first out-of-bounds read latches err and zeroes every
// subsequent read.
type cursor struct {
	b   []byte
	off int
	err error
}

func (c *cursor) remaining() int {
	if c.err != nil {
		return 0
	}
	return len(c.b) - c.off
}

func (c *cursor) bytes(n int) []byte {
	if c.err != nil || n < 0 || c.off+n > len(c.b) {
		if c.err == nil {
			c.err = errShortPayload
		}
		// Never let a corrupt length size the zero-fill; the fixed-width
		// readers need at most 8 bytes.
		if n < 0 || n > 8 {
			n = 8
		}
		return make([]byte, n)
	}
	out := c.b[c.off : c.off+n]
	c.off += n
	return out
}

func (c *cursor) byte() byte     { return c.bytes(1)[0] }
func (c *cursor) uint32() uint32 { return binary.LittleEndian.Uint32(c.bytes(4)) }
func (c *cursor) uint64() uint64 { return binary.LittleEndian.Uint64(c.bytes(8)) }

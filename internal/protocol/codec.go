package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/dreamware/depot/internal/cluster"
)

const (
	// Version is the first byte of every message body.
	Version byte = 1

	// DefaultMaxFrameSize bounds a single message unless configured otherwise.
	DefaultMaxFrameSize int64 = 64 << 20

	frameHeaderSize = 4
	bodyHeaderSize  = 2 // version, tag
	tagResponse     = 0x80

	// downloadOverhead is the body size of an ok Download response minus
	// its data: header, "ok" message, flags byte and data length.
	downloadOverhead = bodyHeaderSize + 4 + len(CodeOK) + 1 + 4
)

// Response presence flags.
const (
	hasData byte = 1 << iota
	hasNames
	hasNodes
)

var (
	// ErrProtocol marks malformed wire data. The stream can no longer be
	// trusted once it is returned.
	ErrProtocol = errors.New("protocol error")

	// ErrFrameTooLarge is returned for frames above the configured limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

func protocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// Codec frames and encodes messages. A frame is a big-endian uint32 body
// length followed by the body; inside the body integers are little-endian.
type Codec struct {
	MaxFrameSize int64
}

// NewCodec returns a codec enforcing maxFrameSize, or DefaultMaxFrameSize
// when maxFrameSize is not positive.
func NewCodec(maxFrameSize int64) *Codec {
	if maxFrameSize <= 0 || maxFrameSize > math.MaxUint32 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{MaxFrameSize: maxFrameSize}
}

// MaxFileSize returns the largest file whose Download response still fits
// in a frame of maxFrameSize, normalised the way NewCodec does.
func MaxFileSize(maxFrameSize int64) int64 {
	if maxFrameSize <= 0 || maxFrameSize > math.MaxUint32 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return max(maxFrameSize-int64(downloadOverhead), 0)
}

// ReadFrame reads one frame body. A clean end of stream before the header
// returns io.EOF; a stream ending inside a frame is a protocol error
// wrapping io.ErrUnexpectedEOF.
func (c *Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame header: %w", ErrProtocol, err)
		}
		return nil, err
	}

	size := int64(binary.BigEndian.Uint32(hdr[:]))
	if size > c.MaxFrameSize {
		return nil, fmt.Errorf("%w: %w: %d bytes exceeds %d", ErrProtocol, ErrFrameTooLarge, size, c.MaxFrameSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame body: %w", ErrProtocol, io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return body, nil
}

// writeFrame fills in the header reserved at the front of frame and
// writes it in one call.
func (c *Codec) writeFrame(w io.Writer, frame []byte) error {
	size := int64(len(frame) - frameHeaderSize)
	if size > c.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, size, c.MaxFrameSize)
	}
	binary.BigEndian.PutUint32(frame, uint32(size))
	_, err := w.Write(frame)
	return err
}

// ReadCommand reads and decodes one framed command.
func (c *Codec) ReadCommand(r io.Reader) (Command, error) {
	body, err := c.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeCommand(body)
}

// WriteCommand encodes and writes one framed command.
func (c *Codec) WriteCommand(w io.Writer, cmd Command) error {
	frame, err := appendCommand(make([]byte, frameHeaderSize, frameHeaderSize+commandSizeHint(cmd)), cmd)
	if err != nil {
		return err
	}
	return c.writeFrame(w, frame)
}

// ReadResponse reads and decodes one framed response.
func (c *Codec) ReadResponse(r io.Reader) (Response, error) {
	body, err := c.ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(body)
}

// WriteResponse encodes and writes one framed response.
func (c *Codec) WriteResponse(w io.Writer, resp Response) error {
	frame := appendResponse(make([]byte, frameHeaderSize, frameHeaderSize+64+len(resp.Data)), resp)
	return c.writeFrame(w, frame)
}

// EncodeCommand returns the body encoding of cmd, without framing.
func EncodeCommand(cmd Command) ([]byte, error) {
	return appendCommand(make([]byte, 0, commandSizeHint(cmd)), cmd)
}

func commandSizeHint(cmd Command) int {
	if up, ok := cmd.(Upload); ok {
		return bodyHeaderSize + 8 + len(up.Name) + len(up.Data)
	}
	return 64
}

func appendCommand(b []byte, cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("nil command")
	}
	b = append(b, Version, byte(cmd.Kind()))

	switch c := cmd.(type) {
	case ListFiles, Members:
	case Upload:
		b = appendString(b, c.Name)
		b = appendBytes(b, c.Data)
	case Download:
		b = appendString(b, c.Name)
	case Delete:
		b = appendString(b, c.Name)
	case Search:
		b = appendString(b, c.Substring)
	case Join:
		b = appendString(b, c.NodeID)
		b = appendString(b, c.Addr)
		b = append(b, byte(c.Status))
	case Leave:
		b = appendString(b, c.NodeID)
	default:
		return nil, fmt.Errorf("cannot encode command %T", cmd)
	}
	return b, nil
}

// DecodeCommand parses a command body. Unknown versions or tags, truncated
// fields and trailing bytes are protocol errors.
func DecodeCommand(body []byte) (Command, error) {
	d := decoder{buf: body}
	tag := d.header()

	var cmd Command
	switch Kind(tag) {
	case KindListFiles:
		cmd = ListFiles{}
	case KindUpload:
		cmd = Upload{Name: d.readString(), Data: d.readBytes()}
	case KindDownload:
		cmd = Download{Name: d.readString()}
	case KindDelete:
		cmd = Delete{Name: d.readString()}
	case KindSearch:
		cmd = Search{Substring: d.readString()}
	case KindJoin:
		cmd = Join{NodeID: d.readString(), Addr: d.readString(), Status: d.readStatus()}
	case KindLeave:
		cmd = Leave{NodeID: d.readString()}
	case KindMembers:
		cmd = Members{}
	default:
		if d.err == nil {
			d.fail("unknown command tag 0x%02x", tag)
		}
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// EncodeResponse returns the body encoding of resp, without framing.
func EncodeResponse(resp Response) []byte {
	return appendResponse(make([]byte, 0, 64+len(resp.Data)), resp)
}

func appendResponse(b []byte, resp Response) []byte {
	b = append(b, Version, tagResponse)
	b = appendString(b, resp.Message)

	var flags byte
	if resp.Data != nil {
		flags |= hasData
	}
	if resp.Names != nil {
		flags |= hasNames
	}
	if resp.Nodes != nil {
		flags |= hasNodes
	}
	b = append(b, flags)

	if resp.Data != nil {
		b = appendBytes(b, resp.Data)
	}
	if resp.Names != nil {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(resp.Names)))
		for _, name := range resp.Names {
			b = appendString(b, name)
		}
	}
	if resp.Nodes != nil {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(resp.Nodes)))
		for _, n := range resp.Nodes {
			b = appendString(b, n.ID)
			b = appendString(b, n.Addr)
			b = append(b, byte(n.Status))
			b = binary.LittleEndian.AppendUint64(b, n.Version)
		}
	}
	return b
}

// DecodeResponse parses a response body.
func DecodeResponse(body []byte) (Response, error) {
	d := decoder{buf: body}
	if tag := d.header(); d.err == nil && tag != tagResponse {
		d.fail("unexpected response tag 0x%02x", tag)
	}

	var resp Response
	resp.Message = d.readString()
	flags := d.readByte()
	if flags&^(hasData|hasNames|hasNodes) != 0 {
		d.fail("unknown response flags 0x%02x", flags)
	}

	if flags&hasData != 0 {
		resp.Data = d.readBytes()
	}
	if flags&hasNames != 0 {
		// Every name costs at least its 4 byte length prefix.
		n := d.readCount(4)
		resp.Names = make([]string, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			resp.Names = append(resp.Names, d.readString())
		}
	}
	if flags&hasNodes != 0 {
		n := d.readCount(4 + 4 + 1 + 8)
		resp.Nodes = make([]NodeStatus, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			resp.Nodes = append(resp.Nodes, NodeStatus{
				ID:      d.readString(),
				Addr:    d.readString(),
				Status:  d.readStatus(),
				Version: d.readUint64(),
			})
		}
	}

	if err := d.finish(); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func appendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func appendBytes(b []byte, p []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(p)))
	return append(b, p...)
}

// decoder reads fields from a body and remembers the first failure, so a
// message can be parsed straight through and checked once at the end.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = protocolErrorf(format, args...)
	}
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.remaining() {
		d.fail("truncated field at offset %d: need %d bytes, have %d", d.off, n, d.remaining())
		return nil
	}
	p := d.buf[d.off : d.off+n]
	d.off += n
	return p
}

func (d *decoder) header() byte {
	hdr := d.take(bodyHeaderSize)
	if hdr == nil {
		return 0
	}
	if hdr[0] != Version {
		d.fail("unsupported version %d", hdr[0])
		return 0
	}
	return hdr[1]
}

func (d *decoder) readByte() byte {
	p := d.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (d *decoder) readUint32() uint32 {
	p := d.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (d *decoder) readUint64() uint64 {
	p := d.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (d *decoder) readBytes() []byte {
	n := d.readUint32()
	p := d.take(int(n))
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

func (d *decoder) readString() string {
	n := d.readUint32()
	return string(d.take(int(n)))
}

func (d *decoder) readStatus() cluster.Status {
	s := cluster.Status(d.readByte())
	if s > cluster.Inactive {
		d.fail("unknown node status %d", s)
		return cluster.Unknown
	}
	return s
}

// count reads an element count and rejects counts the remaining bytes
// cannot possibly hold, before anything is allocated for them.
func (d *decoder) readCount(minElemSize int) int {
	n := int(d.readUint32())
	if d.err != nil {
		return 0
	}
	if n > d.remaining()/minElemSize {
		d.fail("element count %d exceeds remaining %d bytes", n, d.remaining())
		return 0
	}
	return n
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return protocolErrorf("%d trailing bytes", len(d.buf)-d.off)
	}
	return nil
}

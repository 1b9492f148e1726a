package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrState is returned when Conn methods are called out of order.
var ErrState = errors.New("connection in wrong state")

// State is the position of a server connection in its request cycle.
type State int

const (
	AwaitingCommand State = iota
	CommandReceived
	ResponseSent
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingCommand:
		return "awaiting_command"
	case CommandReceived:
		return "command_received"
	case ResponseSent:
		return "response_sent"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Conn drives the server side of one connection:
//
//	AwaitingCommand -> CommandReceived -> ResponseSent -> AwaitingCommand
//	                                                   \-> Closed
//
// A command is always read whole before its response is written. A Conn
// is used by a single goroutine.
type Conn struct {
	rwc   io.ReadWriteCloser
	r     *bufio.Reader
	codec *Codec
	state State
}

// NewConn wraps rwc. A nil codec uses DefaultMaxFrameSize.
func NewConn(rwc io.ReadWriteCloser, codec *Codec) *Conn {
	if codec == nil {
		codec = NewCodec(0)
	}
	return &Conn{
		rwc:   rwc,
		r:     bufio.NewReader(rwc),
		codec: codec,
		state: AwaitingCommand,
	}
}

// State returns the current state.
func (c *Conn) State() State { return c.state }

// Next reads the next command.
//
// io.EOF means the peer closed cleanly between commands. On a protocol
// error a best-effort protocol_error response is sent before the
// connection closes, and the decode error is returned. Any other read
// error closes the connection without a reply.
func (c *Conn) Next() (Command, error) {
	if c.state != AwaitingCommand && c.state != ResponseSent {
		return nil, fmt.Errorf("%w: next in %s", ErrState, c.state)
	}

	cmd, err := c.codec.ReadCommand(c.r)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			_ = c.codec.WriteResponse(c.rwc, Failure(CodeProtocolError, detail(err)))
		}
		c.Close()
		return nil, err
	}

	c.state = CommandReceived
	return cmd, nil
}

// Reply writes the response to the command returned by Next.
//
// A response too large for the frame limit is replaced by an
// invalid_request failure so the peer still gets exactly one answer.
// Nothing has been written at that point, so the connection stays usable.
func (c *Conn) Reply(resp Response) error {
	if c.state != CommandReceived {
		return fmt.Errorf("%w: reply in %s", ErrState, c.state)
	}
	err := c.codec.WriteResponse(c.rwc, resp)
	if errors.Is(err, ErrFrameTooLarge) {
		err = c.codec.WriteResponse(c.rwc, Failure(CodeInvalidRequest, "response exceeds frame limit"))
	}
	if err != nil {
		c.Close()
		return err
	}
	c.state = ResponseSent
	return nil
}

// Close closes the underlying stream. It is safe to call more than once.
func (c *Conn) Close() error {
	if c.state == Closed {
		return nil
	}
	c.state = Closed
	return c.rwc.Close()
}

// detail strips the sentinel prefix so the reply reads
// "protocol_error: unknown command tag 0x7f" rather than repeating it.
func detail(err error) string {
	return strings.TrimPrefix(err.Error(), ErrProtocol.Error()+": ")
}

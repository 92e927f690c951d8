package wsengine

import (
	"errors"
)

// FatalError marks an error after which the connection is unusable and has been closed.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func IsFatalErr(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe)
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	if IsFatalErr(err) {
		return err
	}
	return &FatalError{Err: err}
}

// DecodeError is returned by the Decoder for malformed or disallowed input.
// WebSocket framing cannot resynchronize, so every DecodeError is terminal.
type DecodeError struct {
	Err  error
	Code uint16
}

func (e *DecodeError) Error() string {
	return "wsengine: decode: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CloseCode is the status code to send to the peer before dropping the connection.
func (e *DecodeError) CloseCode() uint16 {
	return e.Code
}

// EncodeError is returned by the Encoder when it cannot make progress.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return "wsengine: encode: " + e.Err.Error()
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

func (e *EncodeError) CloseCode() uint16 {
	return CloseInternalServerErr
}

// CompressionError wraps a failure of the underlying deflate/inflate primitive.
type CompressionError struct {
	Err error
}

func (e *CompressionError) Error() string {
	return "wsengine: compression: " + e.Err.Error()
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

func (e *CompressionError) CloseCode() uint16 {
	return CloseInvalidFramePayloadData
}

// NegotiationError reports an extension offer or response that could not be used.
// Param is the offending parameter, if any.
type NegotiationError struct {
	Param string
	Err   error
}

func (e *NegotiationError) Error() string {
	if e.Param == "" {
		return "wsengine: negotiation: " + e.Err.Error()
	}
	return "wsengine: negotiation: " + e.Param + ": " + e.Err.Error()
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func decodeErr(err error, code uint16) error {
	return &DecodeError{Err: err, Code: code}
}

func protocolErr(err error) error {
	return &DecodeError{Err: err, Code: CloseProtocolError}
}

func encodeErr(err error) error {
	return &EncodeError{Err: err}
}

func compressionErr(err error) error {
	if err == nil {
		return nil
	}
	return &CompressionError{Err: err}
}

// closeCodeFor returns the close code matching an engine error,
// or CloseInternalServerErr for anything else.
func closeCodeFor(err error) uint16 {
	var coded interface{ CloseCode() uint16 }
	if errors.As(err, &coded) {
		return coded.CloseCode()
	}
	return CloseInternalServerErr
}

var (
	// frame level
	ErrInvalidOPCODE          = errors.New("invalid OPCODE")
	ErrUnnegotiatedRsvBits    = errors.New("non-zero reserved bits set without negotiated extension")
	ErrNonMinimalLength       = errors.New("payload length is not minimally encoded")
	ErrLengthOverflow         = errors.New("64-bit payload length has the most significant bit set")
	ErrInvalidControlFrame    = errors.New("invalid control frame")
	ErrExpectedMaskedFrame    = errors.New("received unmasked frame, all frames from the client must be masked")
	ErrUnexpectedMaskedFrame  = errors.New("received masked frame, frames from the server must not be masked")
	ErrFrameTooLarge          = errors.New("frame payload length too large")
	ErrMessageTooLarge        = errors.New("message too large")
	ErrExpectedContinuation   = errors.New("invalid frame sequence: expected continuation")
	ErrUnexpectedContinuation = errors.New("invalid frame sequence: continuation without a message in progress")
	ErrTruncated              = errors.New("stream ended in the middle of a frame")
	ErrInvalidUTF8            = errors.New("invalid utf8 data")
	ErrInvalidCloseCode       = errors.New("invalid close code")
	ErrInvalidClosePayload    = errors.New("close payload must be empty or at least 2 bytes")

	// encoder
	ErrShortBuffer       = errors.New("output region too small to make progress")
	ErrEncoderDone       = errors.New("nothing queued to encode")
	ErrWriteInProgress   = errors.New("previous write not fully encoded")
	ErrMessageInFlight   = errors.New("a data message is in progress, expected continuation")
	ErrNoMessageInFlight = errors.New("continuation written without a message in progress")
	ErrControlTooLong    = errors.New("control frame payload longer than 125 bytes")
	ErrFragmentedControl = errors.New("control frames cannot be fragmented")

	// negotiation
	ErrUnknownParameter     = errors.New("unknown extension parameter")
	ErrInvalidParameter     = errors.New("malformed extension parameter value")
	ErrDuplicateParameter   = errors.New("duplicate extension parameter")
	ErrMalformedHeader      = errors.New("malformed Sec-WebSocket-Extensions header")
	ErrMultipleExtensions   = errors.New("permessage-deflate accepted more than once")
	ErrUnsolicitedExtension = errors.New("extension was not offered")

	// handshake and connection
	ErrWrongMethod             = errors.New("wrong method, the request method must be GET")
	ErrMissingUpgradeHeader    = errors.New("missing Upgrade header")
	ErrInvalidUpgradeHeader    = errors.New("invalid Upgrade header")
	ErrMissingConnectionHeader = errors.New("missing connection header")
	ErrInvalidConnectionHeader = errors.New("invalid connection header")
	ErrMissingVersionHeader    = errors.New("missing version header")
	ErrInvalidVersionHeader    = errors.New("invalid version header")
	ErrMissingSecKey           = errors.New("missing Sec-WebSocket-Key header")
	ErrInvalidSecKey           = errors.New("invalid Sec-WebSocket-Key header")
	ErrInvalidSecAccept        = errors.New("invalid Sec-WebSocket-Accept header")
	ErrBadHandshakeStatus      = errors.New("server did not switch protocols")
	ErrUnsupportedSubProtocols = errors.New("unsupported Sec-WebSocket-Protocol")
	ErrConnClosed              = errors.New("connection is closed")
	ErrRateLimited             = errors.New("rate limited")
	ErrWriterClosed            = errors.New("writer is closed")
	// ErrMessageTypeMismatch is returned when the received WebSocket message type
	// does not match the expected type (e.g., expecting text but received binary).
	ErrMessageTypeMismatch = errors.New("websocket message type did not match expected type")
)

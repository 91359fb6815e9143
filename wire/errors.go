package wire

import "i2csim/errcode"

// Code is the kernel's error-code type, an alias of errcode.Code so that
// callers above the kernel can use a single Of function across packages.
type Code = errcode.Code

// Canonical codes. All three are programmer-bug signals: the kernel never
// fails for any other reason.
const (
	// AlreadyAttached is returned by AttachHandle when the handle is
	// already a client.
	AlreadyAttached Code = "already_attached"
	// NotAttached is returned by Detach, Get or Set for an unknown handle.
	NotAttached Code = "not_attached"
	// ProtocolViolation is returned by Detach when the node still holds an
	// open low-drive on a line.
	ProtocolViolation Code = "protocol_violation"
)

// Of extracts a Code from any error, matching errcode.Of.
func Of(err error) Code {
	return errcode.Of(err)
}

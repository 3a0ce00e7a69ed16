package mcpcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// Message markers that separate transport failures from logical errors.
// ioMessageMarkers applies to the I/O error family and its verdict is
// final either way; genericMessageMarkers is the catch-all pass.
var (
	ioMessageMarkers      = []string{"connection", "closed", "reset", "broken", "read timeout"}
	genericMessageMarkers = []string{"timeout", "timed out", "connection", "closed", "read timeout"}
	typeNameMarkers       = []string{"Timeout", "Connection", "Closed"}
)

// IsConnectionError reports whether err looks like a transport-level
// failure worth recycling the connection for, as opposed to a logical
// error returned by a healthy server. The checks run in a fixed order:
// timeouts, type names carrying a read-timeout signature, the I/O error
// family (whose message verdict is final), remaining type names, then
// the generic message table. This is a best-effort heuristic over
// heterogeneous transport errors, not a closed taxonomy.
//
// Cancellation is deliberately not matched: a caller abandoning a
// request says nothing about connection health.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if typeChainContains(err, "ReadTimeout") {
		return true
	}
	if verdict, matched := ioErrorVerdict(err); matched {
		return verdict
	}
	if typeChainContains(err, typeNameMarkers...) {
		return true
	}
	return messageContains(err, genericMessageMarkers)
}

// ioErrorVerdict classifies the I/O error family. The message-less
// sentinels are connection-related outright; wrapped syscall and network
// op errors answer from the I/O message table, and that answer is final
// (matched=true) whichever way it goes.
func ioErrorVerdict(err error) (verdict, matched bool) {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed):
		return true, true
	}
	var (
		opErr  *net.OpError
		sysErr *os.SyscallError
		errno  syscall.Errno
	)
	if errors.As(err, &opErr) || errors.As(err, &sysErr) || errors.As(err, &errno) {
		return messageContains(err, ioMessageMarkers), true
	}
	return false, false
}

// typeChainContains walks the unwrap chain and reports whether any
// error's concrete type name contains one of the markers.
func typeChainContains(err error, markers ...string) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		name := fmt.Sprintf("%T", e)
		for _, marker := range markers {
			if strings.Contains(name, marker) {
				return true
			}
		}
	}
	return false
}

func messageContains(err error, markers []string) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

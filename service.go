package adb

import "fmt"

// Service name helpers build the service strings that Stream.open sends as
// an OPEN frame's payload. They return the string without a trailing NUL;
// Stream.open appends it when building the frame. Building the string is
// transport-layer work (what Stream.open needs to send); interpreting
// whatever bytes the device streams back for a given service remains out
// of scope, per spec §1.

// ServiceShell builds the service string for an interactive or one-shot
// shell command. An empty cmd opens an interactive shell.
func ServiceShell(cmd string) []byte {
	if cmd == "" {
		return []byte("shell:")
	}
	return []byte(fmt.Sprintf("shell:%s", cmd))
}

// ServiceSync builds the service string for the file-sync service. The
// sync wire sub-protocol carried over the resulting stream is out of scope
// for this module.
func ServiceSync() []byte {
	return []byte("sync:")
}

// ServiceTCP builds the service string to forward a TCP port on the
// device.
func ServiceTCP(port int) []byte {
	return []byte(fmt.Sprintf("tcp:%d", port))
}

// ServiceReverse builds the service string for a reverse port forward
// request (host port forwarded from the device back to the host).
func ServiceReverse(destination string) []byte {
	return []byte(fmt.Sprintf("reverse:%s", destination))
}

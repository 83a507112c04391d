package vision

import (
	"fmt"
	"net"
)

// pickFreePort asks the OS for an ephemeral loopback port and releases it.
// Another process may grab the port before the server binds it; the
// launcher detects that from the server output and retries.
func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("pick free port: %w", err)
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected addr: %s", l.Addr())
	}
	return addr.Port, nil
}

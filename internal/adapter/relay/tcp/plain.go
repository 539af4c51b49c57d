package tcp

import (
	"io"
)

// runRelay bridges local and remote bidirectionally until either side closes
// or errors. When an observer is attached, both conns arrive wrapped in
// countConn so byte counting works, which means the kernel-level splice path
// (net.TCPConn.ReadFrom would otherwise qualify for it) isn't reachable for
// them: attributing bytes to
// an observer requires bytes to actually pass through Go, same trade-off the
// teacher's relay makes whenever it falls back from the zero-copy path.
func runRelay(local, remote io.ReadWriteCloser) error {
	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(remote, local)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(local, remote)
		errCh <- err
	}()

	// the relay ends as soon as either direction returns; we don't wait for
	// both because a half-closed TCP connection (one side done writing, the
	// other still reading) is a normal, not exceptional, end state.
	err := <-errCh
	_ = local.Close()
	_ = remote.Close()
	return err
}

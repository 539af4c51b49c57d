package tcp

import (
	"net"
	"testing"
	"time"
)

func TestAcceptProxyHeaderRejectsMalformed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("NOT A PROXY HEADER\r\n"))
	}()

	if _, err := acceptProxyHeader(server, time.Second); err == nil {
		t.Fatal("expected malformed header to be rejected")
	}
}

func TestAcceptProxyHeaderConsumesV1AndPreservesBody(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("PROXY TCP4 10.0.0.1 10.0.0.2 1234 443\r\nhello"))
	}()

	wrapped, err := acceptProxyHeader(server, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer wrapped.Close()

	buf := make([]byte, 5)
	n, err := wrapped.Read(buf)
	if err != nil {
		t.Fatalf("read after header: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected leftover body %q, got %q", "hello", string(buf[:n]))
	}
}

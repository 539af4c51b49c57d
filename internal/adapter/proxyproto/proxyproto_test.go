package proxyproto

import (
	"bufio"
	"io"
	"net"
	"testing"
)

func TestReadV1Header(t *testing.T) {
	br := bufio.NewReader(strReader("PROXY TCP4 192.168.1.1 192.168.1.2 56324 443\r\nGET / HTTP/1.1\r\n"))
	h, err := readV1(br)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.SrcPort != 56324 || h.DstPort != 443 {
		t.Fatalf("unexpected ports: %+v", h)
	}
	if !h.SrcIP.Equal(net.ParseIP("192.168.1.1")) {
		t.Fatalf("unexpected src ip: %v", h.SrcIP)
	}
}

func TestReadV1Header_Unknown(t *testing.T) {
	br := bufio.NewReader(strReader("PROXY UNKNOWN\r\n"))
	h, err := readV1(br)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.SrcIP != nil {
		t.Fatalf("expected no src ip for UNKNOWN, got %v", h.SrcIP)
	}
}

type strReaderT struct {
	s string
	i int
}

func strReader(s string) *strReaderT { return &strReaderT{s: s} }

func (r *strReaderT) Read(p []byte) (int, error) {
	if r.i >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.i:])
	r.i += n
	return n, nil
}

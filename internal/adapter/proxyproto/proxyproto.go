// Package proxyproto implements the PROXY protocol (v1 text and v2 binary)
// on both the accept and connect sides of a relayed TCP connection, filling
// in a feature the spec only described as a hook point. Grounded on the
// wire format realm_core::tcp::proxy is built against.
package proxyproto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

var v2Signature = [12]byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

// Header carries the original client/proxy endpoints as reported by a
// PROXY protocol handshake.
type Header struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
}

// ReadHeader parses a PROXY protocol v1 or v2 header from conn within timeout.
// It auto-detects the version from the first bytes on the wire.
func ReadHeader(conn net.Conn, timeout time.Duration) (*Header, *bufio.Reader, error) {
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}
	br := bufio.NewReader(conn)

	peek, err := br.Peek(12)
	if err == nil && string(peek) == string(v2Signature[:]) {
		h, err := readV2(br)
		return h, br, err
	}

	h, err := readV1(br)
	return h, br, err
}

func readV1(br *bufio.Reader) (*Header, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "PROXY" {
		return nil, fmt.Errorf("not a PROXY v1 header")
	}
	if fields[1] == "UNKNOWN" {
		return &Header{}, nil
	}
	if len(fields) != 6 {
		return nil, fmt.Errorf("malformed PROXY v1 header: %q", line)
	}
	srcIP := net.ParseIP(fields[2])
	dstIP := net.ParseIP(fields[3])
	srcPort, err := strconv.ParseUint(fields[4], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid source port: %w", err)
	}
	dstPort, err := strconv.ParseUint(fields[5], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid destination port: %w", err)
	}
	return &Header{SrcIP: srcIP, DstIP: dstIP, SrcPort: uint16(srcPort), DstPort: uint16(dstPort)}, nil
}

func readV2(br *bufio.Reader) (*Header, error) {
	sig := make([]byte, 12)
	if _, err := readFull(br, sig); err != nil {
		return nil, err
	}
	verCmd, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	if verCmd>>4 != 2 {
		return nil, fmt.Errorf("unsupported PROXY protocol version %d", verCmd>>4)
	}
	cmd := verCmd & 0x0F

	famProto, err := br.ReadByte()
	if err != nil {
		return nil, err
	}

	var lenBuf [2]byte
	if _, err := readFull(br, lenBuf[:]); err != nil {
		return nil, err
	}
	addrLen := binary.BigEndian.Uint16(lenBuf[:])

	body := make([]byte, addrLen)
	if _, err := readFull(br, body); err != nil {
		return nil, err
	}

	if cmd == 0 {
		// LOCAL command: connection was made by the proxy itself, no
		// original-endpoint information is carried.
		return &Header{}, nil
	}

	switch famProto >> 4 {
	case 1: // AF_INET
		if len(body) < 12 {
			return nil, fmt.Errorf("short PROXY v2 IPv4 body")
		}
		return &Header{
			SrcIP:   net.IP(body[0:4]),
			DstIP:   net.IP(body[4:8]),
			SrcPort: binary.BigEndian.Uint16(body[8:10]),
			DstPort: binary.BigEndian.Uint16(body[10:12]),
		}, nil
	case 2: // AF_INET6
		if len(body) < 36 {
			return nil, fmt.Errorf("short PROXY v2 IPv6 body")
		}
		return &Header{
			SrcIP:   net.IP(body[0:16]),
			DstIP:   net.IP(body[16:32]),
			SrcPort: binary.BigEndian.Uint16(body[32:34]),
			DstPort: binary.BigEndian.Uint16(body[34:36]),
		}, nil
	default:
		return &Header{}, nil
	}
}

func readFull(br *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := br.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteHeader emits a PROXY protocol header of the requested version to conn,
// describing a connection from src to dst.
func WriteHeader(conn net.Conn, version int, src, dst *net.TCPAddr) error {
	if version == 2 {
		return writeV2(conn, src, dst)
	}
	return writeV1(conn, src, dst)
}

func writeV1(conn net.Conn, src, dst *net.TCPAddr) error {
	proto := "TCP4"
	if src.IP.To4() == nil {
		proto = "TCP6"
	}
	line := fmt.Sprintf("PROXY %s %s %s %d %d\r\n", proto, src.IP.String(), dst.IP.String(), src.Port, dst.Port)
	_, err := conn.Write([]byte(line))
	return err
}

func writeV2(conn net.Conn, src, dst *net.TCPAddr) error {
	buf := make([]byte, 0, 16+36)
	buf = append(buf, v2Signature[:]...)
	buf = append(buf, 0x21) // version 2, command PROXY

	var body []byte
	if v4 := src.IP.To4(); v4 != nil {
		buf = append(buf, 0x11) // AF_INET | STREAM
		body = append(body, v4...)
		body = append(body, dst.IP.To4()...)
		var ports [4]byte
		binary.BigEndian.PutUint16(ports[0:2], uint16(src.Port))
		binary.BigEndian.PutUint16(ports[2:4], uint16(dst.Port))
		body = append(body, ports[:]...)
	} else {
		buf = append(buf, 0x21) // AF_INET6 | STREAM
		body = append(body, src.IP.To16()...)
		body = append(body, dst.IP.To16()...)
		var ports [4]byte
		binary.BigEndian.PutUint16(ports[0:2], uint16(src.Port))
		binary.BigEndian.PutUint16(ports[2:4], uint16(dst.Port))
		body = append(body, ports[:]...)
	}

	var lenField [2]byte
	binary.BigEndian.PutUint16(lenField[:], uint16(len(body)))
	buf = append(buf, lenField[:]...)
	buf = append(buf, body...)

	_, err := conn.Write(buf)
	return err
}

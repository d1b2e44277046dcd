package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// formatHostPort encodes an IPv4 address and port in the comma-separated
// form shared by PORT and PASV: four address octets followed by the port in
// big-endian order (high byte first).
func formatHostPort(ip net.IP, port int) string {
	v4 := ip.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d",
		v4[0], v4[1], v4[2], v4[3], port>>8, port&0xff)
}

// parseHostPort decodes the six comma-separated decimal octets of a PORT
// argument (or PASV reply body) back into an address and port.
func parseHostPort(arg string) (net.IP, int, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return nil, 0, fmt.Errorf("expected 6 octets, got %d", len(parts))
	}

	octets := make([]byte, 6)
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 255 {
			return nil, 0, fmt.Errorf("invalid octet %q", part)
		}
		octets[i] = byte(n)
	}

	ip := net.IPv4(octets[0], octets[1], octets[2], octets[3])
	port := int(octets[4])<<8 | int(octets[5])
	return ip, port, nil
}

// pasvReplyText builds the complete 227 reply line (without CRLF) advertising
// a passive listener.
func pasvReplyText(ip net.IP, port int) string {
	return fmt.Sprintf("227 Entering passive mode (%s)", formatHostPort(ip, port))
}

// parseExtendedAddress decodes an EPRT argument. The delimiter is whatever
// character the client put first, per RFC 2428; it must not be hardcoded.
// The protocol field is 1 for IPv4 and 2 for IPv6 and has to match the
// address family of the address itself.
func parseExtendedAddress(arg string) (net.IP, int, error) {
	if len(arg) < 5 {
		return nil, 0, fmt.Errorf("argument too short")
	}
	delim := string(arg[0])
	parts := strings.Split(arg, delim)
	// "<d>af<d>addr<d>port<d>" splits into ["", af, addr, port, ""].
	if len(parts) != 5 || parts[0] != "" || parts[4] != "" {
		return nil, 0, fmt.Errorf("malformed argument %q", arg)
	}

	proto, addr, portStr := parts[1], parts[2], parts[3]

	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, 0, fmt.Errorf("invalid address %q", addr)
	}
	switch proto {
	case "1":
		if ip.To4() == nil {
			return nil, 0, fmt.Errorf("address %q is not IPv4", addr)
		}
	case "2":
		if ip.To4() != nil || ip.To16() == nil {
			return nil, 0, fmt.Errorf("address %q is not IPv6", addr)
		}
	default:
		return nil, 0, fmt.Errorf("unknown protocol %q", proto)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, 0, fmt.Errorf("invalid port %q", portStr)
	}

	return ip, port, nil
}

package sip

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

const Version = "SIP/2.0"

// Message is one parsed SIP request or response. Header names are folded to
// lower case; repeated headers keep arrival order.
type Message struct {
	Raw        string
	StartLine  string
	Method     string
	URI        string
	IsResponse bool
	StatusCode int
	Reason     string
	Headers    map[string][]string
	Body       string
}

func (m *Message) Header(name string) string {
	if m == nil {
		return ""
	}
	values := m.Headers[strings.ToLower(strings.TrimSpace(name))]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func Parse(raw string) (*Message, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty sip message")
	}
	headerPart := raw
	bodyPart := ""
	if idx := strings.Index(raw, "\r\n\r\n"); idx >= 0 {
		headerPart = raw[:idx]
		bodyPart = raw[idx+4:]
	} else if idx := strings.Index(raw, "\n\n"); idx >= 0 {
		headerPart = raw[:idx]
		bodyPart = raw[idx+2:]
	}
	lines := splitLines(headerPart)
	if len(lines) == 0 {
		return nil, errors.New("invalid sip message")
	}
	msg := &Message{
		Raw:       raw,
		StartLine: strings.TrimSpace(lines[0]),
		Headers:   make(map[string][]string),
		Body:      strings.TrimSpace(bodyPart),
	}
	first := strings.TrimSpace(lines[0])
	if strings.HasPrefix(strings.ToUpper(first), Version) {
		msg.IsResponse = true
		parts := strings.Fields(first)
		if len(parts) >= 2 {
			msg.StatusCode, _ = strconv.Atoi(parts[1])
		}
		if len(parts) >= 3 {
			msg.Reason = strings.Join(parts[2:], " ")
		}
	} else {
		parts := strings.Fields(first)
		if len(parts) < 3 {
			return nil, errors.New("invalid sip request line")
		}
		msg.Method = strings.ToUpper(strings.TrimSpace(parts[0]))
		msg.URI = strings.TrimSpace(parts[1])
	}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		msg.Headers[key] = append(msg.Headers[key], value)
	}
	if msg.URI == "" && !msg.IsResponse {
		if to := msg.Header("To"); to != "" {
			if idx := strings.Index(strings.ToLower(to), "sip:"); idx >= 0 {
				msg.URI = strings.TrimSpace(to[idx:])
				if end := strings.IndexAny(msg.URI, ">;"); end > 0 {
					msg.URI = msg.URI[:end]
				}
			}
		}
	}
	return msg, nil
}

// BuildResponse answers an inbound request, echoing the dialog headers. The
// To header gains a tag when the request carried none.
func BuildResponse(req *Message, statusCode int, reason string, extraHeaders map[string]string, body string) string {
	lines := make([]string, 0, 20)
	lines = append(lines, fmt.Sprintf("%s %d %s", Version, statusCode, reason))
	appendHeader := func(key string, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		lines = append(lines, key+": "+value)
	}
	appendHeader("Via", req.Header("Via"))
	appendHeader("From", req.Header("From"))
	appendHeader("To", EnsureTag(req.Header("To")))
	appendHeader("Call-ID", req.Header("Call-ID"))
	appendHeader("CSeq", req.Header("CSeq"))
	for key, value := range extraHeaders {
		appendHeader(key, value)
	}
	appendHeader("Content-Length", strconv.Itoa(len([]byte(body))))
	lines = append(lines, "", body)
	return strings.Join(lines, "\r\n")
}

func BuildRequest(method string, uri string, headers map[string]string, body string) string {
	lines := make([]string, 0, len(headers)+8)
	lines = append(lines, fmt.Sprintf("%s %s %s", strings.ToUpper(strings.TrimSpace(method)), strings.TrimSpace(uri), Version))
	for _, key := range []string{"Via", "From", "To", "Call-ID", "CSeq"} {
		if _, ok := headers[key]; !ok {
			headers[key] = ""
		}
	}
	for key, value := range headers {
		if strings.TrimSpace(value) == "" {
			continue
		}
		lines = append(lines, key+": "+value)
	}
	lines = append(lines, "Content-Length: "+strconv.Itoa(len([]byte(body))))
	lines = append(lines, "", body)
	return strings.Join(lines, "\r\n")
}

// ReadPacket frames one SIP message off a TCP stream using Content-Length.
func ReadPacket(reader *bufio.Reader) (string, error) {
	headers := make([]string, 0, 24)
	contentLength := 0
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		headers = append(headers, trimmed)
		if strings.TrimSpace(trimmed) == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(trimmed), "content-length:") {
			value := strings.TrimSpace(trimmed[len("content-length:"):])
			contentLength, _ = strconv.Atoi(value)
			if contentLength < 0 {
				contentLength = 0
			}
		}
	}
	body := ""
	if contentLength > 0 {
		buffer := make([]byte, contentLength)
		if _, err := io.ReadFull(reader, buffer); err != nil {
			return "", err
		}
		body = string(buffer)
	}
	return strings.Join(headers, "\r\n") + body, nil
}

func EnsureTag(toHeader string) string {
	toHeader = strings.TrimSpace(toHeader)
	if toHeader == "" {
		return toHeader
	}
	if strings.Contains(strings.ToLower(toHeader), ";tag=") {
		return toHeader
	}
	return toHeader + ";tag=" + GenerateToken(8)
}

// ExtractUser pulls the user part out of a sip: URI embedded in a header.
func ExtractUser(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	lower := strings.ToLower(header)
	idx := strings.Index(lower, "sip:")
	if idx < 0 {
		return ""
	}
	value := header[idx+4:]
	end := len(value)
	for _, sep := range []string{"@", ";", ">", " "} {
		if p := strings.Index(value, sep); p >= 0 && p < end {
			end = p
		}
	}
	if end <= 0 {
		return ""
	}
	return strings.TrimSpace(value[:end])
}

// ExtractTag returns the tag parameter of a From/To header, empty if absent.
func ExtractTag(header string) string {
	lower := strings.ToLower(header)
	idx := strings.Index(lower, ";tag=")
	if idx < 0 {
		return ""
	}
	value := header[idx+len(";tag="):]
	if end := strings.IndexAny(value, ";> "); end >= 0 {
		value = value[:end]
	}
	return strings.TrimSpace(value)
}

func ParseExpires(header string, contact string, fallback int) int {
	if fallback <= 0 {
		fallback = 3600
	}
	if value, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if value >= 0 {
			return value
		}
	}
	lower := strings.ToLower(contact)
	idx := strings.Index(lower, "expires=")
	if idx >= 0 {
		raw := contact[idx+len("expires="):]
		end := len(raw)
		for _, sep := range []string{";", ">", ","} {
			if p := strings.Index(raw, sep); p >= 0 && p < end {
				end = p
			}
		}
		if value, err := strconv.Atoi(strings.TrimSpace(raw[:end])); err == nil && value >= 0 {
			return value
		}
	}
	return fallback
}

func ParseCSeqNumber(raw string) int {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) == 0 {
		return 0
	}
	value, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0
	}
	return value
}

func ParseDigestAuthorization(header string) map[string]string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	result := make(map[string]string)
	lower := strings.ToLower(header)
	if strings.HasPrefix(lower, "digest ") {
		header = strings.TrimSpace(header[len("digest "):])
	}
	for _, part := range strings.Split(header, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		idx := strings.Index(token, "=")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(token[:idx]))
		value := strings.Trim(strings.TrimSpace(token[idx+1:]), `"`)
		result[key] = value
	}
	return result
}

// ParseSDPInfo extracts the connection address, video port and y= ssrc line
// from an SDP body.
func ParseSDPInfo(sdp string) (mediaIP string, mediaPort int, ssrc string) {
	for _, raw := range splitLines(strings.TrimSpace(sdp)) {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "c=") {
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				mediaIP = strings.TrimSpace(fields[2])
			}
			continue
		}
		if strings.HasPrefix(lower, "m=video ") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				mediaPort, _ = strconv.Atoi(strings.TrimSpace(fields[1]))
			}
			continue
		}
		if strings.HasPrefix(lower, "y=") {
			ssrc = strings.TrimSpace(line[2:])
		}
	}
	return mediaIP, mediaPort, ssrc
}

func GenerateToken(bytesLen int) string {
	if bytesLen <= 0 {
		bytesLen = 16
	}
	bytes := make([]byte, bytesLen)
	if _, err := rand.Read(bytes); err != nil {
		return hex.EncodeToString([]byte(strconv.Itoa(bytesLen)))
	}
	return hex.EncodeToString(bytes)
}

func GenerateNumericToken(length int) string {
	if length <= 0 {
		length = 10
	}
	raw := GenerateToken(length)
	digits := make([]byte, 0, length)
	for i := 0; i < len(raw) && len(digits) < length; i++ {
		ch := raw[i]
		if ch >= '0' && ch <= '9' {
			digits = append(digits, ch)
			continue
		}
		if ch >= 'a' && ch <= 'f' {
			digits = append(digits, byte('0'+(ch-'a')%10))
		}
	}
	for len(digits) < length {
		digits = append(digits, '0')
	}
	return string(digits)
}

func NormalizeRemoteAddr(addr string, defaultPort int) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	if defaultPort <= 0 {
		defaultPort = 5060
	}
	return net.JoinHostPort(addr, strconv.Itoa(defaultPort))
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	chunks := strings.Split(raw, "\n")
	lines := make([]string, 0, len(chunks))
	for _, line := range chunks {
		lines = append(lines, strings.TrimRight(line, "\x00"))
	}
	return lines
}

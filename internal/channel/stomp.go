// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package channel

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// STOMP 1.2 commands used by the channel.
const (
	cmdConnect     = "CONNECT"
	cmdConnected   = "CONNECTED"
	cmdSubscribe   = "SUBSCRIBE"
	cmdUnsubscribe = "UNSUBSCRIBE"
	cmdDisconnect  = "DISCONNECT"
	cmdMessage     = "MESSAGE"
	cmdReceipt     = "RECEIPT"
	cmdError       = "ERROR"
)

var errEmptyFrame = errors.New("stomp: empty frame")

// frame is one STOMP frame. Header order is kept for writing; on read the
// first occurrence of a repeated header wins.
type frame struct {
	command string
	headers [][2]string
	body    []byte
}

func newFrame(command string, kv ...string) *frame {
	f := &frame{command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.headers = append(f.headers, [2]string{kv[i], kv[i+1]})
	}
	return f
}

func (f *frame) header(name string) string {
	for _, h := range f.headers {
		if h[0] == name {
			return h[1]
		}
	}
	return ""
}

// marshal encodes f. CONNECT headers are not escaped, as required by the
// protocol; every other frame escapes header names and values.
func (f *frame) marshal() []byte {
	var b bytes.Buffer
	b.WriteString(f.command)
	b.WriteByte('\n')
	for _, h := range f.headers {
		if f.command == cmdConnect {
			b.WriteString(h[0])
			b.WriteByte(':')
			b.WriteString(h[1])
		} else {
			b.WriteString(escapeHeader(h[0]))
			b.WriteByte(':')
			b.WriteString(escapeHeader(h[1]))
		}
		b.WriteByte('\n')
	}
	if len(f.body) > 0 {
		b.WriteString("content-length:")
		b.WriteString(strconv.Itoa(len(f.body)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.body)
	b.WriteByte(0)
	return b.Bytes()
}

// isHeartbeat reports whether a websocket message is only EOLs.
func isHeartbeat(data []byte) bool {
	return len(bytes.Trim(data, "\r\n")) == 0
}

// parseFrame decodes one STOMP frame from a websocket message.
func parseFrame(data []byte) (*frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, errEmptyFrame
	}

	headEnd := bytes.Index(data, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (headEnd < 0 || crlf < headEnd) {
		headEnd, sepLen = crlf, 4
	}
	if headEnd < 0 {
		return nil, fmt.Errorf("stomp: missing header terminator")
	}

	lines := strings.Split(strings.ReplaceAll(string(data[:headEnd]), "\r\n", "\n"), "\n")
	f := &frame{command: lines[0]}
	if f.command == "" {
		return nil, fmt.Errorf("stomp: missing command")
	}
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("stomp: bad header line %q", line)
		}
		f.headers = append(f.headers, [2]string{unescapeHeader(k), unescapeHeader(v)})
	}

	body := data[headEnd+sepLen:]
	if cl := f.header("content-length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(body) {
			return nil, fmt.Errorf("stomp: bad content-length %q", cl)
		}
		body = body[:n]
	} else if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	f.body = body
	return f, nil
}

var (
	headerEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	headerUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r", `\n`, "\n", `\c`, ":")
)

func escapeHeader(s string) string   { return headerEscaper.Replace(s) }
func unescapeHeader(s string) string { return headerUnescaper.Replace(s) }

// heartBeat renders a heart-beat header value in milliseconds.
func heartBeat(outgoing, incoming time.Duration) string {
	return fmt.Sprintf("%d,%d", outgoing.Milliseconds(), incoming.Milliseconds())
}

// negotiateHeartBeat returns the intervals to send at and to expect traffic
// within, given what the client offered and the server's CONNECTED header.
func negotiateHeartBeat(clientOut, clientIn time.Duration, server string) (send, expect time.Duration) {
	sx, sy := parseHeartBeat(server)
	if clientOut > 0 && sy > 0 {
		send = max(clientOut, sy)
	}
	if clientIn > 0 && sx > 0 {
		expect = max(clientIn, sx)
	}
	return send, expect
}

func parseHeartBeat(v string) (x, y time.Duration) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0
	}
	xi, err1 := strconv.Atoi(strings.TrimSpace(a))
	yi, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || xi < 0 || yi < 0 {
		return 0, 0
	}
	return time.Duration(xi) * time.Millisecond, time.Duration(yi) * time.Millisecond
}

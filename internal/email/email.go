// Package email provides common email utility functions and the MIME
// message builder shared by the delivery adapters.
package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/postwave/postwave/internal/attachment"
)

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		// Try simple extraction for malformed addresses
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return strings.ToLower(email[at+1:])
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}

// ExtractLocalPart extracts the local part from an email address,
// lowercased. Returns empty string if the email has no local part.
func ExtractLocalPart(email string) string {
	addr := email
	if parsed, err := mail.ParseAddress(email); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return ""
	}
	return strings.ToLower(addr[:at])
}

// BuildMIME assembles an RFC 5322 message. HTML bodies get a text/html
// part; attachments turn the message into multipart/mixed.
func BuildMIME(from, to, subject, body string, attachments []attachment.Resolved) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader(&buf, "From", from)
	writeHeader(&buf, "To", to)
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", subject))
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")

	contentType := "text/plain; charset=utf-8"
	if IsHTML(body) {
		contentType = "text/html; charset=utf-8"
	}

	if len(attachments) == 0 {
		writeHeader(&buf, "Content-Type", contentType)
		writeHeader(&buf, "Content-Transfer-Encoding", "base64")
		buf.WriteString("\r\n")
		writeBase64(&buf, []byte(body))
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	bodyPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	writeBase64(bodyPart, []byte(body))

	for _, a := range attachments {
		mimeType := a.MIMEType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {mimeType + `; name="` + a.Name + `"`},
			"Content-Disposition":       {`attachment; filename="` + a.Name + `"`},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, fmt.Errorf("create attachment part %q: %w", a.Name, err)
		}
		writeBase64(part, a.Data)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	return buf.Bytes(), nil
}

// IsHTML is a cheap content sniff. Campaign bodies are authored either
// as full HTML documents or as plain text; a leading tag is enough.
func IsHTML(body string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(body))
	return strings.HasPrefix(trimmed, "<!doctype") ||
		strings.HasPrefix(trimmed, "<html") ||
		strings.HasPrefix(trimmed, "<body") ||
		strings.HasPrefix(trimmed, "<div") ||
		strings.HasPrefix(trimmed, "<p>")
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// writeBase64 emits base64 content wrapped at 76 columns per RFC 2045.
func writeBase64(w io.Writer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		io.WriteString(w, encoded[:76])
		io.WriteString(w, "\r\n")
		encoded = encoded[76:]
	}
	io.WriteString(w, encoded)
	io.WriteString(w, "\r\n")
}

package provider

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// BuildMIME renders msg as an RFC 5322 message: multipart/alternative for
// the text and HTML bodies, wrapped in multipart/mixed when attachments are
// present.
func BuildMIME(msg *Message) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", sanitizeHeader(msg.From))
	fmt.Fprintf(&buf, "To: %s\r\n", sanitizeHeader(strings.Join(msg.To, ", ")))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", sanitizeHeader(msg.Subject)))
	buf.WriteString("MIME-Version: 1.0\r\n")

	mixed := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	altHeader := textproto.MIMEHeader{}
	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)
	altHeader.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary()))

	if err := writeBodyPart(altWriter, "text/plain; charset=UTF-8", msg.Text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writeBodyPart(altWriter, "text/html; charset=UTF-8", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := altWriter.Close(); err != nil {
		return nil, err
	}

	altPart, err := mixed.CreatePart(altHeader)
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := altPart.Write(alt.Bytes()); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", att.Type)
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition", fmt.Sprintf("%s; filename=%q",
			att.Disposition, mime.QEncoding.Encode("UTF-8", att.Filename)))

		part, err := mixed.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create attachment part: %w", err)
		}
		// 76-character lines per RFC 2045
		for i := 0; i < len(att.Content); i += 76 {
			end := min(i+76, len(att.Content))
			if _, err := part.Write([]byte(att.Content[i:end] + "\r\n")); err != nil {
				return nil, err
			}
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeBodyPart(w *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create body part: %w", err)
	}
	_, err = part.Write([]byte(body))
	return err
}

// sanitizeHeader prevents header injection through CR/LF.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

package email

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// parseMessage turns a raw RFC-822 message into body text. Walks multipart
// trees, decodes base64 and quoted-printable parts, keeps the first
// text/plain and text/html bodies, and skips attachments.
func parseMessage(raw io.Reader) (bodyText, bodyHTML string, err error) {
	msg, err := mail.ReadMessage(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	contentType := msg.Header.Get("Content-Type")
	encoding := msg.Header.Get("Content-Transfer-Encoding")

	var walker bodyWalker
	if err := walker.walk(msg.Body, contentType, encoding, ""); err != nil {
		return "", "", err
	}
	return walker.text, walker.html, nil
}

// bodyWalker accumulates the first text/plain and text/html parts found.
type bodyWalker struct {
	text string
	html string
	depth int
}

const maxMIMEDepth = 10

func (w *bodyWalker) walk(body io.Reader, contentType, encoding, disposition string) error {
	if w.depth > maxMIMEDepth {
		return fmt.Errorf("%w: MIME nesting exceeds %d levels", ErrParse, maxMIMEDepth)
	}

	mediaType := "text/plain"
	var params map[string]string
	if contentType != "" {
		parsed, p, err := mime.ParseMediaType(contentType)
		if err == nil {
			mediaType = parsed
			params = p
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("%w: multipart message without boundary", ErrParse)
		}
		reader := multipart.NewReader(body, boundary)
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrParse, err)
			}
			w.depth++
			walkErr := w.walk(part,
				part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"),
				part.Header.Get("Content-Disposition"))
			w.depth--
			part.Close()
			if walkErr != nil {
				return walkErr
			}
		}
	}

	// Attachments carry only metadata; their content is never analyzed.
	if isAttachment(disposition) {
		return nil
	}

	switch mediaType {
	case "text/plain":
		if w.text != "" {
			return nil
		}
		decoded, err := decodeBody(body, encoding)
		if err != nil {
			return err
		}
		w.text = decoded
	case "text/html":
		if w.html != "" {
			return nil
		}
		decoded, err := decodeBody(body, encoding)
		if err != nil {
			return err
		}
		w.html = decoded
	}
	return nil
}

func isAttachment(disposition string) bool {
	if disposition == "" {
		return false
	}
	kind, _, err := mime.ParseMediaType(disposition)
	return err == nil && kind == "attachment"
}

func decodeBody(body io.Reader, encoding string) (string, error) {
	var reader io.Reader = body
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		reader = base64.NewDecoder(base64.StdEncoding, newWhitespaceStripper(body))
	case "quoted-printable":
		reader = quotedprintable.NewReader(body)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	return string(data), nil
}

// whitespaceStripper removes line breaks so wrapped base64 decodes cleanly.
type whitespaceStripper struct {
	r io.Reader
}

func newWhitespaceStripper(r io.Reader) io.Reader {
	return &whitespaceStripper{r: r}
}

func (s *whitespaceStripper) Read(p []byte) (int, error) {
	buf := make([]byte, len(p))
	n, err := s.r.Read(buf)
	written := 0
	for _, b := range buf[:n] {
		if b == '\r' || b == '\n' || b == ' ' || b == '\t' {
			continue
		}
		p[written] = b
		written++
	}
	if written == 0 && n > 0 && err == nil {
		return s.Read(p)
	}
	return written, err
}

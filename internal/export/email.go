package export

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"

	"github.com/hotfold/hotfold/internal/config"
)

// Message is one outbound mail with the document attached.
type Message struct {
	From           string
	To             []string
	CC             []string
	Subject        string
	Body           string
	AttachmentPath string
	AttachmentName string
}

// MailTransport actually hands a message to a mail system.
type MailTransport interface {
	Send(ctx context.Context, msg Message) error
}

// EmailSender renders subject and body templates and submits the message
// through its transport.
type EmailSender struct {
	Transport MailTransport
	// From is the fallback sender address for destinations that do not
	// set their own.
	From string
}

func (EmailSender) Kind() string { return config.KindEmail }

func (s EmailSender) Send(ctx context.Context, req Request) (string, error) {
	if s.Transport == nil {
		return "", backoff.Permanent(fmt.Errorf("no mail transport configured"))
	}
	t := req.Dest.Email

	subject, err := req.Render(t.Subject)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("render subject: %w", err))
	}
	body, err := req.Render(t.Body)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("render body: %w", err))
	}
	from := t.From
	if from == "" {
		from = s.From
	}
	if from == "" {
		return "", backoff.Permanent(fmt.Errorf("no sender address configured"))
	}

	msg := Message{
		From:           from,
		To:             t.To,
		CC:             t.CC,
		Subject:        subject,
		Body:           body,
		AttachmentPath: req.SourcePath,
		AttachmentName: req.Filename,
	}
	if err := s.Transport.Send(ctx, msg); err != nil {
		return "", err
	}
	target := fmt.Sprintf("mailto:%v", t.To)
	return target, nil
}

// SMTPTransport submits mail to a fixed relay. Plain SMTP covers the
// internal relays this runs against; authentication is optional.
type SMTPTransport struct {
	Addr string // host:port
	Auth smtp.Auth
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	rcpts := append(append([]string{}, msg.To...), msg.CC...)
	if err := smtp.SendMail(t.Addr, t.Auth, msg.From, rcpts, payload); err != nil {
		return fmt.Errorf("smtp send via %s: %w", t.Addr, err)
	}
	return nil
}

const mimeBoundary = "hotfold-attachment-boundary"

// encodeMessage builds a multipart/mixed MIME message with the document as
// a base64 attachment.
func encodeMessage(msg Message) ([]byte, error) {
	attachment, err := os.ReadFile(msg.AttachmentPath)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	name := msg.AttachmentName
	if name == "" {
		name = filepath.Base(msg.AttachmentPath)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	for _, to := range msg.To {
		fmt.Fprintf(&b, "To: %s\r\n", to)
	}
	for _, cc := range msg.CC {
		fmt.Fprintf(&b, "Cc: %s\r\n", cc)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mimeBoundary)

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	fmt.Fprintf(&b, "Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n", msg.Body)

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	fmt.Fprintf(&b, "Content-Type: application/octet-stream\r\n")
	fmt.Fprintf(&b, "Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n\r\n", name)

	encoded := base64.StdEncoding.EncodeToString(attachment)
	// RFC 2045 caps encoded lines at 76 characters.
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	fmt.Fprintf(&b, "\r\n--%s--\r\n", mimeBoundary)

	return b.Bytes(), nil
}

package common

// EmailSender delivers a single operator notification email.
type EmailSender interface {
	Send(to, subject, html string) error
}

// CapturedEmail is a message recorded by CaptureSender.
type CapturedEmail struct {
	To      string
	Subject string
	HTML    string
}

// CaptureSender records every message instead of delivering it. Tests assert
// against Outbox.
type CaptureSender struct {
	Outbox []CapturedEmail
}

func (c *CaptureSender) Send(to, subject, html string) error {
	if c == nil {
		return nil
	}
	c.Outbox = append(c.Outbox, CapturedEmail{To: to, Subject: subject, HTML: html})
	return nil
}

// NopEmailSender discards every message. It stands in when no SMTP relay is
// configured.
type NopEmailSender struct{}

func (NopEmailSender) Send(string, string, string) error { return nil }

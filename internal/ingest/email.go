package ingest

// InboundEmail is the body posted by the inbound email provider.
type InboundEmail struct {
	From        EmailAddress      `json:"from"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text,omitempty"`
	HTML        string            `json:"html,omitempty"`
	MessageID   string            `json:"messageId,omitempty"`
	Attachments []EmailAttachment `json:"attachments,omitempty"`
}

type EmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type EmailAttachment struct {
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// body returns the message content, preferring plain text over HTML.
func (e InboundEmail) body() string {
	if e.Text != "" {
		return e.Text
	}
	return e.HTML
}

// attachmentURLs collects attachment references, falling back to the
// filename when the provider did not host the file.
func (e InboundEmail) attachmentURLs() []string {
	if len(e.Attachments) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.Attachments))
	for _, a := range e.Attachments {
		if a.URL != "" {
			out = append(out, a.URL)
			continue
		}
		if a.Filename != "" {
			out = append(out, a.Filename)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

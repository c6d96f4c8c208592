// Package outreach renders and delivers outreach messages through a webhook
// relay (the actual send happens downstream of the relay).
package outreach

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/fetch"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/worker"
)

// Defaults used when the config leaves the templates or sender name empty.
const (
	DefaultSubjectTemplate = "Quick question, {{.FirstName}}"
	DefaultBodyTemplate    = "Hi {{.FirstName}},\n\n" +
		"I came across your profile{{if .Company}} at {{.Company}}{{end}} and " +
		"wanted to reach out.\n\nBest,\n{{.FromName}}"
	DefaultFromName = "Sells Group"
)

// templateData is what the subject and body templates render against.
type templateData struct {
	FullName  string
	FirstName string
	Company   string
	Email     string
	FromName  string
}

// Composer renders outreach messages from configurable templates.
type Composer struct {
	subject  *template.Template
	body     *template.Template
	fromName string
}

// NewComposer parses the subject and body templates and fixes the sender
// name signed into them. Empty strings fall back to the defaults.
func NewComposer(subjectTmpl, bodyTmpl, fromName string) (*Composer, error) {
	if subjectTmpl == "" {
		subjectTmpl = DefaultSubjectTemplate
	}
	if bodyTmpl == "" {
		bodyTmpl = DefaultBodyTemplate
	}
	if fromName == "" {
		fromName = DefaultFromName
	}

	subject, err := template.New("subject").Parse(subjectTmpl)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: parse subject template")
	}
	body, err := template.New("body").Parse(bodyTmpl)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: parse body template")
	}
	return &Composer{subject: subject, body: body, fromName: fromName}, nil
}

// Compose renders the message for a lead. The caller fills in the routing
// fields (LeadID, To).
func (c *Composer) Compose(_ context.Context, lead *model.Lead) (worker.Message, error) {
	data := templateData{
		FullName:  lead.FullName,
		FirstName: firstName(lead.FullName),
		Company:   lead.Company,
		Email:     lead.Email,
		FromName:  c.fromName,
	}

	var subject, body bytes.Buffer
	if err := c.subject.Execute(&subject, data); err != nil {
		return worker.Message{}, eris.Wrapf(err, "outreach: render subject for %s", lead.ID)
	}
	if err := c.body.Execute(&body, data); err != nil {
		return worker.Message{}, eris.Wrapf(err, "outreach: render body for %s", lead.ID)
	}

	return worker.Message{
		Subject: subject.String(),
		Body:    body.String(),
	}, nil
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

// sendResponse is the relay's acknowledgment payload.
type sendResponse struct {
	Accepted bool `json:"accepted"`
}

// WebhookTransport delivers messages by POSTing them to a relay webhook.
type WebhookTransport struct {
	fetch      *fetch.Client
	webhookURL string
}

// NewWebhookTransport creates a transport that posts messages to webhookURL
// through the rate-limited fetch client.
func NewWebhookTransport(fc *fetch.Client, webhookURL string) *WebhookTransport {
	return &WebhookTransport{fetch: fc, webhookURL: webhookURL}
}

// Send posts the message and returns the relay's acknowledgment. An
// unacknowledged send leaves the lead in place to be retried on the next
// pass.
func (t *WebhookTransport) Send(ctx context.Context, msg worker.Message) (bool, error) {
	var resp sendResponse
	if err := t.fetch.PostJSON(ctx, t.webhookURL, msg, &resp); err != nil {
		return false, eris.Wrapf(err, "outreach: deliver message for %s", msg.LeadID)
	}
	return resp.Accepted, nil
}

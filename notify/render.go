package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// Rendered is a message ready for a channel.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type templateSet struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

func newTemplateSet(name, subject, text, html string) templateSet {
	return templateSet{
		subject: texttemplate.Must(texttemplate.New(name + ".subject").Option("missingkey=zero").Parse(subject)),
		text:    texttemplate.Must(texttemplate.New(name + ".text").Option("missingkey=zero").Parse(text)),
		html:    htmltemplate.Must(htmltemplate.New(name + ".html").Option("missingkey=zero").Parse(html)),
	}
}

var templates = map[Template]templateSet{
	TemplateOfferReceived: newTemplateSet("offer_received",
		`New offer on {{.property_title}}`,
		`{{.buyer_name}} offered {{.amount}} ({{.percentage}}% of asking {{.asking_price}}) on {{.property_title}}. The buyer still has to upload an identity document. Offer {{.offer_id}} expires {{.expires_at}}.`,
		`<h2>New offer on {{.property_title}}</h2>
<p><strong>{{.buyer_name}}</strong> offered <strong>{{.amount}}</strong> ({{.percentage}}% of the asking price {{.asking_price}}).</p>
{{if .buyer_message}}<blockquote>{{.buyer_message}}</blockquote>{{end}}
<p>The buyer still has to upload an identity document. The offer expires on {{.expires_at}}.</p>`),

	TemplateOfferSubmitted: newTemplateSet("offer_submitted",
		`Offer submitted: {{.property_title}}`,
		`Offer {{.offer_id}} on {{.property_title}}: {{.amount}} ({{.percentage}}%) from {{.buyer_name}} <{{.buyer_email}}>.`,
		`<p>Offer <code>{{.offer_id}}</code> on {{.property_title}}: {{.amount}} ({{.percentage}}%) from {{.buyer_name}} &lt;{{.buyer_email}}&gt;.</p>`),

	TemplateIdentitySubmitted: newTemplateSet("identity_submitted",
		`Identity document received for your offer on {{.property_title}}`,
		`{{.buyer_name}} uploaded an identity document for offer {{.offer_id}} ({{.amount}}). Extracted name: {{.holder_name}}, nationality: {{.nationality}}, confidence {{.confidence}}. {{.review_note}}`,
		`<h2>Identity document received</h2>
<p>{{.buyer_name}} uploaded an identity document for their offer of <strong>{{.amount}}</strong> on {{.property_title}}.</p>
<ul>
<li>Name on document: {{.holder_name}}</li>
<li>Nationality: {{.nationality}}</li>
<li>Scan confidence: {{.confidence}}</li>
</ul>
<p>{{.review_note}}</p>`),

	TemplateOfferRejected: newTemplateSet("offer_rejected",
		`Your offer on {{.property_title}} was declined`,
		`Your offer of {{.amount}} on {{.property_title}} was declined.{{if .reason}} Reason: {{.reason}}{{end}}`,
		`<p>Your offer of <strong>{{.amount}}</strong> on {{.property_title}} was declined.</p>{{if .reason}}<p>Reason: {{.reason}}</p>{{end}}`),

	TemplateOfferAccepted: newTemplateSet("offer_accepted",
		`Your offer on {{.property_title}} was accepted`,
		`Good news: your offer of {{.amount}} on {{.property_title}} was accepted. The owner will contact you about next steps.`,
		`<h2>Your offer was accepted</h2><p>Your offer of <strong>{{.amount}}</strong> on {{.property_title}} was accepted. The owner will contact you about next steps.</p>`),
}

// Render expands the message's template with its data.
func Render(m Message) (Rendered, error) {
	set, ok := templates[m.Template]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: unknown template %q", ErrInvalidMessage, m.Template)
	}

	data := m.Data
	if data == nil {
		data = map[string]string{}
	}

	var subject, text, html bytes.Buffer
	if err := set.subject.Execute(&subject, data); err != nil {
		return Rendered{}, fmt.Errorf("notify: render subject: %w", err)
	}
	if err := set.text.Execute(&text, data); err != nil {
		return Rendered{}, fmt.Errorf("notify: render text: %w", err)
	}
	if err := set.html.Execute(&html, data); err != nil {
		return Rendered{}, fmt.Errorf("notify: render html: %w", err)
	}

	return Rendered{Subject: subject.String(), Text: text.String(), HTML: html.String()}, nil
}

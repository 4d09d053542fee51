package templates

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed *.html *.txt
var templateFS embed.FS

const (
	LeadNotification  = "lead_notification"
	QuoteConfirmation = "quote_confirmation"
	OTPVerified       = "otp_verified"
	TestEmail         = "test_email"
)

// Renderer handles email template rendering
type Renderer struct {
	html map[string]*htmltemplate.Template
	text map[string]*texttemplate.Template
}

// AnswerLine is one question/answer pair shown in a lead email
type AnswerLine struct {
	Question string
	Answer   string
}

// EmailData contains the data for all email templates
type EmailData struct {
	Subject   string
	Preheader string
	Year      int

	// Partner branding
	PartnerName string
	LogoURL     string
	AccentColor string

	// Lead fields
	CustomerName string
	FirstName    string
	Email        string
	Phone        string
	Address      string
	Category     string
	SubmissionID string
	Answers      []AnswerLine
	VerifiedAt   string
}

// Rendered is a fully rendered email
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// NewRenderer parses every embedded template
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		html: make(map[string]*htmltemplate.Template),
		text: make(map[string]*texttemplate.Template),
	}

	baseContent, err := templateFS.ReadFile("base.html")
	if err != nil {
		return nil, fmt.Errorf("failed to read base template: %w", err)
	}

	for _, name := range []string{LeadNotification, QuoteConfirmation, OTPVerified, TestEmail} {
		content, err := templateFS.ReadFile(name + ".html")
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := htmltemplate.New("email").Parse(string(baseContent))
		if err != nil {
			return nil, fmt.Errorf("failed to parse base template for %s: %w", name, err)
		}
		if _, err = tmpl.Parse(string(content)); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.html[name] = tmpl

		textContent, err := templateFS.ReadFile(name + ".txt")
		if err != nil {
			return nil, fmt.Errorf("failed to read text template %s: %w", name, err)
		}
		textTmpl, err := texttemplate.New(name).Parse(string(textContent))
		if err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
		}
		r.text[name] = textTmpl
	}

	return r, nil
}

// Render renders both bodies of a template with the given data
func (r *Renderer) Render(templateName string, data *EmailData) (*Rendered, error) {
	tmpl, ok := r.html[templateName]
	if !ok {
		return nil, fmt.Errorf("template %s not found", templateName)
	}

	if data.Year == 0 {
		data.Year = time.Now().Year()
	}
	if data.AccentColor == "" {
		data.AccentColor = "#2563eb"
	}

	var htmlBuf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&htmlBuf, "base", data); err != nil {
		return nil, fmt.Errorf("failed to execute template %s: %w", templateName, err)
	}

	var textBuf bytes.Buffer
	if err := r.text[templateName].Execute(&textBuf, data); err != nil {
		return nil, fmt.Errorf("failed to execute text template %s: %w", templateName, err)
	}

	return &Rendered{
		Subject: data.Subject,
		HTML:    htmlBuf.String(),
		Text:    strings.TrimSpace(textBuf.String()) + "\n",
	}, nil
}

// RenderLeadNotification renders the new lead email sent to the partner
func (r *Renderer) RenderLeadNotification(data *EmailData) (*Rendered, error) {
	data.Subject = fmt.Sprintf("New quote request from %s", data.CustomerName)
	if data.Category != "" {
		data.Subject = fmt.Sprintf("New %s quote request from %s", data.Category, data.CustomerName)
	}
	data.Preheader = fmt.Sprintf("%s submitted their details", data.CustomerName)
	return r.Render(LeadNotification, data)
}

// RenderQuoteConfirmation renders the acknowledgement sent to the customer
func (r *Renderer) RenderQuoteConfirmation(data *EmailData) (*Rendered, error) {
	data.Subject = "We have received your quote request"
	if data.PartnerName != "" {
		data.Subject = fmt.Sprintf("Your quote request - %s", data.PartnerName)
	}
	data.Preheader = "Thanks for your request"
	return r.Render(QuoteConfirmation, data)
}

// RenderOTPVerified renders the verified lead email sent to the partner
func (r *Renderer) RenderOTPVerified(data *EmailData) (*Rendered, error) {
	data.Subject = fmt.Sprintf("Lead verified: %s", data.CustomerName)
	data.Preheader = "Phone number verified"
	if data.VerifiedAt == "" {
		data.VerifiedAt = time.Now().UTC().Format(time.RFC1123)
	}
	return r.Render(OTPVerified, data)
}

// RenderTestEmail renders the partner email settings test
func (r *Renderer) RenderTestEmail(data *EmailData) (*Rendered, error) {
	data.Subject = "Test email from your quote funnel"
	data.Preheader = "Your email settings work"
	return r.Render(TestEmail, data)
}

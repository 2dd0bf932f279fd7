package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/wneessen/go-mail"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	StoreName string
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailNotifier sends one HTML email per status change.
type EmailNotifier struct {
	client    sender
	from      string
	storeName string
}

func NewEmailNotifier(cfg SMTPConfig) (*EmailNotifier, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("notify: smtp host and from address are required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: smtp client: %w", err)
	}
	return newEmailNotifier(client, cfg.From, cfg.StoreName), nil
}

func newEmailNotifier(client sender, from, storeName string) *EmailNotifier {
	if storeName == "" {
		storeName = "Minishop"
	}
	return &EmailNotifier{client: client, from: from, storeName: storeName}
}

func (n *EmailNotifier) NotifyStatusChange(ctx context.Context, change notification.StatusChange) error {
	if change.CustomerEmail == "" {
		return errors.New("notify: customer email missing")
	}
	subject, body, err := renderStatusEmail(n.storeName, change)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return fmt.Errorf("notify: from: %w", err)
	}
	if err := msg.To(change.CustomerEmail); err != nil {
		return fmt.Errorf("notify: to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	return nil
}

var statusEmail = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; padding: 20px;">
  <div style="max-width: 600px; margin: auto; background-color: white; padding: 20px; border-radius: 10px;">
    <h2 style="color: #333;">{{.Headline}}</h2>
    <p>Hi {{if .Change.CustomerName}}{{.Change.CustomerName}}{{else}}there{{end}},</p>
    <p>{{.Lead}}</p>
    {{- if .Change.TrackingNumber}}
    <p>Tracking number: <strong>{{.Change.TrackingNumber}}</strong></p>
    {{- end}}
    {{- if .Change.Reason}}
    <p>Reason: {{.Change.Reason}}</p>
    {{- end}}
    <p>Order <strong>#{{.Change.OrderID}}</strong></p>
    <p style="margin-top: 30px; color: #555;">Thanks,<br><strong>{{.Store}}</strong></p>
  </div>
</body>
</html>`))

type statusEmailData struct {
	Store    string
	Headline string
	Lead     string
	Change   notification.StatusChange
}

func renderStatusEmail(store string, change notification.StatusChange) (string, string, error) {
	var subject, headline, lead string
	switch change.Status {
	case domorder.StatusProcessing:
		subject = fmt.Sprintf("Your %s Order #%s is being processed!", store, change.OrderID)
		headline, lead = "We received your payment", "Your order is being prepared."
	case domorder.StatusShipped:
		subject = fmt.Sprintf("Your %s Order #%s has shipped!", store, change.OrderID)
		headline, lead = "Your order is on its way", "Your order has left our warehouse."
	case domorder.StatusDelivered:
		subject = fmt.Sprintf("Your %s Order #%s has been delivered!", store, change.OrderID)
		headline, lead = "Delivered", "Your order has been delivered. Enjoy!"
	case domorder.StatusCancelled:
		subject = fmt.Sprintf("Your %s Order #%s has been cancelled.", store, change.OrderID)
		headline, lead = "Order cancelled", "Your order has been cancelled."
	default:
		subject = fmt.Sprintf("Update on your %s Order #%s", store, change.OrderID)
		headline, lead = "Order update", fmt.Sprintf("Your order is now %s.", change.Status)
	}

	var buf bytes.Buffer
	err := statusEmail.Execute(&buf, statusEmailData{Store: store, Headline: headline, Lead: lead, Change: change})
	if err != nil {
		return "", "", fmt.Errorf("notify: render email: %w", err)
	}
	return subject, buf.String(), nil
}

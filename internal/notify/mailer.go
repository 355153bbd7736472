// Package notify sends transactional emails. Delivery is best-effort
// everywhere: a failed send is reported to the caller for logging but never
// rolls back the state change that triggered it.
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/go-faster/errors"

	"github.com/dmereles/vitrine/internal/order"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail through a plain-auth SMTP relay.
type SMTPMailer struct {
	cfg SMTPConfig
}

var _ Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer creates an SMTPMailer for the given relay.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send delivers the message. net/smtp has no context support; the context is
// checked once up front so cancelled requests skip the dial.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := []byte("To: " + msg.To + "\r\n" +
		"From: " + m.cfg.From + "\r\n" +
		"Subject: " + msg.Subject + "\r\n" +
		"\r\n" +
		msg.Body + "\r\n")

	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	if err := smtp.SendMail(m.cfg.Host+":"+m.cfg.Port, auth, m.cfg.From, []string{msg.To}, payload); err != nil {
		return errors.Wrapf(err, "send mail to %s", msg.To)
	}
	return nil
}

// NopMailer drops every message. Used when no SMTP relay is configured.
type NopMailer struct{}

var _ Mailer = NopMailer{}

func (NopMailer) Send(context.Context, Message) error { return nil }

// PaymentConfirmed builds the customer-facing payment confirmation email.
func PaymentConfirmed(o *order.Order) Message {
	return Message{
		To:      o.Email,
		Subject: fmt.Sprintf("Pagamento confirmado: pedido %s", o.ID),
		Body: fmt.Sprintf(
			"Olá %s,\n\nRecebemos o pagamento do seu pedido %s no valor de R$ %s.\nEm breve você receberá o código de rastreio.\n",
			o.FullName, o.ID, o.Total.StringFixed(2),
		),
	}
}

// PaymentConfirmedAdmin builds the operator notification for a paid order.
func PaymentConfirmedAdmin(o *order.Order, adminAddr string) Message {
	return Message{
		To:      adminAddr,
		Subject: fmt.Sprintf("Pedido pago: %s", o.ID),
		Body: fmt.Sprintf(
			"Pedido %s de %s <%s> foi pago.\nTotal: R$ %s\nEndereço de entrega: %s\n",
			o.ID, o.FullName, o.Email, o.Total.StringFixed(2), o.ShippingAddress,
		),
	}
}

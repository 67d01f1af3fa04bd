package notify

import (
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/manurov/card-service/internal/config"
	"github.com/manurov/card-service/internal/models"
)

// Sender handles sending notification emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// ApplicationDecided notifies a user that their card application was
// approved or rejected.
func (s *Sender) ApplicationDecided(to, username string, cardType models.CardType, approved bool, comment string) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}

	body := fmt.Sprintf("Dear %s,\n\n", username)
	if approved {
		e.Subject = "Card Application Approved"
		body += fmt.Sprintf(
			"Your application for a %s card has been approved.\n"+
				"The new card is active and ready to use.\n",
			cardType,
		)
	} else {
		e.Subject = "Card Application Rejected"
		body += fmt.Sprintf(
			"Your application for a %s card has been rejected.\n",
			cardType,
		)
		if comment != "" {
			body += fmt.Sprintf("Reason: %s\n", comment)
		}
	}
	body += "\nBest regards,\nCard Service"
	e.Text = []byte(body)

	return s.send(e, to)
}

// CardBlocked notifies a user that their block request was approved and
// the card is now blocked.
func (s *Sender) CardBlocked(to, username, maskedNumber, reason string) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Card Blocked"

	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"Your card %s has been blocked as requested.\n"+
			"Reason: %s\n"+
			"\nBest regards,\nCard Service",
		username, maskedNumber, reason,
	)
	e.Text = []byte(body)

	return s.send(e, to)
}

func (s *Sender) send(e *email.Email, to string) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

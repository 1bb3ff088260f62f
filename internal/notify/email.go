package notify

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/Dan9191/cashflow-service/internal/config"
	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// ErrNotConfigured is returned when no SMTP host is set
var ErrNotConfigured = errors.New("smtp is not configured")

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// SendForecastAlert tells a user about forecast days with alerts. Days
// without alerts are ignored; nothing is sent when none remain.
func (s *Sender) SendForecastAlert(to, username string, days []models.ForecastDay) error {
	if s.cfg.SMTPHost == "" {
		return ErrNotConfigured
	}

	var flagged []models.ForecastDay
	for _, d := range days {
		if d.HasAlerts {
			flagged = append(flagged, d)
		}
	}
	if len(flagged) == 0 {
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = alertSubject(flagged)
	e.Text = []byte(alertBody(username, flagged))

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send forecast alert to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

func alertSubject(flagged []models.ForecastDay) string {
	for _, d := range flagged {
		if d.HasAlert(models.AlertNegativeBeforePayday) {
			return "Your balance is projected to go negative before payday"
		}
	}
	return "Low balance forecast"
}

func alertBody(username string, flagged []models.ForecastDay) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", username)
	fmt.Fprintf(&b, "Your cash-flow forecast shows %d day(s) that need attention:\n\n", len(flagged))
	for _, d := range flagged {
		fmt.Fprintf(&b, "%s  projected balance %s\n", d.Date.Format(time.DateOnly), d.RunningBalance.StringFixed(2))
		for _, a := range d.Alerts {
			fmt.Fprintf(&b, "  - %s\n", a.Message)
		}
	}
	b.WriteString("\nBest regards,\nCash-flow Service")
	return b.String()
}

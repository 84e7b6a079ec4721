package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/campuspay/payment-service/internal/config"
	"github.com/campuspay/payment-service/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP. It implements the engine's
// notifier hooks; delivery is best effort and never affects a commit.
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

// AccountProvisioned sends a welcome email with the new card details.
func (s *Sender) AccountProvisioned(account *models.Account, card *models.Card) {
	if account.Email == "" {
		return
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{account.Email}
	e.Subject = "Your Campus Pay Account Is Ready"

	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"Your campus payment account has been created.\n"+
			"Card identifier: %s\n"+
			"Opening balance: %s\n",
		account.Name, card.IBAN, card.Balance.StringFixed(2),
	)
	body += "\nBest regards,\nCampus Pay"
	e.Text = []byte(body)

	s.send(e)
}

// TransactionRecorded sends a notification for a committed withdraw or
// deposit.
func (s *Sender) TransactionRecorded(account *models.Account, t *models.Transaction) {
	if account.Email == "" {
		return
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{account.Email}

	var body string
	switch t.Type {
	case models.TypeDeposit:
		e.Subject = "Deposit Notification"
		body = fmt.Sprintf(
			"Dear %s,\n\n"+
				"Your card %d has been credited with %s.\n"+
				"Transaction time: %s\n"+
				"Current balance: %s\n",
			account.Name, t.CardID, t.Amount.StringFixed(2),
			time.Now().Format("2006-01-02 15:04:05"), t.BalanceAfter.StringFixed(2),
		)
	case models.TypeWithdraw:
		e.Subject = "Withdrawal Notification"
		body = fmt.Sprintf(
			"Dear %s,\n\n"+
				"An amount of %s has been withdrawn from your card %d.\n"+
				"Transaction time: %s\n"+
				"Current balance: %s\n",
			account.Name, t.Amount.Abs().StringFixed(2), t.CardID,
			time.Now().Format("2006-01-02 15:04:05"), t.BalanceAfter.StringFixed(2),
		)
	default:
		return
	}
	body += "\nBest regards,\nCampus Pay"
	e.Text = []byte(body)

	s.send(e)
}

func (s *Sender) send(e *email.Email) {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %v: %v", e.To, err)
		return
	}
	s.logger.Infof("Email sent to %v: %s", e.To, e.Subject)
}

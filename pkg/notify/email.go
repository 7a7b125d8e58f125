package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/mcclellann/loanLedger/pkg/config"
	"github.com/mcclellann/loanLedger/pkg/ledger"
	"github.com/mcclellann/loanLedger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Sender mails loan and payment notices to the configured recipients.
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

// Enabled reports whether SMTP and recipients are configured.
func (s *Sender) Enabled() bool {
	return s.cfg.SMTPHost != "" && len(s.cfg.NotifyTo) > 0
}

// LoanCreated announces a new loan.
func (s *Sender) LoanCreated(loan *models.Loan) error {
	subject := fmt.Sprintf("New loan: %s", loan.Memo)
	return s.send(subject, loanCreatedBody(loan))
}

// PaymentApplied reports how a payment was allocated.
func (s *Sender) PaymentApplied(borrowerID string, amount decimal.Decimal, result *ledger.PaymentResult) error {
	subject := fmt.Sprintf("Payment received from %s", borrowerID)
	return s.send(subject, paymentBody(borrowerID, amount, result))
}

func (s *Sender) send(subject, body string) error {
	if !s.Enabled() {
		s.logger.WithField("subject", subject).Debug("SMTP not configured, skipping email")
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = s.cfg.NotifyTo
	e.Subject = subject
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email %q: %v", subject, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", strings.Join(e.To, ", "), e.Subject)
	return nil
}

func loanCreatedBody(loan *models.Loan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A new loan has been opened.\n\n")
	fmt.Fprintf(&b, "Loan: %s (%s)\n", loan.Memo, loan.ID)
	fmt.Fprintf(&b, "Borrowers: %s\n", strings.Join(loan.Borrowers, ", "))
	fmt.Fprintf(&b, "Principal: %s\n", ledger.Total(loan.Ledger).StringFixed(ledger.DisplayPrecision))
	if loan.InterestRate.IsPositive() {
		fmt.Fprintf(&b, "Interest: %s%% APR, compounding monthly from %s\n",
			loan.InterestRate.Shift(2).String(), loan.GracePeriodEnd.Format("2006-01-02"))
	} else {
		fmt.Fprintf(&b, "Interest: none\n")
	}
	b.WriteString("\nBest regards,\nLoan Ledger")
	return b.String()
}

func paymentBody(borrowerID string, amount decimal.Decimal, result *ledger.PaymentResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A payment of %s was received from %s.\n\n", amount.Neg().StringFixed(ledger.DisplayPrecision), borrowerID)
	if len(result.AffectedLoanIDs) == 0 {
		b.WriteString("No open loans were found for this borrower.\n")
	} else {
		b.WriteString("It was applied to:\n")
		for _, id := range result.AffectedLoanIDs {
			fmt.Fprintf(&b, "  - loan %s\n", id)
		}
	}
	if !result.Remainder.IsZero() {
		fmt.Fprintf(&b, "\n%s could not be applied to any open loan.\n", result.Remainder.Neg().StringFixed(ledger.DisplayPrecision))
	}
	b.WriteString("\nBest regards,\nLoan Ledger")
	return b.String()
}

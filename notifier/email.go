package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/badoux/checkmail"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"outreach/automation"
	"outreach/config"
	"outreach/models"
)

// MailSender is satisfied by *gomail.Dialer
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier mails the owning user when they opted in
type EmailNotifier struct {
	db       *gorm.DB
	sender   MailSender
	from     string
	fromName string
}

func NewEmailNotifier(db *gorm.DB, sender MailSender, from, fromName string) *EmailNotifier {
	return &EmailNotifier{db: db, sender: sender, from: from, fromName: fromName}
}

// NewSMTPDialer builds a gomail dialer from SMTP settings
func NewSMTPDialer(cfg config.SMTPConfig) *gomail.Dialer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.Port == 465
	return d
}

func (n *EmailNotifier) Notify(ctx context.Context, userID uint, note automation.Notification) error {
	var user models.User
	err := n.db.WithContext(ctx).
		Select("id", "email", "name", "notify_by_email").
		First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !user.NotifyByEmail {
		return nil
	}
	if err := checkmail.ValidateFormat(user.Email); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", user.Email, err)
	}

	greeting := "Hi"
	if user.Name != nil && *user.Name != "" {
		greeting = "Hi " + *user.Name
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", n.from, n.fromName)
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", note.Title)
	m.SetHeader("Auto-Submitted", "auto-generated")
	m.SetBody("text/plain", fmt.Sprintf("%s,\n\n%s\n\nSequence #%d\n", greeting, note.Message, note.SequenceID))

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}
	return nil
}

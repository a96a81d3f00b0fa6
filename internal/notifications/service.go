// Package notification formats and delivers the lifecycle emails students
// receive as their enrollment moves through payment and approval.
package notification

import (
	"context"
	"fmt"

	"github.com/sirbramstech/campus-backend/pkg/db/models"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
	"github.com/sirbramstech/campus-backend/pkg/logger"
	"github.com/sirbramstech/campus-backend/pkg/mailer"
)

// Service defines the enrollment lifecycle notifications.
type Service interface {
	PaymentReceived(ctx context.Context, enrollment *models.Enrollment, email string) error
	EnrollmentApproved(ctx context.Context, enrollment *models.Enrollment, email string) error
	EnrollmentRejected(ctx context.Context, enrollment *models.Enrollment, email string) error
}

type service struct {
	mail mailer.Mailer
	logg *logger.Logger
}

// NewService wires notification dependencies.
func NewService(mail mailer.Mailer, logg *logger.Logger) (Service, error) {
	if mail == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mailer required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{mail: mail, logg: logg}, nil
}

func (s *service) PaymentReceived(ctx context.Context, enrollment *models.Enrollment, email string) error {
	subject := fmt.Sprintf("Payment received for %s", enrollment.CourseTitle)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>We received your payment of KES %s for <strong>%s</strong> (%s). "+
			"Your enrollment is awaiting mentor approval and you will hear from us shortly.</p>",
		enrollment.StudentName, enrollment.Amount.StringFixed(2), enrollment.CourseTitle, enrollment.CourseCode,
	)
	return s.send(ctx, email, subject, body)
}

func (s *service) EnrollmentApproved(ctx context.Context, enrollment *models.Enrollment, email string) error {
	subject := fmt.Sprintf("You're enrolled in %s", enrollment.CourseTitle)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>%s has approved your enrollment in <strong>%s</strong> (%s). Welcome aboard!</p>",
		enrollment.StudentName, enrollment.MentorName, enrollment.CourseTitle, enrollment.CourseCode,
	)
	return s.send(ctx, email, subject, body)
}

func (s *service) EnrollmentRejected(ctx context.Context, enrollment *models.Enrollment, email string) error {
	subject := fmt.Sprintf("Update on your %s enrollment", enrollment.CourseTitle)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Unfortunately your enrollment in <strong>%s</strong> (%s) was not approved. "+
			"Our support team will reach out about your payment of KES %s.</p>",
		enrollment.StudentName, enrollment.CourseTitle, enrollment.CourseCode, enrollment.Amount.StringFixed(2),
	)
	return s.send(ctx, email, subject, body)
}

func (s *service) send(ctx context.Context, email, subject, body string) error {
	if email == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient email required")
	}
	err := s.mail.Send(ctx, mailer.Message{To: email, Subject: subject, Body: body})
	if err != nil {
		// Email delivery never blocks the pipeline; callers run this in the
		// background and the failure is only logged.
		s.logg.Error(s.logg.WithField(ctx, "subject", subject), "delivering notification", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delivering notification")
	}
	return nil
}

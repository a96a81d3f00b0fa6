// Package mpesawebhook turns Daraja STK callbacks into enrollment state
// transitions and correlation records.
package mpesawebhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	enrollment "github.com/sirbramstech/campus-backend/internal/enrollments"
	notification "github.com/sirbramstech/campus-backend/internal/notifications"
	payment "github.com/sirbramstech/campus-backend/internal/payments"
	"github.com/sirbramstech/campus-backend/pkg/db/models"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
	"github.com/sirbramstech/campus-backend/pkg/logger"
	"github.com/sirbramstech/campus-backend/pkg/metrics"
	"github.com/sirbramstech/campus-backend/pkg/redis"
)

const idempotencyScope = "mpesa-callback"

// errUnmapped marks a callback whose (student, course) pair could not be
// recovered from any mapping source.
var errUnmapped = pkgerrors.New(pkgerrors.CodeNotFound, "callback could not be mapped to an enrollment")

// OutcomeRecorder persists the terminal outcome of a checkout.
type OutcomeRecorder interface {
	MarkCompleted(ctx context.Context, checkoutID string) error
	MarkFailed(ctx context.Context, checkoutID string) error
}

// SessionReader recovers the initiating (student, course) pair for a
// checkout when the enrollment row cannot be found directly.
type SessionReader interface {
	Load(ctx context.Context, checkoutID string) (payment.SessionContext, bool, error)
}

// CallbackInput is a parsed callback plus the fallback identifiers carried on
// the callback URL's query string.
type CallbackInput struct {
	Callback          STKCallback
	FallbackStudentID int64
	FallbackCourseID  int64
}

// ServiceParams wires the webhook dependencies.
type ServiceParams struct {
	Enrollments enrollment.Repository
	Outcomes    OutcomeRecorder
	Sessions    SessionReader
	Students    payment.StudentDirectory
	Courses     payment.CourseCatalog
	Notifier    notification.Service
	Idempotency redis.KV
	Metrics     *metrics.PaymentMetrics
	Logger      *logger.Logger
}

// Service processes STK callbacks.
type Service struct {
	enrollments enrollment.Repository
	outcomes    OutcomeRecorder
	sessions    SessionReader
	students    payment.StudentDirectory
	courses     payment.CourseCatalog
	notifier    notification.Service
	idempotency redis.KV
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
}

// NewService validates and builds the webhook service. Idempotency and
// metrics are optional.
func NewService(params ServiceParams) (*Service, error) {
	if params.Enrollments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "enrollment repository required")
	}
	if params.Outcomes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outcome recorder required")
	}
	if params.Sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "session reader required")
	}
	if params.Students == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "student directory required")
	}
	if params.Courses == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "course catalog required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Service{
		enrollments: params.Enrollments,
		outcomes:    params.Outcomes,
		sessions:    params.Sessions,
		students:    params.Students,
		courses:     params.Courses,
		notifier:    params.Notifier,
		idempotency: params.Idempotency,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

// HandleCallback applies the callback's verdict. Errors are for the caller's
// logs only; the HTTP layer acknowledges the gateway either way.
func (s *Service) HandleCallback(ctx context.Context, input CallbackInput) error {
	checkoutID := strings.TrimSpace(input.Callback.CheckoutRequestID)
	if checkoutID == "" {
		s.metrics.IncCallback("invalid")
		return pkgerrors.New(pkgerrors.CodeValidation, "callback missing checkout request id")
	}
	ctx = s.logg.WithCheckoutID(ctx, checkoutID)

	key := redis.IdempotencyKey(idempotencyScope, fmt.Sprintf("%s:%d", checkoutID, input.Callback.ResultCode))
	if !s.claim(ctx, key) {
		s.metrics.IncCallback("duplicate")
		s.logg.Info(ctx, "duplicate callback ignored")
		return nil
	}

	var err error
	if input.Callback.ResultCode == payment.ResultCodeSuccess {
		err = s.handleSuccess(ctx, checkoutID, input)
	} else {
		err = s.handleFailure(ctx, checkoutID, input.Callback)
	}
	if err != nil {
		// Release the claim so the gateway's retry of this delivery is
		// processed instead of being dropped as a duplicate.
		s.release(ctx, key)
	}
	return err
}

func (s *Service) handleSuccess(ctx context.Context, checkoutID string, input CallbackInput) error {
	receipt := input.Callback.ReceiptNumber()
	if receipt == "" {
		s.logg.Warn(ctx, "success callback without receipt number")
	}

	mapping, err := s.resolveMapping(ctx, checkoutID, input)
	if err != nil {
		if errors.Is(err, errUnmapped) {
			// Record the verdict anyway. The store is keyed by checkout id,
			// so the reconciler can still finish the enrollment from the
			// poller's identifiers.
			if cacheErr := s.outcomes.MarkCompleted(ctx, checkoutID); cacheErr != nil {
				s.logg.Warn(ctx, fmt.Sprintf("recording completed outcome: %v", cacheErr))
			}
		}
		s.metrics.IncCallback("unmapped")
		return err
	}

	var updated *models.Enrollment
	var moved bool
	if mapping.row == nil {
		updated, moved, err = s.createPaid(ctx, checkoutID, mapping.studentID, mapping.courseID, receipt)
	} else {
		updated, moved, err = s.enrollments.MarkPaid(ctx, checkoutID, receipt)
	}
	if err != nil {
		s.metrics.IncCallback("error")
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording paid enrollment")
	}

	if err := s.outcomes.MarkCompleted(ctx, checkoutID); err != nil {
		// Pollers fall back to the enrollment row when the cache write fails.
		s.logg.Warn(ctx, fmt.Sprintf("recording completed outcome: %v", err))
	}
	s.metrics.IncCallback("success")

	if moved {
		s.logg.Info(ctx, "payment confirmed, enrollment awaiting approval")
		s.notifyPayment(ctx, updated)
	} else {
		s.logg.Info(ctx, "replayed success callback, enrollment unchanged")
	}
	return nil
}

// handleFailure records the failed outcome for the checkout. The enrollment
// row is left alone: a failed push never creates or mutates an enrollment,
// and a retried initiation re-enters through the same row.
func (s *Service) handleFailure(ctx context.Context, checkoutID string, callback STKCallback) error {
	reason := payment.ClassifyResultCode(callback.ResultCode)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"result_code": callback.ResultCode,
		"reason":      reason,
	})

	row, err := s.enrollments.FindByCheckoutID(ctx, checkoutID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(ctx, fmt.Sprintf("loading enrollment: %v", err))
		row = nil
	}
	if row != nil && row.Status.IsPaid() {
		// A failure verdict never demotes a payment that already landed.
		s.metrics.IncCallback("ignored")
		s.logg.Warn(ctx, "failure callback for paid enrollment ignored")
		return nil
	}

	if err := s.outcomes.MarkFailed(ctx, checkoutID); err != nil {
		s.metrics.IncCallback("error")
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording failed outcome")
	}
	s.metrics.IncCallback("failed")
	s.logg.Info(ctx, fmt.Sprintf("payment failed: %s", callback.ResultDesc))
	return nil
}

// callbackMapping is a resolved callback target: an existing row, or just the
// (student, course) pair when the initiation write has not landed yet.
type callbackMapping struct {
	row       *models.Enrollment
	studentID int64
	courseID  int64
}

// resolveMapping maps the callback to its enrollment. The direct lookup by
// checkout id handles the normal case; the session store, the callback URL's
// query parameters, and the account reference embedded at push time cover
// callbacks that raced the initiation write. A mapping with no row means the
// caller may create one.
func (s *Service) resolveMapping(ctx context.Context, checkoutID string, input CallbackInput) (callbackMapping, error) {
	row, err := s.enrollments.FindByCheckoutID(ctx, checkoutID)
	if err == nil {
		return callbackMapping{row: row, studentID: row.StudentID, courseID: row.CourseID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return callbackMapping{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading enrollment")
	}

	studentID, courseID := input.FallbackStudentID, input.FallbackCourseID
	if session, found, sessionErr := s.sessions.Load(ctx, checkoutID); sessionErr != nil {
		s.logg.Warn(ctx, fmt.Sprintf("loading payment session: %v", sessionErr))
	} else if found {
		// Our own session record outranks caller-supplied parameters.
		studentID, courseID = session.StudentID, session.CourseID
	}
	if studentID <= 0 || courseID <= 0 {
		studentID, courseID = parseEmbeddedReference(input.Callback.AccountReference())
	}
	if studentID <= 0 || courseID <= 0 {
		return callbackMapping{}, errUnmapped
	}

	row, err = s.enrollments.FindByStudentAndCourse(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The initiation write has not landed yet; the success path
			// creates the row from the mapped identifiers.
			return callbackMapping{studentID: studentID, courseID: courseID}, nil
		}
		return callbackMapping{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading enrollment")
	}
	if row.CheckoutRequestID != nil && *row.CheckoutRequestID != checkoutID {
		// The pair has since started a newer attempt; this callback belongs
		// to an abandoned one.
		return callbackMapping{}, pkgerrors.New(pkgerrors.CodeNotFound, "callback references a superseded payment attempt")
	}
	return callbackMapping{row: row, studentID: studentID, courseID: courseID}, nil
}

// createPaid upserts the missing enrollment row and promotes it in one go,
// covering a success callback that outran the initiation write.
func (s *Service) createPaid(ctx context.Context, checkoutID string, studentID, courseID int64, receipt string) (*models.Enrollment, bool, error) {
	student, err := s.students.FindStudentByID(ctx, studentID)
	if err != nil {
		return nil, false, err
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, false, err
	}

	row := models.NewEnrollmentSnapshot(student, course)
	row.CheckoutRequestID = &checkoutID
	if _, err := s.enrollments.UpsertInitiated(ctx, row); err != nil {
		if errors.Is(err, enrollment.ErrAlreadyPaid) {
			existing, findErr := s.enrollments.FindByStudentAndCourse(ctx, studentID, courseID)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return s.enrollments.MarkPaid(ctx, checkoutID, receipt)
}

// parseEmbeddedReference splits the "studentID|courseID" account reference
// the initiator embeds into the push.
func parseEmbeddedReference(ref string) (int64, int64) {
	parts := strings.Split(strings.TrimSpace(ref), "|")
	if len(parts) != 2 {
		return 0, 0
	}
	studentID, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0
	}
	courseID, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0
	}
	return studentID, courseID
}

// claim marks the callback as being processed and reports whether this
// delivery is the first. Redis trouble never blocks processing.
func (s *Service) claim(ctx context.Context, key string) bool {
	if s.idempotency == nil {
		return true
	}
	stored, err := s.idempotency.SetNX(ctx, key, "1", 24*time.Hour)
	if err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("idempotency check failed: %v", err))
		return true
	}
	return stored
}

func (s *Service) release(ctx context.Context, key string) {
	if s.idempotency == nil {
		return
	}
	if err := s.idempotency.Del(ctx, key); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("releasing idempotency claim: %v", err))
	}
}

func (s *Service) notifyPayment(ctx context.Context, row *models.Enrollment) {
	background := context.WithoutCancel(ctx)
	go func() {
		student, err := s.students.FindStudentByID(background, row.StudentID)
		if err != nil {
			s.logg.Error(background, "resolving student for payment notification", err)
			return
		}
		_ = s.notifier.PaymentReceived(background, row, student.Email)
	}()
}

// Package payment drives the push payment pipeline: initiating STK pushes,
// answering status polls, and reconciling the cache against the database.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sirbramstech/campus-backend/internal/correlation"
	enrollment "github.com/sirbramstech/campus-backend/internal/enrollments"
	"github.com/sirbramstech/campus-backend/pkg/config"
	"github.com/sirbramstech/campus-backend/pkg/db/models"
	"github.com/sirbramstech/campus-backend/pkg/enums"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
	"github.com/sirbramstech/campus-backend/pkg/logger"
	"github.com/sirbramstech/campus-backend/pkg/metrics"
	"github.com/sirbramstech/campus-backend/pkg/mpesa"
)

// Gateway is the slice of the M-Pesa client the pipeline uses.
type Gateway interface {
	STKPush(ctx context.Context, push mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
}

// StudentDirectory resolves paying students.
type StudentDirectory interface {
	FindStudentByID(ctx context.Context, id int64) (*models.Member, error)
}

// CourseCatalog resolves the course being purchased.
type CourseCatalog interface {
	FindByID(ctx context.Context, id int64) (*models.Course, error)
}

// OutcomeReader answers whether a checkout has a recorded terminal outcome.
type OutcomeReader interface {
	Lookup(ctx context.Context, checkoutID string) (correlation.Outcome, bool, error)
}

// Service defines payment initiation and status polling.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	Status(ctx context.Context, query StatusQuery) (*StatusResult, error)
}

// InitiateInput identifies the purchase being paid for. Phone is optional;
// when empty the student's profile number is used.
type InitiateInput struct {
	StudentID int64
	CourseID  int64
	Phone     string
}

// InitiateResult is returned to the client after the gateway accepts a push.
type InitiateResult struct {
	EnrollmentID      int64  `json:"enrollment_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	MerchantRequestID string `json:"merchant_request_id"`
	Amount            string `json:"amount"`
	CustomerMessage   string `json:"customer_message,omitempty"`
}

// StatusQuery identifies the payment attempt a client is polling.
type StatusQuery struct {
	StudentID  int64
	CourseID   int64
	CheckoutID string
}

// StatusResult carries the reconciled answer for a poll.
type StatusResult struct {
	Status           enums.PaymentPollStatus `json:"status"`
	EnrollmentStatus enums.EnrollmentStatus  `json:"enrollment_status,omitempty"`
}

// ServiceParams wires the payment pipeline dependencies. Metrics is
// optional. AllowGraceFallback synthesizes a success after the grace period
// for local testing and must stay off in production.
type ServiceParams struct {
	Gateway            Gateway
	Enrollments        enrollment.Repository
	Students           StudentDirectory
	Courses            CourseCatalog
	Outcomes           OutcomeReader
	Sessions           *SessionStore
	Metrics            *metrics.PaymentMetrics
	Mpesa              config.MpesaConfig
	Payments           config.PaymentsConfig
	AllowGraceFallback bool
	Logger             *logger.Logger
}

type service struct {
	gateway     Gateway
	enrollments enrollment.Repository
	students    StudentDirectory
	courses     CourseCatalog
	outcomes    OutcomeReader
	sessions    *SessionStore
	metrics     *metrics.PaymentMetrics
	cfg         config.MpesaConfig
	payCfg      config.PaymentsConfig
	allowGrace  bool
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway required")
	}
	if params.Enrollments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "enrollment repository required")
	}
	if params.Students == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "student directory required")
	}
	if params.Courses == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "course catalog required")
	}
	if params.Outcomes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outcome store required")
	}
	if params.Sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "session store required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		gateway:     params.Gateway,
		enrollments: params.Enrollments,
		students:    params.Students,
		courses:     params.Courses,
		outcomes:    params.Outcomes,
		sessions:    params.Sessions,
		metrics:     params.Metrics,
		cfg:         params.Mpesa,
		payCfg:      params.Payments,
		allowGrace:  params.AllowGraceFallback,
		logg:        params.Logger,
		now:         time.Now,
	}, nil
}

// Initiate pushes a payment prompt to the student's phone and records the
// initiated attempt. No enrollment row is touched when the gateway refuses
// the submission.
func (s *service) Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error) {
	studentID, courseID := input.StudentID, input.CourseID
	if studentID <= 0 || courseID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id and course id required")
	}
	ctx = s.logg.WithCourseID(s.logg.WithStudentID(ctx, studentID), courseID)

	student, err := s.students.FindStudentByID(ctx, studentID)
	if err != nil {
		return nil, err
	}
	rawPhone := input.Phone
	if strings.TrimSpace(rawPhone) == "" {
		rawPhone = student.Phone
	}
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "phone number is not payable")
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, err
	}

	existing, err := s.enrollments.FindByStudentAndCourse(ctx, studentID, courseID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading enrollment")
	}
	if existing != nil && existing.Status.IsPaid() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "course is already paid for").
			WithDetails(map[string]any{"status": existing.Status})
	}

	amount := course.Amount.Round(0).IntPart()
	started := s.now()
	resp, err := s.gateway.STKPush(ctx, mpesa.STKPushRequest{
		Phone:       phone,
		Amount:      amount,
		CallbackURL: s.callbackURL(studentID, courseID),
		// The pair is embedded so the callback can be mapped even when the
		// session and enrollment writes below have not landed yet.
		AccountRef:  fmt.Sprintf("%d|%d", studentID, courseID),
		Description: s.cfg.TransactionDesc,
	})
	if err != nil {
		s.metrics.IncSubmission("rejected")
		s.metrics.ObservePushDuration("rejected", s.now().Sub(started))
		return nil, s.submissionError(ctx, err)
	}
	s.metrics.IncSubmission("accepted")
	s.metrics.ObservePushDuration("accepted", s.now().Sub(started))

	ctx = s.logg.WithCheckoutID(ctx, resp.CheckoutRequestID)

	row := models.NewEnrollmentSnapshot(student, course)
	row.MerchantRequestID = &resp.MerchantRequestID
	row.CheckoutRequestID = &resp.CheckoutRequestID

	created, err := s.enrollments.UpsertInitiated(ctx, row)
	if err != nil {
		if errors.Is(err, enrollment.ErrAlreadyPaid) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "course is already paid for")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording initiated payment")
	}

	// Best effort: the callback can still map through the enrollment row or
	// the query-string fallback if this write fails.
	if err := s.sessions.Save(ctx, resp.CheckoutRequestID, SessionContext{
		StudentID:    studentID,
		CourseID:     courseID,
		EnrollmentID: created.ID,
		InitiatedAt:  s.now().UTC(),
	}); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("storing payment session: %v", err))
	}

	s.logg.Info(ctx, "payment initiated")
	return &InitiateResult{
		EnrollmentID:      created.ID,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		Amount:            course.Amount.StringFixed(2),
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

func (s *service) submissionError(ctx context.Context, err error) error {
	var rejection *mpesa.RejectionError
	if errors.As(err, &rejection) {
		reason := classifyRejection(rejection)
		s.logg.Warn(ctx, fmt.Sprintf("gateway rejected push: %s (%s)", rejection.Message, reason))
		return pkgerrors.Wrap(pkgerrors.CodePayment, err, reason.UserMessage()).
			WithDetails(map[string]any{"reason": reason})
	}
	// Credential failures already carry their code.
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "submitting payment request")
}

// Status answers the client's poll by walking the resolution ladder: durable
// enrollment first, then the outcome cache, then (outside production) the
// grace-period fallback. Internal failures degrade to pending rather than
// erroring the poll; the webhook or a later poll settles the answer.
func (s *service) Status(ctx context.Context, query StatusQuery) (*StatusResult, error) {
	if query.StudentID <= 0 || query.CourseID <= 0 || strings.TrimSpace(query.CheckoutID) == "" {
		// A malformed poll is answered like an unresolved one; the poller
		// retries with corrected identifiers or gives up.
		s.logg.Warn(ctx, "status poll with incomplete identifiers")
		return s.pollResult(enums.PaymentPollStatusPending, nil), nil
	}
	ctx = s.logg.WithCheckoutID(ctx, query.CheckoutID)

	byCheckout, err := s.enrollments.FindByCheckoutID(ctx, query.CheckoutID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(ctx, fmt.Sprintf("loading enrollment by checkout: %v", err))
		byCheckout = nil
	}
	if byCheckout != nil && (byCheckout.StudentID != query.StudentID || byCheckout.CourseID != query.CourseID) {
		// Checkout ids are not guessable, but a stale client may poll an
		// attempt that was superseded or belongs to someone else.
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
	}

	row, err := s.enrollments.FindByStudentAndCourse(ctx, query.StudentID, query.CourseID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(ctx, fmt.Sprintf("loading enrollment: %v", err))
		row = nil
	}

	if row != nil && row.Status.IsPaid() {
		return s.pollResult(enums.PaymentPollStatusSuccess, row), nil
	}

	outcome, found, err := s.outcomes.Lookup(ctx, query.CheckoutID)
	if err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("outcome lookup failed, falling back to db: %v", err))
	}
	if found {
		switch outcome {
		case correlation.OutcomeCompleted:
			// The poll can land between the cache write and the durable
			// upsert; make the success durable before reporting it.
			row = s.ensurePaid(ctx, query, row)
			return s.pollResult(enums.PaymentPollStatusSuccess, row), nil
		case correlation.OutcomeFailed:
			return s.pollResult(enums.PaymentPollStatusFailed, row), nil
		}
	}

	if s.allowGrace && s.gracePeriodElapsed(ctx, query.CheckoutID, row) {
		s.logg.Warn(ctx, "grace period elapsed with no callback, synthesizing success")
		row = s.ensurePaid(ctx, query, row)
		return s.pollResult(enums.PaymentPollStatusSuccess, row), nil
	}

	return s.pollResult(enums.PaymentPollStatusPending, row), nil
}

func (s *service) pollResult(status enums.PaymentPollStatus, row *models.Enrollment) *StatusResult {
	result := &StatusResult{Status: status}
	if row != nil {
		result.EnrollmentStatus = row.Status
	}
	s.metrics.IncPoll(status.String())
	return result
}

// ensurePaid makes a cached success durable. Failures are logged only; the
// cache already holds the truth and the next poll or callback retry will
// persist it.
func (s *service) ensurePaid(ctx context.Context, query StatusQuery, row *models.Enrollment) *models.Enrollment {
	if row == nil {
		student, err := s.students.FindStudentByID(ctx, query.StudentID)
		if err != nil {
			s.logg.Error(ctx, "recovering student for defensive upsert", err)
			return nil
		}
		course, err := s.courses.FindByID(ctx, query.CourseID)
		if err != nil {
			s.logg.Error(ctx, "recovering course for defensive upsert", err)
			return nil
		}
		fresh := models.NewEnrollmentSnapshot(student, course)
		checkoutID := query.CheckoutID
		fresh.CheckoutRequestID = &checkoutID
		row, err = s.enrollments.UpsertInitiated(ctx, fresh)
		if err != nil {
			if errors.Is(err, enrollment.ErrAlreadyPaid) {
				row, _ = s.enrollments.FindByStudentAndCourse(ctx, query.StudentID, query.CourseID)
				return row
			}
			s.logg.Error(ctx, "defensive enrollment upsert", err)
			return nil
		}
	}
	if row.Status.IsPaid() {
		return row
	}
	promoted, moved, err := s.enrollments.MarkPaid(ctx, query.CheckoutID, "")
	if err != nil {
		s.logg.Error(ctx, "promoting enrollment from cached outcome", err)
		return row
	}
	if moved {
		s.logg.Info(ctx, "enrollment promoted from cached outcome")
	}
	if promoted != nil {
		return promoted
	}
	return row
}

// gracePeriodElapsed reports whether the attempt has been in flight longer
// than the configured grace period, judged by the payment session or the
// enrollment row's creation time.
func (s *service) gracePeriodElapsed(ctx context.Context, checkoutID string, row *models.Enrollment) bool {
	grace := s.payCfg.GracePeriod
	if grace <= 0 {
		return false
	}
	if session, found, err := s.sessions.Load(ctx, checkoutID); err == nil && found {
		return s.now().Sub(session.InitiatedAt) > grace
	}
	if row != nil && !row.CreatedAt.IsZero() {
		return s.now().Sub(row.CreatedAt) > grace
	}
	return false
}

func (s *service) callbackURL(studentID, courseID int64) string {
	base := strings.TrimRight(s.cfg.CallbackBaseURL, "/")
	values := url.Values{}
	values.Set("student_id", strconv.FormatInt(studentID, 10))
	values.Set("course_id", strconv.FormatInt(courseID, 10))
	return fmt.Sprintf("%s/api/v1/webhooks/mpesa?%s", base, values.Encode())
}

var phoneDigitsRe = regexp.MustCompile(`^[0-9]+$`)

// NormalizePhone converts Kenyan MSISDN spellings to the 2547XXXXXXXX form
// the gateway requires.
func NormalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")
	phone = strings.TrimPrefix(phone, "+")

	switch {
	case strings.HasPrefix(phone, "0") && len(phone) == 10:
		phone = "254" + phone[1:]
	case strings.HasPrefix(phone, "7") && len(phone) == 9:
		phone = "254" + phone
	case strings.HasPrefix(phone, "1") && len(phone) == 9:
		phone = "254" + phone
	}

	if len(phone) != 12 || !strings.HasPrefix(phone, "254") || !phoneDigitsRe.MatchString(phone) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	return phone, nil
}

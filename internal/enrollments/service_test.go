package enrollment

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sirbramstech/campus-backend/pkg/db/models"
	"github.com/sirbramstech/campus-backend/pkg/enums"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
	"github.com/sirbramstech/campus-backend/pkg/logger"
	"github.com/sirbramstech/campus-backend/pkg/pagination"
)

type fakeRepo struct {
	rows map[int64]*models.Enrollment
}

func newFakeRepo(rows ...*models.Enrollment) *fakeRepo {
	repo := &fakeRepo{rows: map[int64]*models.Enrollment{}}
	for _, row := range rows {
		repo.rows[row.ID] = row
	}
	return repo
}

func (f *fakeRepo) WithTx(*gorm.DB) Repository { return f }

func (f *fakeRepo) UpsertInitiated(_ context.Context, enrollment *models.Enrollment) (*models.Enrollment, error) {
	f.rows[enrollment.ID] = enrollment
	return enrollment, nil
}

func (f *fakeRepo) FindByID(_ context.Context, id int64) (*models.Enrollment, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeRepo) FindByStudentAndCourse(_ context.Context, studentID, courseID int64) (*models.Enrollment, error) {
	for _, row := range f.rows {
		if row.StudentID == studentID && row.CourseID == courseID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) FindByCheckoutID(_ context.Context, checkoutID string) (*models.Enrollment, error) {
	for _, row := range f.rows {
		if row.CheckoutRequestID != nil && *row.CheckoutRequestID == checkoutID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) MarkPaid(ctx context.Context, checkoutID, transactionCode string) (*models.Enrollment, bool, error) {
	for _, row := range f.rows {
		if row.CheckoutRequestID != nil && *row.CheckoutRequestID == checkoutID {
			if row.Status != enums.EnrollmentStatusInitiated {
				copied := *row
				return &copied, false, nil
			}
			row.Status = enums.EnrollmentStatusPaidPending
			row.TransactionCode = &transactionCode
			copied := *row
			return &copied, true, nil
		}
	}
	return nil, false, gorm.ErrRecordNotFound
}

func (f *fakeRepo) Decide(_ context.Context, id int64, decision enums.EnrollmentStatus) (bool, error) {
	row, ok := f.rows[id]
	if !ok || row.Status != enums.EnrollmentStatusPaidPending {
		return false, nil
	}
	row.Status = decision
	return true, nil
}

func (f *fakeRepo) List(_ context.Context, params ListParams) ([]models.Enrollment, *pagination.Cursor, error) {
	var rows []models.Enrollment
	for _, row := range f.rows {
		if params.Status != nil && row.Status != *params.Status {
			continue
		}
		rows = append(rows, *row)
	}
	return rows, nil, nil
}

func (f *fakeRepo) ListPaidByStudent(_ context.Context, studentID int64) ([]models.Enrollment, error) {
	var rows []models.Enrollment
	for _, row := range f.rows {
		if row.StudentID == studentID && row.Status.IsPaid() {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

type fakeDirectory struct {
	students map[int64]*models.Member
}

func (f *fakeDirectory) FindStudentByID(_ context.Context, id int64) (*models.Member, error) {
	student, ok := f.students[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
	}
	return student, nil
}

type notifyEvent struct {
	kind  string
	email string
}

type fakeNotifier struct {
	events chan notifyEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(chan notifyEvent, 4)}
}

func (f *fakeNotifier) PaymentReceived(_ context.Context, _ *models.Enrollment, email string) error {
	f.events <- notifyEvent{kind: "payment", email: email}
	return nil
}

func (f *fakeNotifier) EnrollmentApproved(_ context.Context, _ *models.Enrollment, email string) error {
	f.events <- notifyEvent{kind: "approved", email: email}
	return nil
}

func (f *fakeNotifier) EnrollmentRejected(_ context.Context, _ *models.Enrollment, email string) error {
	f.events <- notifyEvent{kind: "rejected", email: email}
	return nil
}

func (f *fakeNotifier) waitForEvent(t *testing.T) notifyEvent {
	t.Helper()
	select {
	case event := <-f.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return notifyEvent{}
	}
}

func pendingEnrollment(id int64) *models.Enrollment {
	checkoutID := "ws_CO_1"
	code := "SBT61H12AB"
	return &models.Enrollment{
		ID:                id,
		StudentID:         1,
		CourseID:          10,
		StudentName:       "Jane Wanjiku",
		CourseTitle:       "Intro to Backend Engineering",
		CourseCode:        "BE-101",
		MentorName:        "Brian Omondi",
		Amount:            decimal.NewFromInt(1500),
		CheckoutRequestID: &checkoutID,
		TransactionCode:   &code,
		Status:            enums.EnrollmentStatusPaidPending,
	}
}

func newEnrollmentService(t *testing.T, repo Repository, notifier *fakeNotifier) Service {
	t.Helper()
	directory := &fakeDirectory{students: map[int64]*models.Member{
		1: {ID: 1, Name: "Jane Wanjiku", Email: "jane@example.com", Role: enums.MemberRoleStudent},
	}}
	svc, err := NewService(repo, directory, notifier, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestApproveMovesPendingAndNotifies(t *testing.T) {
	notifier := newFakeNotifier()
	svc := newEnrollmentService(t, newFakeRepo(pendingEnrollment(5)), notifier)

	updated, err := svc.Approve(context.Background(), 5)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if updated.Status != enums.EnrollmentStatusApproved {
		t.Fatalf("unexpected status %s", updated.Status)
	}

	event := notifier.waitForEvent(t)
	if event.kind != "approved" || event.email != "jane@example.com" {
		t.Fatalf("unexpected notification %+v", event)
	}
}

func TestRejectMovesPendingAndNotifies(t *testing.T) {
	notifier := newFakeNotifier()
	svc := newEnrollmentService(t, newFakeRepo(pendingEnrollment(5)), notifier)

	updated, err := svc.Reject(context.Background(), 5)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if updated.Status != enums.EnrollmentStatusRejected {
		t.Fatalf("unexpected status %s", updated.Status)
	}

	event := notifier.waitForEvent(t)
	if event.kind != "rejected" {
		t.Fatalf("unexpected notification %+v", event)
	}
}

func TestDecideRefusesNonPendingStates(t *testing.T) {
	for _, status := range []enums.EnrollmentStatus{
		enums.EnrollmentStatusInitiated,
		enums.EnrollmentStatusApproved,
		enums.EnrollmentStatusRejected,
		enums.EnrollmentStatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			row := pendingEnrollment(5)
			row.Status = status
			svc := newEnrollmentService(t, newFakeRepo(row), newFakeNotifier())

			_, err := svc.Approve(context.Background(), 5)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
				t.Fatalf("expected state conflict, got %v", err)
			}
		})
	}
}

func TestDecideUnknownEnrollment(t *testing.T) {
	svc := newEnrollmentService(t, newFakeRepo(), newFakeNotifier())
	_, err := svc.Approve(context.Background(), 404)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListRejectsBadFilters(t *testing.T) {
	svc := newEnrollmentService(t, newFakeRepo(), newFakeNotifier())

	if _, err := svc.List(context.Background(), ListInput{Status: "paid"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if _, err := svc.List(context.Background(), ListInput{Cursor: "garbage!"}); err == nil {
		t.Fatal("expected error for bad cursor")
	}
}

func TestReceiptRequiresConfirmedPayment(t *testing.T) {
	row := pendingEnrollment(5)
	svc := newEnrollmentService(t, newFakeRepo(row), newFakeNotifier())

	receipt, err := svc.Receipt(context.Background(), 5)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.TransactionCode != "SBT61H12AB" || receipt.Amount != "1500.00" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	failed := pendingEnrollment(6)
	failed.Status = enums.EnrollmentStatusFailed
	svc = newEnrollmentService(t, newFakeRepo(failed), newFakeNotifier())
	_, err = svc.Receipt(context.Background(), 6)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

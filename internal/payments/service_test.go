package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sirbramstech/campus-backend/internal/correlation"
	enrollment "github.com/sirbramstech/campus-backend/internal/enrollments"
	"github.com/sirbramstech/campus-backend/pkg/config"
	"github.com/sirbramstech/campus-backend/pkg/db/models"
	"github.com/sirbramstech/campus-backend/pkg/enums"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
	"github.com/sirbramstech/campus-backend/pkg/logger"
	"github.com/sirbramstech/campus-backend/pkg/mpesa"
	"github.com/sirbramstech/campus-backend/pkg/pagination"
)

type fakeGateway struct {
	resp     *mpesa.STKPushResponse
	err      error
	requests []mpesa.STKPushRequest
}

func (f *fakeGateway) STKPush(_ context.Context, push mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	f.requests = append(f.requests, push)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeEnrollments struct {
	rows       map[int64]*models.Enrollment
	nextID     int64
	upsertErr  error
	upsertHits int
}

func newFakeEnrollments(rows ...*models.Enrollment) *fakeEnrollments {
	repo := &fakeEnrollments{rows: map[int64]*models.Enrollment{}, nextID: 100}
	for _, row := range rows {
		repo.rows[row.ID] = row
	}
	return repo
}

func (f *fakeEnrollments) WithTx(*gorm.DB) enrollment.Repository { return f }

func (f *fakeEnrollments) UpsertInitiated(_ context.Context, row *models.Enrollment) (*models.Enrollment, error) {
	f.upsertHits++
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	for _, existing := range f.rows {
		if existing.StudentID == row.StudentID && existing.CourseID == row.CourseID {
			if existing.Status.IsPaid() {
				return nil, enrollment.ErrAlreadyPaid
			}
			row.ID = existing.ID
			row.Status = enums.EnrollmentStatusInitiated
			f.rows[row.ID] = row
			return row, nil
		}
	}
	f.nextID++
	row.ID = f.nextID
	row.Status = enums.EnrollmentStatusInitiated
	f.rows[row.ID] = row
	return row, nil
}

func (f *fakeEnrollments) FindByID(_ context.Context, id int64) (*models.Enrollment, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (f *fakeEnrollments) FindByStudentAndCourse(_ context.Context, studentID, courseID int64) (*models.Enrollment, error) {
	for _, row := range f.rows {
		if row.StudentID == studentID && row.CourseID == courseID {
			return row, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeEnrollments) FindByCheckoutID(_ context.Context, checkoutID string) (*models.Enrollment, error) {
	for _, row := range f.rows {
		if row.CheckoutRequestID != nil && *row.CheckoutRequestID == checkoutID {
			return row, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeEnrollments) MarkPaid(ctx context.Context, checkoutID, code string) (*models.Enrollment, bool, error) {
	row, err := f.FindByCheckoutID(ctx, checkoutID)
	if err != nil {
		return nil, false, err
	}
	if row.Status != enums.EnrollmentStatusInitiated {
		return row, false, nil
	}
	row.Status = enums.EnrollmentStatusPaidPending
	row.TransactionCode = &code
	return row, true, nil
}

func (f *fakeEnrollments) Decide(_ context.Context, id int64, decision enums.EnrollmentStatus) (bool, error) {
	return false, errors.New("not used")
}

func (f *fakeEnrollments) List(_ context.Context, _ enrollment.ListParams) ([]models.Enrollment, *pagination.Cursor, error) {
	return nil, nil, errors.New("not used")
}

func (f *fakeEnrollments) ListPaidByStudent(_ context.Context, _ int64) ([]models.Enrollment, error) {
	return nil, errors.New("not used")
}

type fakeStudents struct {
	students map[int64]*models.Member
}

func (f *fakeStudents) FindStudentByID(_ context.Context, id int64) (*models.Member, error) {
	student, ok := f.students[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
	}
	return student, nil
}

type fakeCourses struct {
	courses map[int64]*models.Course
}

func (f *fakeCourses) FindByID(_ context.Context, id int64) (*models.Course, error) {
	course, ok := f.courses[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "course not found")
	}
	return course, nil
}

type fakeOutcomes struct {
	outcomes map[string]correlation.Outcome
	err      error
}

func (f *fakeOutcomes) Lookup(_ context.Context, checkoutID string) (correlation.Outcome, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	outcome, ok := f.outcomes[checkoutID]
	return outcome, ok, nil
}

type memoryKV struct {
	data map[string]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string]string{}}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	value, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

func (m *memoryKV) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memoryKV) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

type serviceFixture struct {
	svc      Service
	impl     *service
	gateway  *fakeGateway
	repo     *fakeEnrollments
	outcomes *fakeOutcomes
	sessions *SessionStore
	kv       *memoryKV
}

func acceptedPush() *mpesa.STKPushResponse {
	return &mpesa.STKPushResponse{
		MerchantRequestID:   "29115-34620561-1",
		CheckoutRequestID:   "ws_CO_1",
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}
}

func newServiceFixture(t *testing.T, repo *fakeEnrollments, gateway *fakeGateway) *serviceFixture {
	t.Helper()

	kv := newMemoryKV()
	sessions, err := NewSessionStore(kv, time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	outcomes := &fakeOutcomes{outcomes: map[string]correlation.Outcome{}}

	svc, err := NewService(ServiceParams{
		Gateway:     gateway,
		Enrollments: repo,
		Students: &fakeStudents{students: map[int64]*models.Member{
			1: {ID: 1, Name: "Jane Wanjiku", Email: "jane@example.com", Phone: "0712345678", Role: enums.MemberRoleStudent},
			2: {ID: 2, Name: "No Phone", Email: "nophone@example.com", Phone: "", Role: enums.MemberRoleStudent},
		}},
		Courses: &fakeCourses{courses: map[int64]*models.Course{
			10: {
				ID: 10, Title: "Intro to Backend Engineering", Code: "BE-101",
				MentorID: 3, Amount: decimal.NewFromInt(1500), Duration: "8 weeks",
				Mentor: &models.Member{ID: 3, Name: "Brian Omondi", Role: enums.MemberRoleMentor},
			},
		}},
		Outcomes: outcomes,
		Sessions: sessions,
		Mpesa: config.MpesaConfig{
			CallbackBaseURL: "https://campus.example.com",
			AccountRef:      "SirBrams Tech Virtual Campus",
			TransactionDesc: "Virtual Campus Charges",
		},
		Payments: config.PaymentsConfig{GracePeriod: 45 * time.Second},
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &serviceFixture{
		svc:      svc,
		impl:     svc.(*service),
		gateway:  gateway,
		repo:     repo,
		outcomes: outcomes,
		sessions: sessions,
		kv:       kv,
	}
}

func TestInitiateHappyPath(t *testing.T) {
	fixture := newServiceFixture(t, newFakeEnrollments(), &fakeGateway{resp: acceptedPush()})
	ctx := context.Background()

	result, err := fixture.svc.Initiate(ctx, InitiateInput{StudentID: 1, CourseID: 10})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.CheckoutRequestID != "ws_CO_1" || result.Amount != "1500.00" {
		t.Fatalf("unexpected result %+v", result)
	}

	// The push carried the normalized phone and the mapped callback URL.
	if len(fixture.gateway.requests) != 1 {
		t.Fatalf("expected one push, got %d", len(fixture.gateway.requests))
	}
	push := fixture.gateway.requests[0]
	if push.Phone != "254712345678" {
		t.Fatalf("unexpected phone %s", push.Phone)
	}
	if push.Amount != 1500 {
		t.Fatalf("unexpected amount %d", push.Amount)
	}
	if push.CallbackURL != "https://campus.example.com/api/v1/webhooks/mpesa?course_id=10&student_id=1" {
		t.Fatalf("unexpected callback url %s", push.CallbackURL)
	}
	if push.AccountRef != "1|10" {
		t.Fatalf("expected embedded account reference, got %q", push.AccountRef)
	}

	// The attempt was recorded with snapshots and correlation IDs.
	row, err := fixture.repo.FindByCheckoutID(ctx, "ws_CO_1")
	if err != nil {
		t.Fatalf("find by checkout: %v", err)
	}
	if row.Status != enums.EnrollmentStatusInitiated || row.MentorName != "Brian Omondi" {
		t.Fatalf("unexpected row %+v", row)
	}

	// The session context is recoverable for the webhook.
	session, found, err := fixture.sessions.Load(ctx, "ws_CO_1")
	if err != nil || !found {
		t.Fatalf("load session: found=%v err=%v", found, err)
	}
	if session.StudentID != 1 || session.CourseID != 10 || session.EnrollmentID != row.ID {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestInitiatePhoneOverride(t *testing.T) {
	fixture := newServiceFixture(t, newFakeEnrollments(), &fakeGateway{resp: acceptedPush()})

	_, err := fixture.svc.Initiate(context.Background(), InitiateInput{StudentID: 1, CourseID: 10, Phone: "+254 733 000111"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if got := fixture.gateway.requests[0].Phone; got != "254733000111" {
		t.Fatalf("expected override phone, got %s", got)
	}
}

func TestInitiateRejectionLeavesNoEnrollment(t *testing.T) {
	gateway := &fakeGateway{err: &mpesa.RejectionError{
		Code:    "400.002.02",
		Message: "Bad Request - Invalid PhoneNumber",
	}}
	fixture := newServiceFixture(t, newFakeEnrollments(), gateway)

	_, err := fixture.svc.Initiate(context.Background(), InitiateInput{StudentID: 1, CourseID: 10})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodePayment {
		t.Fatalf("expected payment error, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok || details["reason"] != enums.PaymentFailureInvalidNumber {
		t.Fatalf("unexpected details %v", typed.Details())
	}
	if fixture.repo.upsertHits != 0 {
		t.Fatal("failed submission must not touch enrollments")
	}
}

func TestInitiateCredentialFailurePassesThrough(t *testing.T) {
	gateway := &fakeGateway{err: pkgerrors.New(pkgerrors.CodeCredential, "payment credentials unavailable")}
	fixture := newServiceFixture(t, newFakeEnrollments(), gateway)

	_, err := fixture.svc.Initiate(context.Background(), InitiateInput{StudentID: 1, CourseID: 10})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeCredential {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestInitiateRefusesPaidEnrollment(t *testing.T) {
	checkoutID := "ws_CO_old"
	paid := &models.Enrollment{
		ID: 5, StudentID: 1, CourseID: 10,
		Status:            enums.EnrollmentStatusPaidPending,
		CheckoutRequestID: &checkoutID,
		Amount:            decimal.NewFromInt(1500),
	}
	fixture := newServiceFixture(t, newFakeEnrollments(paid), &fakeGateway{resp: acceptedPush()})

	_, err := fixture.svc.Initiate(context.Background(), InitiateInput{StudentID: 1, CourseID: 10})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(fixture.gateway.requests) != 0 {
		t.Fatal("no push should be sent for an already paid course")
	}
}

func TestInitiateRequiresPayablePhone(t *testing.T) {
	fixture := newServiceFixture(t, newFakeEnrollments(), &fakeGateway{resp: acceptedPush()})

	_, err := fixture.svc.Initiate(context.Background(), InitiateInput{StudentID: 2, CourseID: 10})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatusDurableRowWinsFirst(t *testing.T) {
	checkoutID := "ws_CO_1"
	code := "SBT61H12AB"
	row := &models.Enrollment{
		ID: 5, StudentID: 1, CourseID: 10,
		Status:            enums.EnrollmentStatusPaidPending,
		CheckoutRequestID: &checkoutID,
		TransactionCode:   &code,
		Amount:            decimal.NewFromInt(1500),
	}
	fixture := newServiceFixture(t, newFakeEnrollments(row), &fakeGateway{})
	// Even a stale failed cache entry must not override the durable record.
	fixture.outcomes.outcomes[checkoutID] = correlation.OutcomeFailed

	result, err := fixture.svc.Status(context.Background(), StatusQuery{StudentID: 1, CourseID: 10, CheckoutID: checkoutID})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Status != enums.PaymentPollStatusSuccess || result.EnrollmentStatus != enums.EnrollmentStatusPaidPending {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestStatusCachedSuccessPromotesRow(t *testing.T) {
	checkoutID := "ws_CO_1"
	row := &models.Enrollment{
		ID: 5, StudentID: 1, CourseID: 10,
		Status:            enums.EnrollmentStatusInitiated,
		CheckoutRequestID: &checkoutID,
		Amount:            decimal.NewFromInt(1500),
	}
	fixture := newServiceFixture(t, newFakeEnrollments(row), &fakeGateway{})
	fixture.outcomes.outcomes[checkoutID] = correlation.OutcomeCompleted

	result, err := fixture.svc.Status(context.Background(), StatusQuery{StudentID: 1, CourseID: 10, CheckoutID: checkoutID})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Status != enums.PaymentPollStatusSuccess {
		t.Fatalf("unexpected status %s", result.Status)
	}
	// The cached success was made durable.
	if row.Status != enums.EnrollmentStatusPaidPending {
		t.Fatalf("expected promoted row, got %s", row.Status)
	}
}

func TestStatusCachedSuccessCreatesRowDefensively(t *testing.T) {
	checkoutID := "ws_CO_1"
	fixture := newServiceFixture(t, newFakeEnrollments(), &fakeGateway{})
	fixture.outcomes.outcomes[checkoutID] = correlation.OutcomeCompleted

	result, err := fixture.svc.Status(context.Background(), StatusQuery{StudentID: 1, CourseID: 10, CheckoutID: checkoutID})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Status != enums.PaymentPollStatusSuccess {
		t.Fatalf("unexpected status %s", result.Status)
	}

	row, err := fixture.repo.FindByStudentAndCourse(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("expected defensive enrollment row: %v", err)
	}
	if !row.Status.IsPaid() {
		t.Fatalf("defensive row not promoted: %s", row.Status)
	}
	if row.StudentName != "Jane Wanjiku" || row.CourseTitle != "Intro to Backend Engineering" {
		t.Fatalf("missing snapshots %+v", row)
	}
}

func TestStatusCachedFailure(t *testing.T) {
	checkoutID := "ws_CO_1"
	row := &models.Enrollment{
		ID: 5, StudentID: 1, CourseID: 10,
		Status:            enums.EnrollmentStatusInitiated,
		CheckoutRequestID: &checkoutID,
		Amount:            decimal.NewFromInt(1500),
	}
	fixture := newServiceFixture(t, newFakeEnrollments(row), &fakeGateway{})
	fixture.outcomes.outcomes[checkoutID] = correlation.OutcomeFailed

	result, err := fixture.svc.Status(context.Background(), StatusQuery{StudentID: 1, CourseID: 10, CheckoutID: checkoutID})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Status != enums.PaymentPollStatusFailed {
		t.Fatalf("unexpected status %s", result.Status)
	}
	if row.Status != enums.EnrollmentStatusInitiated {
		t.Fatal("cached failure must not mutate the row")
	}
}

func TestStatusPendingWhileUnresolved(t *testing.T) {
	checkoutID := "ws_CO_1"
	row := &models.Enrollment{
		ID: 5, StudentID: 1, CourseID: 10,
		Status:            enums.EnrollmentStatusInitiated,
		CheckoutRequestID: &checkoutID,
		Amount:            decimal.NewFromInt(1500),
		CreatedAt:         time.Now(),
	}
	fixture := newServiceFixture(t, newFakeEnrollments(row), &fakeGateway{})

	result, err := fixture.svc.Status(context.Background(), StatusQuery{StudentID: 1, CourseID: 10, CheckoutID: checkoutID})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Status != enums.PaymentPollStatusPending {
		t.Fatalf("unexpected status %s", result.Status)
	}
}

func TestStatusGraceFallbackSynthesizesSuccess(t *testing.T) {
	checkoutID := "ws_CO_1"
	row := &models.Enrollment{
		ID: 5, StudentID: 1, CourseID: 10,
		Status:            enums.EnrollmentStatusInitiated,
		CheckoutRequestID: &checkoutID,
		Amount:            decimal.NewFromInt(1500),
		CreatedAt:         time.Now().Add(-5 * time.Minute),
	}
	fixture := newServiceFixture(t, newFakeEnrollments(row), &fakeGateway{})
	fixture.impl.allowGrace = true

	result, err := fixture.svc.Status(context.Background(), StatusQuery{StudentID: 1, CourseID: 10, CheckoutID: checkoutID})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Status != enums.PaymentPollStatusSuccess {
		t.Fatalf("unexpected status %s", result.Status)
	}
	if row.Status != enums.EnrollmentStatusPaidPending {
		t.Fatalf("expected synthesized success, got %s", row.Status)
	}
}

func TestStatusGraceFallbackDisabledInProduction(t *testing.T) {
	checkoutID := "ws_CO_1"
	row := &models.Enrollment{
		ID: 5, StudentID: 1, CourseID: 10,
		Status:            enums.EnrollmentStatusInitiated,
		CheckoutRequestID: &checkoutID,
		Amount:            decimal.NewFromInt(1500),
		CreatedAt:         time.Now().Add(-5 * time.Minute),
	}
	fixture := newServiceFixture(t, newFakeEnrollments(row), &fakeGateway{})

	result, err := fixture.svc.Status(context.Background(), StatusQuery{StudentID: 1, CourseID: 10, CheckoutID: checkoutID})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Status != enums.PaymentPollStatusPending {
		t.Fatalf("unexpected status %s", result.Status)
	}
}

func TestStatusCacheErrorDegradesToPending(t *testing.T) {
	checkoutID := "ws_CO_1"
	row := &models.Enrollment{
		ID: 5, StudentID: 1, CourseID: 10,
		Status:            enums.EnrollmentStatusInitiated,
		CheckoutRequestID: &checkoutID,
		Amount:            decimal.NewFromInt(1500),
		CreatedAt:         time.Now(),
	}
	fixture := newServiceFixture(t, newFakeEnrollments(row), &fakeGateway{})
	fixture.outcomes.err = errors.New("redis down")

	result, err := fixture.svc.Status(context.Background(), StatusQuery{StudentID: 1, CourseID: 10, CheckoutID: checkoutID})
	if err != nil {
		t.Fatalf("status must not error on cache failure: %v", err)
	}
	if result.Status != enums.PaymentPollStatusPending {
		t.Fatalf("unexpected status %s", result.Status)
	}
}

func TestStatusRejectsForeignCheckout(t *testing.T) {
	checkoutID := "ws_CO_1"
	row := &models.Enrollment{
		ID: 5, StudentID: 9, CourseID: 10,
		Status:            enums.EnrollmentStatusInitiated,
		CheckoutRequestID: &checkoutID,
		Amount:            decimal.NewFromInt(1500),
	}
	fixture := newServiceFixture(t, newFakeEnrollments(row), &fakeGateway{})

	_, err := fixture.svc.Status(context.Background(), StatusQuery{StudentID: 1, CourseID: 10, CheckoutID: checkoutID})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusIncompleteQueryDegradesToPending(t *testing.T) {
	fixture := newServiceFixture(t, newFakeEnrollments(), &fakeGateway{})

	for _, query := range []StatusQuery{
		{StudentID: 0, CourseID: 10, CheckoutID: "ws_CO_1"},
		{StudentID: 1, CourseID: -3, CheckoutID: "ws_CO_1"},
		{StudentID: 1, CourseID: 10, CheckoutID: "  "},
	} {
		result, err := fixture.svc.Status(context.Background(), query)
		if err != nil {
			t.Fatalf("status must not error on malformed poll %+v: %v", query, err)
		}
		if result.Status != enums.PaymentPollStatusPending {
			t.Fatalf("unexpected status %s for %+v", result.Status, query)
		}
	}
}

func TestStatusUnknownCheckoutStaysPending(t *testing.T) {
	fixture := newServiceFixture(t, newFakeEnrollments(), &fakeGateway{})

	result, err := fixture.svc.Status(context.Background(), StatusQuery{StudentID: 1, CourseID: 10, CheckoutID: "ws_CO_missing"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Status != enums.PaymentPollStatusPending {
		t.Fatalf("unexpected status %s", result.Status)
	}
}

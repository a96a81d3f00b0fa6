package controllers

import (
	"net/http"
	"strings"

	"github.com/sirbramstech/campus-backend/api/responses"
	"github.com/sirbramstech/campus-backend/api/validators"
	enrollment "github.com/sirbramstech/campus-backend/internal/enrollments"
	"github.com/sirbramstech/campus-backend/pkg/db/models"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
	"github.com/sirbramstech/campus-backend/pkg/logger"
	"github.com/sirbramstech/campus-backend/pkg/pagination"
)

type enrollmentResponse struct {
	ID              int64   `json:"id"`
	StudentID       int64   `json:"student_id"`
	CourseID        int64   `json:"course_id"`
	StudentName     string  `json:"student_name"`
	CourseTitle     string  `json:"course_title"`
	CourseCode      string  `json:"course_code"`
	MentorName      string  `json:"mentor_name"`
	Amount          string  `json:"amount"`
	Duration        *string `json:"duration,omitempty"`
	TransactionCode *string `json:"transaction_code,omitempty"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func newEnrollmentResponse(row models.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ID:              row.ID,
		StudentID:       row.StudentID,
		CourseID:        row.CourseID,
		StudentName:     row.StudentName,
		CourseTitle:     row.CourseTitle,
		CourseCode:      row.CourseCode,
		MentorName:      row.MentorName,
		Amount:          row.Amount.StringFixed(2),
		Duration:        row.Duration,
		TransactionCode: row.TransactionCode,
		Status:          row.Status.String(),
		CreatedAt:       row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:       row.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

type enrollmentListResponse struct {
	Items  []enrollmentResponse `json:"items"`
	Cursor string               `json:"cursor,omitempty"`
}

// EnrollmentApprove confirms a paid enrollment.
func EnrollmentApprove(svc enrollment.Service, logg *logger.Logger) http.HandlerFunc {
	return decisionHandler(svc, logg, func(svc enrollment.Service, r *http.Request, id int64) (*models.Enrollment, error) {
		return svc.Approve(r.Context(), id)
	})
}

// EnrollmentReject declines a paid enrollment.
func EnrollmentReject(svc enrollment.Service, logg *logger.Logger) http.HandlerFunc {
	return decisionHandler(svc, logg, func(svc enrollment.Service, r *http.Request, id int64) (*models.Enrollment, error) {
		return svc.Reject(r.Context(), id)
	})
}

func decisionHandler(
	svc enrollment.Service,
	logg *logger.Logger,
	decide func(enrollment.Service, *http.Request, int64) (*models.Enrollment, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "enrollment service unavailable"))
			return
		}

		enrollmentID, err := validators.ParseURLInt64(r, "enrollmentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := decide(svc, r, enrollmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newEnrollmentResponse(*row))
	}
}

// EnrollmentList pages through enrollments, optionally filtered by status.
func EnrollmentList(svc enrollment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "enrollment service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), enrollment.ListInput{
			Status: strings.TrimSpace(r.URL.Query().Get("status")),
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payload := enrollmentListResponse{
			Items:  make([]enrollmentResponse, 0, len(result.Items)),
			Cursor: result.Cursor,
		}
		for _, row := range result.Items {
			payload.Items = append(payload.Items, newEnrollmentResponse(row))
		}

		responses.WriteSuccess(w, payload)
	}
}

// EnrollmentReceipt serves the payment receipt for a paid enrollment.
func EnrollmentReceipt(svc enrollment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "enrollment service unavailable"))
			return
		}

		enrollmentID, err := validators.ParseURLInt64(r, "enrollmentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		receipt, err := svc.Receipt(r.Context(), enrollmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, receipt)
	}
}

package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sirbramstech/campus-backend/api/middleware"
	"github.com/sirbramstech/campus-backend/api/responses"
	"github.com/sirbramstech/campus-backend/api/validators"
	payment "github.com/sirbramstech/campus-backend/internal/payments"
	"github.com/sirbramstech/campus-backend/pkg/enums"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
	"github.com/sirbramstech/campus-backend/pkg/logger"
)

type paymentInitRequest struct {
	Phone string `json:"phone" validate:"omitempty,min=9,max=15"`
}

// PaymentInit triggers an STK push for the student and course in the path.
// The body may carry a phone override; otherwise the student's profile
// number is pushed. Students may only pay for themselves; admins may
// initiate on a student's behalf.
func PaymentInit(svc payment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		studentID, err := validators.ParseURLInt64(r, "studentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		courseID, err := validators.ParseURLInt64(r, "courseID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := authorizeStudentAction(r, studentID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paymentInitRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithStudentID(ctx, studentID)
			ctx = logg.WithCourseID(ctx, courseID)
		}

		result, err := svc.Initiate(ctx, payment.InitiateInput{
			StudentID: studentID,
			CourseID:  courseID,
			Phone:     payload.Phone,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, result)
	}
}

// PaymentStatus answers a client polling for the outcome of a push.
func PaymentStatus(svc payment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		studentID, err := validators.ParseURLInt64(r, "studentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		courseID, err := validators.ParseURLInt64(r, "courseID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		checkoutID := strings.TrimSpace(chi.URLParam(r, "checkoutID"))
		if checkoutID == "" {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "path parameter missing").WithDetails(map[string]any{"field": "checkoutID"}))
			return
		}

		if err := authorizeStudentAction(r, studentID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithCheckoutID(ctx, checkoutID)
		}

		result, err := svc.Status(ctx, payment.StatusQuery{
			StudentID:  studentID,
			CourseID:   courseID,
			CheckoutID: checkoutID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

func authorizeStudentAction(r *http.Request, studentID int64) error {
	role := middleware.RoleFromContext(r.Context())
	if role == enums.MemberRoleAdmin {
		return nil
	}
	if role == enums.MemberRoleStudent && middleware.MemberIDFromContext(r.Context()) == studentID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "cannot act for another student")
}

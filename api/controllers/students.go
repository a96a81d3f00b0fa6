package controllers

import (
	"net/http"

	"github.com/sirbramstech/campus-backend/api/responses"
	"github.com/sirbramstech/campus-backend/api/validators"
	enrollment "github.com/sirbramstech/campus-backend/internal/enrollments"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
	"github.com/sirbramstech/campus-backend/pkg/logger"
)

// StudentCourses lists the courses a student has paid for, newest first.
func StudentCourses(svc enrollment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "enrollment service unavailable"))
			return
		}

		studentID, err := validators.ParseURLInt64(r, "studentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := authorizeStudentAction(r, studentID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.StudentCourses(r.Context(), studentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]enrollmentResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, newEnrollmentResponse(row))
		}

		responses.WriteSuccess(w, enrollmentListResponse{Items: items})
	}
}

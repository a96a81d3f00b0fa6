package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/sirbramstech/campus-backend/api/responses"
	mpesawebhook "github.com/sirbramstech/campus-backend/internal/webhooks/mpesa"
	"github.com/sirbramstech/campus-backend/pkg/logger"
)

type MpesaCallbackHandler interface {
	HandleCallback(ctx context.Context, input mpesawebhook.CallbackInput) error
}

// MpesaCallback receives STK push result callbacks from the gateway. The
// gateway retries on any non-zero ack, so the handler always acknowledges
// with result code 0 and logs failures for the reconciler to pick up.
func MpesaCallback(svc MpesaCallbackHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		defer func() {
			io.Copy(io.Discard, r.Body)
		}()

		ack := func() {
			responses.WriteRaw(w, http.StatusOK, mpesawebhook.AcceptedAck())
		}

		if svc == nil {
			if logg != nil {
				logg.Warn(ctx, "mpesa callback received with no webhook service wired")
			}
			ack()
			return
		}

		var envelope mpesawebhook.CallbackEnvelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			if logg != nil {
				logg.Error(ctx, "mpesa callback body undecodable", err)
			}
			ack()
			return
		}

		input := mpesawebhook.CallbackInput{
			Callback:          envelope.Body.STKCallback,
			FallbackStudentID: queryInt64(r, "student_id"),
			FallbackCourseID:  queryInt64(r, "course_id"),
		}

		if err := svc.HandleCallback(ctx, input); err != nil && logg != nil {
			ctx = logg.WithCheckoutID(ctx, envelope.Body.STKCallback.CheckoutRequestID)
			logg.Error(ctx, "mpesa callback processing failed", err)
		}

		ack()
	}
}

func queryInt64(r *http.Request, key string) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return 0
	}
	return value
}

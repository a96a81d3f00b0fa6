package payment

import (
	"testing"

	"github.com/sirbramstech/campus-backend/pkg/enums"
	"github.com/sirbramstech/campus-backend/pkg/mpesa"
)

func TestClassifyRejection(t *testing.T) {
	cases := []struct {
		name    string
		message string
		code    string
		want    enums.PaymentFailureReason
	}{
		{name: "insufficient balance", message: "The balance is insufficient for the transaction", want: enums.PaymentFailureInsufficientFunds},
		{name: "bad msisdn", message: "Bad Request - Invalid PhoneNumber", want: enums.PaymentFailureInvalidNumber},
		{name: "unreachable subscriber", message: "The subscriber cannot be reached", want: enums.PaymentFailureInvalidNumber},
		{name: "gateway timeout", message: "Request timed out waiting for a response", want: enums.PaymentFailureTimeout},
		{name: "cancelled", message: "Request cancelled by user", want: enums.PaymentFailureCancelled},
		{name: "unknown", message: "The initiator information is invalid.", code: "500.001.1001", want: enums.PaymentFailureGeneric},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rejection := &mpesa.RejectionError{Message: tc.message, Code: tc.code}
			if got := classifyRejection(rejection); got != tc.want {
				t.Fatalf("classifyRejection(%q) = %s, want %s", tc.message, got, tc.want)
			}
		})
	}

	if got := classifyRejection(nil); got != enums.PaymentFailureGeneric {
		t.Fatalf("nil rejection should be generic, got %s", got)
	}
}

func TestClassifyResultCode(t *testing.T) {
	cases := map[int]enums.PaymentFailureReason{
		1:    enums.PaymentFailureInsufficientFunds,
		1032: enums.PaymentFailureCancelled,
		1037: enums.PaymentFailureTimeout,
		9999: enums.PaymentFailureGeneric,
	}
	for code, want := range cases {
		if got := ClassifyResultCode(code); got != want {
			t.Fatalf("ClassifyResultCode(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	valid := map[string]string{
		"0712345678":     "254712345678",
		"0112345678":     "254112345678",
		"+254712345678":  "254712345678",
		"254712345678":   "254712345678",
		"712345678":      "254712345678",
		"0712 345 678":   "254712345678",
		"+254-712345678": "254712345678",
	}
	for input, want := range valid {
		got, err := NormalizePhone(input)
		if err != nil {
			t.Fatalf("NormalizePhone(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("NormalizePhone(%q) = %s, want %s", input, got, want)
		}
	}

	for _, input := range []string{"", "12345", "07123456789", "notaphone", "2547123456789"} {
		if _, err := NormalizePhone(input); err == nil {
			t.Fatalf("NormalizePhone(%q) should fail", input)
		}
	}
}

package mpesawebhook

import (
	"fmt"
	"strings"
)

// CallbackEnvelope mirrors the body Daraja posts to the callback URL.
type CallbackEnvelope struct {
	Body CallbackBody `json:"Body"`
}

type CallbackBody struct {
	STKCallback STKCallback `json:"stkCallback"`
}

// STKCallback is the asynchronous verdict for one checkout.
type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata only accompanies successful payments.
type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem values arrive as strings or numbers depending on the field, so
// Value stays untyped and is coerced on read.
type MetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// ReceiptNumber extracts the MpesaReceiptNumber metadata item.
func (c STKCallback) ReceiptNumber() string {
	return c.metadataString("MpesaReceiptNumber")
}

// AccountReference extracts the account reference echoed back from the push,
// when the gateway includes it in the metadata.
func (c STKCallback) AccountReference() string {
	return c.metadataString("AccountReference")
}

// PhoneNumber extracts the paying MSISDN from the metadata.
func (c STKCallback) PhoneNumber() string {
	return c.metadataString("PhoneNumber")
}

// Amount extracts the paid amount from the metadata.
func (c STKCallback) Amount() (float64, bool) {
	item := c.metadataItem("Amount")
	if item == nil {
		return 0, false
	}
	switch v := item.Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case string:
		var parsed float64
		if _, err := fmt.Sscanf(v, "%f", &parsed); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func (c STKCallback) metadataString(name string) string {
	item := c.metadataItem(name)
	if item == nil || item.Value == nil {
		return ""
	}
	switch v := item.Value.(type) {
	case string:
		return v
	case float64:
		// Phone numbers arrive as JSON numbers.
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (c STKCallback) metadataItem(name string) *MetadataItem {
	if c.CallbackMetadata == nil {
		return nil
	}
	for i := range c.CallbackMetadata.Item {
		if strings.EqualFold(c.CallbackMetadata.Item[i].Name, name) {
			return &c.CallbackMetadata.Item[i]
		}
	}
	return nil
}

// Ack is the acknowledgement Daraja expects regardless of how processing
// went. Returning a non-zero code makes the gateway retry, which the
// idempotent pipeline does not need.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// AcceptedAck is the standard acknowledgement body.
func AcceptedAck() Ack {
	return Ack{ResultCode: 0, ResultDesc: "Accepted"}
}

package mpesa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var ErrMalformedCallback = errors.New("malformed stk callback")

// ResultCode accepts both the numeric form used in callbacks and the quoted
// form the status query returns.
type ResultCode int

func (r *ResultCode) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*r = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("result code %q: %w", b, err)
	}
	*r = ResultCode(n)
	return nil
}

const (
	ResultSuccess         ResultCode = 0
	ResultInsufficient    ResultCode = 1
	ResultCancelledByUser ResultCode = 1032
	ResultTimeout         ResultCode = 1037
)

type CallbackEnvelope struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        ResultCode        `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// String renders the value without JSON quoting. Numbers keep their exact
// textual form, so phone numbers and dates survive intact.
func (i MetadataItem) String() string {
	if len(i.Value) == 0 || string(i.Value) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(i.Value, &s); err == nil {
		return s
	}
	return string(i.Value)
}

// ParseCallback decodes a gateway notification body.
func ParseCallback(r io.Reader) (STKCallback, error) {
	var env CallbackEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return STKCallback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.STKCallback
	if cb.CheckoutRequestID == "" {
		return STKCallback{}, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	return cb, nil
}

func (c STKCallback) Success() bool {
	return c.ResultCode == ResultSuccess
}

func (c STKCallback) meta(name string) string {
	if c.CallbackMetadata == nil {
		return ""
	}
	for _, it := range c.CallbackMetadata.Item {
		if it.Name == name {
			return it.String()
		}
	}
	return ""
}

func (c STKCallback) Receipt() string {
	return c.meta("MpesaReceiptNumber")
}

func (c STKCallback) PhoneNumber() string {
	return c.meta("PhoneNumber")
}

// TransactionDate parses the YYYYMMDDHHMMSS metadata value in loc.
func (c STKCallback) TransactionDate(loc *time.Location) (time.Time, bool) {
	raw := c.meta("TransactionDate")
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(timestampLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (c STKCallback) Amount() (decimal.Decimal, bool) {
	raw := c.meta("Amount")
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Ack is the body the gateway expects in reply to a callback.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func Accepted() Ack {
	return Ack{ResultCode: 0, ResultDesc: "Success"}
}

func Rejected(desc string) Ack {
	return Ack{ResultCode: 1, ResultDesc: desc}
}

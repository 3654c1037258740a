package webhook

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Type identifies a supported provider event. Events outside this closed set
// are carried as TypeUnrecognized so the processor can acknowledge them
// without mutating anything.
type Type string

const (
	TypeCheckoutCompleted   Type = "checkout.session.completed"
	TypeSubscriptionUpdated Type = "customer.subscription.updated"
	TypeSubscriptionDeleted Type = "customer.subscription.deleted"
	TypeInvoicePaid         Type = "invoice.paid"
	TypeUnrecognized        Type = "unrecognized"
)

var ErrEnvelopeInvalid = errors.New("webhook envelope is missing id or type")

// Event is the parsed, typed form of a provider webhook. Exactly one payload
// pointer is set, matching Type; TypeUnrecognized carries only the raw body.
type Event struct {
	ID      string
	Type    Type
	RawType string
	Raw     []byte

	Checkout     *CheckoutPayload
	Subscription *SubscriptionPayload
	Invoice      *InvoicePayload
}

// CheckoutPayload carries the linkage data from a completed checkout. Full
// subscription detail is intentionally absent; it arrives with the
// subscription update event.
type CheckoutPayload struct {
	UserID             uint
	TenantID           uint
	ProviderCustomerID string
	SubscriptionID     string
	Email              string
}

// SubscriptionPayload carries provider subscription lifecycle state.
type SubscriptionPayload struct {
	SubscriptionID     string
	ProviderCustomerID string
	UserID             uint
	Status             string
	PriceRef           string
	BillingInterval    string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	EndedAt            *time.Time
}

// InvoicePayload carries a paid invoice and its billing period.
type InvoicePayload struct {
	InvoiceID          string
	ProviderCustomerID string
	SubscriptionID     string
	AmountPaid         int64
	Currency           string
	PeriodStart        *time.Time
	PeriodEnd          *time.Time
	PaidAt             *time.Time
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutObject struct {
	ClientReferenceID string `json:"client_reference_id"`
	Customer          string `json:"customer"`
	CustomerEmail     string `json:"customer_email"`
	Subscription      string `json:"subscription"`
	Metadata          struct {
		UserID   string `json:"user_id"`
		TenantID string `json:"tenant_id"`
	} `json:"metadata"`
}

type subscriptionObject struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	EndedAt            int64  `json:"ended_at"`
	Items              struct {
		Data []struct {
			Price struct {
				ID        string `json:"id"`
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata struct {
		UserID string `json:"user_id"`
	} `json:"metadata"`
}

type invoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	Currency     string `json:"currency"`
	PeriodStart  int64  `json:"period_start"`
	PeriodEnd    int64  `json:"period_end"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

// ParseEvent decodes a raw webhook body into its typed variant. Unknown event
// types parse successfully as TypeUnrecognized; only a missing id or type is
// an error, since without an id the event cannot be deduplicated.
func ParseEvent(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.Type) == "" {
		return nil, ErrEnvelopeInvalid
	}

	evt := &Event{
		ID:      strings.TrimSpace(env.ID),
		RawType: strings.TrimSpace(env.Type),
		Raw:     raw,
	}

	switch Type(evt.RawType) {
	case TypeCheckoutCompleted:
		var obj checkoutObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, err
		}
		evt.Type = TypeCheckoutCompleted
		evt.Checkout = &CheckoutPayload{
			UserID:             parseUintRef(obj.Metadata.UserID, obj.ClientReferenceID),
			TenantID:           parseUintRef(obj.Metadata.TenantID),
			ProviderCustomerID: strings.TrimSpace(obj.Customer),
			SubscriptionID:     strings.TrimSpace(obj.Subscription),
			Email:              strings.TrimSpace(obj.CustomerEmail),
		}
	case TypeSubscriptionUpdated, TypeSubscriptionDeleted:
		var obj subscriptionObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, err
		}
		evt.Type = Type(evt.RawType)
		payload := &SubscriptionPayload{
			SubscriptionID:     strings.TrimSpace(obj.ID),
			ProviderCustomerID: strings.TrimSpace(obj.Customer),
			UserID:             parseUintRef(obj.Metadata.UserID),
			Status:             strings.ToLower(strings.TrimSpace(obj.Status)),
			CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
			CurrentPeriodStart: unixTime(obj.CurrentPeriodStart),
			CurrentPeriodEnd:   unixTime(obj.CurrentPeriodEnd),
			EndedAt:            unixTime(obj.EndedAt),
		}
		if len(obj.Items.Data) > 0 {
			payload.PriceRef = strings.TrimSpace(obj.Items.Data[0].Price.ID)
			payload.BillingInterval = strings.ToLower(strings.TrimSpace(obj.Items.Data[0].Price.Recurring.Interval))
		}
		evt.Subscription = payload
	case TypeInvoicePaid:
		var obj invoiceObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, err
		}
		evt.Type = TypeInvoicePaid
		evt.Invoice = &InvoicePayload{
			InvoiceID:          strings.TrimSpace(obj.ID),
			ProviderCustomerID: strings.TrimSpace(obj.Customer),
			SubscriptionID:     strings.TrimSpace(obj.Subscription),
			AmountPaid:         obj.AmountPaid,
			Currency:           strings.ToLower(strings.TrimSpace(obj.Currency)),
			PeriodStart:        unixTime(obj.PeriodStart),
			PeriodEnd:          unixTime(obj.PeriodEnd),
			PaidAt:             unixTime(obj.StatusTransitions.PaidAt),
		}
	default:
		evt.Type = TypeUnrecognized
	}

	return evt, nil
}

// parseUintRef returns the first candidate that parses as a positive integer.
func parseUintRef(candidates ...string) uint {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if v, err := strconv.ParseUint(c, 10, 64); err == nil && v > 0 {
			return uint(v)
		}
	}
	return 0
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

// Package billing handles Lemon Squeezy checkout links and order webhooks.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	lemonsqueezy "github.com/NdoleStudio/lemonsqueezy-go"
)

const (
	// renewalGrace extends a subscription past its renews_at date.
	renewalGrace = 24 * time.Hour
	// fallbackPeriod is used when a subscription event carries no renews_at.
	fallbackPeriod = 31 * 24 * time.Hour
)

// VerifySignature reports whether header is the X-Signature Lemon Squeezy
// computes for raw under secret. An empty secret never verifies.
func VerifySignature(ctx context.Context, secret string, raw []byte, header string) bool {
	header = strings.ToLower(strings.TrimSpace(header))
	if secret == "" || header == "" {
		return false
	}
	client := lemonsqueezy.New(lemonsqueezy.WithSigningSecret(secret))
	return client.Webhooks.Verify(ctx, header, raw)
}

// Sign returns the signature VerifySignature accepts. Used to build test
// deliveries; the SDK only verifies.
func Sign(secret string, raw []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

// Event is the subset of a webhook payload the service acts on.
type Event struct {
	Name      string
	ObjectID  string
	UserID    string
	VariantID string
	RenewsAt  *time.Time
}

// Key identifies the event for deduplication. It is empty when the payload
// carries no object id, since such deliveries cannot be told apart.
func (e Event) Key() string {
	if e.ObjectID == "" {
		return ""
	}
	return e.Name + ":" + e.ObjectID
}

type payload struct {
	Meta struct {
		EventName  string `json:"event_name"`
		CustomData struct {
			UID string `json:"uid"`
		} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         json.RawMessage `json:"id"`
		Attributes struct {
			VariantID      json.RawMessage `json:"variant_id"`
			RenewsAt       *string         `json:"renews_at"`
			FirstOrderItem struct {
				VariantID json.RawMessage `json:"variant_id"`
			} `json:"first_order_item"`
		} `json:"attributes"`
	} `json:"data"`
}

// ParseEvent extracts an Event from a raw webhook body. The variant comes from
// first_order_item for orders and from the attributes for subscription events.
func ParseEvent(raw []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Event{}, fmt.Errorf("decode webhook: %w", err)
	}

	e := Event{
		Name:     p.Meta.EventName,
		ObjectID: scalar(p.Data.ID),
		UserID:   strings.TrimSpace(p.Meta.CustomData.UID),
	}
	e.VariantID = scalar(p.Data.Attributes.FirstOrderItem.VariantID)
	if e.VariantID == "" {
		e.VariantID = scalar(p.Data.Attributes.VariantID)
	}

	if p.Data.Attributes.RenewsAt != nil && *p.Data.Attributes.RenewsAt != "" {
		t, err := time.Parse(time.RFC3339, *p.Data.Attributes.RenewsAt)
		if err != nil {
			return Event{}, fmt.Errorf("parse renews_at: %w", err)
		}
		e.RenewsAt = &t
	}
	return e, nil
}

// scalar renders a JSON number or string as a string. Anything else is "".
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// Grant is what an event entitles the user to.
type Grant struct {
	Credits         int
	SubscribedUntil *time.Time
}

// Empty reports whether the grant changes nothing.
func (g Grant) Empty() bool {
	return g.Credits <= 0 && g.SubscribedUntil == nil
}

// Plan maps an event to a Grant. Credit packs add paid credits; subscription
// variants extend the subscription to renews_at plus a day of grace, or to
// now plus 31 days when the event has no renewal date.
func Plan(e Event, creditVariants map[string]int, subscriptionVariants []string, now time.Time) Grant {
	var g Grant
	if e.VariantID == "" {
		return g
	}
	for _, v := range subscriptionVariants {
		if v == e.VariantID {
			until := now.Add(fallbackPeriod)
			if e.RenewsAt != nil {
				until = e.RenewsAt.Add(renewalGrace)
			}
			until = until.UTC()
			g.SubscribedUntil = &until
			break
		}
	}
	if n, ok := creditVariants[e.VariantID]; ok && n > 0 {
		g.Credits = n
	}
	return g
}

// CheckoutURL appends the user id as checkout custom data so the webhook can
// attribute the purchase.
func CheckoutURL(base, uid string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse checkout url: %w", err)
	}
	q := u.Query()
	q.Set("checkout[custom][uid]", uid)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

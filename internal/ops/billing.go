package ops

import (
	"context"
	"strings"

	"github.com/theboatscanner/boatscanner/internal/billing"
	"github.com/theboatscanner/boatscanner/internal/db"
	"github.com/theboatscanner/boatscanner/internal/errors"
)

// BillingWebhookInput contains parameters for the ApplyBillingWebhook operation.
type BillingWebhookInput struct {
	RawBody   []byte
	Signature string // X-Signature header
}

// BillingWebhookOutput contains the result of the ApplyBillingWebhook operation.
type BillingWebhookOutput struct {
	Event           string `json:"event"`
	UserID          string `json:"user_id,omitempty"`
	Applied         bool   `json:"applied"`
	Duplicate       bool   `json:"duplicate,omitempty"`
	CreditsAdded    int    `json:"credits_added,omitempty"`
	SubscribedUntil string `json:"subscribed_until,omitempty"`
}

// ApplyBillingWebhook verifies and applies one Lemon Squeezy delivery.
// Events without a uid or without a matching variant are acknowledged and
// ignored. A redelivered event is acknowledged without being applied again.
// If applying fails the event is forgotten so the next delivery retries it.
// Deliveries without data.id are rejected before anything is recorded.
func ApplyBillingWebhook(ctx context.Context, d *Deps, input BillingWebhookInput) (*BillingWebhookOutput, error) {
	if !billing.VerifySignature(ctx, d.Config.LemonSqueezyWebhookSecret, input.RawBody, input.Signature) {
		return nil, errors.NewInvalidSignature()
	}
	event, err := billing.ParseEvent(input.RawBody)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	// Without an object id a redelivery cannot be told from a new purchase.
	if event.Key() == "" {
		return nil, errors.NewInvalidRequest("webhook data.id is required")
	}

	out := &BillingWebhookOutput{Event: event.Name, UserID: event.UserID}
	if event.UserID == "" {
		d.logger().Printf("billing: %s without uid, ignored", event.Key())
		return out, nil
	}
	grant := billing.Plan(event, d.Config.CreditVariants, d.Config.SubscriptionVariants, d.now())
	if grant.Empty() {
		d.logger().Printf("billing: %s variant %q grants nothing, ignored", event.Key(), event.VariantID)
		return out, nil
	}

	fresh, err := db.RecordBillingEvent(ctx, d.DB, event.Key(), event.Name, event.UserID)
	if err != nil {
		return nil, err
	}
	if !fresh {
		out.Duplicate = true
		return out, nil
	}

	if err := applyGrant(ctx, d, event.UserID, grant); err != nil {
		if ferr := db.ForgetBillingEvent(ctx, d.DB, event.Key()); ferr != nil {
			d.logger().Printf("billing: forget %s: %v", event.Key(), ferr)
		}
		return nil, err
	}

	out.Applied = true
	out.CreditsAdded = grant.Credits
	if grant.SubscribedUntil != nil {
		out.SubscribedUntil = grant.SubscribedUntil.Format("2006-01-02T15:04:05Z07:00")
	}
	d.logger().Printf("billing: applied %s for user %s (credits=%d subscription=%t)",
		event.Key(), event.UserID, grant.Credits, grant.SubscribedUntil != nil)
	return out, nil
}

func applyGrant(ctx context.Context, d *Deps, uid string, g billing.Grant) error {
	if g.SubscribedUntil != nil {
		if err := d.Credits.SetSubscribedUntil(ctx, uid, *g.SubscribedUntil); err != nil {
			return err
		}
	}
	if g.Credits > 0 {
		if err := d.Credits.AddPaidCredits(ctx, uid, g.Credits); err != nil {
			return err
		}
	}
	return nil
}

// CheckoutInput contains parameters for the CheckoutURL operation.
type CheckoutInput struct {
	UserID string // required
	Pack   string // required, a key of checkout_urls
}

// CheckoutOutput contains the result of the CheckoutURL operation.
type CheckoutOutput struct {
	URL string `json:"url"`
}

// CheckoutURL returns the checkout page for a credit pack, tagged with the user.
func CheckoutURL(_ context.Context, d *Deps, input CheckoutInput) (*CheckoutOutput, error) {
	uid, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	pack := strings.TrimSpace(input.Pack)
	base, ok := d.Config.CheckoutURLs[pack]
	if !ok || base == "" {
		return nil, errors.NewInvalidRequest("unknown pack: " + pack)
	}
	link, err := billing.CheckoutURL(base, uid)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &CheckoutOutput{URL: link}, nil
}

package ops

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/theboatscanner/boatscanner/internal/errors"
)

// SupportInput contains parameters for the SubmitSupport operation.
type SupportInput struct {
	UserID  string // required
	Email   string // required
	Message string // required
}

// SupportOutput contains the result of the SubmitSupport operation.
type SupportOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type supportEvent struct {
	Email   string `json:"email"`
	UID     string `json:"uid"`
	Message string `json:"message"`
}

// SubmitSupport forwards a support request to the support webhook.
func SubmitSupport(ctx context.Context, d *Deps, input SupportInput) (*SupportOutput, error) {
	ev := supportEvent{
		Email:   strings.TrimSpace(input.Email),
		UID:     strings.TrimSpace(input.UserID),
		Message: strings.TrimSpace(input.Message),
	}
	if ev.Email == "" || ev.UID == "" || ev.Message == "" {
		return nil, errors.NewInvalidRequest("email, uid and message are required")
	}
	if _, err := mail.ParseAddress(ev.Email); err != nil {
		return nil, errors.NewInvalidRequest("email is not a valid address")
	}
	if d.Support == nil || !d.Support.Configured() {
		return nil, errors.NewInternal(fmt.Errorf("support webhook is not configured"))
	}

	if err := d.Support.Notify(ctx, ev); err != nil {
		d.logger().Printf("support: forward request from user %s: %v", ev.UID, err)
		return nil, errors.NewUpstreamFailure(err.Error())
	}
	return &SupportOutput{Success: true, Message: "Support request sent successfully"}, nil
}

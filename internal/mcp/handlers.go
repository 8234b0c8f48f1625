package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/normalize"
	"github.com/theboatscanner/boatscanner/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	deps *ops.Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d *ops.Deps) *Handlers {
	return &Handlers{deps: d}
}

// ClassifyRequest represents the arguments for payload_classify.
type ClassifyRequest struct {
	PayloadJSON string `json:"payload_json"`
}

// UserRequest represents the arguments for tools scoped to one account.
type UserRequest struct {
	UserID string `json:"user_id"`
}

// HistoryListRequest represents the arguments for history_list.
type HistoryListRequest struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ReviewsListRequest represents the arguments for reviews_list.
type ReviewsListRequest struct {
	Limit int `json:"limit,omitempty"`
}

// HandleClassify handles the payload_classify tool call.
func (h *Handlers) HandleClassify(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClassifyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.PayloadJSON == "" {
		return errorResult(errors.NewInvalidRequest("payload_json is required")), nil
	}

	resp := normalize.Decode([]byte(input.PayloadJSON))
	return successResult(map[string]any{
		"kind":       resp.Kind,
		"message":    resp.Message,
		"matches":    resp.Matches,
		"reason":     resp.Reason,
		"chargeable": resp.Chargeable(),
		"display":    resp.Display(),
	})
}

// HandleCredits handles the credits_balance tool call.
func (h *Handlers) HandleCredits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Credits(ctx, h.deps, ops.CreditsInput{UserID: input.UserID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleHistoryList handles the history_list tool call.
func (h *Handlers) HandleHistoryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListHistory(ctx, h.deps, ops.ListHistoryInput{
		UserID: input.UserID,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleFavoritesList handles the favorites_list tool call.
func (h *Handlers) HandleFavoritesList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListFavorites(ctx, h.deps, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleReviewsList handles the reviews_list tool call.
func (h *Handlers) HandleReviewsList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReviewsListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListReviews(ctx, h.deps, input.Limit)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// decode maps tool arguments onto T. Unknown arguments are rejected so a
// misspelled user_id is not silently dropped.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&result); err != nil {
		return result, fmt.Errorf("invalid arguments: %w", err)
	}
	return result, nil
}

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	errorObj := map[string]any{
		"code":    string(errors.ErrInternal),
		"message": "an internal error occurred",
		"status":  500,
	}

	var sErr *errors.ScanError
	if stderrors.As(err, &sErr) && sErr.Code != errors.ErrInternal {
		errorObj["code"] = string(sErr.Code)
		errorObj["message"] = sErr.Message
		errorObj["status"] = sErr.Status
		if sErr.Details != nil && sErr.Status < 500 {
			errorObj["details"] = sErr.Details
		}
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

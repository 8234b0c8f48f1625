package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/theboatscanner/boatscanner/internal/config"
	"github.com/theboatscanner/boatscanner/internal/db"
	"github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/ops"
)

// testSetup creates a temporary database and operation deps for testing.
func testSetup(t *testing.T) *ops.Deps {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	return &ops.Deps{
		DB:      database,
		Config:  cfg,
		Credits: db.NewCreditStore(database, cfg.SignupFreeCredits),
		Logger:  log.New(io.Discard, "", 0),
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleClassify(t *testing.T) {
	h := NewHandlers(testSetup(t))
	ctx := context.Background()

	tests := []struct {
		name       string
		payload    string
		wantKind   string
		wantCharge bool
	}{
		{
			name:       "matches",
			payload:    `[{"url":"https://a.example/1","title":"Sea Ray"}]`,
			wantKind:   "success",
			wantCharge: true,
		},
		{
			name:       "not a boat",
			payload:    `{"not_boat":true,"not_boat_user_message":"not a boat"}`,
			wantKind:   "not_boat",
			wantCharge: true,
		},
		{
			name:       "empty list",
			payload:    `[]`,
			wantKind:   "success",
			wantCharge: true,
		},
		{
			name:       "garbage",
			payload:    `<html>`,
			wantKind:   "failure",
			wantCharge: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleClassify(ctx, makeRequest(map[string]any{"payload_json": tt.payload}))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			output := parseOutput(t, result)
			if output["kind"] != tt.wantKind {
				t.Errorf("kind = %v, want %s", output["kind"], tt.wantKind)
			}
			if output["chargeable"] != tt.wantCharge {
				t.Errorf("chargeable = %v, want %v", output["chargeable"], tt.wantCharge)
			}
			if _, isList := output["matches"].([]any); tt.wantKind == "success" && !isList {
				t.Errorf("matches = %v, want a list", output["matches"])
			}
		})
	}
}

func TestHandleClassify_Validation(t *testing.T) {
	h := NewHandlers(testSetup(t))
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "missing payload", args: map[string]any{}},
		{name: "empty payload", args: map[string]any{"payload_json": ""}},
		{name: "unknown argument", args: map[string]any{"payload_json": "[]", "payload": "[]"}},
		{name: "wrong type", args: map[string]any{"payload_json": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleClassify(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected error result")
			}
			assertErrorCode(t, result, string(errors.ErrInvalidRequest))
		})
	}
}

func TestHandleCredits(t *testing.T) {
	d := testSetup(t)
	h := NewHandlers(d)
	ctx := context.Background()

	result, err := h.HandleCredits(ctx, makeRequest(map[string]any{"user_id": "u1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)

	want := float64(d.Config.SignupFreeCredits)
	if output["free_credits"] != want {
		t.Errorf("free_credits = %v, want %v", output["free_credits"], want)
	}
	if output["paid_credits"] != float64(0) {
		t.Errorf("paid_credits = %v, want 0", output["paid_credits"])
	}
}

func TestHandleCredits_MissingUser(t *testing.T) {
	h := NewHandlers(testSetup(t))

	result, err := h.HandleCredits(context.Background(), makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertErrorCode(t, result, string(errors.ErrUnauthorized))
}

func TestHandleHistoryList(t *testing.T) {
	d := testSetup(t)
	h := NewHandlers(d)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := &db.HistoryEntry{
			UserID:        "u1",
			SearchQuery:   ops.HistorySearchQuery,
			SearchResults: json.RawMessage(fmt.Sprintf(`[{"url":"https://a.example/%d"}]`, i)),
			CreatedAt:     int64(1000 + i),
		}
		if err := db.InsertHistory(ctx, d.DB, entry); err != nil {
			t.Fatalf("InsertHistory failed: %v", err)
		}
	}

	result, err := h.HandleHistoryList(ctx, makeRequest(map[string]any{"user_id": "u1", "limit": 2}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)

	items, ok := output["items"].([]any)
	if !ok {
		t.Fatalf("items missing or wrong type: %v", output["items"])
	}
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
	pagination := output["pagination"].(map[string]any)
	if pagination["has_more"] != true {
		t.Errorf("has_more = %v, want true", pagination["has_more"])
	}
	if pagination["total"] != float64(3) {
		t.Errorf("total = %v, want 3", pagination["total"])
	}

	first := items[0].(map[string]any)
	outcome := first["outcome"].(map[string]any)
	if outcome["kind"] != "success" {
		t.Errorf("outcome kind = %v, want success", outcome["kind"])
	}
}

func TestHandleHistoryList_OtherUserIsEmpty(t *testing.T) {
	d := testSetup(t)
	h := NewHandlers(d)
	ctx := context.Background()

	entry := &db.HistoryEntry{UserID: "u1", SearchQuery: ops.HistorySearchQuery, SearchResults: json.RawMessage(`[]`)}
	if err := db.InsertHistory(ctx, d.DB, entry); err != nil {
		t.Fatalf("InsertHistory failed: %v", err)
	}

	result, err := h.HandleHistoryList(ctx, makeRequest(map[string]any{"user_id": "u2"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)
	if items, _ := output["items"].([]any); len(items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(items))
	}
}

func TestHandleFavoritesList(t *testing.T) {
	d := testSetup(t)
	h := NewHandlers(d)
	ctx := context.Background()

	fav := &db.Favorite{UserID: "u1", URL: "https://a.example/boat", Title: "Sea Ray"}
	if err := db.InsertFavorite(ctx, d.DB, fav); err != nil {
		t.Fatalf("InsertFavorite failed: %v", err)
	}

	result, err := h.HandleFavoritesList(ctx, makeRequest(map[string]any{"user_id": "u1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)
	items := output["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if got := items[0].(map[string]any)["url"]; got != fav.URL {
		t.Errorf("url = %v, want %s", got, fav.URL)
	}
}

func TestHandleReviewsList_HidesEmail(t *testing.T) {
	d := testSetup(t)
	h := NewHandlers(d)
	ctx := context.Background()

	review := &db.Review{
		UserID:     "u1",
		Email:      "sailor@example.com",
		Rating:     5,
		ReviewText: "Found my boat in a few seconds, brilliant.",
		CreatedAt:  1000,
	}
	if err := db.InsertReview(ctx, d.DB, review); err != nil {
		t.Fatalf("InsertReview failed: %v", err)
	}

	result, err := h.HandleReviewsList(ctx, makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)
	items := output["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if _, ok := items[0].(map[string]any)["email"]; ok {
		t.Error("email should not be exposed")
	}
}

func TestErrorResult(t *testing.T) {
	t.Run("scan error keeps code and details", func(t *testing.T) {
		result := errorResult(errors.NewNotFound("history", "h1"))
		assertErrorCode(t, result, string(errors.ErrNotFound))
		if !result.IsError {
			t.Error("IsError = false, want true")
		}
	})

	t.Run("wrapped scan error", func(t *testing.T) {
		result := errorResult(fmt.Errorf("listing: %w", errors.NewNoCredits()))
		assertErrorCode(t, result, string(errors.ErrNoCredits))
	})

	t.Run("internal error hides cause", func(t *testing.T) {
		result := errorResult(errors.NewInternal(fmt.Errorf("disk on fire")))
		assertErrorCode(t, result, string(errors.ErrInternal))
		if text := extractErrorMessage(result); strings.Contains(text, "disk on fire") {
			t.Errorf("internal cause leaked: %s", text)
		}
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		result := errorResult(fmt.Errorf("boom"))
		assertErrorCode(t, result, string(errors.ErrInternal))
	})
}

func TestServerRegistration(t *testing.T) {
	s := NewServer(testSetup(t), "test")
	tools := s.ListTools()

	expectedTools := []string{
		"payload_classify",
		"credits_balance",
		"history_list",
		"favorites_list",
		"reviews_list",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	d := testSetup(t)
	d.Config.DisabledTools = []string{"credits_balance", "history_list", "history_list"}
	tools := NewServer(d, "test").ListTools()

	if len(tools) != 3 {
		t.Errorf("registered tool count = %d, want 3", len(tools))
	}
	for _, name := range []string{"credits_balance", "history_list"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	d := testSetup(t)
	d.Config.DisabledTools = AllToolNames()

	if tools := NewServer(d, "test").ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{name: "all valid", input: []string{"credits_balance", "reviews_list"}, wantLen: 0},
		{name: "one unknown", input: []string{"credits_balance", "purge"}, wantLen: 1},
		{name: "all unknown", input: []string{"foo", "bar"}, wantLen: 2},
		{name: "empty list", input: []string{}, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unknown := ValidateDisabledTools(tt.input); len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != len(toolRegistry) {
		t.Fatalf("AllToolNames() returned %d names, want %d", len(names), len(toolRegistry))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %q before %q", names[i-1], names[i])
		}
	}
}

func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}
	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}
	if code := errorObj["code"]; code != expectedCode {
		t.Errorf("error code = %v, want %s", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}
	return text.Text
}

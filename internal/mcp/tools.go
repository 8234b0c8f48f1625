package mcp

import "github.com/mark3labs/mcp-go/mcp"

var classifyToolDef = mcp.NewTool("payload_classify",
	mcp.WithDescription("Normalize a raw matching-webhook response into success (matches), not_boat (message) or failure. "+
		"Pass the response body exactly as received."),
	mcp.WithString("payload_json",
		mcp.Required(),
		mcp.Description("Raw JSON body returned by the matching webhook"),
	),
)

var creditsToolDef = mcp.NewTool("credits_balance",
	mcp.WithDescription("Show a user's free and paid credits and subscription status. Creates the account with the signup grant if it does not exist."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Account id"),
	),
)

var historyListToolDef = mcp.NewTool("history_list",
	mcp.WithDescription("List a user's past searches, newest first, with each stored result re-classified."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Account id"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum entries to return (default 20, max 100)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Entries to skip"),
	),
)

var favoritesListToolDef = mcp.NewTool("favorites_list",
	mcp.WithDescription("List the listings a user saved, newest first."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Account id"),
	),
)

var reviewsListToolDef = mcp.NewTool("reviews_list",
	mcp.WithDescription("List the most recent user reviews. Emails are omitted."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum reviews to return (default 10)"),
	),
)

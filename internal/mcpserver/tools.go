package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Guardian MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeTransaction = mcp.NewTool("analyze_transaction",
	mcp.WithDescription(
		"Assess the risk of an Ethereum transaction before it is signed. "+
			"Returns a risk level (low/medium/high/critical), the factors behind it, and recommendations. "+
			"Transactions above the user's risk tolerance are held for approval and get a pending id."),
	mcp.WithString("to",
		mcp.Required(),
		mcp.Description("Recipient or contract address (0x-prefixed, 40 hex chars)")),
	mcp.WithString("value",
		mcp.Description("Amount in wei, hex (0x...) or decimal")),
	mcp.WithString("data",
		mcp.Description("Call data as 0x-prefixed hex")),
	mcp.WithString("from",
		mcp.Description("Sender address")),
	mcp.WithString("gas",
		mcp.Description("Gas limit, hex or decimal")),
	mcp.WithString("gas_price",
		mcp.Description("Gas price in wei, hex or decimal")),
	mcp.WithString("chain_id",
		mcp.Description("Chain id, e.g. '1' for Ethereum mainnet or '137' for Polygon")),
	mcp.WithString("origin",
		mcp.Description("Domain of the dApp requesting the transaction")),
)

var ToolAnalyzeSigningRequest = mcp.NewTool("analyze_signing_request",
	mcp.WithDescription(
		"Assess a message a dApp wants the user to sign. "+
			"Flags typed-data permits, raw hash signing, and wording typical of phishing."),
	mcp.WithString("method",
		mcp.Required(),
		mcp.Description("Signing method, e.g. 'personal_sign', 'eth_sign', 'eth_signTypedData_v4'")),
	mcp.WithString("message",
		mcp.Required(),
		mcp.Description("The message or typed-data JSON to be signed")),
)

var ToolAnalyzeWalletConnection = mcp.NewTool("analyze_wallet_connection",
	mcp.WithDescription(
		"Score how legitimate a dApp asking for a wallet connection looks. "+
			"Detects brand impersonation, lookalike domains, insecure transport, and obfuscated pages."),
	mcp.WithString("domain",
		mcp.Description("The dApp domain, e.g. 'app.uniswap.org'. Either domain or url is required.")),
	mcp.WithString("url",
		mcp.Description("Full page URL of the dApp")),
	mcp.WithArray("external_domains",
		mcp.Description("Third-party domains the page loads resources from"),
		mcp.Items(map[string]any{"type": "string"})),
	mcp.WithBoolean("has_obfuscated_code",
		mcp.Description("Whether the page ships obfuscated scripts")),
)

var ToolListPendingActions = mcp.NewTool("list_pending_actions",
	mcp.WithDescription(
		"List transactions, signatures, and connections waiting for the user's approval, oldest first."),
)

var ToolDecidePendingAction = mcp.NewTool("decide_pending_action",
	mcp.WithDescription(
		"Approve or reject a pending action by id. "+
			"Fails with not_found when the action already expired or was decided."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Pending action id from analyze_* or list_pending_actions")),
	mcp.WithBoolean("approved",
		mcp.Required(),
		mcp.Description("true to approve, false to reject")),
)

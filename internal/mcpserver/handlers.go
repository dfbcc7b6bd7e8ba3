package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Router message types the tools send.
const (
	typeAnalyzeTransaction = "ANALYZE_TRANSACTION"
	typeAnalyzeSigning     = "ANALYZE_SIGNING_REQUEST"
	typeAnalyzeConnection  = "ANALYZE_WALLET_CONNECTION"
	typeListPending        = "GET_PENDING_TRANSACTIONS"
	typeDecision           = "TRANSACTION_DECISION"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GuardianClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GuardianClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeTransaction assesses a transaction.
func (h *Handlers) HandleAnalyzeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to := req.GetString("to", "")
	if to == "" {
		return mcp.NewToolResultError("to is required"), nil
	}

	payload := map[string]string{"to": to}
	for arg, field := range map[string]string{
		"value":     "value",
		"data":      "data",
		"from":      "from",
		"gas":       "gas",
		"gas_price": "gasPrice",
		"chain_id":  "chainId",
		"origin":    "origin",
	} {
		if v := req.GetString(arg, ""); v != "" {
			payload[field] = v
		}
	}

	resp, err := h.client.Dispatch(ctx, typeAnalyzeTransaction, payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze transaction: %v", err)), nil
	}
	return mcp.NewToolResultText(formatTransactionVerdict(resp)), nil
}

// HandleAnalyzeSigningRequest assesses a message to be signed.
func (h *Handlers) HandleAnalyzeSigningRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	method := req.GetString("method", "")
	if method == "" {
		return mcp.NewToolResultError("method is required"), nil
	}
	message := req.GetString("message", "")
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	resp, err := h.client.Dispatch(ctx, typeAnalyzeSigning, map[string]string{
		"method":  method,
		"message": message,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze signing request: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Message type: %s\n", getString(resp, "messageType"))
	writeVerdict(&sb, resp)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleAnalyzeWalletConnection scores a dApp connection request.
func (h *Handlers) HandleAnalyzeWalletConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domain := req.GetString("domain", "")
	pageURL := req.GetString("url", "")
	if domain == "" && pageURL == "" {
		return mcp.NewToolResultError("domain or url is required"), nil
	}

	payload := map[string]any{"domain": domain, "url": pageURL}
	args := req.GetArguments()
	if raw, ok := args["external_domains"].([]any); ok {
		var external []string
		for _, d := range raw {
			if s, ok := d.(string); ok {
				external = append(external, s)
			}
		}
		payload["externalDomains"] = external
	}
	if obfuscated, ok := args["has_obfuscated_code"].(bool); ok {
		payload["hasObfuscatedCode"] = obfuscated
	}

	resp, err := h.client.Dispatch(ctx, typeAnalyzeConnection, payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze wallet connection: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Domain: %s\n", getString(resp, "domain"))
	if score, ok := getFloat(resp, "trustScore"); ok {
		fmt.Fprintf(&sb, "Trust score: %.0f/100\n", score)
	}
	if verified, _ := resp["dAppVerified"].(bool); verified {
		sb.WriteString("Verified dApp: yes\n")
	} else {
		sb.WriteString("Verified dApp: no\n")
	}
	writeVerdict(&sb, resp)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListPendingActions lists actions awaiting a decision.
func (h *Handlers) HandleListPendingActions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := h.client.Dispatch(ctx, typeListPending, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list pending actions: %v", err)), nil
	}
	return mcp.NewToolResultText(formatPendingList(resp)), nil
}

// HandleDecidePendingAction approves or rejects a pending action.
func (h *Handlers) HandleDecidePendingAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	approved, ok := req.GetArguments()["approved"].(bool)
	if !ok {
		return mcp.NewToolResultError("approved must be true or false"), nil
	}

	_, err := h.client.Dispatch(ctx, typeDecision, map[string]any{"id": id, "approved": approved})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record decision: %v", err)), nil
	}

	verb := "Rejected"
	if approved {
		verb = "Approved"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s %s", verb, id)), nil
}

// --- Formatting helpers ---

func formatTransactionVerdict(resp map[string]any) string {
	var sb strings.Builder
	writeVerdict(&sb, resp)

	if info, ok := resp["contractInfo"].(map[string]any); ok {
		name := getString(info, "name")
		if name == "" {
			name = "unknown"
		}
		verified := "unverified"
		if v, _ := info["verified"].(bool); v {
			verified = "verified"
		}
		fmt.Fprintf(&sb, "\nContract: %s (%s, %s)\n", getString(info, "address"), name, verified)
		if fn, ok := info["function"].(map[string]any); ok {
			label := getString(fn, "name", "selector")
			if dangerous, _ := fn["dangerous"].(bool); dangerous {
				label += " [dangerous]"
			}
			fmt.Fprintf(&sb, "Function: %s\n", label)
		}
	}

	if g, ok := resp["gasInfo"].(map[string]any); ok {
		fmt.Fprintf(&sb, "\nEstimated fee: %s ETH", getString(g, "estimatedCostEth"))
		if usd, ok := getFloat(g, "estimatedCostUsd"); ok && usd > 0 {
			fmt.Fprintf(&sb, " (~$%.2f)", usd)
		}
		sb.WriteString("\n")
	}

	if sim, ok := resp["simulation"].(map[string]any); ok {
		if success, _ := sim["success"].(bool); success {
			fmt.Fprintf(&sb, "Simulation (%s): succeeds\n", getString(sim, "source"))
		} else {
			fmt.Fprintf(&sb, "Simulation (%s): reverts %s\n", getString(sim, "source"), getString(sim, "error"))
		}
	}

	if degraded, _ := resp["degraded"].(bool); degraded {
		sb.WriteString("\nNote: remote verification was unavailable; result is local analysis only.\n")
	}
	if cached, _ := resp["cached"].(bool); cached {
		sb.WriteString("(cached result)\n")
	}
	return sb.String()
}

// writeVerdict writes the fields every analysis response shares.
func writeVerdict(sb *strings.Builder, resp map[string]any) {
	fmt.Fprintf(sb, "Risk level: %s\n", strings.ToUpper(getString(resp, "riskLevel")))

	if factors := getStrings(resp, "riskFactors"); len(factors) > 0 {
		fmt.Fprintf(sb, "Risk factors: %s\n", strings.Join(factors, ", "))
	}
	if recs := getStrings(resp, "recommendations"); len(recs) > 0 {
		sb.WriteString("Recommendations:\n")
		for _, r := range recs {
			fmt.Fprintf(sb, "  - %s\n", r)
		}
	}
	if id := getString(resp, "id"); id != "" {
		fmt.Fprintf(sb, "Awaiting approval: pending id %s (use decide_pending_action)\n", id)
	}
}

func formatPendingList(resp map[string]any) string {
	data, _ := resp["data"].(map[string]any)
	items, _ := data["transactions"].([]any)
	if len(items) == 0 {
		return "No actions are awaiting approval."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d action(s) awaiting approval:\n\n", len(items))
	for i, item := range items {
		a, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%d. %s [%s]", i+1, getString(a, "id"), getString(a, "kind"))
		if origin := getString(a, "origin"); origin != "" {
			fmt.Fprintf(&sb, " from %s", origin)
		}
		if v, ok := a["verdict"].(map[string]any); ok {
			fmt.Fprintf(&sb, " risk=%s", getString(v, "riskLevel"))
		}
		if created := getString(a, "createdAt"); created != "" {
			fmt.Fprintf(&sb, " created=%s", created)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a numeric value from a map.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

// getStrings extracts a string list from a map.
func getStrings(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

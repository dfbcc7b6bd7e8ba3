package risk

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const longMessageChars = 1000

var signingPatterns = []struct {
	factor Factor
	re     *regexp.Regexp
}{
	{FactorTransferLanguage, regexp.MustCompile(`(?i)\b(transfer|send|withdraw)`)},
	{FactorEmbeddedAddress, regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)},
	{FactorTokenAmount, regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s*(eth|usdc|usdt|dai|wei|gwei|tokens?)\b`)},
	{FactorPermitLanguage, regexp.MustCompile(`(?i)(permit|allowance|approve|spender|unlimited|nonce[\s\S]*deadline)`)},
}

// ClassifySigningMethod maps a JSON-RPC signing method to its message type.
func ClassifySigningMethod(method string) MessageType {
	switch {
	case strings.HasPrefix(method, "eth_signTypedData"):
		return MessageTypedData
	case method == "personal_sign":
		return MessagePersonalSign
	case method == "eth_sign":
		return MessageRawHash
	default:
		return MessageUnknown
	}
}

// AnalyzeSigning assesses a message-signing request. Signing is never Low.
func (e *Engine) AnalyzeSigning(_ context.Context, req SigningRequest) (*SigningVerdict, error) {
	if strings.TrimSpace(req.Method) == "" {
		return nil, validationErr("method", "is required")
	}

	msgType := ClassifySigningMethod(req.Method)
	text := req.Message
	if msgType == MessagePersonalSign {
		text = decodePersonalMessage(text)
	}

	level := LevelMedium
	var factors factorSet

	switch msgType {
	case MessageTypedData:
		level = LevelHigh
		factors.add(FactorTypedDataSigning)
	case MessageRawHash:
		level = LevelHigh
		factors.add(FactorRawHashSigning)
	}

	for _, p := range signingPatterns {
		if p.re.MatchString(text) {
			level = Max(level, LevelHigh)
			factors.add(p.factor)
		}
	}

	if utf8.RuneCountInString(text) > longMessageChars {
		factors.add(FactorLongMessage)
	}

	list := factors.list()
	e.recordAnalysis("signing", level)
	return &SigningVerdict{
		RiskLevel:       level,
		RiskFactors:     list,
		Recommendations: recommendationsFor(subjectSigning, level, list),
		MessageType:     msgType,
	}, nil
}

// decodePersonalMessage turns a hex personal_sign payload into text when it
// is valid UTF-8; anything else is returned unchanged.
func decodePersonalMessage(msg string) string {
	if !strings.HasPrefix(msg, "0x") {
		return msg
	}
	b, err := hexutil.Decode(msg)
	if err != nil || !utf8.Valid(b) {
		return msg
	}
	return string(b)
}

// Package risk produces advisory risk verdicts for transactions, wallet
// connections and signing requests.
//
// A transaction is evaluated by several independent analyzers run
// concurrently (value, address denylist, contract interaction, function
// selector, gas, simulation). Individual analyzer failures are absorbed: the
// verdict is built from whatever succeeded, merged in a fixed order so the
// result does not depend on scheduling. Verdicts never block anything; they
// feed the approve/reject decision a human makes.
package risk

import (
	"fmt"
	"strings"
)

// Level is a discrete risk classification. Low < Medium < High < Critical
// form a total order; Unknown and Error sit outside it.
type Level int

const (
	LevelUnknown Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
	LevelError
)

var levelNames = map[Level]string{
	LevelUnknown:  "unknown",
	LevelLow:      "low",
	LevelMedium:   "medium",
	LevelHigh:     "high",
	LevelCritical: "critical",
	LevelError:    "error",
}

// String returns the lowercase wire name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// Ordered reports whether l takes part in the Low..Critical order.
func (l Level) Ordered() bool {
	return l >= LevelLow && l <= LevelCritical
}

// ParseLevel converts a wire name back to a Level.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return LevelUnknown, fmt.Errorf("unknown risk level %q", s)
}

// MarshalText encodes the level as its name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Max returns the more severe of a and b. An ordered level always wins over
// Unknown or Error; between two out-of-band levels Error wins.
func Max(a, b Level) Level {
	switch {
	case a.Ordered() && b.Ordered():
		if b > a {
			return b
		}
		return a
	case a.Ordered():
		return a
	case b.Ordered():
		return b
	case a == LevelError || b == LevelError:
		return LevelError
	default:
		return LevelUnknown
	}
}

// Factor is a tag explaining why a level was assigned.
type Factor string

// Transaction factors.
const (
	FactorHighValue           Factor = "high_value"
	FactorVeryHighValue       Factor = "very_high_value"
	FactorSuspiciousAddress   Factor = "suspicious_address"
	FactorContractInteraction Factor = "contract_interaction"
	FactorDangerousFunction   Factor = "dangerous_function"
	FactorHighGasPrice        Factor = "high_gas_price"
	FactorSimulationFailed    Factor = "simulation_failed"
)

// Wallet-connection factors.
const (
	FactorImpersonation        Factor = "impersonation"
	FactorSuspiciousCharacters Factor = "suspicious_characters"
	FactorManyExternalDomains  Factor = "many_external_domains"
	FactorInsecureTransport    Factor = "insecure_transport"
	FactorObfuscatedCode       Factor = "obfuscated_code"
)

// Signing factors.
const (
	FactorTypedDataSigning Factor = "typed_data_signing"
	FactorRawHashSigning   Factor = "raw_hash_signing"
	FactorTransferLanguage Factor = "transfer_language"
	FactorEmbeddedAddress  Factor = "embedded_address"
	FactorTokenAmount      Factor = "token_amount"
	FactorPermitLanguage   Factor = "permit_language"
	FactorLongMessage      Factor = "long_message"
)

var factorMessages = map[Factor]string{
	FactorHighValue:           "High value transaction - double-check the amount before approving",
	FactorVeryHighValue:       "Very high value transaction - verify the recipient and amount carefully",
	FactorSuspiciousAddress:   "Recipient matches a known malicious or invalid address - do not send funds",
	FactorContractInteraction: "This transaction calls a smart contract - make sure you trust the contract",
	FactorDangerousFunction:   "The called function can move assets or change contract ownership",
	FactorHighGasPrice:        "Gas price is unusually high - consider waiting for lower network fees",
	FactorSimulationFailed:    "Simulation predicts this transaction will fail - you may lose the gas fee",

	FactorImpersonation:        "Domain imitates a well-known brand - this is a common phishing pattern",
	FactorSuspiciousCharacters: "Domain contains look-alike or unusual characters",
	FactorManyExternalDomains:  "Page loads resources from many external domains",
	FactorInsecureTransport:    "Site is not served over HTTPS",
	FactorObfuscatedCode:       "Page contains obfuscated scripts",

	FactorTypedDataSigning: "Typed data signatures can authorize token transfers or approvals",
	FactorRawHashSigning:   "Signing a raw hash can authorize any transaction - only do this if you fully understand it",
	FactorTransferLanguage: "Message mentions transferring or sending assets",
	FactorEmbeddedAddress:  "Message contains a wallet or contract address",
	FactorTokenAmount:      "Message references a token amount",
	FactorPermitLanguage:   "Message looks like a permit or allowance grant",
	FactorLongMessage:      "Message is unusually long - read it fully before signing",
}

// FactorMessage returns the human-readable explanation for f.
func FactorMessage(f Factor) string {
	return factorMessages[f]
}

type subject int

const (
	subjectTransaction subject = iota
	subjectConnection
	subjectSigning
)

var headlines = map[subject]map[Level]string{
	subjectTransaction: {
		LevelLow:      "Transaction appears safe to proceed",
		LevelMedium:   "Review the transaction details carefully before approving",
		LevelHigh:     "High risk transaction - proceed with extreme caution",
		LevelCritical: "Critical risk detected - do not proceed with this transaction",
		LevelUnknown:  "Risk could not be determined - verify the transaction manually",
		LevelError:    "Analysis failed - verify the transaction manually",
	},
	subjectConnection: {
		LevelLow:      "This site appears legitimate",
		LevelMedium:   "Proceed with caution when connecting your wallet",
		LevelHigh:     "This site shows signs of being malicious - avoid connecting your wallet",
		LevelCritical: "Do not connect your wallet to this site",
		LevelUnknown:  "Site legitimacy could not be determined",
		LevelError:    "Site analysis failed - connect with caution",
	},
	subjectSigning: {
		LevelLow:      "Message appears harmless",
		LevelMedium:   "Only sign messages from sites you trust",
		LevelHigh:     "This signature could authorize asset transfers - review it carefully",
		LevelCritical: "Do not sign this message",
		LevelUnknown:  "Message risk could not be determined",
		LevelError:    "Message analysis failed - do not sign unless you are sure",
	},
}

// recommendationsFor builds the ordered recommendation list: one headline
// for the level, then one message per factor in the given order.
func recommendationsFor(s subject, level Level, factors []Factor) []string {
	recs := make([]string, 0, len(factors)+1)
	if h, ok := headlines[s][level]; ok {
		recs = append(recs, h)
	}
	for _, f := range factors {
		if msg := factorMessages[f]; msg != "" {
			recs = append(recs, msg)
		}
	}
	return recs
}

// factorSet keeps factors unique in first-seen order.
type factorSet struct {
	seen  map[Factor]bool
	order []Factor
}

func (s *factorSet) add(factors ...Factor) {
	if s.seen == nil {
		s.seen = make(map[Factor]bool)
	}
	for _, f := range factors {
		if !s.seen[f] {
			s.seen[f] = true
			s.order = append(s.order, f)
		}
	}
}

func (s *factorSet) has(f Factor) bool {
	return s.seen[f]
}

func (s *factorSet) list() []Factor {
	if s.order == nil {
		return []Factor{}
	}
	return s.order
}

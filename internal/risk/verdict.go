package risk

import (
	"math/big"
	"time"
)

// Verdict is the merged result of a transaction analysis. It is not
// modified after Analyze returns; cache hits share the same pointer.
type Verdict struct {
	RiskLevel          Level                `json:"riskLevel"`
	RiskFactors        []Factor             `json:"riskFactors"`
	Recommendations    []string             `json:"recommendations"`
	ContractInfo       *ContractInfo        `json:"contractInfo,omitempty"`
	GasInfo            *GasInfo             `json:"gasInfo,omitempty"`
	Simulation         *SimulationInfo      `json:"simulation,omitempty"`
	Backend            *BackendVerification `json:"backend,omitempty"`
	Degraded           bool                 `json:"degraded,omitempty"`
	ComputedAt         time.Time            `json:"computedAt"`
	AnalysisDurationMs int64                `json:"analysisDurationMs"`
}

// HasFactor reports whether f is among the verdict's factors.
func (v *Verdict) HasFactor(f Factor) bool {
	for _, got := range v.RiskFactors {
		if got == f {
			return true
		}
	}
	return false
}

// Partial is one analyzer's contribution to a verdict.
type Partial struct {
	Level      Level
	Factors    []Factor
	Contract   *ContractInfo
	Function   *FunctionCall
	Gas        *GasInfo
	Simulation *SimulationInfo
}

// ContractInfo describes the called contract.
type ContractInfo struct {
	Address    string        `json:"address"`
	Name       string        `json:"name,omitempty"`
	Verified   bool          `json:"verified"`
	IsContract bool          `json:"isContract"`
	Source     string        `json:"source,omitempty"`
	Function   *FunctionCall `json:"function,omitempty"`
}

// FunctionCall is the decoded function selector of the call data.
type FunctionCall struct {
	Selector  string   `json:"selector"`
	Name      string   `json:"name,omitempty"`
	Signature string   `json:"signature,omitempty"`
	Args      []string `json:"args,omitempty"`
	Dangerous bool     `json:"dangerous"`
}

// ContractMetadata is what a ContractSource knows about an address.
type ContractMetadata struct {
	Address    string
	Name       string
	Verified   bool
	IsContract bool
	ABI        string // JSON interface description, empty when unknown
	Source     string // where the metadata came from
}

// GasInfo is the gas analyzer's cost estimate.
type GasInfo struct {
	GasLimit            uint64         `json:"gasLimit"`
	GasPriceGwei        string         `json:"gasPriceGwei"`
	EstimatedCostWei    string         `json:"estimatedCostWei"`
	EstimatedCostEth    string         `json:"estimatedCostEth"`
	EstimatedCostUSD    float64        `json:"estimatedCostUsd,omitempty"`
	HighGasPrice        bool           `json:"highGasPrice"`
	Suggestion          *FeeSuggestion `json:"suggestion,omitempty"`
	PotentialSavingsEth string         `json:"potentialSavingsEth,omitempty"`
}

// FeeSuggestion is an EIP-1559 fee recommendation.
type FeeSuggestion struct {
	BaseFeeGwei        string   `json:"baseFeeGwei"`
	MaxPriorityFeeGwei string   `json:"maxPriorityFeeGwei"`
	MaxFeeGwei         string   `json:"maxFeeGwei"`
	MaxFee             *big.Int `json:"-"`
}

// SimulationInfo is a dry-run outcome.
type SimulationInfo struct {
	Success bool   `json:"success"`
	GasUsed uint64 `json:"gasUsed"`
	Error   string `json:"error,omitempty"`
	Source  string `json:"source"`
}

// BackendVerification is verification data returned by the remote backend.
type BackendVerification struct {
	Verified     bool   `json:"verified"`
	Source       string `json:"source,omitempty"`
	ContractName string `json:"contractName,omitempty"`
}

// Supplement is the remote backend's contribution to a local verdict.
type Supplement struct {
	Recommendations []string
	Verification    *BackendVerification
	Degraded        bool
}

// ConnectionRequest describes a dApp asking to connect a wallet.
type ConnectionRequest struct {
	Domain            string   `json:"domain"`
	URL               string   `json:"url"`
	HasObfuscatedCode bool     `json:"hasObfuscatedCode"`
	ExternalDomains   []string `json:"externalDomains"`
}

// ConnectionVerdict is the dApp legitimacy assessment.
type ConnectionVerdict struct {
	Domain          string   `json:"domain"`
	RiskLevel       Level    `json:"riskLevel"`
	TrustScore      int      `json:"trustScore"`
	RiskFactors     []Factor `json:"riskFactors"`
	Recommendations []string `json:"recommendations"`
	DAppVerified    bool     `json:"dAppVerified"`
}

// SigningRequest is a message a dApp asks the user to sign.
type SigningRequest struct {
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Message string `json:"message"`
}

// MessageType classifies a signing method.
type MessageType string

const (
	MessageTypedData    MessageType = "typed_data"
	MessagePersonalSign MessageType = "personal_sign"
	MessageRawHash      MessageType = "raw_hash"
	MessageUnknown      MessageType = "unknown"
)

// SigningVerdict is the signing-message assessment.
type SigningVerdict struct {
	RiskLevel       Level       `json:"riskLevel"`
	RiskFactors     []Factor    `json:"riskFactors"`
	Recommendations []string    `json:"recommendations"`
	MessageType     MessageType `json:"messageType"`
}

package risk

import (
	"context"
	"net/url"
	"strings"
	"unicode"
)

// officialDomains maps a brand keyword to the domains it legitimately
// operates. Subdomains of an official domain are official too.
var officialDomains = map[string][]string{
	"metamask":      {"metamask.io"},
	"uniswap":       {"uniswap.org"},
	"opensea":       {"opensea.io"},
	"coinbase":      {"coinbase.com"},
	"binance":       {"binance.com"},
	"pancakeswap":   {"pancakeswap.finance"},
	"aave":          {"aave.com"},
	"compound":      {"compound.finance"},
	"lido":          {"lido.fi"},
	"etherscan":     {"etherscan.io"},
	"ledger":        {"ledger.com"},
	"trezor":        {"trezor.io"},
	"walletconnect": {"walletconnect.com", "walletconnect.org"},
	"sushi":         {"sushi.com"},
	"1inch":         {"1inch.io"},
	"blur":          {"blur.io"},
}

var lookalikeDigits = strings.NewReplacer("0", "o", "1", "l", "3", "e", "4", "a", "5", "s")

// Score deductions and the maximum number of external domains tolerated.
const (
	impersonationPenalty     = 40
	suspiciousCharsPenalty   = 20
	externalDomainsPenalty   = 15
	insecureTransportPenalty = 25
	obfuscationPenalty       = 20
	maxExternalDomains       = 10
)

// AnalyzeConnection scores how legitimate a dApp asking for a wallet
// connection looks.
func (e *Engine) AnalyzeConnection(_ context.Context, req ConnectionRequest) (*ConnectionVerdict, error) {
	domain := normalizeDomain(req.Domain)
	if domain == "" {
		domain = hostOf(req.URL)
	}
	if domain == "" {
		return nil, validationErr("domain", "domain or url is required")
	}

	score := 100
	floor := LevelLow
	var factors factorSet
	deduct := func(f Factor, penalty int, least Level) {
		factors.add(f)
		score -= penalty
		floor = Max(floor, least)
	}

	impersonates, lookalike := brandSignals(domain)
	if impersonates {
		deduct(FactorImpersonation, impersonationPenalty, LevelHigh)
	}
	if lookalike || anomalousCharacters(domain) {
		deduct(FactorSuspiciousCharacters, suspiciousCharsPenalty, LevelMedium)
	}
	if countExternal(domain, req.ExternalDomains) > maxExternalDomains {
		deduct(FactorManyExternalDomains, externalDomainsPenalty, LevelLow)
	}
	if req.URL != "" {
		if u, err := url.Parse(req.URL); err != nil || !strings.EqualFold(u.Scheme, "https") {
			deduct(FactorInsecureTransport, insecureTransportPenalty, LevelMedium)
		}
	}
	if req.HasObfuscatedCode {
		deduct(FactorObfuscatedCode, obfuscationPenalty, LevelMedium)
	}

	score = max(0, min(100, score))
	level := Max(scoreBand(score), floor)
	list := factors.list()

	v := &ConnectionVerdict{
		Domain:          domain,
		RiskLevel:       level,
		TrustScore:      score,
		RiskFactors:     list,
		Recommendations: recommendationsFor(subjectConnection, level, list),
		DAppVerified:    isOfficialDomain(domain),
	}
	e.recordAnalysis("connection", level)
	return v, nil
}

func scoreBand(score int) Level {
	switch {
	case score >= 80:
		return LevelLow
	case score >= 60:
		return LevelMedium
	case score >= 40:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, ".")
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return normalizeDomain(u.Hostname())
}

// HostOf returns the normalized host of a URL, or "" when it has none.
func HostOf(raw string) string {
	return hostOf(raw)
}

func isSubdomainOf(domain, parent string) bool {
	return domain == parent || strings.HasSuffix(domain, "."+parent)
}

func isOfficialFor(domain, brand string) bool {
	for _, official := range officialDomains[brand] {
		if isSubdomainOf(domain, official) {
			return true
		}
	}
	return false
}

func isOfficialDomain(domain string) bool {
	for brand := range officialDomains {
		if isOfficialFor(domain, brand) {
			return true
		}
	}
	return false
}

// brandSignals reports whether domain carries a brand name it does not own,
// and whether it only does so through digit-for-letter substitution.
func brandSignals(domain string) (impersonates, lookalike bool) {
	normalized := lookalikeDigits.Replace(domain)
	for brand := range officialDomains {
		if isOfficialFor(domain, brand) {
			continue
		}
		switch {
		case strings.Contains(domain, brand):
			impersonates = true
		case strings.Contains(normalized, brand):
			impersonates = true
			lookalike = true
		}
	}
	return impersonates, lookalike
}

func anomalousCharacters(domain string) bool {
	for _, label := range strings.Split(domain, ".") {
		if strings.HasPrefix(label, "xn--") {
			return true
		}
	}
	for _, r := range domain {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return strings.Count(domain, "-") > 3
}

func countExternal(domain string, external []string) int {
	seen := make(map[string]struct{}, len(external))
	for _, d := range external {
		d = normalizeDomain(d)
		if strings.Contains(d, "://") {
			d = hostOf(d)
		}
		if d == "" || isSubdomainOf(d, domain) {
			continue
		}
		seen[d] = struct{}{}
	}
	return len(seen)
}

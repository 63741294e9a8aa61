// Package rules turns routing-policy entries into typed match rules.
//
// An entry is either a bare value or a classical Clash line without action:
//
//	openai.com              domain suffix
//	full:api.openai.com     exact domain
//	keyword:openai          domain keyword
//	10.0.0.0/8, 127.0.0.1   IP CIDR (a bare address is a /32 or /128)
//	DOMAIN-SUFFIX,x         also DOMAIN, DOMAIN-KEYWORD, IP-CIDR, IP-CIDR6
//
// Domains are lower-cased and converted to their ASCII (punycode) form.
package rules

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/John-Robertt/route-cli/internal/model"
	"go4.org/netipx"
	"golang.org/x/net/idna"
)

type RuleError struct {
	Code    string
	Message string
	Hint    string
	Cause   error
}

func (e *RuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) App() model.AppError { return e.AppError }

var domainProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
)

// Parse converts policy entries into rules sent to outbound. Domain rules keep
// entry order with duplicates removed; all CIDRs are merged into a minimal
// prefix set and appended in address order. Line in a returned ParseError is
// the 1-based entry index.
func Parse(field string, entries []string, outbound string) ([]model.Rule, error) {
	out := make([]model.Rule, 0, len(entries))
	seen := make(map[model.Rule]struct{}, len(entries))
	var ips netipx.IPSetBuilder
	hasIPs := false

	for i, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		r, err := ParseEntry(entry)
		if err != nil {
			pe := &ParseError{
				AppError: model.AppError{
					Code:    "RULE_PARSE_ERROR",
					Message: fmt.Sprintf("invalid %s entry", field),
					Stage:   "routing",
					Line:    i + 1,
					Snippet: truncateSnippet(raw, 200),
				},
				Cause: err,
			}
			var re *RuleError
			if errors.As(err, &re) {
				pe.AppError.Code = re.Code
				pe.AppError.Message = fmt.Sprintf("invalid %s entry: %s", field, re.Message)
				pe.AppError.Hint = re.Hint
				pe.Cause = re.Cause
			}
			return nil, pe
		}
		if r.Type == model.RuleIPCIDR {
			ips.AddPrefix(netip.MustParsePrefix(r.Value))
			hasIPs = true
			continue
		}
		r.Outbound = outbound
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	if hasIPs {
		set, err := ips.IPSet()
		if err != nil {
			return nil, &ParseError{
				AppError: model.AppError{Code: "RULE_PARSE_ERROR", Message: fmt.Sprintf("invalid %s address set", field), Stage: "routing"},
				Cause:    err,
			}
		}
		for _, p := range set.Prefixes() {
			out = append(out, model.Rule{Type: model.RuleIPCIDR, Value: p.String(), Outbound: outbound})
		}
	}
	return out, nil
}

// ParseEntry parses one entry. The returned rule has no Outbound.
func ParseEntry(entry string) (model.Rule, error) {
	entry = strings.TrimSpace(strings.TrimSuffix(entry, "\r"))
	if entry == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "entry is empty"}
	}
	if strings.Contains(entry, ",") {
		return parseClassical(entry)
	}

	if prefix, value, ok := strings.Cut(entry, ":"); ok {
		switch strings.ToLower(prefix) {
		case "full":
			return domainRule(model.RuleDomain, value)
		case "domain", "suffix":
			return domainRule(model.RuleDomainSuffix, value)
		case "keyword":
			return keywordRule(value)
		case "ip", "cidr":
			return cidrRule(value)
		}
	}

	if _, err := netip.ParseAddr(entry); err == nil {
		return cidrRule(entry)
	}
	if strings.Contains(entry, "/") {
		return cidrRule(entry)
	}
	return domainRule(model.RuleDomainSuffix, strings.TrimPrefix(entry, "*."))
}

func parseClassical(line string) (model.Rule, error) {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	typ := strings.ToUpper(parts[0])
	if typ == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "rule type is empty"}
	}

	switch typ {
	case "DOMAIN", "DOMAIN-SUFFIX", "DOMAIN-KEYWORD":
		if len(parts) != 2 || parts[1] == "" {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "invalid field count",
				Hint:    "expected: TYPE,VALUE",
			}
		}
		switch typ {
		case "DOMAIN":
			return domainRule(model.RuleDomain, parts[1])
		case "DOMAIN-SUFFIX":
			return domainRule(model.RuleDomainSuffix, parts[1])
		default:
			return keywordRule(parts[1])
		}
	case "IP-CIDR", "IP-CIDR6":
		switch {
		case len(parts) == 2:
		case len(parts) == 3 && strings.EqualFold(parts[2], "no-resolve"):
		default:
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "invalid field count",
				Hint:    "expected: IP-CIDR,CIDR[,no-resolve]",
			}
		}
		return cidrRule(parts[1])
	default:
		return model.Rule{}, &RuleError{
			Code:    "UNSUPPORTED_RULE_TYPE",
			Message: fmt.Sprintf("unsupported rule type: %s", typ),
		}
	}
}

func domainRule(typ model.RuleType, value string) (model.Rule, error) {
	value = strings.TrimSuffix(strings.TrimSpace(value), ".")
	if value == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "domain is empty"}
	}
	ascii, err := domainProfile.ToASCII(value)
	if err != nil {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: fmt.Sprintf("invalid domain %q", value),
			Cause:   err,
		}
	}
	if ascii == "" || strings.ContainsAny(ascii, " /:*@,") {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: fmt.Sprintf("invalid domain %q", value)}
	}
	return model.Rule{Type: typ, Value: strings.ToLower(ascii)}, nil
}

func keywordRule(value string) (model.Rule, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "keyword is empty"}
	}
	return model.Rule{Type: model.RuleDomainKeyword, Value: value}, nil
}

func cidrRule(value string) (model.Rule, error) {
	value = strings.TrimSpace(value)
	if addr, err := netip.ParseAddr(value); err == nil {
		addr = addr.Unmap().WithZone("")
		return model.Rule{Type: model.RuleIPCIDR, Value: netip.PrefixFrom(addr, addr.BitLen()).String()}, nil
	}
	p, err := netip.ParsePrefix(value)
	if err != nil {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: fmt.Sprintf("invalid CIDR %q", value),
			Hint:    "expected: 10.0.0.0/8 or 2001:db8::/32",
			Cause:   err,
		}
	}
	return model.Rule{Type: model.RuleIPCIDR, Value: p.Masked().String()}, nil
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// NoProxyEntries returns the configured no_proxy entries for the NO_PROXY
// variable: trimmed, in order, without blanks, comments or repeats. Entries
// are not normalized, so tools see what the user wrote.
func NoProxyEntries(entries []string) []string {
	out := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, raw := range entries {
		e := strings.TrimSpace(raw)
		if e == "" || strings.HasPrefix(e, "#") {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

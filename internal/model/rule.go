package model

type RuleType string

const (
	RuleDomain        RuleType = "domain"
	RuleDomainSuffix  RuleType = "domain_suffix"
	RuleDomainKeyword RuleType = "domain_keyword"
	RuleIPCIDR        RuleType = "ip_cidr"
)

// Rule is one routing match. Outbound is the tag the match is sent to.
type Rule struct {
	Type     RuleType
	Value    string
	Outbound string
}

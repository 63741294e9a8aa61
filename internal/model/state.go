package model

import "time"

// RuntimeState is the selection preference that survives between invocations.
type RuntimeState struct {
	SelectedNode   string
	LastSelectedAt time.Time
}

// RoutingPolicy decides which destinations go through the selected node.
type RoutingPolicy struct {
	ProxyDomains []string
	NoProxy      []string
	MixedPort    int
}

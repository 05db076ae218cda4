package domain

import (
	"fmt"
	"strings"
)

// PoolType identifies one of the three logical endpoint pools the gateway
// schedules over. Every virtual model name resolves to exactly one pool.
type PoolType string

const (
	PoolTool     PoolType = "tool"
	PoolNormal   PoolType = "normal"
	PoolAdvanced PoolType = "advanced"
)

// AllPoolTypes returns the pools in their canonical order.
func AllPoolTypes() []PoolType {
	return []PoolType{PoolTool, PoolNormal, PoolAdvanced}
}

func ParsePoolType(s string) (PoolType, error) {
	switch PoolType(strings.ToLower(strings.TrimSpace(s))) {
	case PoolTool:
		return PoolTool, nil
	case PoolNormal:
		return PoolNormal, nil
	case PoolAdvanced:
		return PoolAdvanced, nil
	default:
		return "", fmt.Errorf("unknown pool type: %q", s)
	}
}

func (p PoolType) String() string {
	return string(p)
}

// VirtualModels holds the three client-visible model names, one per pool.
type VirtualModels struct {
	Tool     string
	Normal   string
	Advanced string
}

// ForPool returns the virtual model name addressing the given pool.
func (v VirtualModels) ForPool(pool PoolType) string {
	switch pool {
	case PoolTool:
		return v.Tool
	case PoolAdvanced:
		return v.Advanced
	default:
		return v.Normal
	}
}

// ResolvePool maps a requested model name onto a pool. The match is
// case-insensitive and ordered: "haiku" (or the tool virtual name) wins
// over "opus" (or the advanced virtual name); anything else lands in the
// normal pool, so unknown model names always have a home.
func ResolvePool(model string, vm VirtualModels) PoolType {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.Contains(m, "haiku") || m == strings.ToLower(vm.Tool):
		return PoolTool
	case strings.Contains(m, "opus") || m == strings.ToLower(vm.Advanced):
		return PoolAdvanced
	default:
		return PoolNormal
	}
}

// Pool carries the per-pool scheduling configuration. One row exists per
// pool type; rows are auto-created with defaults on first read.
type Pool struct {
	ID               int64    `json:"id"`
	PoolType         PoolType `json:"pool_type"`
	VirtualModelName string   `json:"virtual_model_name"`
	CooldownSeconds  int      `json:"cooldown_seconds"`
	MaxRetries       int      `json:"max_retries"`
	TimeoutSeconds   int      `json:"timeout_seconds"`
	CreatedAt        string   `json:"created_at,omitempty"`
	UpdatedAt        string   `json:"updated_at,omitempty"`
}

package sla

import (
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// Override adjusts a department's base window. The multiplier is applied
// first, then the fixed offset is added.
type Override struct {
	Multiplier float64
	Offset     time.Duration
}

// Policy maps (priority, creation time, department) to an SLA deadline.
// It is pure configuration-driven arithmetic; callers stamp the result onto
// the ticket exactly once, at first successful assignment.
type Policy struct {
	windows   map[domain.TicketPriority]time.Duration
	overrides map[string]Override
}

// NewPolicy builds a policy from configuration. The override string uses
// comma-separated "<department>=<value>" pairs where value is either a
// multiplier like "0.5x" or an offset like "+4h".
func NewPolicy(cfg config.SLAConfig) (*Policy, error) {
	overrides, err := parseOverrides(cfg.DeptOverrides)
	if err != nil {
		return nil, err
	}
	return &Policy{
		windows: map[domain.TicketPriority]time.Duration{
			domain.TicketPriorityHigh:   cfg.HighWindow,
			domain.TicketPriorityMedium: cfg.MediumWindow,
			domain.TicketPriorityLow:    cfg.LowWindow,
		},
		overrides: overrides,
	}, nil
}

// Deadline computes the SLA deadline for a ticket. Deterministic and pure.
func (p *Policy) Deadline(priority domain.TicketPriority, createdAt time.Time, department string) time.Time {
	window, ok := p.windows[priority]
	if !ok {
		window = p.windows[domain.TicketPriorityLow]
	}
	if override, ok := p.overrides[strings.ToLower(department)]; ok {
		if override.Multiplier > 0 {
			window = time.Duration(float64(window) * override.Multiplier)
		}
		window += override.Offset
	}
	return createdAt.Add(window)
}

// Window reports the effective window for a priority/department pair.
func (p *Policy) Window(priority domain.TicketPriority, department string) time.Duration {
	return p.Deadline(priority, time.Unix(0, 0), department).Sub(time.Unix(0, 0))
}

func parseOverrides(raw string) (map[string]Override, error) {
	overrides := make(map[string]Override)
	if strings.TrimSpace(raw) == "" {
		return overrides, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid SLA override %q", pair)
		}
		value = strings.TrimSpace(value)
		override := overrides[strings.ToLower(strings.TrimSpace(name))]
		switch {
		case strings.HasSuffix(value, "x"):
			var mult float64
			if _, err := fmt.Sscanf(strings.TrimSuffix(value, "x"), "%f", &mult); err != nil || mult <= 0 {
				return nil, fmt.Errorf("invalid SLA multiplier %q", pair)
			}
			override.Multiplier = mult
		case strings.HasPrefix(value, "+"):
			offset, err := time.ParseDuration(strings.TrimPrefix(value, "+"))
			if err != nil {
				return nil, fmt.Errorf("invalid SLA offset %q: %w", pair, err)
			}
			override.Offset = offset
		default:
			return nil, fmt.Errorf("invalid SLA override %q", pair)
		}
		overrides[strings.ToLower(strings.TrimSpace(name))] = override
	}
	return overrides, nil
}

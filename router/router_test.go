package router

import (
	"context"
	"errors"
	"testing"

	"github.com/tradegate/customs-copilot/domain"
	pkgerrors "github.com/tradegate/customs-copilot/errors"
	"github.com/tradegate/customs-copilot/message"
)

func TestRouteEmptyQuestion(t *testing.T) {
	c := New(DefaultConfig())

	_, err := c.Route(context.Background(), "   ", nil)
	if err == nil {
		t.Fatal("expected error for empty question")
	}
	if !errors.Is(err, pkgerrors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRouteNeverEmpty(t *testing.T) {
	c := New(DefaultConfig())

	// No domain keywords at all: falls back, never returns zero agents.
	decision, err := c.Route(context.Background(), "안녕하세요", nil)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if len(decision.Agents) == 0 {
		t.Fatal("expected at least one agent")
	}
	if decision.Agents[0] != string(domain.Statute) {
		t.Errorf("expected fallback agent %s, got %s", domain.Statute, decision.Agents[0])
	}
	if decision.Reasoning == "" {
		t.Error("expected non-empty reasoning")
	}
}

func TestRouteRegulationQuestion(t *testing.T) {
	c := New(DefaultConfig())

	decision, err := c.Route(context.Background(), "딸기를 어느 나라에서 수입할 수 있나요?", nil)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if len(decision.Agents) != 1 {
		t.Fatalf("expected single agent, got %v", decision.Agents)
	}
	if decision.Agents[0] != string(domain.Regulation) {
		t.Errorf("expected regulation agent, got %s", decision.Agents[0])
	}
}

func TestRouteCompoundQuestion(t *testing.T) {
	c := New(DefaultConfig())

	question := "관세법 조문 내용이 궁금하고, 또한 유사한 품목분류 결정사례도 알려주세요"
	decision, err := c.Route(context.Background(), question, nil)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if len(decision.Agents) < 2 {
		t.Fatalf("expected compound routing, got %v (complexity %.2f)", decision.Agents, decision.Complexity)
	}
	// Priority order: statute before advisory.
	if decision.Agents[0] != string(domain.Statute) {
		t.Errorf("expected statute first, got %v", decision.Agents)
	}
	if decision.Complexity < 0.55 {
		t.Errorf("expected complexity >= compound threshold, got %.2f", decision.Complexity)
	}
}

func TestRouteDeterministic(t *testing.T) {
	c := New(DefaultConfig())
	question := "FTA 원산지 증명 요건과 관세법 적용을 알려주세요"

	first, err := c.Route(context.Background(), question, nil)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := c.Route(context.Background(), question, nil)
		if err != nil {
			t.Fatalf("Route failed: %v", err)
		}
		if len(again.Agents) != len(first.Agents) {
			t.Fatalf("non-deterministic agent count: %v vs %v", again.Agents, first.Agents)
		}
		for j := range first.Agents {
			if again.Agents[j] != first.Agents[j] {
				t.Fatalf("non-deterministic routing: %v vs %v", again.Agents, first.Agents)
			}
		}
		if again.Complexity != first.Complexity {
			t.Fatalf("non-deterministic complexity: %v vs %v", again.Complexity, first.Complexity)
		}
	}
}

func TestRouteTieBreakPrefersRecentAgent(t *testing.T) {
	cfg := DefaultConfig()
	// Two domains with one keyword hit each score identically.
	cfg.Domains = map[domain.Domain]domain.Config{
		domain.Statute:    {Domain: domain.Statute, Keywords: []string{"관세법"}},
		domain.Regulation: {Domain: domain.Regulation, Keywords: []string{"수입"}},
	}
	c := New(cfg)

	history := []*message.Message{
		message.NewAssistant("이전 답변", string(domain.Regulation), nil, nil),
	}

	decision, err := c.Route(context.Background(), "관세법과 수입 요건", history)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	// Without history statute would win on priority; continuity flips it.
	if decision.Agents[0] != string(domain.Regulation) {
		t.Errorf("expected session continuity to prefer regulation, got %v", decision.Agents)
	}
}

func TestRouteComplexityBounds(t *testing.T) {
	c := New(DefaultConfig())

	long := "관세법 세율 수입 검역 원산지 결정사례 품목분류 유권해석 그리고 또한 " +
		"관세법 세율 수입 검역 원산지 결정사례 품목분류 유권해석 그리고 또한 " +
		"관세법 세율 수입 검역 원산지 결정사례 품목분류 유권해석"
	decision, err := c.Route(context.Background(), long, nil)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if decision.Complexity < 0 || decision.Complexity > 1 {
		t.Errorf("complexity out of bounds: %.2f", decision.Complexity)
	}
	if len(decision.Agents) > 3 {
		t.Errorf("agent fan-out exceeds cap: %v", decision.Agents)
	}
}

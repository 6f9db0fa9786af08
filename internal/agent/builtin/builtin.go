// Package builtin implements the closed agent-type registry named in §6:
// a fixed set of built-in type tags, each with a fixed capability list.
// None of these carry real domain logic -- per the core's Non-goals, the
// actual data-ingestion/vision/trading/etc. algorithms are out of scope.
// Each Processor here is a minimal, illustrative stub: it validates its
// input shape and produces a deterministic result, enough to exercise the
// full scheduler/coordinator/agent pipeline end to end.
package builtin

import (
	"context"
	"fmt"

	"github.com/swarmlayer/corerun/internal/scheduler"
)

// Type is one of the closed set of built-in agent type tags.
type Type string

const (
	TypeDataIngestion     Type = "data_ingestion"
	TypeEncoding          Type = "encoding"
	TypeEquilibriumSearch Type = "equilibrium_search"
	TypeGraphIngestion    Type = "graph_ingestion"
	TypeVision            Type = "vision"
	TypeTradingStrategy   Type = "trading_strategy"
	TypeConsciousnessMon  Type = "consciousness_monitor"
	TypeCoordination      Type = "coordination"
)

// All lists every built-in type, in the order new agents are round-robin
// assigned across by the orchestrator's initial spawn and auto-scale-up.
var All = []Type{
	TypeDataIngestion,
	TypeEncoding,
	TypeEquilibriumSearch,
	TypeGraphIngestion,
	TypeVision,
	TypeTradingStrategy,
	TypeConsciousnessMon,
	TypeCoordination,
}

var capabilities = map[Type][]string{
	TypeDataIngestion:     {"ingest.batch", "ingest.stream"},
	TypeEncoding:          {"encode.transcode", "encode.compress"},
	TypeEquilibriumSearch: {"game.nash", "game.payoff"},
	TypeGraphIngestion:    {"graph.load", "graph.traverse"},
	TypeVision:            {"vision.classify", "vision.detect"},
	TypeTradingStrategy:   {"trading.signal", "trading.execute"},
	TypeConsciousnessMon:  {"metrics.phi", "metrics.integration"},
	TypeCoordination:      {"coordinate.route", "coordinate.supervise"},
}

// Capabilities returns the fixed capability list for a built-in type, or
// nil if t isn't one of the registered built-ins.
func Capabilities(t Type) []string {
	return capabilities[t]
}

// Processor mirrors agent.Processor structurally; Go's implicit interface
// satisfaction means a *stub built here can be passed anywhere an
// agent.Processor is expected without either package importing the other.
type Processor interface {
	ProcessTask(ctx context.Context, task *scheduler.Task) (interface{}, error)
	Capabilities() []string
}

// New constructs the stub Processor for a built-in type. Implementers
// register additional types directly with agent.New and their own
// Processor; this registry only covers the closed built-in set.
func New(t Type) (Processor, error) {
	caps, ok := capabilities[t]
	if !ok {
		return nil, fmt.Errorf("builtin: unknown agent type %q", t)
	}
	return &stub{typ: t, caps: caps}, nil
}

type stub struct {
	typ  Type
	caps []string
}

func (s *stub) Capabilities() []string { return s.caps }

// ProcessTask is an illustrative placeholder: it echoes the payload back
// tagged with the type that handled it. A real deployment replaces this
// with actual domain logic per registered type.
func (s *stub) ProcessTask(_ context.Context, task *scheduler.Task) (interface{}, error) {
	return map[string]interface{}{
		"handled_by": string(s.typ),
		"task_type":  task.Type,
		"payload":    task.Payload,
	}, nil
}

package types

import (
	"fmt"
	"time"
)

// State is the last checkpoint a run reached. States only move forward.
type State string

const (
	StateInit      State = "INIT"
	StateFetched   State = "FETCHED"
	StateRawLoaded State = "RAW_LOADED"
	StateStaged    State = "STAGED"
	StatePublished State = "PUBLISHED"
)

var stateOrder = []State{StateInit, StateFetched, StateRawLoaded, StateStaged, StatePublished}

// ParseState validates s. The empty string is a period that never ran.
func ParseState(s string) (State, error) {
	if s == "" {
		return StateInit, nil
	}
	for _, st := range stateOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return StateInit, fmt.Errorf("unknown pipeline state %q", s)
}

func (s State) rank() int {
	for i, st := range stateOrder {
		if st == s {
			return i
		}
	}
	return 0
}

// Reached reports whether s is other or a later state.
func (s State) Reached(other State) bool {
	return s.rank() >= other.rank()
}

func (s State) String() string {
	return string(s)
}

// Step is one unit of pipeline work.
type Step string

const (
	StepFetch       Step = "fetch"
	StepInitSource  Step = "init_source"
	StepLoad        Step = "load"
	StepInitStaging Step = "init_staging"
	StepDeduplicate Step = "deduplicate"
	StepPublish     Step = "publish"
)

// PlannedStep pairs a step with the checkpoint saved after it. Steps that only prepare the
// next one have no checkpoint of their own.
type PlannedStep struct {
	Step      Step
	Completes State
}

// Steps is the full linear pipeline.
var Steps = []PlannedStep{
	{Step: StepFetch, Completes: StateFetched},
	{Step: StepInitSource},
	{Step: StepLoad, Completes: StateRawLoaded},
	{Step: StepInitStaging},
	{Step: StepDeduplicate, Completes: StateStaged},
	{Step: StepPublish, Completes: StatePublished},
}

// Plan returns the steps still needed after reaching from. A step group is replayed from its
// first step, so resuming after FETCHED starts with init_source.
func Plan(from State) []PlannedStep {
	plan := make([]PlannedStep, 0, len(Steps))
	groupStart := 0
	for i, ps := range Steps {
		if ps.Completes == "" {
			continue
		}
		if !from.Reached(ps.Completes) {
			plan = append(plan, Steps[groupStart:i+1]...)
		}
		groupStart = i + 1
	}
	return plan
}

// PeriodKey identifies the monthly run t belongs to.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

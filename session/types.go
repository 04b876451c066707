// Package session drives the multi-step registry interaction as an explicit
// finite-state machine: search submission, challenge detection and solving,
// token submission, and results parsing, with every failure path modelled as
// a named terminal state.
//
// The machine never talks to the network directly: site interaction goes
// through the Driver interface and challenge solving through the Solver
// interface, so every transition is testable from stubs.
package session

import (
	"context"

	"github.com/lutra-labs/sospull/solver"
)

// State names one node of the navigation machine.
type State string

const (
	StateInit               State = "init"
	StateSearchSubmitted    State = "search_submitted"
	StateChallengePresented State = "challenge_presented"
	StateChallengeSolved    State = "challenge_solved"
	StateResultsLoaded      State = "results_loaded"

	// Terminal states.
	StateParsed        State = "parsed"
	StateNotFound      State = "not_found"
	StateRateLimited   State = "rate_limited"
	StateSiteChanged   State = "site_changed"
	StateParseFailed   State = "parse_failed"
	StateCaptchaFailed State = "captcha_failed"
	StateTimedOut      State = "timed_out"
)

// Terminal reports whether the machine halts in this state.
func (s State) Terminal() bool {
	switch s {
	case StateParsed, StateNotFound, StateRateLimited, StateSiteChanged,
		StateParseFailed, StateCaptchaFailed, StateTimedOut:
		return true
	}
	return false
}

// transitions is the explicit transition table. A transition absent from
// this table is a bug, never a recoverable condition.
var transitions = map[State][]State{
	StateInit: {StateSearchSubmitted, StateTimedOut},
	StateSearchSubmitted: {
		StateChallengePresented, StateResultsLoaded, StateNotFound,
		StateRateLimited, StateSiteChanged, StateTimedOut,
	},
	StateChallengePresented: {
		StateChallengeSolved, StateSearchSubmitted, StateCaptchaFailed,
		StateSiteChanged, StateTimedOut,
	},
	StateChallengeSolved: {
		StateResultsLoaded, StateChallengePresented, StateNotFound,
		StateRateLimited, StateSiteChanged, StateCaptchaFailed, StateTimedOut,
	},
	StateResultsLoaded: {
		StateParsed, StateParseFailed, StateSiteChanged, StateTimedOut,
	},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Page is one raw response from the site.
type Page struct {
	HTML []byte
	URL  string
}

// Driver abstracts the site interaction so the machine can run against a
// real browser or a stub. Implementations own a single session (cookies,
// tab) per run.
type Driver interface {
	// SubmitSearch loads the registry's search endpoint and submits the
	// target identifier, returning the response page.
	SubmitSearch(ctx context.Context, fileNumber string) (*Page, error)
	// SubmitToken resubmits the pending form with a solved token.
	SubmitToken(ctx context.Context, tok solver.Token) (*Page, error)
	// Screenshot captures the current page for diagnostics.
	Screenshot(ctx context.Context) ([]byte, error)
}

// Solver abstracts the challenge-solving adapter. Satisfied by *solver.Client.
type Solver interface {
	Solve(ctx context.Context, ch *solver.Challenge) (solver.Token, error)
}

// Observer is invoked on every state transition, before the machine
// proceeds. The orchestrator uses it for the diagnostic log and screenshots.
type Observer func(ctx context.Context, from, to State, note string)

// Package markov propagates attacker presence over a four-state
// discrete-time Markov chain whose transitions depend on a risk score.
package markov

import (
	"math"

	"github.com/ppiankov/icsrisk/internal/model"
)

// State is one stage of attacker presence.
type State string

const (
	Secure         State = "Secure"
	Reconnaissance State = "Reconnaissance"
	Exploitation   State = "Exploitation"
	Compromised    State = "Compromised"
)

const numStates = 4

// states is the fixed progression order; matrix indices follow it.
var states = [numStates]State{Secure, Reconnaissance, Exploitation, Compromised}

// States returns the four states in progression order.
func States() []State {
	out := make([]State, numStates)
	copy(out, states[:])
	return out
}

// Index returns the matrix index of s, or -1 for an unknown state.
func (s State) Index() int {
	for i, st := range states {
		if st == s {
			return i
		}
	}
	return -1
}

// Fixed regression and remediation probabilities.
const (
	reconToSecure       = 0.10
	exploitToRecon      = 0.10
	compromisedToSecure = 0.01
	compromisedToStay   = 0.99
	baseSecureToRecon   = 0.05
	riskSecureToRecon   = 0.25
	baseReconToExploit  = 0.10
	riskReconToExploit  = 0.40
	baseExploitToCompro = 0.15
	riskExploitToCompro = 0.55
)

// Tolerance bounds floating-point drift in a distribution's total mass.
const Tolerance = 1e-9

// Matrix is a row-stochastic transition matrix indexed [from][to].
type Matrix [numStates][numStates]float64

// Distribution is a probability vector in state order.
type Distribution [numStates]float64

// Step is the distribution after Step hours.
type Step struct {
	Step          int               `json:"step"`
	Probabilities map[State]float64 `json:"probabilities"`
}

// Probability returns the mass on s, or 0 for an unknown state.
func (s Step) Probability(st State) float64 {
	return s.Probabilities[st]
}

// RiskFactor maps a 0..10 risk score onto [0, 1].
func RiskFactor(riskScore float64) float64 {
	return math.Max(0, math.Min(1, riskScore/10))
}

// TransitionMatrix builds the hourly transition matrix for riskScore.
func TransitionMatrix(riskScore float64) Matrix {
	rf := RiskFactor(riskScore)
	var m Matrix

	sToR := baseSecureToRecon + riskSecureToRecon*rf
	m[0][0] = 1 - sToR
	m[0][1] = sToR

	rToE := baseReconToExploit + riskReconToExploit*rf
	m[1][0] = reconToSecure
	m[1][2] = rToE
	m[1][1] = math.Max(0, 1-rToE-reconToSecure)

	eToC := baseExploitToCompro + riskExploitToCompro*rf
	m[2][1] = exploitToRecon
	m[2][3] = eToC
	m[2][2] = math.Max(0, 1-eToC-exploitToRecon)

	m[3][0] = compromisedToSecure
	m[3][3] = compromisedToStay

	return m
}

// Initial returns the fully secure starting distribution.
func Initial() Distribution {
	return Distribution{1, 0, 0, 0}
}

// Advance applies one transition and renormalizes. Negative floating-point
// residue is clamped to zero first.
func (d Distribution) Advance(m Matrix) Distribution {
	var next Distribution
	for to := 0; to < numStates; to++ {
		for from := 0; from < numStates; from++ {
			next[to] += d[from] * m[from][to]
		}
	}

	sum := 0.0
	for i, p := range next {
		if p < 0 {
			next[i] = 0
			p = 0
		}
		sum += p
	}
	if sum > 0 {
		for i := range next {
			next[i] /= sum
		}
	}
	return next
}

// Valid reports whether every entry is non-negative and the total is 1
// within Tolerance.
func (d Distribution) Valid() bool {
	sum := 0.0
	for _, p := range d {
		if p < -Tolerance {
			return false
		}
		sum += p
	}
	return math.Abs(sum-1) <= Tolerance
}

// Map converts the vector to a state-keyed map.
func (d Distribution) Map() map[State]float64 {
	out := make(map[State]float64, numStates)
	for i, st := range states {
		out[st] = d[i]
	}
	return out
}

// SimulateProgression returns hours+1 steps starting from the fully secure
// state. riskScore outside [0, 10] is clamped through RiskFactor.
func SimulateProgression(riskScore float64, hours int) ([]Step, error) {
	if math.IsNaN(riskScore) || math.IsInf(riskScore, 0) {
		return nil, model.Invalid("riskScore", "must be a finite number, got %v", riskScore)
	}
	if hours < 0 {
		return nil, model.Invalid("hours", "must be >= 0, got %d", hours)
	}

	m := TransitionMatrix(riskScore)
	d := Initial()

	steps := make([]Step, 0, hours+1)
	steps = append(steps, Step{Step: 0, Probabilities: d.Map()})
	for t := 1; t <= hours; t++ {
		d = d.Advance(m)
		steps = append(steps, Step{Step: t, Probabilities: d.Map()})
	}
	return steps, nil
}

package alert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/position-sentinel/internal/types"
)

// machinePhase is the internal lifecycle phase of one alert state machine.
type machinePhase string

const (
	phaseInactive   machinePhase = "inactive"
	phasePendingOn  machinePhase = "pending_on"
	phaseActive     machinePhase = "active"
	phasePendingOff machinePhase = "pending_off"
)

// machineState is the per-alert memory persisted between runs. It lives in
// the alert_states state_blob column so schema changes here never need a
// migration.
type machineState struct {
	Phase machinePhase `json:"phase"`
	// Tier is the last announced tier while active
	Tier types.Tier `json:"tier,omitempty"`
	// CandidateSince marks when the pending_on/pending_off condition started
	CandidateSince time.Time `json:"candidateSince,omitempty"`
	// PendingTier and TierCandidateSince track an escalation/de-escalation
	// candidate while active
	PendingTier        types.Tier `json:"pendingTier,omitempty"`
	TierCandidateSince time.Time  `json:"tierCandidateSince,omitempty"`
	// Announced is false while active but not yet notified (loans start life
	// as a status update rather than a NEW announcement)
	Announced bool `json:"announced"`
}

func decodeState(blob []byte) (*machineState, error) {
	if len(blob) == 0 {
		return &machineState{Phase: phaseInactive}, nil
	}
	var st machineState
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("failed to decode alert state: %w", err)
	}
	if st.Phase == "" {
		st.Phase = phaseInactive
	}
	return &st, nil
}

func (s *machineState) encode() ([]byte, error) {
	blob, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode alert state: %w", err)
	}
	return blob, nil
}

// clearTierCandidate drops any in-flight escalation candidate.
func (s *machineState) clearTierCandidate() {
	s.PendingTier = ""
	s.TierCandidateSince = time.Time{}
}

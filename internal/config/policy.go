package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"replypilot/internal/domain"
)

// policyFile is the YAML shape of the routing policy: the intent and risk
// catalogues with their routing attributes, plus the confidence floors.
type policyFile struct {
	RequireHumanReview      bool     `yaml:"require_human_review"`
	AutonomyConfidenceFloor *float64 `yaml:"autonomy_confidence_floor"`
	MinClassifierConfidence *float64 `yaml:"min_classifier_confidence"`

	Intents []struct {
		ID            string `yaml:"id"`
		SafeAutopilot bool   `yaml:"safe_autopilot"`
		ConvertToDM   bool   `yaml:"convert_to_dm"`
	} `yaml:"intents"`

	RiskFlags []struct {
		ID           string `yaml:"id"`
		AutoEscalate bool   `yaml:"auto_escalate"`
	} `yaml:"risk_flags"`
}

// LoadPolicy reads the YAML policy file into the routing policy. The file is
// treated as authoritative: an intent id the pipeline does not know is a
// configuration error, not a silent skip.
func LoadPolicy(path string) (domain.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("%w: cannot read policy file %s: %v", domain.ErrConfiguration, path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses and validates policy YAML.
func ParsePolicy(data []byte) (domain.Policy, error) {
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return domain.Policy{}, fmt.Errorf("%w: cannot parse policy: %v", domain.ErrConfiguration, err)
	}

	p := domain.Policy{
		RequireHumanReview:      pf.RequireHumanReview,
		AutonomyConfidenceFloor: 0.85,
		MinClassifierConfidence: 0.5,
	}
	if pf.AutonomyConfidenceFloor != nil {
		p.AutonomyConfidenceFloor = *pf.AutonomyConfidenceFloor
	}
	if pf.MinClassifierConfidence != nil {
		p.MinClassifierConfidence = *pf.MinClassifierConfidence
	}
	if p.AutonomyConfidenceFloor < 0 || p.AutonomyConfidenceFloor > 1 {
		return domain.Policy{}, fmt.Errorf("%w: autonomy_confidence_floor must be in [0,1], got %f",
			domain.ErrConfiguration, p.AutonomyConfidenceFloor)
	}
	if p.MinClassifierConfidence < 0 || p.MinClassifierConfidence > 1 {
		return domain.Policy{}, fmt.Errorf("%w: min_classifier_confidence must be in [0,1], got %f",
			domain.ErrConfiguration, p.MinClassifierConfidence)
	}

	for _, in := range pf.Intents {
		intent := domain.ParseIntent(in.ID)
		if string(intent) != in.ID {
			return domain.Policy{}, fmt.Errorf("%w: unknown intent %q in policy", domain.ErrConfiguration, in.ID)
		}
		if in.SafeAutopilot {
			p.SafeAutopilotIntents = append(p.SafeAutopilotIntents, intent)
		}
		if in.ConvertToDM {
			p.MoveToPrivateIntents = append(p.MoveToPrivateIntents, intent)
		}
	}

	for _, rf := range pf.RiskFlags {
		if rf.ID == "" {
			return domain.Policy{}, fmt.Errorf("%w: risk flag with empty id in policy", domain.ErrConfiguration)
		}
		if rf.AutoEscalate {
			p.CriticalRiskFlags = append(p.CriticalRiskFlags, rf.ID)
		}
	}

	return p, nil
}

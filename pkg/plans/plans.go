// Package plans persists plan/approval scaffolds, one JSON file per plan id.
package plans

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrUnknownPlan is returned when an approval names a plan id with no file.
var ErrUnknownPlan = errors.New("unknown plan_id")

// Plan is the persisted scaffold created by plan_echo.
type Plan struct {
	Type             string   `json:"type"`
	PlanID           string   `json:"plan_id"`
	Summary          string   `json:"summary"`
	ProposedActions  []string `json:"proposed_actions"`
	RequiresApproval bool     `json:"requires_approval"`
}

// Approval is the scaffold returned by approve_echo. Nothing is applied.
type Approval struct {
	Type    string `json:"type"`
	PlanID  string `json:"plan_id"`
	Status  string `json:"status"`
	Applied bool   `json:"applied"`
	Note    string `json:"note"`
}

// Store keeps plans under a single directory, file-per-id.
type Store struct {
	dir string
}

// NewStore creates a plan store rooted at <stateDir>/plans.
func NewStore(stateDir string) *Store {
	return &Store{dir: filepath.Join(stateDir, "plans")}
}

// Ensure creates the plans directory.
func (s *Store) Ensure() error {
	return os.MkdirAll(s.dir, 0o755)
}

// CreateEcho assigns a fresh plan id, persists the scaffold and returns its
// JSON serialization.
func (s *Store) CreateEcho(text string) (string, error) {
	if err := s.Ensure(); err != nil {
		return "", fmt.Errorf("failed to create plans directory: %w", err)
	}

	summary := "Echo plan (no payload)"
	if text != "" {
		if len(text) > 200 {
			text = text[:200]
		}
		summary = "Echo plan for: " + text
	}
	plan := Plan{
		Type:             "plan",
		PlanID:           uuid.NewString(),
		Summary:          summary,
		ProposedActions:  []string{"(no-op)"},
		RequiresApproval: true,
	}

	raw, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.planPath(plan.PlanID), raw, 0o644); err != nil {
		return "", fmt.Errorf("failed to persist plan: %w", err)
	}

	out, err := json.Marshal(plan)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ApproveEcho confirms the plan file exists and returns an approval scaffold.
func (s *Store) ApproveEcho(planID string) (string, error) {
	info, err := os.Stat(s.planPath(planID))
	if err != nil || info.IsDir() {
		return "", ErrUnknownPlan
	}

	approval := Approval{
		Type:    "approval",
		PlanID:  planID,
		Status:  "approved",
		Applied: false,
		Note:    "no-op (scaffold)",
	}
	out, err := json.Marshal(approval)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Store) planPath(planID string) string {
	return filepath.Join(s.dir, planID+".json")
}

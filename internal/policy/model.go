package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"btmonitor/internal/models"
)

// ErrPolicyBackendUnavailable indicates the scoring model could not be used.
// It is never fatal: the engine degrades to the rule-based fallback.
var ErrPolicyBackendUnavailable = errors.New("policy: scoring backend unavailable")

// Model is a linear urgency-scoring model over link features, loaded from a
// JSON file produced by the offline training tooling.
type Model struct {
	Coefficients map[string]float64 `json:"coefficients"`
	Intercept    float64            `json:"intercept"`
	Threshold    float64            `json:"threshold"`
}

// ModelEngine wraps a rule engine with model-backed urgency scoring. The
// rule set still decides which actions fire; the score annotates each action
// so the driver layer can order its work. Any backend failure degrades the
// engine to plain rules, reported once.
type ModelEngine struct {
	model    *Model
	fallback Engine
	degraded bool
}

// NewModelEngine loads the model at modelPath. On any load error the engine
// starts degraded and behaves exactly like the fallback.
func NewModelEngine(modelPath string, fallback Engine) *ModelEngine {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		log.Printf("Policy: %v (%v), degrading to rule engine", ErrPolicyBackendUnavailable, err)
		return &ModelEngine{fallback: fallback, degraded: true}
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		log.Printf("Policy: %v (corrupt model file: %v), degrading to rule engine", ErrPolicyBackendUnavailable, err)
		return &ModelEngine{fallback: fallback, degraded: true}
	}

	log.Printf("Policy: loaded scoring model from %s (threshold %.2f)", modelPath, model.Threshold)
	return &ModelEngine{model: &model, fallback: fallback}
}

// Degraded reports whether the engine is running on the rule fallback only.
func (m *ModelEngine) Degraded() bool {
	return m.degraded
}

// Score computes the urgency score for a device under the current context.
// A degraded engine scores everything zero.
func (m *ModelEngine) Score(dev models.Device, sysCtx models.SystemContext) float64 {
	if m.model == nil {
		return 0
	}
	score := m.model.Intercept
	if c, ok := m.model.Coefficients["signal_dbm"]; ok {
		score += c * float64(dev.SignalStrength)
	}
	if c, ok := m.model.Coefficients["data_rate_kbps"]; ok {
		score += c * dev.DataRate / 1000
	}
	if c, ok := m.model.Coefficients["device_count"]; ok {
		score += c * float64(sysCtx.TotalDevices)
	}
	return score
}

func (m *ModelEngine) Evaluate(dev models.Device, sysCtx models.SystemContext) []models.OptimizationAction {
	actions := m.fallback.Evaluate(dev, sysCtx)
	if m.degraded || len(actions) == 0 {
		return actions
	}

	score := m.Score(dev, sysCtx)
	for i := range actions {
		actions[i].Reason = fmt.Sprintf("%s (urgency %.2f)", actions[i].Reason, score)
	}
	return actions
}

// CreateSampleModel writes a usable starter model, for environments where no
// trained model has been deployed yet.
func CreateSampleModel(path string) error {
	model := Model{
		Coefficients: map[string]float64{
			"signal_dbm":     -0.05,
			"data_rate_kbps": 0.002,
			"device_count":   0.3,
		},
		Intercept: 1.0,
		Threshold: 5.0,
	}

	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}

	log.Printf("Policy: created sample model at %s", path)
	return nil
}

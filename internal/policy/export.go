package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"floodguard/internal/types"
)

// DocumentVersion is the current export format version.
const DocumentVersion = 1

// ErrInvalidDocument is returned when an import is rejected. Nothing is
// applied when it is returned.
var ErrInvalidDocument = errors.New("invalid policy document")

// Document is the exported form of a policy. Maps are keyed by the text
// forms of actions, water states, and state keys so the file diffs cleanly.
type Document struct {
	Version     int                           `json:"version"`
	Parameters  Hyperparameters               `json:"parameters"`
	Rewards     map[string]map[string]float64 `json:"rewards"`
	TimingBonus float64                       `json:"timing_bonus"`
	QTable      map[string]map[string]float64 `json:"q_table"`
}

// Document builds the exported form.
func (p *Policy) Document() Document {
	doc := Document{
		Version:     DocumentVersion,
		Parameters:  p.params,
		Rewards:     make(map[string]map[string]float64, types.NumAlertActions),
		TimingBonus: p.rewards.TimingBonus,
		QTable:      make(map[string]map[string]float64, len(p.table)),
	}
	for ai, a := range types.AlertActions {
		row := make(map[string]float64, types.NumWaterStates)
		for si, ws := range types.WaterStates {
			row[string(ws)] = p.rewards.Values[ai][si]
		}
		doc.Rewards[string(a)] = row
	}
	for k, v := range p.table {
		row := make(map[string]float64, types.NumAlertActions)
		for ai, a := range types.AlertActions {
			row[string(a)] = v[ai]
		}
		doc.QTable[k.String()] = row
	}
	return doc
}

// Export renders the policy as indented JSON. Map keys are sorted by the
// encoder, so exporting an imported document reproduces it byte for byte.
func (p *Policy) Export() ([]byte, error) {
	return json.MarshalIndent(p.Document(), "", "  ")
}

// Import replaces the Q-table, reward table, and hyperparameters with the
// contents of data. The document is validated in full before anything is
// applied; any error leaves the policy unchanged.
func (p *Policy) Import(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after document", ErrInvalidDocument)
	}
	return p.ApplyDocument(doc)
}

// ApplyDocument validates doc and swaps it in atomically.
func (p *Policy) ApplyDocument(doc Document) error {
	if doc.Version != DocumentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidDocument, doc.Version)
	}
	if err := doc.Parameters.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var rewards RewardTable
	rewards.TimingBonus = doc.TimingBonus
	if len(doc.Rewards) != types.NumAlertActions {
		return fmt.Errorf("%w: rewards must list exactly %d actions", ErrInvalidDocument, types.NumAlertActions)
	}
	for name, row := range doc.Rewards {
		a := types.AlertAction(name)
		if !a.Valid() {
			return fmt.Errorf("%w: rewards: unknown action %q", ErrInvalidDocument, name)
		}
		if len(row) != types.NumWaterStates {
			return fmt.Errorf("%w: rewards[%s] must list exactly %d water states", ErrInvalidDocument, name, types.NumWaterStates)
		}
		for stateName, v := range row {
			ws := types.WaterState(stateName)
			if !ws.Valid() {
				return fmt.Errorf("%w: rewards[%s]: unknown water state %q", ErrInvalidDocument, name, stateName)
			}
			rewards.Values[a.Ordinal()][ws.Ordinal()] = v
		}
	}
	if err := rewards.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	bound := ValueBound(doc.Parameters, rewards)
	table := make(map[StateKey]*ActionValues, len(doc.QTable))
	for rawKey, row := range doc.QTable {
		k, err := ParseStateKey(rawKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		if len(row) != types.NumAlertActions {
			return fmt.Errorf("%w: q_table[%s] must list exactly %d actions", ErrInvalidDocument, rawKey, types.NumAlertActions)
		}
		values := new(ActionValues)
		for name, v := range row {
			a := types.AlertAction(name)
			if !a.Valid() {
				return fmt.Errorf("%w: q_table[%s]: unknown action %q", ErrInvalidDocument, rawKey, name)
			}
			if math.IsNaN(v) || math.Abs(v) > bound {
				return fmt.Errorf("%w: q_table[%s][%s] = %v is outside ±%g", ErrInvalidDocument, rawKey, name, v, bound)
			}
			values[a.Ordinal()] = v
		}
		table[k] = values
	}

	p.params = doc.Parameters
	p.rewards = rewards
	p.table = table
	return nil
}

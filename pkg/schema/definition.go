package schema

import (
	"bytes"
	"encoding/json"
)

// Definition is the JSON-serializable description of one scan, consumed by the CLI.
// Values are nested JSON arrays of numbers; the step transformation is given as
// expression sources in the selected dialect.
type Definition struct {
	Name             string      `json:"name,omitempty"`
	Dialect          string      `json:"dialect,omitempty"` // expr | cel (default: expr)
	Sequences        Sequences   `json:"sequences,omitempty"`
	OutputsInfo      OutputsInfo `json:"outputs_info,omitempty"`
	NonSequences     Values      `json:"non_sequences,omitempty"`
	Shared           Values      `json:"shared,omitempty"`
	Params           []string    `json:"params,omitempty"` // names bound to the step's positional arguments
	Step             StepDef     `json:"step"`
	NSteps           *int        `json:"n_steps,omitempty"`
	GoBackwards      bool        `json:"go_backwards,omitempty"`
	TruncateGradient *int        `json:"truncate_gradient,omitempty"`
	Mode             string      `json:"mode,omitempty"`
}

// ValueDef is a named literal value (a non-sequence or a stateful cell).
type ValueDef struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// SequenceDef is a named literal sequence with optional taps (default [0]).
type SequenceDef struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
	Taps  []int           `json:"taps,omitempty"`
}

// OutputDef describes one output. A JSON null "taps" is an explicit no-taps
// request and is kept distinguishable from an absent key.
type OutputDef struct {
	Name        string          `json:"name,omitempty"`
	Initial     json.RawMessage `json:"initial,omitempty"`
	Taps        json.RawMessage `json:"taps,omitempty"`
	ReturnSteps int             `json:"return_steps,omitempty"`
}

// HasInitial reports whether a non-null initial state was provided.
func (o *OutputDef) HasInitial() bool {
	return len(o.Initial) > 0 && !isNull(o.Initial)
}

// TapsNull reports whether "taps" was present and explicitly null.
func (o *OutputDef) TapsNull() bool {
	return len(o.Taps) > 0 && isNull(o.Taps)
}

// TapList decodes the taps, returning nil when absent or null.
func (o *OutputDef) TapList() ([]int, error) {
	if len(o.Taps) == 0 || isNull(o.Taps) {
		return nil, nil
	}
	var one int
	if err := json.Unmarshal(o.Taps, &one); err == nil {
		return []int{one}, nil
	}
	var taps []int
	if err := json.Unmarshal(o.Taps, &taps); err != nil {
		return nil, err
	}
	return taps, nil
}

// StepDef holds the step transformation sources.
// Updates maps a stateful cell name to its replacement expression.
type StepDef struct {
	Outputs []string          `json:"outputs,omitempty"`
	Updates map[string]string `json:"updates,omitempty"`
}

// Sequences accepts either a single sequence object or a list of them.
type Sequences []SequenceDef

func (s *Sequences) UnmarshalJSON(data []byte) error {
	return unmarshalOneOrMany(data, (*[]SequenceDef)(s))
}

// Values accepts either a single value object or a list of them.
type Values []ValueDef

func (v *Values) UnmarshalJSON(data []byte) error {
	return unmarshalOneOrMany(data, (*[]ValueDef)(v))
}

// OutputsInfo accepts a single output object, null, or a list whose entries may be null.
// Null entries decode to nil pointers and denote map-style outputs.
type OutputsInfo []*OutputDef

func (o *OutputsInfo) UnmarshalJSON(data []byte) error {
	return unmarshalOneOrMany(data, (*[]*OutputDef)(o))
}

func unmarshalOneOrMany[T any](data []byte, dst *[]T) error {
	trimmed := bytes.TrimSpace(data)
	if isNull(trimmed) {
		*dst = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, dst)
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return err
	}
	*dst = []T{one}
	return nil
}

func isNull(raw []byte) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

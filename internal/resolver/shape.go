package resolver

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// shape is the layout a simulation response arrived in.
type shape int

const (
	shapeUnknown shape = iota
	// [{"results": [v, ...]}, ...] keyed per job hash
	shapeBatch
	// {"results": [v, ...]}
	shapeResults
	// {"result": v}
	shapeScalar
)

func (s shape) String() string {
	switch s {
	case shapeBatch:
		return "batch"
	case shapeResults:
		return "results"
	case shapeScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// simulation is a decoded response: the shape plus the raw value candidates
// it carried, in reported order.
type simulation struct {
	shape  shape
	values []json.RawMessage
}

type resultsObject struct {
	Results []json.RawMessage `json:"results"`
}

func decodeSimulation(body []byte) simulation {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return simulation{}
	}
	switch body[0] {
	case '[':
		var batch []resultsObject
		if err := json.Unmarshal(body, &batch); err != nil || len(batch) == 0 {
			return simulation{}
		}
		return simulation{shape: shapeBatch, values: batch[0].Results}
	case '{':
		var obj struct {
			Results []json.RawMessage `json:"results"`
			Result  json.RawMessage   `json:"result"`
		}
		if err := json.Unmarshal(body, &obj); err != nil {
			return simulation{}
		}
		if len(obj.Results) > 0 {
			return simulation{shape: shapeResults, values: obj.Results}
		}
		if len(obj.Result) > 0 {
			return simulation{shape: shapeScalar, values: []json.RawMessage{obj.Result}}
		}
		return simulation{}
	default:
		return simulation{}
	}
}

// first returns the first reported value as text.
func (s simulation) first() (string, bool) {
	switch s.shape {
	case shapeBatch, shapeResults, shapeScalar:
		if len(s.values) == 0 {
			return "", false
		}
		return valueText(s.values[0])
	case shapeUnknown:
		return "", false
	default:
		return "", false
	}
}

// valueText renders a JSON scalar. Numbers are printed in plain decimal form
// without trailing zeros; null, objects and arrays carry no value.
func valueText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case 't', 'f':
		b, err := strconv.ParseBool(string(raw))
		if err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	case 'n', '{', '[':
		return "", false
	default:
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			return "", false
		}
		return d.String(), true
	}
}

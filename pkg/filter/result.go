package filter

import "encoding/json"

// Result summarizes one filter's evaluation of one object: the score it
// produced, and digests of every attribute it read (InputAttrs) and wrote
// (OutputAttrs) while producing it.
type Result struct {
	InputAttrs  map[string]string
	OutputAttrs map[string]string
	Score       float64

	// CacheOutput says whether the output attribute values should be written
	// to the attribute cache: true for a filter whose output byte rate was
	// low enough that re-running it is costlier than caching. It is derived
	// from execution throughput and is never part of the persisted JSON
	// payload.
	CacheOutput bool
}

// NewResult returns an empty Result ready to be populated during evaluation.
func NewResult() *Result {
	return &Result{
		InputAttrs:  make(map[string]string),
		OutputAttrs: make(map[string]string),
	}
}

// resultPayload is the exact three-key JSON schema persisted in the result
// cache.
type resultPayload struct {
	InputAttrs  map[string]string `json:"input_attrs"`
	OutputAttrs map[string]string `json:"output_attrs"`
	Score       float64           `json:"score"`
}

// Encode serializes the result to its result-cache JSON payload.
func (r *Result) Encode() ([]byte, error) {
	return json.Marshal(resultPayload{
		InputAttrs:  r.InputAttrs,
		OutputAttrs: r.OutputAttrs,
		Score:       r.Score,
	})
}

// DecodeResult parses a result-cache payload. A payload missing any of the
// three mandatory fields is treated as absent — (nil, nil), not an error —
// so a caller that retrieved partially-corrupt cache data falls back to
// re-execution instead of failing the search. A malformed JSON document
// still returns an error so the caller can log it.
func DecodeResult(data []byte) (*Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	inputRaw, hasInput := raw["input_attrs"]
	outputRaw, hasOutput := raw["output_attrs"]
	scoreRaw, hasScore := raw["score"]
	if !hasInput || !hasOutput || !hasScore {
		return nil, nil
	}

	result := NewResult()
	if err := json.Unmarshal(inputRaw, &result.InputAttrs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(outputRaw, &result.OutputAttrs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scoreRaw, &result.Score); err != nil {
		return nil, err
	}
	return result, nil
}

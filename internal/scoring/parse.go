package scoring

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mbti-rec/server/internal/vectormath"
	"github.com/mbti-rec/server/pkg/models"
)

// jsonBlockPattern finds a brace-delimited object containing at least one
// quoted trait key, mirroring mbti_service.py's _parse_mbti_response regex.
var jsonBlockPattern = regexp.MustCompile(`\{[^{}]*"[EISNTFJP]"\s*:\s*[0-9.]+[^{}]*\}`)

// traitValuePattern scans for bare `trait: value` pairs as the last-resort
// tier when no JSON object can be located at all.
var traitValuePattern = regexp.MustCompile(`([EISNTFJP])\s*:\s*([0-9]*\.?[0-9]+)`)

var probabilitiesSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["E", "I", "S", "N", "T", "F", "J", "P"],
	"properties": {
		"E": {"type": "number", "minimum": 0, "maximum": 1},
		"I": {"type": "number", "minimum": 0, "maximum": 1},
		"S": {"type": "number", "minimum": 0, "maximum": 1},
		"N": {"type": "number", "minimum": 0, "maximum": 1},
		"T": {"type": "number", "minimum": 0, "maximum": 1},
		"F": {"type": "number", "minimum": 0, "maximum": 1},
		"J": {"type": "number", "minimum": 0, "maximum": 1},
		"P": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`)

// parseMBTIResponse extracts an 8-trait probability map from raw LLM text,
// trying progressively looser tiers, and falls back to the neutral vector
// if none succeed — grounded on _parse_mbti_response's whole-content
// json_pattern match followed by the prob_pattern regex fallback; the
// whole-response direct-decode tier is added first since well-behaved
// structured-output models return bare JSON with no surrounding prose.
// The second return value reports whether a tier actually matched, so the
// caller can mark the item scoring_failed when it didn't (§4.4 "on parse
// failure for an individual item, substitute the neutral vector and mark
// the item as scoring_failed").
func parseMBTIResponse(content string) (models.MBTIVector, bool) {
	if probs, ok := tryDecode(content); ok {
		return normalizeProbabilities(probs), true
	}

	if probs, ok := tryDecodeResultsArray(content); ok {
		return normalizeProbabilities(probs), true
	}

	if block := jsonBlockPattern.FindString(content); block != "" {
		if probs, ok := tryDecode(block); ok {
			return normalizeProbabilities(probs), true
		}
	}

	if probs, ok := scanTraitValues(content); ok {
		return normalizeProbabilities(probs), true
	}

	return models.NeutralVector(), false
}

// resultsEnvelope is the batch-shaped alternative the prompt contract must
// also accept (§4.4): {"results":[{"content_id":N,"mbti_probabilities":{...}}]}.
// The engine scores one item per call, so only the first result is used.
type resultsEnvelope struct {
	Results []struct {
		MBTIProbabilities map[string]float64 `json:"mbti_probabilities"`
	} `json:"results"`
}

func tryDecodeResultsArray(candidate string) (map[string]float64, bool) {
	var env resultsEnvelope
	if err := json.Unmarshal([]byte(candidate), &env); err != nil || len(env.Results) == 0 {
		return nil, false
	}

	probs := env.Results[0].MBTIProbabilities
	if probs == nil {
		return nil, false
	}

	result := gojsonschema.NewGoLoader(probs)
	validation, err := gojsonschema.Validate(probabilitiesSchema, result)
	if err != nil || !validation.Valid() {
		return nil, false
	}

	out := make(map[string]float64, 8)
	for _, trait := range []string{"E", "I", "S", "N", "T", "F", "J", "P"} {
		v, ok := probs[trait]
		if !ok {
			return nil, false
		}
		out[trait] = v
	}
	return out, true
}

// tryDecode unmarshals candidate into a trait->float map, validates it
// against probabilitiesSchema, and reports whether all 8 traits are present
// with in-range values.
func tryDecode(candidate string) (map[string]float64, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, false
	}

	result := gojsonschema.NewGoLoader(raw)
	validation, err := gojsonschema.Validate(probabilitiesSchema, result)
	if err != nil || !validation.Valid() {
		return nil, false
	}

	probs := make(map[string]float64, 8)
	for _, trait := range []string{"E", "I", "S", "N", "T", "F", "J", "P"} {
		v, ok := raw[trait].(float64)
		if !ok {
			return nil, false
		}
		probs[trait] = v
	}
	return probs, true
}

// scanTraitValues applies traitValuePattern across content and requires all
// eight traits to have matched at least once, in range [0, 1].
func scanTraitValues(content string) (map[string]float64, bool) {
	matches := traitValuePattern.FindAllStringSubmatch(content, -1)
	if len(matches) < 8 {
		return nil, false
	}

	probs := make(map[string]float64, 8)
	for _, m := range matches {
		trait, valStr := m[1], m[2]
		v, err := strconv.ParseFloat(valStr, 64)
		if err != nil || v < 0 || v > 1 {
			continue
		}
		probs[trait] = v
	}

	for _, trait := range []string{"E", "I", "S", "N", "T", "F", "J", "P"} {
		if _, ok := probs[trait]; !ok {
			return nil, false
		}
	}
	return probs, true
}

// normalizeProbabilities rescales each pair to sum to 1.0, defaulting any
// missing trait to 0.5 before normalizing — mirrors _normalize_probabilities.
func normalizeProbabilities(probs map[string]float64) models.MBTIVector {
	get := func(trait string) float64 {
		if v, ok := probs[trait]; ok {
			return v
		}
		return 0.5
	}

	v := models.MBTIVector{
		E: get("E"), I: get("I"),
		S: get("S"), N: get("N"),
		T: get("T"), F: get("F"),
		J: get("J"), P: get("P"),
	}
	return vectormath.Normalize(v)
}

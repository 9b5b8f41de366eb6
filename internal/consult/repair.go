package consult

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/abhisek/doctorai/internal/llm"
)

const (
	maxDifferentials = 3
	minFollowups     = 3
	maxFollowups     = 5

	// FallbackConfidence is forced onto answers that needed the
	// conservative fallback.
	FallbackConfidence = 0.1

	unclearDiagnosis = "unclear"
	noRiskFlags      = "None identified"

	// maxKeyDistance bounds edit-distance key recovery.
	maxKeyDistance = 2
)

// genericFollowups pad answers that ask too few clarifying questions.
var genericFollowups = []string{
	"Any new symptoms?",
	"Any allergies or current medications?",
	"How long have you had these symptoms?",
	"Have the symptoms changed or spread recently?",
	"Do you have any other medical conditions?",
}

const (
	uncertaintyStatement = "I could not produce a reliable structured assessment, so please treat this as uncertain and have a clinician review it."
	fallbackAnswer       = "I'm not able to give a reliable assessment from the information provided. Please have a clinician evaluate this."
	fallbackPlan         = "Arrange an evaluation with a clinician who can examine you and review your history. Note how the symptoms change until then."
	fallbackTriage       = "Seek urgent in-person care if symptoms worsen quickly, you develop a fever or severe pain, or you feel unsafe. Otherwise book a routine appointment."
)

// keySynonyms maps normalised alternative key names to canonical keys.
var keySynonyms = map[string]string{
	"response":              "answer",
	"reply":                 "answer",
	"summary":               "answer",
	"assessment":            "answer",
	"message":               "answer",
	"diagnosis":             "provisional_diagnosis",
	"provisionaldx":         "provisional_diagnosis",
	"likelydiagnosis":       "provisional_diagnosis",
	"workingdiagnosis":      "provisional_diagnosis",
	"impression":            "provisional_diagnosis",
	"dx":                    "provisional_diagnosis",
	"differential":          "differentials",
	"differentialdiagnosis": "differentials",
	"differentialdiagnoses": "differentials",
	"ddx":                   "differentials",
	"alternatives":          "differentials",
	"followup":              "followups",
	"followupquestions":     "followups",
	"clarifyingquestions":   "followups",
	"questions":             "followups",
	"treatment":             "plan",
	"treatmentplan":         "plan",
	"recommendations":       "plan",
	"management":            "plan",
	"nextsteps":             "plan",
	"urgency":               "triage",
	"triagelevel":           "triage",
	"whentoseekcare":        "triage",
	"escalation":            "triage",
	"redflags":              "risk_flags",
	"riskflag":              "risk_flags",
	"risks":                 "risk_flags",
	"warningsigns":          "risk_flags",
	"flags":                 "risk_flags",
	"confidencescore":       "confidence",
	"confidencelevel":       "confidence",
	"certainty":             "confidence",
	"probability":           "confidence",
}

// KeyRecovery records a model key mapped onto a canonical key.
type KeyRecovery struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Method string `json:"method"` // "case", "synonym" or "distance"
}

// RepairReport describes what ParseOrRepair had to do to produce an Answer.
type RepairReport struct {
	// Strict is true when the text decoded against the schema unchanged.
	Strict bool `json:"strict"`

	// Fallback is true when answer, plan or triage had to be substituted
	// with conservative text.
	Fallback bool `json:"fallback,omitempty"`

	Recovered   []KeyRecovery `json:"recovered,omitempty"`
	Dropped     []string      `json:"dropped,omitempty"`
	Adjustments []string      `json:"adjustments,omitempty"`
}

func (r *RepairReport) adjust(format string, args ...any) {
	r.Adjustments = append(r.Adjustments, fmt.Sprintf(format, args...))
}

// ParseOrRepair turns raw model text into a valid Answer. It never fails:
// text that cannot be recovered becomes a conservative low-confidence
// answer and the report's Fallback flag is set.
func ParseOrRepair(raw string) (Answer, RepairReport) {
	var rep RepairReport
	text := stripCodeFence(raw)

	if a, ok := decodeStrict(text); ok {
		rep.Strict = true
		return finalize(a, allFieldsSet(), "", &rep), rep
	}

	var (
		a     Answer
		set   = map[string]bool{}
		prose string
	)
	if fields, salvaged, ok := extractObject(text); ok {
		if salvaged {
			rep.adjust("salvaged fields from incomplete JSON")
		}
		set = assignFields(&a, fields, &rep)
	} else if !strings.HasPrefix(text, "{") {
		// Model prose, possibly with stray braces. A broken object is not
		// prose and gets the generic fallback.
		prose = text
	}

	return finalize(a, set, prose, &rep), rep
}

// stripCodeFence removes surrounding whitespace and a Markdown code fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string ("json") on the opening fence line.
		if lang := strings.TrimSpace(s[:nl]); !strings.ContainsAny(lang, "{[\"") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func decodeStrict(text string) (Answer, bool) {
	if err := llm.ValidateJSON(AnswerSchema, json.RawMessage(text)); err != nil {
		return Answer{}, false
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	var a Answer
	if err := dec.Decode(&a); err != nil || dec.More() {
		return Answer{}, false
	}
	return a, true
}

// extractObject finds the outermost JSON object in text. When the object
// is incomplete it salvages complete key/value pairs instead.
func extractObject(text string) (fields map[string]any, salvaged, ok bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false, false
	}
	if end := strings.LastIndexByte(text, '}'); end > start {
		if m, err := decodeObject(text[start : end+1]); err == nil {
			return m, false, true
		}
	}
	// A valid object followed by trailing braces in prose.
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err == nil {
		return m, false, true
	}
	if m := salvagePairs(text[start:]); len(m) > 0 {
		return m, true, true
	}
	return nil, false, false
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	scalarPairRe = regexp.MustCompile(`"([^"\\]+)"\s*:\s*("(?:[^"\\]|\\.)*"|-?\d+(?:\.\d+)?)`)
	arrayPairRe  = regexp.MustCompile(`"([^"\\]+)"\s*:\s*(\[[^\[\]]*\])`)
)

// salvagePairs extracts complete top-level-looking pairs from truncated
// JSON, e.g. output cut off by a token limit.
func salvagePairs(s string) map[string]any {
	m := map[string]any{}
	for _, match := range scalarPairRe.FindAllStringSubmatch(s, -1) {
		key, val := match[1], match[2]
		if strings.HasPrefix(val, `"`) {
			var str string
			if json.Unmarshal([]byte(val), &str) == nil {
				m[key] = str
			}
			continue
		}
		m[key] = json.Number(val)
	}
	for _, match := range arrayPairRe.FindAllStringSubmatch(s, -1) {
		var items []any
		if json.Unmarshal([]byte(match[2]), &items) == nil {
			m[match[1]] = items
		}
	}
	return m
}

type keyCandidate struct {
	raw   string
	canon string
	rank  int
}

var methodRank = map[string]int{"exact": 0, "case": 1, "synonym": 2, "distance": 3}

// assignFields maps recovered keys onto a and returns the canonical keys
// that were populated.
func assignFields(a *Answer, fields map[string]any, rep *RepairReport) map[string]bool {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := map[string]keyCandidate{}
	for _, k := range keys {
		canon, method := matchKey(k)
		if canon == "" {
			rep.Dropped = append(rep.Dropped, k)
			continue
		}
		c := keyCandidate{raw: k, canon: canon, rank: methodRank[method]}
		if prev, ok := best[canon]; ok {
			if c.rank >= prev.rank {
				rep.Dropped = append(rep.Dropped, k)
				continue
			}
			rep.Dropped = append(rep.Dropped, prev.raw)
		}
		best[canon] = c
	}

	set := map[string]bool{}
	for _, f := range answerFields {
		c, ok := best[f.Key]
		if !ok {
			continue
		}
		if c.rank > 0 {
			method := "case"
			switch c.rank {
			case 2:
				method = "synonym"
			case 3:
				method = "distance"
			}
			rep.Recovered = append(rep.Recovered, KeyRecovery{From: c.raw, To: c.canon, Method: method})
		}
		if setField(a, c.canon, fields[c.raw], rep) {
			set[c.canon] = true
		}
	}
	sort.Strings(rep.Dropped)
	return set
}

// matchKey resolves a model key to a canonical key.
func matchKey(k string) (canon, method string) {
	for _, f := range answerFields {
		if k == f.Key {
			return f.Key, "exact"
		}
	}
	n := normKey(k)
	if n == "" {
		return "", ""
	}
	for _, f := range answerFields {
		if n == normKey(f.Key) {
			return f.Key, "case"
		}
	}
	if c, ok := keySynonyms[n]; ok {
		return c, "synonym"
	}
	// Short keys tolerate fewer edits so "name" does not become "plan".
	limit := min(maxKeyDistance, len(n)/3)
	if limit == 0 {
		return "", ""
	}
	bestDist := limit + 1
	for _, f := range answerFields {
		if d := levenshtein.Distance(n, normKey(f.Key), nil); d < bestDist {
			bestDist, canon = d, f.Key
		}
	}
	if canon == "" {
		return "", ""
	}
	return canon, "distance"
}

// normKey lower-cases k and drops everything but letters and digits.
func normKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// setField coerces v into the field named canon and reports whether a
// usable value was present.
func setField(a *Answer, canon string, v any, rep *RepairReport) bool {
	if v == nil {
		return false
	}
	switch canon {
	case "answer":
		a.Answer = coerceText(canon, v, rep)
	case "provisional_diagnosis":
		a.ProvisionalDiagnosis = coerceText(canon, v, rep)
	case "plan":
		a.Plan = coerceText(canon, v, rep)
	case "triage":
		a.Triage = coerceText(canon, v, rep)
	case "risk_flags":
		a.RiskFlags = coerceText(canon, v, rep)
	case "differentials":
		a.Differentials = coerceList(canon, v, true, rep)
	case "followups":
		a.Followups = coerceList(canon, v, false, rep)
	case "confidence":
		c, ok := coerceConfidence(v)
		if !ok {
			rep.adjust("confidence %v not numeric", v)
			return false
		}
		if _, isNum := v.(json.Number); !isNum {
			rep.adjust("coerced confidence from %T", v)
		}
		a.Confidence = c
	}
	return true
}

func coerceText(canon string, v any, rep *RepairReport) string {
	if s, ok := v.(string); ok {
		return s
	}
	rep.adjust("coerced %s from %s", canon, jsonKind(v))
	return toText(v)
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := toText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := toText(t[k]); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return fmt.Sprint(v)
}

func coerceList(canon string, v any, splitCommas bool, rep *RepairReport) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if _, ok := item.(string); !ok {
				rep.adjust("coerced %s item from %s", canon, jsonKind(item))
			}
			out = append(out, toText(item))
		}
		return out
	case string:
		rep.adjust("split %s from text", canon)
		return splitList(t, splitCommas)
	}
	rep.adjust("coerced %s from %s", canon, jsonKind(v))
	return splitList(toText(v), splitCommas)
}

var bulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)

func splitList(s string, splitCommas bool) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == ';' })
	if splitCommas && len(parts) == 1 {
		parts = strings.Split(parts[0], ",")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, bulletRe.ReplaceAllString(p, ""))
	}
	return out
}

func coerceConfidence(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		percent := strings.HasSuffix(s, "%")
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		if percent {
			f /= 100
		}
		return f, true
	}
	return 0, false
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "bool"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "null"
}

func allFieldsSet() map[string]bool {
	set := make(map[string]bool, len(answerFields))
	for _, f := range answerFields {
		set[f.Key] = true
	}
	return set
}

// finalize enforces every Answer invariant. prose is non-JSON model text
// kept as the answer when nothing structured could be recovered.
func finalize(a Answer, set map[string]bool, prose string, rep *RepairReport) Answer {
	a.Answer = strings.TrimSpace(a.Answer)
	a.ProvisionalDiagnosis = strings.TrimSpace(a.ProvisionalDiagnosis)
	a.Plan = strings.TrimSpace(a.Plan)
	a.Triage = strings.TrimSpace(a.Triage)
	a.RiskFlags = strings.TrimSpace(a.RiskFlags)

	switch {
	case !set["confidence"]:
		a.Confidence = FallbackConfidence
		rep.adjust("confidence missing, set to %.1f", FallbackConfidence)
	case math.IsNaN(a.Confidence):
		a.Confidence = 0
		rep.adjust("confidence NaN, set to 0")
	case a.Confidence < 0 || a.Confidence > 1:
		orig := a.Confidence
		a.Confidence = math.Min(1, math.Max(0, a.Confidence))
		rep.adjust("confidence %g clamped to %g", orig, a.Confidence)
	}

	a.Differentials = cleanList(a.Differentials)
	if len(a.Differentials) > maxDifferentials {
		rep.adjust("differentials truncated from %d to %d", len(a.Differentials), maxDifferentials)
		a.Differentials = a.Differentials[:maxDifferentials]
	}

	a.Followups = cleanList(a.Followups)
	if len(a.Followups) < minFollowups {
		rep.adjust("followups padded from %d to %d", len(a.Followups), minFollowups)
		a.Followups = padFollowups(a.Followups)
	}
	if len(a.Followups) > maxFollowups {
		rep.adjust("followups truncated from %d to %d", len(a.Followups), maxFollowups)
		a.Followups = a.Followups[:maxFollowups]
	}

	if a.ProvisionalDiagnosis == "" {
		a.ProvisionalDiagnosis = unclearDiagnosis
		rep.adjust("provisional_diagnosis defaulted to %q", unclearDiagnosis)
	}
	if a.RiskFlags == "" {
		a.RiskFlags = noRiskFlags
		rep.adjust("risk_flags defaulted to %q", noRiskFlags)
	}

	if a.Answer == "" || a.Plan == "" || a.Triage == "" {
		rep.Fallback = true
		if a.Answer == "" {
			if prose = strings.TrimSpace(prose); prose != "" {
				a.Answer = prose + " " + uncertaintyStatement
			} else {
				a.Answer = fallbackAnswer
			}
		}
		if a.Plan == "" {
			a.Plan = fallbackPlan
		}
		if a.Triage == "" {
			a.Triage = fallbackTriage
		}
		a.Confidence = FallbackConfidence
	}

	return a
}

// cleanList trims items, drops empties and removes case-insensitive
// duplicates, keeping first occurrences. It never returns nil.
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func padFollowups(followups []string) []string {
	seen := make(map[string]bool, len(followups))
	for _, f := range followups {
		seen[strings.ToLower(f)] = true
	}
	for _, g := range genericFollowups {
		if len(followups) >= minFollowups {
			break
		}
		if !seen[strings.ToLower(g)] {
			followups = append(followups, g)
		}
	}
	return followups
}

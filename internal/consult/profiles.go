package consult

import (
	"strings"
)

// Profile is a specialist persona the pipeline answers as.
type Profile struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tone        string   `json:"tone"`
	Specialties []string `json:"specialties"`

	// RedFlags are the symptoms that must always surface in risk_flags.
	RedFlags []string `json:"red_flags"`

	// ImageRelevant lowers the confidence ceiling when no image is sent.
	ImageRelevant bool `json:"image_relevant"`
}

const (
	AgentDermatologist = "dermatologist"
	AgentTherapist     = "therapist"
)

// DefaultProfiles returns the built-in catalogue, default profile first.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:          AgentDermatologist,
			Title:       "Dermatology Attending Physician",
			Description: "Focus on rashes, lesions, acne, inflammatory skin conditions, infections, and wound healing.",
			Tone:        "precise, reassuring, avoids alarmism",
			Specialties: []string{
				"medical dermatology",
				"infectious disease differentials",
				"dermoscopy heuristics",
				"skin care routines",
			},
			RedFlags: []string{
				"fever",
				"rapidly spreading rash",
				"mucosal involvement",
				"pain",
				"immunosuppression",
			},
			ImageRelevant: true,
		},
		{
			ID:          AgentTherapist,
			Title:       "Generalist Therapist",
			Description: "Focus on emotional support, CBT/DBT inspired coping, brief assessment of risk.",
			Tone:        "supportive, concise, trauma-informed",
			Specialties: []string{"anxiety", "depression", "stress management", "sleep hygiene"},
			RedFlags: []string{
				"self-harm",
				"harm to others",
				"psychosis",
				"substance withdrawal",
			},
		},
	}
}

// Registry is a read-only catalogue of profiles. It is safe for concurrent
// use because nothing mutates it after construction.
type Registry struct {
	profiles []Profile
	byID     map[string]Profile
	def      Profile
}

// NewRegistry builds a registry over profiles. defaultID selects the
// fallback profile; when it is unknown the first profile is used.
// NewRegistry panics if profiles is empty.
func NewRegistry(defaultID string, profiles ...Profile) *Registry {
	if len(profiles) == 0 {
		panic("consult: registry needs at least one profile")
	}
	r := &Registry{
		profiles: profiles,
		byID:     make(map[string]Profile, len(profiles)),
		def:      profiles[0],
	}
	for _, p := range profiles {
		r.byID[normalizeAgentID(p.ID)] = p
	}
	if p, ok := r.byID[normalizeAgentID(defaultID)]; ok {
		r.def = p
	}
	return r
}

// DefaultRegistry returns the built-in profiles with defaultID as fallback.
func DefaultRegistry(defaultID string) *Registry {
	return NewRegistry(defaultID, DefaultProfiles()...)
}

// Resolve returns the profile for agentID. Unknown or empty IDs resolve to
// the default profile so a consultation always has a persona.
func (r *Registry) Resolve(agentID string) Profile {
	if p, ok := r.Lookup(agentID); ok {
		return p
	}
	return r.def
}

// Lookup reports whether agentID names a known profile.
func (r *Registry) Lookup(agentID string) (Profile, bool) {
	p, ok := r.byID[normalizeAgentID(agentID)]
	return p, ok
}

// Default returns the fallback profile.
func (r *Registry) Default() Profile {
	return r.def
}

// Profiles lists all profiles in registration order.
func (r *Registry) Profiles() []Profile {
	out := make([]Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

func normalizeAgentID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

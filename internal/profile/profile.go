// Package profile provides read access to stored learner profiles used to
// personalize prompt framing.
package profile

import (
	"fmt"
	"strings"
)

// Profile holds the educational details used to parameterize prompts.
// All fields are optional; zero values degrade to the defaults below.
type Profile struct {
	Username        string   `json:"username"`
	EducationLevel  string   `json:"educationLevel"`
	Standard        string   `json:"standard"`
	CodingLevel     string   `json:"codingLevel"`
	StrongLanguages []string `json:"strongLanguages"`
}

// EducationInfo renders the education level with the optional standard,
// e.g. "high school (10th)". Returns "unknown" for an empty profile.
func (p *Profile) EducationInfo() string {
	if p == nil || p.EducationLevel == "" {
		return "unknown"
	}
	if p.Standard != "" {
		return fmt.Sprintf("%s (%s)", p.EducationLevel, p.Standard)
	}
	return p.EducationLevel
}

// Level returns the coding proficiency, defaulting to "beginner".
func (p *Profile) Level() string {
	if p == nil || p.CodingLevel == "" {
		return "beginner"
	}
	return p.CodingLevel
}

// Languages renders the preferred languages as a comma-separated list,
// defaulting to "any".
func (p *Profile) Languages() string {
	if p == nil || len(p.StrongLanguages) == 0 {
		return "any"
	}
	return strings.Join(p.StrongLanguages, ", ")
}

// Store is the persistence the Manager reads from. Implemented by
// storage.Store.
type Store interface {
	GetProfile(username string) (Profile, error)
	SaveProfile(p Profile) error
}

// NotFoundReporter lets the Manager distinguish "no such profile" from a
// storage failure without importing the storage package.
type NotFoundReporter interface {
	IsNotFound(err error) bool
}

// Manager looks up learner profiles. Absence of a profile is not an error:
// the pipeline degrades to default framing.
type Manager struct {
	store    Store
	notFound func(error) bool
}

// NewManager creates a Manager. notFound reports whether a store error means
// the profile does not exist.
func NewManager(store Store, notFound func(error) bool) *Manager {
	return &Manager{store: store, notFound: notFound}
}

// Lookup returns the profile for username, or (nil, nil) when username is
// empty or no profile is stored. Only genuine storage failures surface as
// errors.
func (m *Manager) Lookup(username string) (*Profile, error) {
	if username == "" {
		return nil, nil
	}
	p, err := m.store.GetProfile(username)
	if err != nil {
		if m.notFound != nil && m.notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up profile %q: %w", username, err)
	}
	return &p, nil
}

// Save persists p.
func (m *Manager) Save(p Profile) error {
	if p.Username == "" {
		return fmt.Errorf("profile username is required")
	}
	if err := m.store.SaveProfile(p); err != nil {
		return fmt.Errorf("saving profile %q: %w", p.Username, err)
	}
	return nil
}

// Package model defines the record shapes shared by every acquisition
// strategy and by the store.
package model

import "strings"

// Company is a single organization record reconstructed from the directory.
// ProfileURL is the canonical key: every strategy keys its output by it, and
// a later write for the same key overwrites the earlier one within a run.
type Company struct {
	Name       string `json:"name"`
	OneLiner   string `json:"one_liner,omitempty"`
	ProfileURL string `json:"profile_url"`
	LogoURL    string `json:"logo_url,omitempty"`
	Batch      string `json:"batch,omitempty"`
	Website    string `json:"website,omitempty"`
	Location   string `json:"location,omitempty"`
}

// Valid reports whether the record satisfies the emit invariant: a non-empty
// name and a resolved absolute profile URL. Records failing this are dropped
// at the mapping boundary, never emitted.
func (c Company) Valid() bool {
	return strings.TrimSpace(c.Name) != "" && c.ProfileURL != ""
}

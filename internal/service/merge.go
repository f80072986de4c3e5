package service

import (
	"slices"
	"strings"

	"github.com/knoguchi/peermatch/internal/repository"
)

// Patch is a partial profile. Nil fields are absent.
type Patch struct {
	Name      *string
	Location  *string
	Bio       *string
	Interests *[]string
	Skills    *[]string
}

// IsEmpty reports whether no field is present.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Location == nil && p.Bio == nil && p.Interests == nil && p.Skills == nil
}

// Changes lists the fields whose value differs after a merge.
type Changes struct {
	Name      bool
	Location  bool
	Bio       bool
	Interests bool
	Skills    bool
}

// Any reports whether anything changed.
func (c Changes) Any() bool {
	return c.Name || c.Location || c.Bio || c.Interests || c.Skills
}

// Semantic reports whether a field feeding the embedding changed.
func (c Changes) Semantic() bool {
	return c.Bio || c.Interests || c.Skills
}

// Fields returns the changed field names in a fixed order.
func (c Changes) Fields() []string {
	var fields []string
	for _, f := range []struct {
		name    string
		changed bool
	}{
		{"name", c.Name},
		{"location", c.Location},
		{"interests", c.Interests},
		{"skills", c.Skills},
		{"bio", c.Bio},
	} {
		if f.changed {
			fields = append(fields, f.name)
		}
	}
	return fields
}

// MergeUnique returns existing followed by the new items of patch.
//
// Items are trimmed and blank items dropped. Identity is case-insensitive, and the first
// spelling seen wins, so MergeUnique(["Python"], ["python", "Go"]) is ["Python", "Go"].
func MergeUnique(existing, patch []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(patch))
	merged := make([]string, 0, len(existing)+len(patch))
	for _, list := range [][]string{existing, patch} {
		for _, item := range list {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key := strings.ToLower(item)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, item)
		}
	}
	return merged
}

// MergeProfile applies patch to a copy of existing. Name and location overwrite,
// interests and skills union with MergeUnique, bio overwrites. The returned person's
// vector and timestamps are those of existing; callers re-embed when Changes.Semantic.
func MergeProfile(existing *repository.Person, patch Patch) (*repository.Person, Changes) {
	merged := existing.Clone()
	var ch Changes

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		ch.Name = name != existing.Name
		merged.Name = name
	}
	if patch.Location != nil {
		loc := strings.TrimSpace(*patch.Location)
		ch.Location = loc != existing.Location
		merged.Location = loc
	}
	if patch.Interests != nil {
		merged.Interests = MergeUnique(existing.Interests, *patch.Interests)
		ch.Interests = !slices.Equal(merged.Interests, nonNil(existing.Interests))
	}
	if patch.Skills != nil {
		merged.Skills = MergeUnique(existing.Skills, *patch.Skills)
		ch.Skills = !slices.Equal(merged.Skills, nonNil(existing.Skills))
	}
	if patch.Bio != nil {
		bio := strings.TrimSpace(*patch.Bio)
		ch.Bio = bio != existing.Bio
		merged.Bio = bio
	}

	return merged, ch
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package fouille

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/fouille/fouille/internal/prefs"
)

// StringList decodes from either a JSON array of strings or one
// comma-separated string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(b []byte) error {
	var csv string
	if err := json.Unmarshal(b, &csv); err == nil {
		*l = prefs.ParseList(csv)
		return nil
	}
	var arr []string
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	*l = arr
	return nil
}

// PreferencesPatch is a partial preferences update. Nil fields are kept.
type PreferencesPatch struct {
	PreferredDomains  *StringList `json:"preferred_domains,omitempty"`
	BlockedDomains    *StringList `json:"blocked_domains,omitempty"`
	PreferredKeywords *StringList `json:"preferred_keywords,omitempty"`
	BlockedKeywords   *StringList `json:"blocked_keywords,omitempty"`
	LikeWeight        *float64    `json:"like_weight,omitempty"`
	DislikeWeight     *float64    `json:"dislike_weight,omitempty"`
	DomainBoost       *float64    `json:"domain_boost,omitempty"`
	KeywordBoost      *float64    `json:"keyword_boost,omitempty"`
	StrictBlock       *bool       `json:"strict_block,omitempty"`
}

// Apply returns base with the patch's non-nil fields set.
func (p PreferencesPatch) Apply(base prefs.Preferences) prefs.Preferences {
	setList := func(dst *[]string, src *StringList) {
		if src != nil {
			*dst = []string(*src)
		}
	}
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setList(&base.PreferredDomains, p.PreferredDomains)
	setList(&base.BlockedDomains, p.BlockedDomains)
	setList(&base.PreferredKeywords, p.PreferredKeywords)
	setList(&base.BlockedKeywords, p.BlockedKeywords)
	setFloat(&base.LikeWeight, p.LikeWeight)
	setFloat(&base.DislikeWeight, p.DislikeWeight)
	setFloat(&base.DomainBoost, p.DomainBoost)
	setFloat(&base.KeywordBoost, p.KeywordBoost)
	if p.StrictBlock != nil {
		base.StrictBlock = *p.StrictBlock
	}
	return base.Normalize()
}

// PatchPreferences applies a partial update and returns the stored result.
func (s *Service) PatchPreferences(ctx context.Context, patch PreferencesPatch) (prefs.Preferences, error) {
	cur, err := s.prefs.Get(ctx)
	if err != nil {
		return prefs.Preferences{}, err
	}
	next := patch.Apply(cur)
	if err := s.prefs.Update(ctx, next); err != nil {
		return prefs.Preferences{}, err
	}
	return next, nil
}

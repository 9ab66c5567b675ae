package profile

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Defaults applied to every field the profile service leaves out.
const (
	DefaultAlias          = "User"
	DefaultAgeGroup       = "unknown"
	DefaultAITone         = "friendly"
	DefaultTalkativeness  = "medium"
	DefaultSocialDistance = "normal"
)

// Profile captures the conversational preferences used to personalise the companion.
type Profile struct {
	Alias          string   `json:"alias"`
	Interests      []string `json:"interests"`
	AgeGroup       string   `json:"ageGroup"`
	AITone         string   `json:"aiTone"`
	Talkativeness  string   `json:"talkativeness"`
	SocialDistance string   `json:"socialDistance"`
}

// Default returns a profile with every field at its default.
func Default() Profile {
	return Profile{
		Alias:          DefaultAlias,
		Interests:      []string{},
		AgeGroup:       DefaultAgeGroup,
		AITone:         DefaultAITone,
		Talkativeness:  DefaultTalkativeness,
		SocialDistance: DefaultSocialDistance,
	}
}

// Decode parses a user-management profile document. Fields are read from the top
// level first and then from the nested "preferences" object; anything missing,
// blank or of the wrong type resolves to its default.
func Decode(data []byte) (Profile, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if doc == nil {
		return Profile{}, fmt.Errorf("decode profile: expected a JSON object")
	}

	prefs, _ := doc["preferences"].(map[string]any)
	lookup := func(key string) any {
		if v := doc[key]; !isBlank(v) {
			return v
		}
		if prefs != nil {
			return prefs[key]
		}
		return nil
	}

	return Profile{
		Alias:          stringOr(lookup("alias"), DefaultAlias),
		Interests:      stringList(lookup("interests")),
		AgeGroup:       stringOr(lookup("ageGroup"), DefaultAgeGroup),
		AITone:         stringOr(lookup("aiTone"), DefaultAITone),
		Talkativeness:  stringOr(lookup("talkativeness"), DefaultTalkativeness),
		SocialDistance: stringOr(lookup("socialDistance"), DefaultSocialDistance),
	}, nil
}

// isBlank treats null, empty and whitespace-only strings as absent.
func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}

func stringOr(v any, fallback string) string {
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}

func stringList(v any) []string {
	out := []string{}
	switch items := v.(type) {
	case []any:
		for _, item := range items {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	case string:
		// 部分旧数据把兴趣存成逗号分隔的字符串。
		for _, part := range strings.Split(items, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

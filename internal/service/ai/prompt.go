package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/gethome/companion/backend/internal/model/profile"
)

const (
	// EmergencyMarkerPrefix opens every reply that signals distress.
	EmergencyMarkerPrefix = "! EMERGENCY DETECTED !"
	// EmergencyMarkerTemplate is the literal marker the model is instructed to emit.
	EmergencyMarkerTemplate = EmergencyMarkerPrefix + " [ CONTEXT: <brief reason> ]"
)

// EmergencyMarker fills the marker with a one-sentence reason.
func EmergencyMarker(reason string) string {
	return fmt.Sprintf("%s [ CONTEXT: %s ]", EmergencyMarkerPrefix, strings.TrimSpace(reason))
}

// IsEmergency reports whether a reply starts with the emergency marker.
func IsEmergency(reply string) bool {
	return strings.HasPrefix(strings.TrimSpace(reply), EmergencyMarkerPrefix)
}

// emergencyProtocol is appended to every system prompt regardless of profile content.
var emergencyProtocol = `Emergency Protocol (must be enforced without exception):
If you detect any signs of distress, danger, or urgent need for help, begin your response exactly as:
` + EmergencyMarkerTemplate + `
Replace <brief reason> by a one-sentence summary of why you believe it's an emergency. After that, immediately provide calm reassurance.
Always respect the user's boundaries and preferences; your primary goal is to keep them feeling safe, heard, and engaged.`

// SynthesizePrompt renders the companion's system prompt. The result depends only on
// its arguments, missing profile fields fall back to their defaults.
func SynthesizePrompt(p profile.Profile, now time.Time) string {
	p = withDefaults(p)

	return fmt.Sprintf(`You are an AI companion walking alongside the user to make them feel safe on their journey home.

User Profile:
- Name: %s
- Interests: %s
- Age-Group: %s

Current Context:
- Date: %s
- Time: %s
- Journey: Guiding the user on foot toward their destination

Boundaries & Tone:
- Tone: %s
- Talkativeness: %s
- Social Distance: %s

Your Job:
- Engage the user based on their day: ask questions about their evening or share relevant topics, but never stray outside their comfort zones.
- Keep replies aligned with the specified tone, verbosity, and level of personal engagement. Your answers may never exceed 4 sentences.
- The interests named are incidental. They should help you estimate the type of person you are talking to. Do not lean too much into them or steer the conversation toward them; if the user brings one up, you may talk about it.
- Don't promise the user actions you can not fulfill. Your only ways of interacting with the user are the Emergency Protocol and your talking.
- Always answer in English.

%s
`,
		p.Alias,
		strings.Join(p.Interests, ", "),
		p.AgeGroup,
		now.Format("2006-01-02"),
		now.Format("15:04"),
		p.AITone,
		p.Talkativeness,
		p.SocialDistance,
		emergencyProtocol,
	)
}

func withDefaults(p profile.Profile) profile.Profile {
	def := profile.Default()
	if strings.TrimSpace(p.Alias) == "" {
		p.Alias = def.Alias
	}
	if strings.TrimSpace(p.AgeGroup) == "" {
		p.AgeGroup = def.AgeGroup
	}
	if strings.TrimSpace(p.AITone) == "" {
		p.AITone = def.AITone
	}
	if strings.TrimSpace(p.Talkativeness) == "" {
		p.Talkativeness = def.Talkativeness
	}
	if strings.TrimSpace(p.SocialDistance) == "" {
		p.SocialDistance = def.SocialDistance
	}
	return p
}

package distress

import (
	"strings"
)

// Category names the kind of distress a message signals.
type Category string

const (
	None    Category = ""
	Threat  Category = "threat"
	Medical Category = "medical"
	Fear    Category = "fear"
	Lost    Category = "lost"
)

// Signal is the outcome of scanning one message.
type Signal struct {
	Category Category
	Score    int
	Reason   string
}

// Detected reports whether the message crossed the distress threshold.
func (s Signal) Detected() bool {
	return s.Category != None
}

// threshold is the minimum score that counts as distress; a single keyword hit scores 3.
const threshold = 3

// keywordBuckets holds phrases anchored to the speaker's own situation, so talk about
// films, songs or advice does not raise an alarm.
var keywordBuckets = map[Category][]string{
	Threat: {
		"following me", "being followed", "someone followed me", "someone behind me", "stalking me",
		"a stalker", "attacked me", "attack me", "being attacked", "grabbed me", "has a knife",
		"with a knife", "pulled a knife", "has a gun", "with a gun", "pulled a gun", "got mugged",
		"being mugged", "just got robbed", "threatening me", "won't leave me alone", "chasing me",
		"harassing me", "assaulted me", "i was assaulted",
	},
	Medical: {
		"i'm bleeding", "i am bleeding", "i'm injured", "i am injured", "i'm hurt", "i am hurt",
		"got hurt", "can't breathe", "cannot breathe", "chest pain", "i fainted", "passing out",
		"i feel dizzy", "i'm dizzy", "i collapsed", "having a heart attack", "i broke my",
	},
	Fear: {
		"i'm scared", "i am scared", "so scared", "i'm afraid", "i am afraid", "i'm terrified",
		"i am terrified", "i'm frightened", "i'm panicking", "i am panicking", "having a panic attack",
		"please help me", "help me please", "somebody help", "someone help me", "i'm not safe",
		"i am not safe", "i feel unsafe", "i'm in danger", "i am in danger", "this is an emergency",
		"it's an emergency", "i have an emergency", "call the police", "call 911", "call 112",
	},
	Lost: {
		"i'm lost", "i am lost", "don't know where i am", "do not know where i am", "can't find my way",
		"my phone is dying", "my battery is dying", "i'm stranded", "i am stranded",
	},
}

// priority breaks ties between equally scored categories.
var priority = []Category{Threat, Medical, Fear, Lost}

var reasons = map[Category]string{
	Threat:  "The user reports a possible threat from another person.",
	Medical: "The user describes a possible medical problem or injury.",
	Fear:    "The user says they feel scared or unsafe.",
	Lost:    "The user appears to be lost or stranded on their way home.",
}

// Detect scans a caller message for signs of distress or danger.
func Detect(message string) Signal {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		return Signal{}
	}
	normalized = strings.ReplaceAll(normalized, "’", "'")
	padded := " " + normalized + " "

	scores := make(map[Category]int)
	for category, keywords := range keywordBuckets {
		for _, word := range keywords {
			if containsPhrase(padded, word) {
				scores[category] += 3
			}
		}
	}

	// 感叹号只加强已命中的类别，不会单独触发。
	if exclamations := strings.Count(message, "!"); exclamations > 0 {
		for category := range scores {
			scores[category] += min(exclamations, 3)
		}
	}

	best := None
	bestScore := 0
	for _, category := range priority {
		if s := scores[category]; s > bestScore {
			best = category
			bestScore = s
		}
	}

	if bestScore < threshold {
		return Signal{}
	}

	return Signal{Category: best, Score: bestScore, Reason: reasons[best]}
}

// containsPhrase matches phrase on word boundaries so "i'm lost" does not fire on "i'm lostie".
func containsPhrase(padded, phrase string) bool {
	idx := 0
	for {
		pos := strings.Index(padded[idx:], phrase)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(phrase)
		if !isWordByte(padded[start-1]) && (end >= len(padded) || !isWordByte(padded[end])) {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '\'' || b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// Package detect provides cheap structural heuristics for chat messages.
// It flags surface-level anomalies (links, shouting, character floods,
// emoji walls, unusual lengths) without any network or database access,
// so the orchestrator can skip expensive classification for messages
// that are plainly harmless.
package detect

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Compiled once at package init and reused for every call, safe for
// concurrent use.
var (
	// urlPattern matches http/https URLs, www. URLs, and bare domains
	// ending in a short list of common TLDs. Bare domains are kept
	// narrow so version strings like "v2.0" do not match.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|[\w-]+\.(com|net|org|io|gg|tv|me|co)\b)`)
)

// emojiRanges lists the code-point ranges counted as emoji, including
// flags, dingbats, variation selectors and the supplemental symbol
// blocks.
var emojiRanges = [][2]rune{
	{0x1F600, 0x1F64F}, // emoticons
	{0x1F300, 0x1F5FF}, // symbols and pictographs
	{0x1F680, 0x1F6FF}, // transport and map
	{0x1F1E0, 0x1F1FF}, // regional indicators (flags)
	{0x2702, 0x27B0},   // dingbats
	{0xFE00, 0xFE0F},   // variation selectors
	{0x1F900, 0x1F9FF}, // supplemental symbols
	{0x1FA00, 0x1FA6F}, // chess symbols and extended-A lead-in
	{0x1FA70, 0x1FAFF}, // symbols extended-A
	{0x2600, 0x26FF},   // miscellaneous symbols
}

const (
	capsRatioThreshold    = 0.7
	capsMinLetters        = 5
	repeatRunLength       = 3
	emojiDensityThreshold = 0.3
	emojiMinCount         = 3
	shortLength           = 3
	longLength            = 300
)

// Flags is the structural profile of a single message. Field names
// match the wire form used in audit payloads.
type Flags struct {
	HasURLs                bool    `json:"has_urls"`
	URLCount               int     `json:"url_count"`
	ExcessiveCaps          bool    `json:"excessive_caps"`
	CapsRatio              float64 `json:"caps_ratio"`
	RepeatedChars          bool    `json:"repeated_chars"`
	RepeatedSequencesCount int     `json:"repeated_sequences_count"`
	ExcessiveEmojis        bool    `json:"excessive_emojis"`
	EmojiCount             int     `json:"emoji_count"`
	EmojiDensity           float64 `json:"emoji_density"`
	TooShort               bool    `json:"too_short"`
	TooLong                bool    `json:"too_long"`
	MessageLength          int     `json:"message_length"`
}

// Suspicious reports whether any flag that warrants closer inspection
// is set. TooShort is excluded: a two-character greeting is not a
// signal, it is just short.
func (f Flags) Suspicious() bool {
	return f.HasURLs || f.ExcessiveCaps || f.RepeatedChars || f.ExcessiveEmojis || f.TooLong
}

// Scan computes the structural profile of message. It is pure and
// deterministic: no clock, no configuration, no I/O. An empty or
// whitespace-only message yields the zero Flags.
func Scan(message string) Flags {
	var f Flags

	trimmed := strings.TrimSpace(message)
	f.MessageLength = utf8.RuneCountInString(trimmed)
	if f.MessageLength == 0 {
		return f
	}

	urls := urlPattern.FindAllString(message, -1)
	f.URLCount = len(urls)
	f.HasURLs = f.URLCount > 0

	f.CapsRatio, f.ExcessiveCaps = capsProfile(message)
	f.RepeatedSequencesCount = countRepeatRuns(message)
	f.RepeatedChars = f.RepeatedSequencesCount > 0
	f.EmojiCount, f.EmojiDensity, f.ExcessiveEmojis = emojiProfile(message)

	f.TooShort = f.MessageLength < shortLength
	f.TooLong = f.MessageLength > longLength

	return f
}

// capsProfile returns the uppercase-to-alphabetic ratio and whether it
// crosses the shouting threshold. Messages with fewer than five
// letters never qualify, so "OK" and "LOL" pass.
func capsProfile(message string) (float64, bool) {
	var letters, upper int
	for _, r := range message {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0, false
	}
	ratio := float64(upper) / float64(letters)
	excessive := ratio > capsRatioThreshold && letters >= capsMinLetters
	return round2(ratio), excessive
}

// countRepeatRuns counts maximal runs of three or more identical
// consecutive runes. "soooo coool" has two runs; "aaaa" has one.
// Go's regexp package (RE2) does not support backreferences, so this
// is a linear scan.
func countRepeatRuns(message string) int {
	runs := 0
	count := 1
	prev := rune(-1)
	for _, r := range message {
		if r == prev {
			count++
			if count == repeatRunLength {
				runs++
			}
		} else {
			count = 1
			prev = r
		}
	}
	return runs
}

// emojiProfile counts emoji runes and their density over the whole
// message. Density alone is not enough: a single thumbs-up in "ok 👍"
// is dense but harmless, so a minimum count applies too.
func emojiProfile(message string) (int, float64, bool) {
	total := utf8.RuneCountInString(message)
	count := 0
	for _, r := range message {
		if isEmoji(r) {
			count++
		}
	}
	if total == 0 {
		return 0, 0, false
	}
	density := float64(count) / float64(total)
	excessive := density > emojiDensityThreshold && count >= emojiMinCount
	return count, round2(density), excessive
}

func isEmoji(r rune) bool {
	for _, rng := range emojiRanges {
		if r >= rng[0] && r <= rng[1] {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

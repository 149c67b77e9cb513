package client

import (
	"strings"

	"github.com/StergiosCha/perpatame/internal/domain"
)

type themeRule struct {
	keywords []string
	theme    domain.Theme
}

// themeRules are checked in order; the first rule with a matching
// keyword wins.
var themeRules = []themeRule{
	{
		keywords: []string{"δυνατή", "δυνατός", "αντοχή", "δύναμη", "παλεύω", "δεν τα παρατάω"},
		theme:    domain.Theme{Name: "strength", Emojis: []string{"💪", "🔥", "⚡", "🏋️‍♀️", "💎"}, Color: "orange", Animation: "bounce"},
	},
	{
		keywords: []string{"αγάπη", "οικογένεια", "υποστήριξη", "μαμά", "μπαμπάς", "παιδιά"},
		theme:    domain.Theme{Name: "love", Emojis: []string{"💝", "💕", "🌈", "🦋", "💖"}, Color: "pink", Animation: "float"},
	},
	{
		keywords: []string{"μαζί", "κοινότητα", "φίλοι", "αλληλεγγύη"},
		theme:    domain.Theme{Name: "community", Emojis: []string{"🤝", "👥", "🌟", "💜", "🎯"}, Color: "blue", Animation: "pulse"},
	},
	{
		keywords: []string{"γιατρός", "θεραπεία", "φάρμακο", "νοσοκομείο", "υγεία"},
		theme:    domain.Theme{Name: "medical", Emojis: []string{"🏥", "⚕️", "💊", "🩺", "🌱"}, Color: "green", Animation: "glow"},
	},
	{
		keywords: []string{"επιτυχία", "κέρδισα", "κατάφερα", "νίκη", "πρόοδος"},
		theme:    domain.Theme{Name: "success", Emojis: []string{"🎉", "🏆", "✨", "🌟", "🎯"}, Color: "gold", Animation: "sparkle"},
	},
}

var hopeTheme = domain.Theme{Name: "hope", Emojis: []string{"🌟", "💜", "✨", "🌈", "🦋"}, Color: "purple", Animation: "float"}

// ThemeFor picks a theme for text by keyword, defaulting to hope.
func ThemeFor(text string) *domain.Theme {
	lower := strings.ToLower(text)
	for _, rule := range themeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return copyTheme(rule.theme)
			}
		}
	}
	return copyTheme(hopeTheme)
}

func copyTheme(t domain.Theme) *domain.Theme {
	t.Emojis = append([]string(nil), t.Emojis...)
	return &t
}

// defaultOffTopic lists terms that mark news, politics or finance text.
var defaultOffTopic = []string{
	"βουλή", "βουλής", "κυβέρνηση", "υπουργός", "πρωθυπουργός",
	"εξεταστική", "επιτροπή", "σκάνδαλο", "οπεκεπε",
	"εκλογές", "κόμμα", "ψήφισμα", "νομοσχέδιο",
	"χρηματιστήριο", "μετοχές", "nasdaq", "κατάθεση",
}

// ContentFilter rejects text that is clearly not a personal story.
type ContentFilter struct {
	keywords  []string
	threshold int
}

// NewContentFilter rejects text containing at least threshold off-topic
// keywords. A threshold <= 0 disables the filter.
func NewContentFilter(threshold int) *ContentFilter {
	return &ContentFilter{keywords: defaultOffTopic, threshold: threshold}
}

// Relevant reports whether text may be sent for transformation.
func (f *ContentFilter) Relevant(text string) bool {
	if f == nil || f.threshold <= 0 {
		return true
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			hits++
			if hits >= f.threshold {
				return false
			}
		}
	}
	return true
}

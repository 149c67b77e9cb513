package domain

// Style identifies a transformation prompt flavour.
type Style struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

const (
	StyleInspirational = "inspirational"
	StyleEmotional     = "emotional"
	StyleCommunity     = "community"
	StyleResilience    = "resilience"
)

// DefaultStyle is used when a submission names none or an unknown one.
const DefaultStyle = StyleInspirational

// Styles lists the supported styles in display order.
var Styles = []Style{
	{ID: StyleInspirational, Name: "Εμπνευστικό", Description: "Μετατρέπει την ιστορία σε μήνυμα έμπνευσης και ελπίδας"},
	{ID: StyleEmotional, Name: "Συναισθηματικό", Description: "Δίνει έμφαση στα συναισθήματα και την ανθρώπινη σύνδεση"},
	{ID: StyleCommunity, Name: "Κοινότητα", Description: "Τονίζει τη δύναμη της κοινότητας και της αλληλεγγύης"},
	{ID: StyleResilience, Name: "Ανθεκτικότητα", Description: "Αναδεικνύει τη δύναμη και την ανθεκτικότητα"},
}

// NormalizeStyle maps an unknown or empty style to DefaultStyle.
func NormalizeStyle(id string) string {
	for _, s := range Styles {
		if s.ID == id {
			return id
		}
	}
	return DefaultStyle
}

// Package labels enumerates the Gmail-style labels recognized throughout
// the rule engine and analyzers, and maps them to the semantic buckets the
// Label Classifier reports.
package labels

import "strings"

// Recognized label names. These mirror the Gmail API's system label IDs
// plus a handful of commonly-seen user labels referenced by name.
const (
	Inbox              = "INBOX"
	Important          = "IMPORTANT"
	Starred            = "STARRED"
	Spam               = "SPAM"
	Trash              = "TRASH"
	Unread             = "UNREAD"
	Sent               = "SENT"
	Draft              = "DRAFT"
	CategoryPersonal   = "CATEGORY_PERSONAL"
	CategoryPromotions = "CATEGORY_PROMOTIONS"
	CategorySocial     = "CATEGORY_SOCIAL"
	CategoryUpdates    = "CATEGORY_UPDATES"
	CategoryForums     = "CATEGORY_FORUMS"
)

// Bucket is the semantic classification a label maps to.
type Bucket string

const (
	BucketImportant  Bucket = "important"
	BucketSpam       Bucket = "spam"
	BucketPromotions Bucket = "promotions"
	BucketSocial     Bucket = "social"
	BucketUpdates    Bucket = "updates"
	BucketForums     Bucket = "forums"
	BucketPrimary    Bucket = "primary"
)

// explicitWeight is the contribution an exact, unambiguous label match adds
// to its bucket's score. fuzzyWeight is the contribution a substring/fuzzy
// match adds; explicit signals dominate fuzzy ones per spec.
const (
	explicitWeight = 0.6
	fuzzyWeight    = 0.25
)

// bucketTable maps an exact (case-insensitive) label name to the bucket it
// explicitly signals.
var bucketTable = map[string]Bucket{
	Important:          BucketImportant,
	Starred:            BucketImportant,
	Spam:               BucketSpam,
	CategoryPromotions: BucketPromotions,
	CategorySocial:     BucketSocial,
	CategoryUpdates:    BucketUpdates,
	CategoryForums:     BucketForums,
	CategoryPersonal:   BucketPrimary,
	Inbox:              BucketPrimary,
}

// fuzzyTerms maps a lowercase substring to the bucket it fuzzily signals,
// for labels that are not exact system labels (e.g. user-created labels
// like "suspicious" or "newsletter").
var fuzzyTerms = map[string]Bucket{
	"suspicious":   BucketSpam,
	"junk":         BucketSpam,
	"newsletter":   BucketUpdates,
	"promo":        BucketPromotions,
	"deal":         BucketPromotions,
	"social":       BucketSocial,
	"forum":        BucketForums,
	"notification": BucketUpdates,
}

// BucketWeight reports which bucket a single label name signals, and the
// weight its signal carries. ok is false when the label matches neither an
// explicit nor a fuzzy entry.
func BucketWeight(label string) (bucket Bucket, weight float64, ok bool) {
	if b, found := bucketTable[strings.ToUpper(label)]; found {
		return b, explicitWeight, true
	}
	lower := strings.ToLower(label)
	for term, b := range fuzzyTerms {
		if strings.Contains(lower, term) {
			return b, fuzzyWeight, true
		}
	}
	return "", 0, false
}

// GmailCategory derives the single dominant semantic category for a label
// set, used as EmailIndex.gmail_category. Falls back to "primary" when no
// label signals a more specific bucket.
func GmailCategory(labelSet []string) Bucket {
	scores := BucketScores(labelSet)
	best := BucketPrimary
	bestScore := 0.0
	for b, score := range scores {
		if b == BucketPrimary {
			continue
		}
		if score > bestScore {
			best = b
			bestScore = score
		}
	}
	return best
}

// BucketScores sums the weight every label in labelSet contributes to each
// bucket it signals, capped at 1 per bucket. Order-independent: the result
// depends only on the set of labels present, not their order.
func BucketScores(labelSet []string) map[Bucket]float64 {
	scores := make(map[Bucket]float64)
	for _, l := range labelSet {
		b, w, ok := BucketWeight(l)
		if !ok {
			continue
		}
		scores[b] = capAtOne(scores[b] + w)
	}
	return scores
}

func capAtOne(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

package mask

import "regexp"

// Replacement tokens. These are fixed literals: the same pattern always maps
// to the same token, and no token contains a digit, which is what makes
// masking idempotent.
const (
	tokenEmail        = "[EMAIL]"
	tokenPhone        = "[PHONE]"
	tokenPersonnummer = "[PERSONNUMMER]"
	tokenNum          = "[NUM]"
	tokenDate         = "[DATE]"
	tokenAmount       = "[AMOUNT]"
	tokenID           = "[ID]"
)

// action describes what a rule does to a matched span at a given level.
type action int

const (
	// actionOff means the rule does not run at this level.
	actionOff action = iota
	// actionPreserve locks the span so no later rule may rewrite it, but
	// leaves the text untouched. This is how money amounts stay readable at
	// normal/strict without being eaten by the numeric rules.
	actionPreserve
	// actionReplace rewrites the span with the rule's token.
	actionReplace
)

type compiledRule struct {
	class   string
	token   string
	pattern *regexp.Regexp
	actions map[Level]action
}

// Pattern sources. Kept as named constants so the PII-gate in leak.go can
// reuse the exact shapes the masker recognizes.
const (
	// reEmail matches common mailbox addresses.
	reEmail = `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`

	// rePersonnummer matches Swedish personal identity numbers: an optional
	// century, six date digits, an optional -/+ separator, and four digits.
	// Covers 10 and 12 digit forms, with or without separator.
	rePersonnummer = `\b(?:19|20)?\d{6}[-+]?\d{4}\b`

	// rePhone matches country-flexible phone numbers. A leading zero (on a
	// word boundary) or a +CC prefix is required so that ISO dates and plain
	// figures are never mistaken for phone numbers.
	rePhone = `(?:\+\d{1,3}[ -]?\d{1,3}|\b0\d{1,3})(?:[ -]?\d{2,4}){2,4}\b`

	// reDate matches ISO dates, Swedish written months with a day number,
	// and weekday + day forms.
	reDate = `\b\d{4}-\d{2}-\d{2}\b` +
		`|\b\d{1,2}(?:\:a|\:e)? (?i:januari|februari|mars|april|maj|juni|juli|augusti|september|oktober|november|december)(?: \d{4})?` +
		`|(?i:måndag|tisdag|onsdag|torsdag|fredag|lördag|söndag)(?:en)? (?:den )?\d{1,2}\b`

	// reAmount matches money: a number (with thousand/decimal separators)
	// followed by a currency word, or a currency symbol followed by a number.
	reAmount = `\b\d+(?:[ .,]\d+)*(?: ?)(?:kr|kronor|SEK|USD|EUR|euro|dollar)\b` +
		`|[$€] ?\d+(?:[.,]\d+)?`

	// reCaseID matches case numbers and record IDs: a short uppercase prefix
	// followed by digit groups with a - or / separator (e.g. "B 1234-20").
	reCaseID = `\b[A-ZÅÄÖ]{1,4} ?\d{1,6}[-/]\d{2,4}\b`

	// reLongNum matches runs of six or more digits.
	reLongNum = `\d{6,}`

	// reShortNum matches remaining short numeric tokens, down to single
	// digits. Paranoid only.
	reShortNum = `\b\d{1,5}\b`
)

// compileRules builds the fixed-priority rule table. Order matters: earlier
// rules claim their spans first, so the personnummer rule wins over the
// phone rule, and the date rule shields ISO dates from the numeric rules.
func compileRules(opts Options) []compiledRule {
	dateAtStrict := actionPreserve
	if opts.DateStrictness {
		dateAtStrict = actionReplace
	}

	return []compiledRule{
		{
			class:   "email",
			token:   tokenEmail,
			pattern: regexp.MustCompile(reEmail),
			actions: allLevels(actionReplace),
		},
		{
			class:   "personnummer",
			token:   tokenPersonnummer,
			pattern: regexp.MustCompile(rePersonnummer),
			actions: allLevels(actionReplace),
		},
		{
			class:   "phone",
			token:   tokenPhone,
			pattern: regexp.MustCompile(rePhone),
			actions: allLevels(actionReplace),
		},
		{
			class:   "date",
			token:   tokenDate,
			pattern: regexp.MustCompile(reDate),
			actions: map[Level]action{
				LevelNormal:   actionPreserve,
				LevelStrict:   dateAtStrict,
				LevelParanoid: actionReplace,
			},
		},
		{
			class:   "amount",
			token:   tokenAmount,
			pattern: regexp.MustCompile(reAmount),
			actions: map[Level]action{
				LevelNormal:   actionPreserve,
				LevelStrict:   actionPreserve,
				LevelParanoid: actionReplace,
			},
		},
		{
			class:   "case_id",
			token:   tokenID,
			pattern: regexp.MustCompile(reCaseID),
			actions: map[Level]action{
				LevelNormal:   actionPreserve,
				LevelStrict:   actionPreserve,
				LevelParanoid: actionReplace,
			},
		},
		{
			class:   "long_number",
			token:   tokenNum,
			pattern: regexp.MustCompile(reLongNum),
			actions: map[Level]action{
				LevelNormal:   actionOff,
				LevelStrict:   actionReplace,
				LevelParanoid: actionReplace,
			},
		},
		{
			class:   "short_number",
			token:   tokenNum,
			pattern: regexp.MustCompile(reShortNum),
			actions: map[Level]action{
				LevelNormal:   actionOff,
				LevelStrict:   actionOff,
				LevelParanoid: actionReplace,
			},
		},
	}
}

func allLevels(a action) map[Level]action {
	return map[Level]action{
		LevelNormal:   a,
		LevelStrict:   a,
		LevelParanoid: a,
	}
}

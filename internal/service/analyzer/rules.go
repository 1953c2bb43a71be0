package analyzer

import (
	"regexp"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
)

// Rule is one violation pattern in a pinned rule set. Patterns are
// compiled once at package load; a rule is a pure function of the corpus.
type Rule struct {
	ID        string
	Name      string
	Severity  analysis.Severity
	Pattern   *regexp.Regexp
	Citations []string

	// Motion recommended when this rule fires.
	MotionName      string
	MotionRationale string
}

// Profile versions pin rule sets. A fingerprint embeds the version, so
// editing a published set would silently poison cached results; new rules
// only ever land in a new version.
const (
	ProfileV1      = "v1"
	ProfileV2      = "v2"
	ProfileV3      = "v3"
	DefaultProfile = ProfileV3
)

var rulesV1 = []Rule{
	{
		ID:       "R-101",
		Name:     "Miranda advisement absent",
		Severity: analysis.SeverityHigh,
		Pattern:  regexp.MustCompile(`(?i)(?:did\s+not|never|failed\s+to)\s+advise[d]?\b[^.]{0,60}?rights`),
		Citations: []string{
			"Miranda v. Arizona, 384 U.S. 436 (1966)",
		},
		MotionName:      "Motion to Suppress Statements",
		MotionRationale: "Statements obtained without a Miranda advisement are inadmissible in the prosecution's case in chief.",
	},
	{
		ID:       "R-102",
		Name:     "Interrogation continued after counsel requested",
		Severity: analysis.SeverityCritical,
		Pattern:  regexp.MustCompile(`(?i)counsel\s+was\s+requested\b[^.]{0,80}?(?:interview|questioning|interrogation)\s+continued`),
		Citations: []string{
			"Edwards v. Arizona, 451 U.S. 477 (1981)",
			"Miranda v. Arizona, 384 U.S. 436 (1966)",
		},
		MotionName:      "Motion to Suppress Statements",
		MotionRationale: "Interrogation must cease once counsel is unambiguously requested; statements taken afterward are suppressible.",
	},
	{
		ID:       "R-103",
		Name:     "Warrantless detention or search",
		Severity: analysis.SeverityHigh,
		Pattern:  regexp.MustCompile(`(?i)(?:detained|searched|seized)\s+without\s+(?:a\s+)?warrant`),
		Citations: []string{
			"U.S. Const. amend. IV",
			"Terry v. Ohio, 392 U.S. 1 (1968)",
		},
		MotionName:      "Motion to Suppress Evidence",
		MotionRationale: "Evidence obtained through a warrantless search or seizure is presumptively unreasonable absent an established exception.",
	},
	{
		ID:       "R-104",
		Name:     "Exculpatory material withheld",
		Severity: analysis.SeverityCritical,
		Pattern:  regexp.MustCompile(`(?i)(?:exculpatory\b[^.]{0,60}?withheld|withheld\s+from\s+discovery)`),
		Citations: []string{
			"Brady v. Maryland, 373 U.S. 83 (1963)",
			"Giglio v. United States, 405 U.S. 150 (1972)",
		},
		MotionName:      "Motion to Compel Discovery",
		MotionRationale: "Suppression of material exculpatory evidence violates due process regardless of prosecutorial intent.",
	},
	{
		ID:       "R-105",
		Name:     "Material omissions in warrant affidavit",
		Severity: analysis.SeverityMedium,
		Pattern:  regexp.MustCompile(`(?i)affidavit\s+omits\s+material\s+facts`),
		Citations: []string{
			"Franks v. Delaware, 438 U.S. 154 (1978)",
		},
		MotionName:      "Motion for Franks Hearing",
		MotionRationale: "Deliberate or reckless omissions of material facts from a warrant affidavit warrant an evidentiary hearing.",
	},
}

var rulesV2 = append(append([]Rule{}, rulesV1...), []Rule{
	{
		ID:       "R-106",
		Name:     "Search incident to arrest exceeded scope",
		Severity: analysis.SeverityMedium,
		Pattern:  regexp.MustCompile(`(?i)searched\s+incident\s+to\s+arrest`),
		Citations: []string{
			"Arizona v. Gant, 556 U.S. 332 (2009)",
			"Chimel v. California, 395 U.S. 752 (1969)",
		},
		MotionName:      "Motion to Suppress Evidence",
		MotionRationale: "A search incident to arrest is limited to the arrestee's person and area of immediate control.",
	},
}...)

var rulesV3 = append(append([]Rule{}, rulesV2...), []Rule{
	{
		ID:       "R-107",
		Name:     "Statement obtained after invocation",
		Severity: analysis.SeverityCritical,
		Pattern:  regexp.MustCompile(`(?i)statement\s+obtained\s+after\s+invocation`),
		Citations: []string{
			"Edwards v. Arizona, 451 U.S. 477 (1981)",
			"Minnick v. Mississippi, 498 U.S. 146 (1990)",
		},
		MotionName:      "Motion to Suppress Statements",
		MotionRationale: "A suspect who has invoked the right to counsel may not be re-approached for interrogation without counsel present.",
	},
	{
		ID:       "R-108",
		Name:     "Prolonged detention without charge",
		Severity: analysis.SeverityHigh,
		Pattern:  regexp.MustCompile(`(?i)(?:held|detained)\s+(?:for\s+)?(?:over|more\s+than)\s+48\s+hours\s+without`),
		Citations: []string{
			"County of Riverside v. McLaughlin, 500 U.S. 44 (1991)",
		},
		MotionName:      "Motion to Dismiss",
		MotionRationale: "Detention beyond 48 hours without a judicial probable cause determination is presumptively unreasonable.",
	},
}...)

var profiles = map[string][]Rule{
	ProfileV1: rulesV1,
	ProfileV2: rulesV2,
	ProfileV3: rulesV3,
}

// RuleSet returns the pinned rules for a profile version.
func RuleSet(version string) ([]Rule, error) {
	rules, ok := profiles[version]
	if !ok {
		return nil, errors.NewMalformedRequestError("unknown analyzer profile version").
			WithDetail("version", version)
	}
	return rules, nil
}

// KnownProfile reports whether a version exists.
func KnownProfile(version string) bool {
	_, ok := profiles[version]
	return ok
}

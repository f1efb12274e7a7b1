package ingestion_engine

import (
	"regexp"
	"strings"
)

const DefaultDocType = "documento"

// Ordered: the first matching rule wins, so the more specific act types
// come before the laws they usually cite.
var docTypeRules = []struct {
	label string
	re    *regexp.Regexp
}{
	{"circolare", regexp.MustCompile(`(?i)\bcircolar[ei]\b`)},
	{"risoluzione", regexp.MustCompile(`(?i)\brisoluzion[ei]\b`)},
	{"interpello", regexp.MustCompile(`(?i)\binterpell[oi]\b|\brispost[ae]\s+(n\.|a\s+interpello)`)},
	{"provvedimento", regexp.MustCompile(`(?i)\bprovvediment[oi]\b`)},
	{"sentenza", regexp.MustCompile(`(?i)\bsentenz[ae]\b|\bordinanz[ae]\b`)},
	{"decreto", regexp.MustCompile(`(?i)\bdecret[oi]\b|\bd\.\s?lgs\b|\bdlgs\b|\bd\.p\.r\b|\bdpr\b|\bd\.m\.`)},
	{"legge", regexp.MustCompile(`(?i)\blegge\b`)},
	{"comunicato", regexp.MustCompile(`(?i)\bcomunicat[oi]\b`)},
	{"guida", regexp.MustCompile(`(?i)\bguid[ae]\b`)},
}

// InferDocType labels a document from its title.
func InferDocType(title string) string {
	for _, r := range docTypeRules {
		if r.re.MatchString(title) {
			return r.label
		}
	}
	return DefaultDocType
}

// ResolveDocType prefers the label declared by the feed.
func ResolveDocType(declared, title string) string {
	if d := strings.ToLower(strings.TrimSpace(declared)); d != "" {
		return d
	}
	return InferDocType(title)
}

package cmd

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/kobo"
)

// namingScheme selects how destination file names are built for a form. The
// scheme is classified once from the form's first submission and applied to
// every attachment of that form, so names stay comparable across runs.
type namingScheme string

const (
	schemeCustom   namingScheme = "custom"
	schemeFallback namingScheme = "fallback"
)

// resolvedName is a fully determined destination name. Ext is normalized
// (lowercase, no dot) for index matching; the Name field keeps the source
// extension's original casing.
type resolvedName struct {
	Name       string
	Row        int
	Ext        string
	ExtUnknown bool
}

// dateFormats are tried in order; US month-first wins over day-first for
// ambiguous slash dates, matching the export convention.
var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
}

var embeddedDatePattern = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)

// formatDate normalizes a raw column value to YYYY-MM-DD, or "" when no
// calendar date can be recovered.
func formatDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	if m := embeddedDatePattern.FindStringSubmatch(raw); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])
	}
	return ""
}

// cleanToken makes a column value safe for use inside a file name: spaces
// and slashes become underscores, everything outside [A-Za-z0-9_-] is
// dropped.
func cleanToken(text string) string {
	text = strings.NewReplacer(" ", "_", "/", "_", `\`, "_").Replace(text)
	var b strings.Builder
	for _, r := range text {
		if r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var unsafeFileChars = regexp.MustCompile(`[^\w.-]`)

// sanitizeFileToken cleans a source-provided file name for destination use,
// capping the length while preserving the extension.
func sanitizeFileToken(filename string) string {
	safe := unsafeFileChars.ReplaceAllString(filename, "_")
	if len(safe) > 100 {
		ext := extOf(safe)
		base := safe[:len(safe)-len(ext)]
		if len(base) > 95 {
			base = base[:95]
		}
		safe = base + ext
	}
	return safe
}

var (
	unsafeFolderChars = regexp.MustCompile(`[^\w\s-]`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
	unsafeColumnChars = regexp.MustCompile(`[^\w-]`)
)

// sanitizeFolder cleans a form name for use as a destination folder name.
func sanitizeFolder(name string) string {
	safe := unsafeFolderChars.ReplaceAllString(name, "_")
	safe = strings.TrimSpace(whitespaceRun.ReplaceAllString(safe, " "))
	if safe == "" {
		return "unnamed_form"
	}
	return safe
}

// columnFolder cleans a question column name for use as a subfolder,
// truncated to keep destination paths short.
func columnFolder(column string) string {
	safe := unsafeColumnChars.ReplaceAllString(column, "_")
	if len(safe) > 50 {
		safe = safe[:50]
	}
	if strings.Trim(safe, "_") == "" {
		return "other_columns"
	}
	return safe
}

var (
	hex32Pattern    = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)
	hyphenedUUIDPat = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// stripUUIDSegments removes internal storage UUIDs from a source file name so
// fallback names stay stable when the platform re-keys its media store.
func stripUUIDSegments(base string) string {
	parts := strings.Split(base, "_")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" || hex32Pattern.MatchString(p) || hyphenedUUIDPat.MatchString(p) {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return "file"
	}
	return strings.Join(kept, "_")
}

// extOf returns the extension including the dot, or "".
func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 && i < len(name)-1 {
		ext := name[i:]
		if !strings.ContainsAny(ext[1:], "._-") {
			return ext
		}
	}
	return ""
}

// contentTypeExts maps declared media types to an extension when the source
// file name carries none.
var contentTypeExts = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"application/pdf": "pdf",
	"video/mp4":       "mp4",
	"audio/mpeg":      "mp3",
	"audio/mp4":       "m4a",
	"video/3gpp":      "3gp",
}

// classifyScheme decides the form's naming scheme from its first submission:
// custom only when the date column yields a calendar date and the type column
// survives cleaning.
func classifyScheme(sub kobo.Submission, dateColumn, typeColumn string) namingScheme {
	if formatDate(sub.Values[dateColumn]) != "" && cleanToken(sub.Values[typeColumn]) != "" {
		return schemeCustom
	}
	return schemeFallback
}

// resolveName computes the destination file name for one attachment. It is a
// pure function of its inputs: equal inputs always produce equal names.
// attIndex is the attachment's 0-based position among its submission
// siblings; siblings is the sibling count.
func resolveName(scheme namingScheme, sub kobo.Submission, att kobo.Attachment, attIndex, siblings int, dateColumn, typeColumn string) resolvedName {
	safe := sanitizeFileToken(att.Filename)
	ext := extOf(safe)

	unknown := false
	if ext == "" {
		if mapped, ok := contentTypeExts[strings.ToLower(strings.TrimSpace(att.ContentType))]; ok {
			ext = "." + mapped
		} else {
			unknown = true
		}
	}

	var name string
	switch scheme {
	case schemeCustom:
		date := formatDate(sub.Values[dateColumn])
		if date == "" {
			date = "undated"
		}
		typ := cleanToken(sub.Values[typeColumn])
		if typ == "" {
			typ = "uncategorized"
		}
		name = fmt.Sprintf("%s_%s_%d", date, typ, sub.Row)
		if siblings > 1 {
			name = fmt.Sprintf("%s-%d", name, attIndex+1)
		}
		name += ext
	default:
		base := stripUUIDSegments(strings.TrimSuffix(safe, ext))
		name = fmt.Sprintf("row%d_%s%s", sub.Row, base, ext)
	}

	return resolvedName{
		Name:       name,
		Row:        sub.Row,
		Ext:        strings.ToLower(strings.TrimPrefix(ext, ".")),
		ExtUnknown: unknown,
	}
}

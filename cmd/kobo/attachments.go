package kobo

import (
	"encoding/json"
	"path"
	"regexp"
	"strings"
)

// mediaIndicators are the hints that a column value references media at all;
// columns without one are plain answers and are skipped.
var mediaIndicators = []string{"http", "attachment", ".jpg", ".jpeg", ".png", ".gif", ".pdf", ".mp4"}

var urlPattern = regexp.MustCompile(`https?://[^\s,'"}\]]+(?:\.[^\s,'"}\]]+)+`)

var mediaExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".pdf", ".mp4"}

// attachmentsFromValues recovers attachment references from CSV-shaped
// submissions where column values carry embedded attachment JSON or bare
// URLs instead of a structured attachment array.
func attachmentsFromValues(values map[string]string) []Attachment {
	var atts []Attachment
	for col, val := range values {
		if !looksLikeMedia(val) {
			continue
		}
		for _, att := range parseAttachmentValue(val) {
			att.Column = col
			atts = append(atts, att)
		}
	}
	return atts
}

func looksLikeMedia(val string) bool {
	if val == "" {
		return false
	}
	lower := strings.ToLower(val)
	for _, ind := range mediaIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// parseAttachmentValue parses one column value into attachment references.
// Export formats are inconsistent: the value may be a JSON array, a single
// JSON object, a quoted or single-quoted variant of either, or free text
// containing raw URLs. Each shape is tried in turn.
func parseAttachmentValue(val string) []Attachment {
	cleaned := strings.TrimSpace(val)

	if strings.Contains(cleaned, "[") || strings.Contains(cleaned, "{") {
		if atts := parseAttachmentJSON(cleaned); len(atts) > 0 {
			return atts
		}
	}

	return extractURLAttachments(cleaned)
}

func parseAttachmentJSON(val string) []Attachment {
	// Unwrap quoting layers added by CSV round-trips.
	if strings.HasPrefix(val, `"[`) && strings.HasSuffix(val, `]"`) {
		val = val[1 : len(val)-1]
	} else if strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) {
		val = val[1 : len(val)-1]
	}
	val = strings.ReplaceAll(val, `\"`, `"`)
	val = strings.ReplaceAll(val, `\/`, `/`)

	raws, ok := decodeAttachmentList(val)
	if !ok {
		// Python-style exports use single quotes.
		raws, ok = decodeAttachmentList(strings.ReplaceAll(val, "'", `"`))
		if !ok {
			return nil
		}
	}

	var atts []Attachment
	for _, ra := range raws {
		att := Attachment{
			ID:                ra.ID.String(),
			Filename:          path.Base(ra.Filename),
			ContentType:       ra.MimeType,
			Size:              ra.FileSize,
			DownloadURL:       ra.DownloadURL,
			DownloadLargeURL:  ra.DownloadLargeURL,
			DownloadMediumURL: ra.DownloadMediumURL,
		}
		if att.Filename == "." && att.BestURL() != "" {
			att.Filename = filenameFromURL(att.BestURL())
		}
		if att.BestURL() != "" || att.Filename != "." {
			atts = append(atts, att)
		}
	}
	return atts
}

func decodeAttachmentList(val string) ([]rawAttachment, bool) {
	var list []rawAttachment
	if err := json.Unmarshal([]byte(val), &list); err == nil {
		return list, true
	}
	var single rawAttachment
	if err := json.Unmarshal([]byte(val), &single); err == nil {
		return []rawAttachment{single}, true
	}
	return nil, false
}

// extractURLAttachments is the last resort: pull bare media URLs out of the
// text with a regex.
func extractURLAttachments(val string) []Attachment {
	var atts []Attachment
	for _, u := range urlPattern.FindAllString(val, -1) {
		u = strings.TrimRight(u, `\'"`)
		if !hasMediaExtension(u) {
			continue
		}
		atts = append(atts, Attachment{
			DownloadURL: u,
			Filename:    filenameFromURL(u),
		})
	}
	return atts
}

func hasMediaExtension(u string) bool {
	lower := strings.ToLower(u)
	for _, ext := range mediaExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

func filenameFromURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	name := path.Base(u)
	if name == "." || name == "/" {
		return "media_file"
	}
	return name
}

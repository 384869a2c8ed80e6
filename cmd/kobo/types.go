package kobo

// Form is a survey template on the Kobo platform.
type Form struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	DateCreated string `json:"date_created"`
	Submissions int    `json:"deployment__submission_count"`
}

// Submission is one filled-in response instance of a form. Row is the
// 1-based position within the form's submission list and is assigned by the
// client after pagination completes, so it is stable for a given export.
type Submission struct {
	ID          string
	Row         int
	Values      map[string]string
	Attachments []Attachment
}

// Attachment identifies one media file referenced by a submission column.
type Attachment struct {
	ID          string
	Column      string
	Filename    string // source-provided base name, may embed internal UUIDs
	ContentType string
	Size        int64

	// Download URL candidates in server-preference order. Any of these may
	// be empty; resolution falls back from large to medium and finally to a
	// reconstructed API URL.
	DownloadLargeURL  string
	DownloadURL       string
	DownloadMediumURL string
}

// BestURL returns the preferred direct download URL, or "" when the
// attachment carries none.
func (a Attachment) BestURL() string {
	for _, u := range []string{a.DownloadLargeURL, a.DownloadURL, a.DownloadMediumURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

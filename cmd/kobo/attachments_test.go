package kobo

import "testing"

func TestParseAttachmentValue(t *testing.T) {
	t.Run("PlainJSONArray", func(t *testing.T) {
		atts := parseAttachmentValue(`[{"download_url": "https://kc.example.org/a.jpg", "filename": "a.jpg"}]`)
		if len(atts) != 1 {
			t.Fatalf("expected 1 attachment, got %d", len(atts))
		}
		if atts[0].Filename != "a.jpg" {
			t.Fatalf("unexpected filename: %s", atts[0].Filename)
		}
	})

	t.Run("QuotedArrayWithEscapes", func(t *testing.T) {
		// CSV round-trips wrap the array in quotes and escape the inner ones.
		val := `"[{\"download_url\": \"https:\/\/kc.example.org\/b.jpg\", \"filename\": \"b.jpg\"}]"`
		atts := parseAttachmentValue(val)
		if len(atts) != 1 {
			t.Fatalf("expected 1 attachment, got %d", len(atts))
		}
		if atts[0].DownloadURL != "https://kc.example.org/b.jpg" {
			t.Fatalf("escaped slashes not unwrapped: %s", atts[0].DownloadURL)
		}
	})

	t.Run("SingleQuotedObject", func(t *testing.T) {
		atts := parseAttachmentValue(`{'download_url': 'https://kc.example.org/c.pdf', 'filename': 'c.pdf'}`)
		if len(atts) != 1 {
			t.Fatalf("expected 1 attachment, got %d", len(atts))
		}
		if atts[0].Filename != "c.pdf" {
			t.Fatalf("unexpected filename: %s", atts[0].Filename)
		}
	})

	t.Run("BareURLExtraction", func(t *testing.T) {
		atts := parseAttachmentValue(`see https://kc.example.org/media/d.png and https://example.org/page`)
		if len(atts) != 1 {
			t.Fatalf("only the media URL should be extracted, got %d", len(atts))
		}
		if atts[0].Filename != "d.png" {
			t.Fatalf("unexpected filename: %s", atts[0].Filename)
		}
	})

	t.Run("URLWithQueryString", func(t *testing.T) {
		atts := parseAttachmentValue(`https://kc.example.org/media/e.jpg?format=large`)
		if len(atts) != 1 {
			t.Fatalf("expected 1 attachment, got %d", len(atts))
		}
		if atts[0].Filename != "e.jpg" {
			t.Fatalf("query string should be stripped from the name: %s", atts[0].Filename)
		}
	})
}

func TestAttachmentsFromValues(t *testing.T) {
	values := map[string]string{
		"respondent":    "Amani",
		"receipt_photo": `https://kc.example.org/media/photo.jpg`,
		"notes":         "paid in cash",
	}

	atts := attachmentsFromValues(values)
	if len(atts) != 1 {
		t.Fatalf("expected 1 attachment from media column, got %d", len(atts))
	}
	if atts[0].Column != "receipt_photo" {
		t.Fatalf("attachment should carry its column, got %q", atts[0].Column)
	}
}

func TestBestURL(t *testing.T) {
	t.Run("PreferenceOrder", func(t *testing.T) {
		att := Attachment{
			DownloadLargeURL:  "large",
			DownloadURL:       "default",
			DownloadMediumURL: "medium",
		}
		if got := att.BestURL(); got != "large" {
			t.Fatalf("expected large URL preferred, got %s", got)
		}

		att.DownloadLargeURL = ""
		if got := att.BestURL(); got != "default" {
			t.Fatalf("expected default URL next, got %s", got)
		}

		att.DownloadURL = ""
		if got := att.BestURL(); got != "medium" {
			t.Fatalf("expected medium URL last, got %s", got)
		}
	})

	t.Run("EmptyWhenNone", func(t *testing.T) {
		if got := (Attachment{}).BestURL(); got != "" {
			t.Fatalf("expected empty URL, got %s", got)
		}
	})
}

package cmd

import (
	"strings"
	"testing"

	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/kobo"
)

func TestFormatDate(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"ISO", "2025-06-26", "2025-06-26"},
		{"USSlash", "06/26/2025", "2025-06-26"},
		{"DaySlash", "26/06/2025", "2025-06-26"},
		{"WithTime", "2025-06-26 10:30:00", "2025-06-26"},
		{"ISOWithT", "2025-06-26T10:30:00", "2025-06-26"},
		{"EmbeddedDate", "submitted on 2025-06-26 by enumerator", "2025-06-26"},
		{"Whitespace", "  2025-06-26  ", "2025-06-26"},
		{"Empty", "", ""},
		{"Garbage", "not a date", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := formatDate(tc.input)
			if got != tc.want {
				t.Fatalf("formatDate(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestCleanToken(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"fuel loading", "fuel_loading"},
		{"Fuel/Loading", "Fuel_Loading"},
		{"receipt (copy)", "receipt_copy"},
		{"", ""},
		{"!!!", ""},
	}

	for _, tc := range cases {
		got := cleanToken(tc.input)
		if got != tc.want {
			t.Fatalf("cleanToken(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestClassifyScheme(t *testing.T) {
	t.Run("CustomWhenBothPresent", func(t *testing.T) {
		sub := kobo.Submission{Row: 1, Values: map[string]string{
			"Date":         "2025-01-15",
			"Receipt_Type": "fuel loading",
		}}
		if got := classifyScheme(sub, "Date", "Receipt_Type"); got != schemeCustom {
			t.Fatalf("expected custom scheme, got %s", got)
		}
	})

	t.Run("FallbackWhenDateMissing", func(t *testing.T) {
		sub := kobo.Submission{Row: 1, Values: map[string]string{
			"Receipt_Type": "fuel loading",
		}}
		if got := classifyScheme(sub, "Date", "Receipt_Type"); got != schemeFallback {
			t.Fatalf("expected fallback scheme, got %s", got)
		}
	})

	t.Run("FallbackWhenDateUnparseable", func(t *testing.T) {
		sub := kobo.Submission{Row: 1, Values: map[string]string{
			"Date":         "sometime last week",
			"Receipt_Type": "fuel",
		}}
		if got := classifyScheme(sub, "Date", "Receipt_Type"); got != schemeFallback {
			t.Fatalf("expected fallback scheme, got %s", got)
		}
	})

	t.Run("FallbackWhenTypeCleansToEmpty", func(t *testing.T) {
		sub := kobo.Submission{Row: 1, Values: map[string]string{
			"Date":         "2025-01-15",
			"Receipt_Type": "???",
		}}
		if got := classifyScheme(sub, "Date", "Receipt_Type"); got != schemeFallback {
			t.Fatalf("expected fallback scheme, got %s", got)
		}
	})
}

func TestResolveNameCustomScheme(t *testing.T) {
	sub := kobo.Submission{Row: 1, Values: map[string]string{
		"Date":         "2025-01-15",
		"Receipt_Type": "fuel loading",
	}}
	att := kobo.Attachment{Filename: "IMG_20250115_093012.jpg"}

	got := resolveName(schemeCustom, sub, att, 0, 1, "Date", "Receipt_Type")
	if got.Name != "2025-01-15_fuel_loading_1.jpg" {
		t.Fatalf("unexpected name: %s", got.Name)
	}
	if got.Row != 1 || got.Ext != "jpg" || got.ExtUnknown {
		t.Fatalf("unexpected resolved fields: %+v", got)
	}
}

func TestResolveNameCustomSiblings(t *testing.T) {
	sub := kobo.Submission{Row: 4, Values: map[string]string{
		"Date":         "2025-01-15",
		"Receipt_Type": "fuel",
	}}
	att := kobo.Attachment{Filename: "a.jpg"}

	first := resolveName(schemeCustom, sub, att, 0, 2, "Date", "Receipt_Type")
	second := resolveName(schemeCustom, sub, att, 1, 2, "Date", "Receipt_Type")

	if first.Name != "2025-01-15_fuel_4-1.jpg" {
		t.Fatalf("unexpected first sibling name: %s", first.Name)
	}
	if second.Name != "2025-01-15_fuel_4-2.jpg" {
		t.Fatalf("unexpected second sibling name: %s", second.Name)
	}
}

func TestResolveNameCustomPlaceholders(t *testing.T) {
	// Scheme stability: a custom-scheme form keeps producing custom names
	// even for rows missing date or type values.
	sub := kobo.Submission{Row: 7, Values: map[string]string{}}
	att := kobo.Attachment{Filename: "photo.png"}

	got := resolveName(schemeCustom, sub, att, 0, 1, "Date", "Receipt_Type")
	if got.Name != "undated_uncategorized_7.png" {
		t.Fatalf("unexpected name: %s", got.Name)
	}
}

func TestResolveNameFallbackStripsUUIDs(t *testing.T) {
	sub := kobo.Submission{Row: 2, Values: map[string]string{}}
	att := kobo.Attachment{Filename: "0a1b2c3d4e5f60718293a4b5c6d7e8f9_photo.JPEG"}

	got := resolveName(schemeFallback, sub, att, 0, 1, "Date", "Receipt_Type")
	if got.Name != "row2_photo.JPEG" {
		t.Fatalf("unexpected fallback name: %s", got.Name)
	}
	if got.Ext != "jpeg" {
		t.Fatalf("extension should be normalized lowercase, got %q", got.Ext)
	}
}

func TestResolveNameFallbackHyphenatedUUID(t *testing.T) {
	sub := kobo.Submission{Row: 11, Values: map[string]string{}}
	att := kobo.Attachment{Filename: "123e4567-e89b-12d3-a456-426614174000_receipt_scan.pdf"}

	got := resolveName(schemeFallback, sub, att, 0, 1, "Date", "Receipt_Type")
	if got.Name != "row11_receipt_scan.pdf" {
		t.Fatalf("unexpected fallback name: %s", got.Name)
	}
}

func TestResolveNameExtensionFromContentType(t *testing.T) {
	sub := kobo.Submission{Row: 3, Values: map[string]string{}}
	att := kobo.Attachment{Filename: "attachment", ContentType: "image/jpeg"}

	got := resolveName(schemeFallback, sub, att, 0, 1, "Date", "Receipt_Type")
	if !strings.HasSuffix(got.Name, ".jpg") {
		t.Fatalf("expected .jpg from content type, got %s", got.Name)
	}
	if got.ExtUnknown {
		t.Fatal("extension resolved from content type should not be flagged unknown")
	}
}

func TestResolveNameUnknownExtension(t *testing.T) {
	sub := kobo.Submission{Row: 3, Values: map[string]string{}}
	att := kobo.Attachment{Filename: "attachment", ContentType: "application/x-mystery"}

	got := resolveName(schemeFallback, sub, att, 0, 1, "Date", "Receipt_Type")
	if !got.ExtUnknown {
		t.Fatal("unmapped content type should flag the extension unknown")
	}
	if got.Ext != "" {
		t.Fatalf("unknown extension should be empty, got %q", got.Ext)
	}
}

func TestResolveNameDeterministic(t *testing.T) {
	sub := kobo.Submission{Row: 9, Values: map[string]string{
		"Date":         "06/26/2025",
		"Receipt_Type": "biochar delivery",
	}}
	att := kobo.Attachment{Filename: "scan 001.jpg"}

	first := resolveName(schemeCustom, sub, att, 0, 1, "Date", "Receipt_Type")
	second := resolveName(schemeCustom, sub, att, 0, 1, "Date", "Receipt_Type")
	if first != second {
		t.Fatalf("resolver not deterministic: %+v vs %+v", first, second)
	}
}

func TestSanitizeFolder(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"Fuel Receipts 2025", "Fuel Receipts 2025"},
		{"Survey: Phase #2", "Survey_ Phase _2"},
		{"  spaced   out  ", "spaced out"},
		{"///", "___"},
	}

	for _, tc := range cases {
		got := sanitizeFolder(tc.input)
		if got != tc.want {
			t.Fatalf("sanitizeFolder(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestColumnFolder(t *testing.T) {
	t.Run("Truncates", func(t *testing.T) {
		long := strings.Repeat("a", 80)
		if got := columnFolder(long); len(got) != 50 {
			t.Fatalf("expected 50-char folder, got %d chars", len(got))
		}
	})

	t.Run("EmptyFallsBack", func(t *testing.T) {
		if got := columnFolder(""); got != "other_columns" {
			t.Fatalf("expected other_columns, got %q", got)
		}
	})

	t.Run("ReplacesUnsafe", func(t *testing.T) {
		if got := columnFolder("photo/of receipt"); got != "photo_of_receipt" {
			t.Fatalf("unexpected column folder: %q", got)
		}
	})
}

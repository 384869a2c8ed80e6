package cmd

import "testing"

func TestDecide(t *testing.T) {
	t.Run("TransferWhenNew", func(t *testing.T) {
		ix := newFileIndex()
		seen := newSeenSet()
		r := resolvedName{Name: "row1_photo.jpg", Row: 1, Ext: "jpg"}

		if got := decide(r, ix, seen); got != DecisionTransfer {
			t.Fatalf("expected transfer, got %s", got)
		}
	})

	t.Run("SkipWhenInIndex", func(t *testing.T) {
		ix := newFileIndex()
		ix.Add("row1_photo.jpg")
		seen := newSeenSet()
		r := resolvedName{Name: "row1_photo.jpg", Row: 1, Ext: "jpg"}

		if got := decide(r, ix, seen); got != DecisionSkipExisting {
			t.Fatalf("expected skip_existing, got %s", got)
		}
	})

	t.Run("NoDuplicateTransferWithinRun", func(t *testing.T) {
		ix := newFileIndex()
		seen := newSeenSet()
		r := resolvedName{Name: "row1_photo.jpg", Row: 1, Ext: "jpg"}

		if got := decide(r, ix, seen); got != DecisionTransfer {
			t.Fatalf("first decision should transfer, got %s", got)
		}
		if got := decide(r, ix, seen); got != DecisionSkipDuplicateInRun {
			t.Fatalf("second decision should skip duplicate, got %s", got)
		}
	})

	t.Run("SeenMarkedBeforeUpload", func(t *testing.T) {
		// The seen set is marked by decide itself, so a duplicate is caught
		// even if the first upload has not finished (or has failed).
		ix := newFileIndex()
		seen := newSeenSet()
		r := resolvedName{Name: "row1_photo.jpg", Row: 1, Ext: "jpg"}

		_ = decide(r, ix, seen)
		if !seen.contains(r) {
			t.Fatal("seen set should be marked at decision time")
		}
	})

	t.Run("RowExtDuplicateWithinRun", func(t *testing.T) {
		ix := newFileIndex()
		seen := newSeenSet()
		first := resolvedName{Name: "2025-01-15_fuel_3.jpg", Row: 3, Ext: "jpg"}
		second := resolvedName{Name: "2025-01-16_fuel_3.jpg", Row: 3, Ext: "jpg"}

		if got := decide(first, ix, seen); got != DecisionTransfer {
			t.Fatalf("first decision should transfer, got %s", got)
		}
		if got := decide(second, ix, seen); got != DecisionSkipDuplicateInRun {
			t.Fatalf("same row+ext should skip within the run, got %s", got)
		}
	})
}

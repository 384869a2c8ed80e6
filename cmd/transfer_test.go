package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/kobo"
	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/sharepoint"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource is an in-memory sourceAPI. files maps download URLs to content.
type fakeSource struct {
	forms   []kobo.Form
	subs    map[string][]kobo.Submission
	subsErr map[string]error
	files   map[string][]byte
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		subs:    make(map[string][]kobo.Submission),
		subsErr: make(map[string]error),
		files:   make(map[string][]byte),
	}
}

func (s *fakeSource) ListForms(_ context.Context) ([]kobo.Form, error) {
	return s.forms, nil
}

func (s *fakeSource) ListSubmissions(_ context.Context, formUID string) ([]kobo.Submission, error) {
	if err := s.subsErr[formUID]; err != nil {
		return nil, err
	}
	return s.subs[formUID], nil
}

func (s *fakeSource) Open(_ context.Context, url string) (io.ReadCloser, int64, error) {
	content, ok := s.files[url]
	if !ok {
		return nil, 0, fmt.Errorf("not found: %s", url)
	}
	return io.NopCloser(bytes.NewReader(content)), int64(len(content)), nil
}

func (s *fakeSource) AttachmentURL(formUID, submissionID, attachmentID string) string {
	return fmt.Sprintf("https://source.test/%s/%s/%s", formUID, submissionID, attachmentID)
}

func TestTransferExecutor(t *testing.T) {
	t.Run("PrefersLargeURL", func(t *testing.T) {
		source := newFakeSource()
		source.files["https://source.test/large"] = []byte("large-bytes")
		source.files["https://source.test/default"] = []byte("default")
		drive := newFakeDrive()
		e := &transferExecutor{source: source, drive: drive, logger: newTestLogger()}

		att := kobo.Attachment{
			Filename:         "photo.jpg",
			DownloadLargeURL: "https://source.test/large",
			DownloadURL:      "https://source.test/default",
		}
		res := e.transfer(context.Background(), "aF1", kobo.Submission{ID: "10", Row: 1}, att, "folder", "row1_photo.jpg")

		if res.Outcome != OutcomeTransferred {
			t.Fatalf("expected transferred, got %s (%v)", res.Outcome, res.Err)
		}
		if res.Bytes != int64(len("large-bytes")) {
			t.Fatalf("expected large variant bytes, got %d", res.Bytes)
		}
	})

	t.Run("FallsBackThroughURLChain", func(t *testing.T) {
		source := newFakeSource()
		// Only the reconstructed API URL resolves.
		source.files["https://source.test/aF1/10/77"] = []byte("content")
		drive := newFakeDrive()
		e := &transferExecutor{source: source, drive: drive, logger: newTestLogger()}

		att := kobo.Attachment{
			ID:               "77",
			Filename:         "photo.jpg",
			DownloadLargeURL: "https://source.test/dead-large",
			DownloadURL:      "https://source.test/dead-default",
		}
		res := e.transfer(context.Background(), "aF1", kobo.Submission{ID: "10", Row: 1}, att, "folder", "row1_photo.jpg")

		if res.Outcome != OutcomeTransferred {
			t.Fatalf("expected transferred via reconstructed URL, got %s (%v)", res.Outcome, res.Err)
		}
	})

	t.Run("SourceUnreachableWhenAllFail", func(t *testing.T) {
		source := newFakeSource()
		drive := newFakeDrive()
		e := &transferExecutor{source: source, drive: drive, logger: newTestLogger()}

		att := kobo.Attachment{Filename: "photo.jpg", DownloadURL: "https://source.test/dead"}
		res := e.transfer(context.Background(), "aF1", kobo.Submission{Row: 1}, att, "folder", "row1_photo.jpg")

		if res.Outcome != OutcomeSourceUnreachable {
			t.Fatalf("expected source_unreachable, got %s", res.Outcome)
		}
		if res.Err == nil {
			t.Fatal("source_unreachable should carry an error")
		}
	})

	t.Run("NoURLNoIDs", func(t *testing.T) {
		source := newFakeSource()
		drive := newFakeDrive()
		e := &transferExecutor{source: source, drive: drive, logger: newTestLogger()}

		att := kobo.Attachment{Filename: "photo.jpg"}
		res := e.transfer(context.Background(), "aF1", kobo.Submission{Row: 1}, att, "folder", "row1_photo.jpg")

		if res.Outcome != OutcomeSourceUnreachable {
			t.Fatalf("expected source_unreachable, got %s", res.Outcome)
		}
		if len(drive.uploads) != 0 {
			t.Fatal("nothing should have been uploaded")
		}
	})

	t.Run("ConflictIsSuccessEquivalent", func(t *testing.T) {
		source := newFakeSource()
		source.files["https://source.test/f"] = []byte("content")
		drive := newFakeDrive()
		drive.uploadErr = fmt.Errorf("%w: folder/row1_photo.jpg", sharepoint.ErrNameConflict)
		e := &transferExecutor{source: source, drive: drive, logger: newTestLogger()}

		att := kobo.Attachment{Filename: "photo.jpg", DownloadURL: "https://source.test/f"}
		res := e.transfer(context.Background(), "aF1", kobo.Submission{Row: 1}, att, "folder", "row1_photo.jpg")

		if res.Outcome != OutcomeSkipExistingRace {
			t.Fatalf("expected skip_existing_race, got %s", res.Outcome)
		}
		if res.Err != nil {
			t.Fatalf("race outcome should not carry an error: %v", res.Err)
		}
	})

	t.Run("UploadFailureNotRetried", func(t *testing.T) {
		source := newFakeSource()
		source.files["https://source.test/f"] = []byte("content")
		drive := newFakeDrive()
		drive.uploadErr = errors.New("503 service unavailable")
		e := &transferExecutor{source: source, drive: drive, logger: newTestLogger()}

		att := kobo.Attachment{Filename: "photo.jpg", DownloadURL: "https://source.test/f"}
		res := e.transfer(context.Background(), "aF1", kobo.Submission{Row: 1}, att, "folder", "row1_photo.jpg")

		if res.Outcome != OutcomeUploadFailed {
			t.Fatalf("expected upload_failed, got %s", res.Outcome)
		}
		if len(drive.uploads) != 0 {
			t.Fatal("failed upload must not be retried within the run")
		}
	})

	t.Run("DryRunTouchesNothing", func(t *testing.T) {
		source := newFakeSource()
		source.files["https://source.test/f"] = []byte("content")
		drive := newFakeDrive()
		e := &transferExecutor{source: source, drive: drive, dryRun: true, logger: newTestLogger()}

		att := kobo.Attachment{Filename: "photo.jpg", DownloadURL: "https://source.test/f"}
		res := e.transfer(context.Background(), "aF1", kobo.Submission{Row: 1}, att, "folder", "row1_photo.jpg")

		if res.Outcome != OutcomeTransferred {
			t.Fatalf("dry run should report transferred, got %s", res.Outcome)
		}
		if len(drive.uploads) != 0 {
			t.Fatal("dry run must not upload")
		}
	})
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/kobo"
	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/sharepoint"
)

// Outcome classifies what happened to one attachment.
type Outcome string

const (
	OutcomeTransferred       Outcome = "transferred"
	OutcomeSkipExisting      Outcome = "skip_existing"
	OutcomeSkipDuplicateRun  Outcome = "skip_duplicate_in_run"
	OutcomeSkipExistingRace  Outcome = "skip_existing_race"
	OutcomeSourceUnreachable Outcome = "source_unreachable"
	OutcomeUploadFailed      Outcome = "upload_failed"
)

// transferResult is the record of one executor call. Err is set only for the
// failure outcomes; a name-conflict race is success-equivalent and carries no
// error.
type transferResult struct {
	Outcome Outcome
	Name    string
	Bytes   int64
	Err     error
}

// transferExecutor streams one attachment from the source into the
// destination without persisting it locally.
type transferExecutor struct {
	source sourceAPI
	drive  driveAPI
	dryRun bool
	logger *slog.Logger
}

// urlCandidates returns the download URLs to try, in preference order,
// ending with a URL reconstructed from identifiers when the attachment
// record carries the IDs for it.
func (e *transferExecutor) urlCandidates(formUID string, sub kobo.Submission, att kobo.Attachment) []string {
	var urls []string
	for _, u := range []string{att.DownloadLargeURL, att.DownloadURL, att.DownloadMediumURL} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	if sub.ID != "" && att.ID != "" {
		urls = append(urls, e.source.AttachmentURL(formUID, sub.ID, att.ID))
	}
	return urls
}

// transfer streams the attachment to destFolder/name. Failed uploads are not
// retried within the run; the next run's destination index decides afresh.
func (e *transferExecutor) transfer(ctx context.Context, formUID string, sub kobo.Submission, att kobo.Attachment, destFolder, name string) transferResult {
	urls := e.urlCandidates(formUID, sub, att)
	if len(urls) == 0 {
		return transferResult{
			Outcome: OutcomeSourceUnreachable,
			Name:    name,
			Err:     fmt.Errorf("attachment %s has no download URL and no identifiers", att.Filename),
		}
	}

	if e.dryRun {
		e.logger.Info("dry-run: would transfer", "file", name, "folder", destFolder)
		return transferResult{Outcome: OutcomeTransferred, Name: name}
	}

	var body io.ReadCloser
	var length int64
	var openErr error
	for _, u := range urls {
		body, length, openErr = e.source.Open(ctx, u)
		if openErr == nil {
			break
		}
		e.logger.Debug("download candidate failed", "file", name, "error", openErr)
	}
	if openErr != nil {
		return transferResult{
			Outcome: OutcomeSourceUnreachable,
			Name:    name,
			Err:     fmt.Errorf("all download URLs failed for %s: %w", att.Filename, openErr),
		}
	}
	defer body.Close()

	result, err := e.drive.Upload(ctx, destFolder+"/"+name, body, length)
	if err != nil {
		if errors.Is(err, sharepoint.ErrNameConflict) {
			// Something else created the file between indexing and finalize.
			// The byte content is already there, which is all a skip means.
			return transferResult{Outcome: OutcomeSkipExistingRace, Name: name}
		}
		return transferResult{Outcome: OutcomeUploadFailed, Name: name, Err: err}
	}

	bytes := result.Size
	if bytes == 0 && length > 0 {
		bytes = length
	}
	return transferResult{Outcome: OutcomeTransferred, Name: name, Bytes: bytes}
}

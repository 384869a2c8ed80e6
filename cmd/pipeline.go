package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/kobo"
	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/sharepoint"
)

// sourceAPI is the read side of the pipeline, satisfied by kobo.Client.
type sourceAPI interface {
	ListForms(ctx context.Context) ([]kobo.Form, error)
	ListSubmissions(ctx context.Context, formUID string) ([]kobo.Submission, error)
	Open(ctx context.Context, url string) (io.ReadCloser, int64, error)
	AttachmentURL(formUID, submissionID, attachmentID string) string
}

// driveAPI is the write side of the pipeline, satisfied by sharepoint.Client.
type driveAPI interface {
	ListChildren(ctx context.Context, path string) ([]sharepoint.DriveItem, error)
	EnsureFolder(ctx context.Context, path string) error
	Upload(ctx context.Context, path string, body io.Reader, size int64) (sharepoint.UploadResult, error)
}

// RunStats are the counters of one form (and, summed, of the whole run).
// Found counts every attachment considered; every attachment lands in
// exactly one of the other outcome counters.
type RunStats struct {
	Found             int
	Transferred       int
	SkippedExisting   int
	SkippedDuplicate  int
	SkippedRace       int
	SourceUnreachable int
	UploadFailed      int
	Bytes             int64
	ExtUnknown        int
}

func (s *RunStats) addOutcome(r transferResult) {
	switch r.Outcome {
	case OutcomeTransferred:
		s.Transferred++
		s.Bytes += r.Bytes
	case OutcomeSkipExisting:
		s.SkippedExisting++
	case OutcomeSkipDuplicateRun:
		s.SkippedDuplicate++
	case OutcomeSkipExistingRace:
		s.SkippedRace++
	case OutcomeSourceUnreachable:
		s.SourceUnreachable++
	case OutcomeUploadFailed:
		s.UploadFailed++
	}
}

func (s *RunStats) add(o RunStats) {
	s.Found += o.Found
	s.Transferred += o.Transferred
	s.SkippedExisting += o.SkippedExisting
	s.SkippedDuplicate += o.SkippedDuplicate
	s.SkippedRace += o.SkippedRace
	s.SourceUnreachable += o.SourceUnreachable
	s.UploadFailed += o.UploadFailed
	s.Bytes += o.Bytes
	s.ExtUnknown += o.ExtUnknown
}

// FormReport is the outcome of one form. Err is set when the form could not
// be processed at all (fetch or folder failure); partial per-file failures
// live in Stats instead.
type FormReport struct {
	FormUID  string
	FormName string
	Folder   string
	Scheme   namingScheme
	Stats    RunStats
	Err      error
}

// RunReport is the final record of a run. FolderCount is the number of form
// folders found under the run folder by the post-run verification listing.
type RunReport struct {
	RunID       string
	RunFolder   string
	Started     time.Time
	Duration    time.Duration
	Forms       []FormReport
	Totals      RunStats
	FolderCount int
}

// FailedForms counts forms that could not be processed at all.
func (r *RunReport) FailedForms() int {
	n := 0
	for _, f := range r.Forms {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// pipelineEvent feeds the interactive progress display.
type pipelineEvent struct {
	Form      string
	FormIdx   int
	FormCount int
	File      string
	Outcome   Outcome
	FormDone  bool
}

// pipeline drives a whole run: run folder resolution, per-form processing,
// statistics, manifest upkeep.
type pipeline struct {
	cfg      *Config
	source   sourceAPI
	drive    driveAPI
	executor *transferExecutor
	logger   *slog.Logger
	notify   func(pipelineEvent)

	runFolderStamp func() time.Time
}

func newPipeline(cfg *Config, source sourceAPI, drive driveAPI, logger *slog.Logger) *pipeline {
	return &pipeline{
		cfg:    cfg,
		source: source,
		drive:  drive,
		executor: &transferExecutor{
			source: source,
			drive:  drive,
			dryRun: cfg.DryRun,
			logger: logger,
		},
		logger:         logger,
		runFolderStamp: time.Now,
	}
}

// runFolderPattern matches folders of this run series under the drive root.
func (p *pipeline) runFolderPattern() *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s_(\d{8}_\d{6})$`, regexp.QuoteMeta(p.cfg.FolderPrefix)))
}

const runFolderStampLayout = "20060102_150405"

// resolveRunFolder picks the destination root folder for this run: the most
// recent folder of the series is reused while younger than the freshness
// window, otherwise a new timestamped folder is created.
func (p *pipeline) resolveRunFolder(ctx context.Context) (string, error) {
	now := p.runFolderStamp()
	fresh := now.Format(runFolderStampLayout)
	newFolder := fmt.Sprintf("%s_%s", p.cfg.FolderPrefix, fresh)

	if p.cfg.FolderMaxAge > 0 {
		items, err := p.drive.ListChildren(ctx, "")
		if err != nil {
			return "", fmt.Errorf("failed to list drive root: %w", err)
		}

		pattern := p.runFolderPattern()
		var newest string
		var newestStamp time.Time
		for _, item := range items {
			if !item.Folder {
				continue
			}
			m := pattern.FindStringSubmatch(item.Name)
			if m == nil {
				continue
			}
			stamp, err := time.Parse(runFolderStampLayout, m[1])
			if err != nil {
				p.logger.Debug("skipping folder with unparseable stamp", "folder", item.Name)
				continue
			}
			if stamp.After(newestStamp) {
				newest, newestStamp = item.Name, stamp
			}
		}

		maxAge := time.Duration(p.cfg.FolderMaxAge) * 24 * time.Hour
		if newest != "" && now.Sub(newestStamp) <= maxAge {
			p.logger.Info("reusing existing run folder", "folder", newest, "age", now.Sub(newestStamp).Round(time.Minute).String())
			return newest, nil
		}
	}

	if p.cfg.DryRun {
		p.logger.Info("dry-run: would create run folder", "folder", newFolder)
		return newFolder, nil
	}
	if err := p.drive.EnsureFolder(ctx, newFolder); err != nil {
		return "", fmt.Errorf("failed to create run folder %s: %w", newFolder, err)
	}
	p.logger.Info("created run folder", "folder", newFolder)
	return newFolder, nil
}

func (p *pipeline) emit(ev pipelineEvent) {
	if p.notify != nil {
		p.notify(ev)
	}
}

// Run processes the given forms sequentially and returns the report. A form
// that fails to fetch is recorded and skipped; the run itself only fails
// when the destination root cannot be prepared.
func (p *pipeline) Run(ctx context.Context, forms []kobo.Form) (*RunReport, error) {
	report := &RunReport{
		RunID:   uuid.New().String(),
		Started: time.Now(),
	}

	runFolder, err := p.resolveRunFolder(ctx)
	if err != nil {
		return nil, err
	}
	report.RunFolder = runFolder

	manifest, err := loadManifest(runFolder)
	if err != nil {
		p.logger.Warn("could not load upload manifest, continuing without it", "error", err)
		manifest = &UploadManifest{Uploads: make(map[string][]ManifestEntry)}
	}

	taskInfo := &TaskInfo{
		PID:        os.Getpid(),
		StartTime:  report.Started,
		RunID:      report.RunID,
		RunFolder:  runFolder,
		TotalForms: len(forms),
	}

	for i, form := range forms {
		if ctx.Err() != nil {
			break
		}

		taskInfo.CurrentTask = "transferring"
		taskInfo.CurrentForm = form.Name
		taskInfo.CompletedForms = i
		if err := WriteTaskInfo(taskInfo); err != nil {
			p.logger.Debug("failed to write task info", "error", err)
		}

		p.logger.Info("processing form", "form", form.Name, "uid", form.UID, "position", fmt.Sprintf("%d/%d", i+1, len(forms)))
		fr := p.processForm(ctx, runFolder, form, manifest)
		if fr.Err != nil {
			p.logger.Error("form failed", "form", form.Name, "error", fr.Err)
		}

		report.Forms = append(report.Forms, fr)
		report.Totals.add(fr.Stats)
		p.emit(pipelineEvent{Form: form.Name, FormIdx: i, FormCount: len(forms), FormDone: true})

		if !p.cfg.DryRun {
			if err := manifest.save(runFolder); err != nil {
				p.logger.Debug("failed to save upload manifest", "error", err)
			}
		}
	}

	if !p.cfg.DryRun && ctx.Err() == nil {
		p.verifyDestination(ctx, report)
	}

	report.Duration = time.Since(report.Started)
	return report, ctx.Err()
}

// verifyDestination re-lists the run folder after the run and records how
// many form folders it actually holds.
func (p *pipeline) verifyDestination(ctx context.Context, report *RunReport) {
	items, err := p.drive.ListChildren(ctx, report.RunFolder)
	if err != nil {
		p.logger.Warn("could not verify run folder", "folder", report.RunFolder, "error", err)
		return
	}
	for _, item := range items {
		if item.Folder {
			report.FolderCount++
		}
	}
	p.logger.Info("verified run folder", "folder", report.RunFolder, "form_folders", report.FolderCount)
}

// processForm runs the full per-form sequence: fetch, classify, ensure
// folders, index, then decide and transfer each attachment.
func (p *pipeline) processForm(ctx context.Context, runFolder string, form kobo.Form, manifest *UploadManifest) FormReport {
	fr := FormReport{FormUID: form.UID, FormName: form.Name}

	subs, err := p.source.ListSubmissions(ctx, form.UID)
	if err != nil {
		fr.Err = fmt.Errorf("failed to fetch submissions: %w", err)
		return fr
	}
	if len(subs) == 0 {
		p.logger.Info("form has no submissions", "form", form.Name)
		fr.Scheme = schemeFallback
		return fr
	}

	fr.Scheme = classifyScheme(subs[0], p.cfg.DateColumn, p.cfg.TypeColumn)
	formFolderName := sanitizeFolder(form.Name)
	fr.Folder = runFolder + "/" + formFolderName
	p.logger.Debug("classified naming scheme", "form", form.Name, "scheme", string(fr.Scheme))

	if !p.cfg.DryRun {
		if err := p.drive.EnsureFolder(ctx, fr.Folder); err != nil {
			fr.Err = fmt.Errorf("failed to create form folder: %w", err)
			return fr
		}
	}

	ix, err := buildFileIndex(ctx, p.drive, fr.Folder)
	if err != nil {
		fr.Err = err
		return fr
	}
	for _, name := range manifest.namesFor(formFolderName) {
		ix.Add(name)
	}

	seen := newSeenSet()
	ensuredColumns := make(map[string]bool)
	delay := time.Duration(p.cfg.TransferDelay) * time.Millisecond

	for _, sub := range subs {
		if ctx.Err() != nil {
			return fr
		}

		for ai, att := range sub.Attachments {
			fr.Stats.Found++

			resolved := resolveName(fr.Scheme, sub, att, ai, len(sub.Attachments), p.cfg.DateColumn, p.cfg.TypeColumn)
			if resolved.ExtUnknown {
				fr.Stats.ExtUnknown++
			}

			switch decide(resolved, ix, seen) {
			case DecisionSkipExisting:
				fr.Stats.SkippedExisting++
				p.logger.Debug("skipping existing file", "file", resolved.Name)
				p.emit(pipelineEvent{Form: form.Name, File: resolved.Name, Outcome: OutcomeSkipExisting})
				continue
			case DecisionSkipDuplicateInRun:
				fr.Stats.SkippedDuplicate++
				p.logger.Debug("skipping in-run duplicate", "file", resolved.Name)
				p.emit(pipelineEvent{Form: form.Name, File: resolved.Name, Outcome: OutcomeSkipDuplicateRun})
				continue
			}

			colFolder := fr.Folder + "/" + columnFolder(att.Column)
			if !p.cfg.DryRun && !ensuredColumns[colFolder] {
				if err := p.drive.EnsureFolder(ctx, colFolder); err != nil {
					fr.Stats.UploadFailed++
					p.logger.Error("failed to create column folder", "folder", colFolder, "error", err)
					continue
				}
				ensuredColumns[colFolder] = true
			}

			res := p.executor.transfer(ctx, form.UID, sub, att, colFolder, resolved.Name)
			fr.Stats.addOutcome(res)
			p.emit(pipelineEvent{Form: form.Name, File: resolved.Name, Outcome: res.Outcome})

			switch res.Outcome {
			case OutcomeTransferred:
				p.logger.Info("transferred", "file", resolved.Name, "bytes", res.Bytes)
				// A dry run uploads nothing, so it must not claim the name.
				if !p.cfg.DryRun {
					manifest.record(formFolderName, resolved.Name, res.Bytes)
				}
			case OutcomeSkipExistingRace:
				p.logger.Info("file appeared during upload, treated as existing", "file", resolved.Name)
				manifest.record(formFolderName, resolved.Name, 0)
			default:
				p.logger.Warn("transfer did not complete", "file", resolved.Name, "outcome", string(res.Outcome), "error", res.Err)
			}

			if delay > 0 && !p.cfg.DryRun {
				select {
				case <-ctx.Done():
					return fr
				case <-time.After(delay):
				}
			}
		}
	}

	return fr
}

var (
	reportTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	reportGoodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	reportWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	reportBadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	reportDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// renderReport formats the final run report for interactive terminals.
func renderReport(r *RunReport) string {
	var b strings.Builder

	b.WriteString(reportTitleStyle.Render("Transfer complete"))
	b.WriteString("\n")
	b.WriteString(reportDimStyle.Render(fmt.Sprintf("run %s  folder %s  took %s", r.RunID, r.RunFolder, r.Duration.Round(time.Second))))
	b.WriteString("\n\n")

	forms := make([]FormReport, len(r.Forms))
	copy(forms, r.Forms)
	sort.SliceStable(forms, func(i, j int) bool { return forms[i].FormName < forms[j].FormName })

	for _, f := range forms {
		if f.Err != nil {
			b.WriteString(reportBadStyle.Render(fmt.Sprintf("  ✗ %s: %v", f.FormName, f.Err)))
			b.WriteString("\n")
			continue
		}
		line := fmt.Sprintf("  ✓ %s: %d found, %d transferred, %d skipped",
			f.FormName, f.Stats.Found, f.Stats.Transferred,
			f.Stats.SkippedExisting+f.Stats.SkippedDuplicate+f.Stats.SkippedRace)
		if failed := f.Stats.UploadFailed + f.Stats.SourceUnreachable; failed > 0 {
			line += reportWarnStyle.Render(fmt.Sprintf(", %d failed", failed))
		}
		b.WriteString(reportGoodStyle.Render(line))
		b.WriteString("\n")
	}

	t := r.Totals
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Total: %d found, %s transferred (%s), %d already present, %d duplicate, %d raced\n",
		t.Found,
		reportGoodStyle.Render(fmt.Sprintf("%d", t.Transferred)),
		formatBytes(t.Bytes),
		t.SkippedExisting, t.SkippedDuplicate, t.SkippedRace))
	if t.SourceUnreachable+t.UploadFailed > 0 {
		b.WriteString(reportWarnStyle.Render(fmt.Sprintf("  Failures: %d unreachable at source, %d upload failures\n",
			t.SourceUnreachable, t.UploadFailed)))
	}
	if t.ExtUnknown > 0 {
		b.WriteString(reportDimStyle.Render(fmt.Sprintf("  %d file(s) had no recognizable extension\n", t.ExtUnknown)))
	}
	if r.FolderCount > 0 {
		b.WriteString(reportDimStyle.Render(fmt.Sprintf("  Destination holds %d form folder(s)\n", r.FolderCount)))
	}

	return b.String()
}

// logReport emits the report through the structured logger for scheduled
// runs, one record per form plus a totals record.
func logReport(logger *slog.Logger, r *RunReport) {
	for _, f := range r.Forms {
		if f.Err != nil {
			logger.Error("form report", "run_id", r.RunID, "form", f.FormName, "error", f.Err)
			continue
		}
		logger.Info("form report",
			"run_id", r.RunID,
			"form", f.FormName,
			"scheme", string(f.Scheme),
			"found", f.Stats.Found,
			"transferred", f.Stats.Transferred,
			"skipped_existing", f.Stats.SkippedExisting,
			"skipped_duplicate", f.Stats.SkippedDuplicate,
			"skipped_race", f.Stats.SkippedRace,
			"source_unreachable", f.Stats.SourceUnreachable,
			"upload_failed", f.Stats.UploadFailed,
			"bytes", f.Stats.Bytes)
	}
	logger.Info("run report",
		"run_id", r.RunID,
		"run_folder", r.RunFolder,
		"duration", r.Duration.Round(time.Second).String(),
		"forms", len(r.Forms),
		"forms_failed", r.FailedForms(),
		"found", r.Totals.Found,
		"transferred", r.Totals.Transferred,
		"bytes", r.Totals.Bytes,
		"ext_unknown", r.Totals.ExtUnknown,
		"form_folders", r.FolderCount)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

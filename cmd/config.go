package cmd

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Static errors for configuration validation
var (
	ErrKoboTokenRequired     = errors.New("Kobo API token is required")
	ErrKoboURLRequired       = errors.New("Kobo API URL is required")
	ErrKoboURLInvalid        = errors.New("Kobo API URL must start with http:// or https://")
	ErrTenantIDRequired      = errors.New("SharePoint tenant ID is required")
	ErrClientIDRequired      = errors.New("SharePoint client ID is required")
	ErrClientSecretRequired  = errors.New("SharePoint client secret is required")
	ErrSiteIDRequired        = errors.New("SharePoint site ID is required")
	ErrDateColumnRequired    = errors.New("date column name is required")
	ErrTypeColumnRequired    = errors.New("type column name is required")
	ErrFolderPrefixRequired  = errors.New("run folder prefix is required")
	ErrFolderPrefixInvalid   = errors.New("run folder prefix is invalid: must contain only letters, numbers, underscores, and dashes")
	ErrFolderMaxAgeInvalid   = errors.New("folder max age must be >= 0 days")
	ErrTransferDelayInvalid  = errors.New("transfer delay must be >= 0 milliseconds")
	ErrHTTPTimeoutInvalid    = errors.New("HTTP timeout must be between 1 and 3600 seconds")
	ErrChunkSizeInvalid      = errors.New("upload chunk size must be a positive multiple of 320 KiB")
	ErrFormSelectionConflict = errors.New("--forms and --all are mutually exclusive")
)

type Config struct {
	Debug     bool
	LogFormat string
	DryRun    bool

	// Form selection: All processes every available form (scheduled mode);
	// Forms is a comma-separated list of indices or form UIDs.
	All   bool
	Forms string

	DateColumn    string
	TypeColumn    string
	FolderPrefix  string
	FolderMaxAge  int // days; 0 disables run-folder reuse
	TransferDelay int // milliseconds between uploads within a form
	HTTPTimeout   int // seconds, per HTTP call
	ChunkSize     int // upload session chunk size in bytes

	Kobo       KoboConfig
	SharePoint SharePointConfig
}

type KoboConfig struct {
	URL   string
	Token string
}

type SharePointConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	SiteID       string
}

// uploadChunkUnit is the granularity the destination upload session accepts;
// chunk sizes must be a multiple of it.
const uploadChunkUnit = 320 * 1024

var validFolderPrefix = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func isValidFolderPrefix(prefix string) bool {
	if prefix == "" || len(prefix) > 64 {
		return false
	}
	return validFolderPrefix.MatchString(prefix)
}

func (c *Config) Validate() error {
	if c.Kobo.Token == "" {
		return ErrKoboTokenRequired
	}
	if c.Kobo.URL == "" {
		return ErrKoboURLRequired
	}
	if !strings.HasPrefix(c.Kobo.URL, "http://") && !strings.HasPrefix(c.Kobo.URL, "https://") {
		return fmt.Errorf("%w: '%s'", ErrKoboURLInvalid, c.Kobo.URL)
	}

	if c.SharePoint.TenantID == "" {
		return ErrTenantIDRequired
	}
	if c.SharePoint.ClientID == "" {
		return ErrClientIDRequired
	}
	if c.SharePoint.ClientSecret == "" {
		return ErrClientSecretRequired
	}
	if c.SharePoint.SiteID == "" {
		return ErrSiteIDRequired
	}

	if c.DateColumn == "" {
		return ErrDateColumnRequired
	}
	if c.TypeColumn == "" {
		return ErrTypeColumnRequired
	}

	if c.FolderPrefix == "" {
		return ErrFolderPrefixRequired
	}
	if !isValidFolderPrefix(c.FolderPrefix) {
		return fmt.Errorf("%w: '%s'", ErrFolderPrefixInvalid, c.FolderPrefix)
	}

	if c.FolderMaxAge < 0 {
		return fmt.Errorf("%w, got %d", ErrFolderMaxAgeInvalid, c.FolderMaxAge)
	}
	if c.TransferDelay < 0 {
		return fmt.Errorf("%w, got %d", ErrTransferDelayInvalid, c.TransferDelay)
	}
	if c.HTTPTimeout < 1 || c.HTTPTimeout > 3600 {
		return fmt.Errorf("%w, got %d", ErrHTTPTimeoutInvalid, c.HTTPTimeout)
	}
	if c.ChunkSize <= 0 || c.ChunkSize%uploadChunkUnit != 0 {
		return fmt.Errorf("%w, got %d", ErrChunkSizeInvalid, c.ChunkSize)
	}

	if c.All && c.Forms != "" {
		return ErrFormSelectionConflict
	}

	return nil
}

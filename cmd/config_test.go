package cmd

import (
	"errors"
	"testing"
)

func validTestConfig() *Config {
	return &Config{
		LogFormat:     "text",
		DateColumn:    "Date",
		TypeColumn:    "Receipt_Type",
		FolderPrefix:  "KoboMedia",
		FolderMaxAge:  30,
		TransferDelay: 500,
		HTTPTimeout:   120,
		ChunkSize:     10 * 320 * 1024,
		Kobo: KoboConfig{
			URL:   "https://kf.kobotoolbox.org",
			Token: "token123",
		},
		SharePoint: SharePointConfig{
			TenantID:     "tenant-id",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			SiteID:       "site-id",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		config := validTestConfig()

		err := config.Validate()
		if err != nil {
			t.Fatalf("valid config should not return error: %v", err)
		}
	})

	t.Run("MissingKoboToken", func(t *testing.T) {
		config := validTestConfig()
		config.Kobo.Token = ""

		err := config.Validate()
		if !errors.Is(err, ErrKoboTokenRequired) {
			t.Fatalf("expected ErrKoboTokenRequired, got %v", err)
		}
	})

	t.Run("InvalidKoboURL", func(t *testing.T) {
		config := validTestConfig()
		config.Kobo.URL = "kf.kobotoolbox.org"

		err := config.Validate()
		if !errors.Is(err, ErrKoboURLInvalid) {
			t.Fatalf("expected ErrKoboURLInvalid, got %v", err)
		}
	})

	t.Run("MissingSharePointCredentials", func(t *testing.T) {
		cases := []struct {
			name   string
			mutate func(*Config)
			want   error
		}{
			{"TenantID", func(c *Config) { c.SharePoint.TenantID = "" }, ErrTenantIDRequired},
			{"ClientID", func(c *Config) { c.SharePoint.ClientID = "" }, ErrClientIDRequired},
			{"ClientSecret", func(c *Config) { c.SharePoint.ClientSecret = "" }, ErrClientSecretRequired},
			{"SiteID", func(c *Config) { c.SharePoint.SiteID = "" }, ErrSiteIDRequired},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				config := validTestConfig()
				tc.mutate(config)

				err := config.Validate()
				if !errors.Is(err, tc.want) {
					t.Fatalf("expected %v, got %v", tc.want, err)
				}
			})
		}
	})

	t.Run("InvalidFolderPrefix", func(t *testing.T) {
		config := validTestConfig()
		config.FolderPrefix = "Kobo Media!"

		err := config.Validate()
		if !errors.Is(err, ErrFolderPrefixInvalid) {
			t.Fatalf("expected ErrFolderPrefixInvalid, got %v", err)
		}
	})

	t.Run("NegativeFolderMaxAge", func(t *testing.T) {
		config := validTestConfig()
		config.FolderMaxAge = -1

		err := config.Validate()
		if !errors.Is(err, ErrFolderMaxAgeInvalid) {
			t.Fatalf("expected ErrFolderMaxAgeInvalid, got %v", err)
		}
	})

	t.Run("ZeroFolderMaxAgeAllowed", func(t *testing.T) {
		config := validTestConfig()
		config.FolderMaxAge = 0

		if err := config.Validate(); err != nil {
			t.Fatalf("folder max age 0 should be valid: %v", err)
		}
	})

	t.Run("ChunkSizeNotMultiple", func(t *testing.T) {
		config := validTestConfig()
		config.ChunkSize = 320*1024 + 1

		err := config.Validate()
		if !errors.Is(err, ErrChunkSizeInvalid) {
			t.Fatalf("expected ErrChunkSizeInvalid, got %v", err)
		}
	})

	t.Run("FormSelectionConflict", func(t *testing.T) {
		config := validTestConfig()
		config.All = true
		config.Forms = "1,2"

		err := config.Validate()
		if !errors.Is(err, ErrFormSelectionConflict) {
			t.Fatalf("expected ErrFormSelectionConflict, got %v", err)
		}
	})

	t.Run("HTTPTimeoutBounds", func(t *testing.T) {
		for _, timeout := range []int{0, 3601} {
			config := validTestConfig()
			config.HTTPTimeout = timeout

			err := config.Validate()
			if !errors.Is(err, ErrHTTPTimeoutInvalid) {
				t.Fatalf("timeout %d: expected ErrHTTPTimeoutInvalid, got %v", timeout, err)
			}
		}
	})
}

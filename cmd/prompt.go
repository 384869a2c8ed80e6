package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/kobo"
)

var (
	ErrNoFormsAvailable = errors.New("no forms available on the Kobo account")
	ErrNoFormsSelected  = errors.New("no forms selected")
	ErrUnknownForm      = errors.New("unknown form selector")
)

var (
	promptHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	promptIndexStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	promptMetaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// selectForms turns the configured selection into a concrete form list:
// --all takes everything, --forms parses a selector list, and with neither
// the user is prompted interactively.
func selectForms(cfg *Config, forms []kobo.Form) ([]kobo.Form, error) {
	if len(forms) == 0 {
		return nil, ErrNoFormsAvailable
	}
	if cfg.All {
		return forms, nil
	}
	if cfg.Forms != "" {
		return parseFormSelectors(cfg.Forms, forms)
	}
	return promptForms(forms)
}

// parseFormSelectors resolves a comma-separated list where each token is a
// 1-based index, a form UID, or an exact form name.
func parseFormSelectors(spec string, forms []kobo.Form) ([]kobo.Form, error) {
	var selected []kobo.Form
	chosen := make(map[string]bool)

	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		var match *kobo.Form
		if idx, err := strconv.Atoi(token); err == nil {
			if idx < 1 || idx > len(forms) {
				return nil, fmt.Errorf("%w: index %d out of range 1-%d", ErrUnknownForm, idx, len(forms))
			}
			match = &forms[idx-1]
		} else {
			for i := range forms {
				if forms[i].UID == token || forms[i].Name == token {
					match = &forms[i]
					break
				}
			}
			if match == nil {
				return nil, fmt.Errorf("%w: '%s'", ErrUnknownForm, token)
			}
		}

		if !chosen[match.UID] {
			chosen[match.UID] = true
			selected = append(selected, *match)
		}
	}

	if len(selected) == 0 {
		return nil, ErrNoFormsSelected
	}
	return selected, nil
}

// promptForms lists the available forms and reads a selection from stdin.
func promptForms(forms []kobo.Form) ([]kobo.Form, error) {
	fmt.Println(promptHeaderStyle.Render("Available forms:"))
	for i, f := range forms {
		fmt.Printf("  %s %s %s\n",
			promptIndexStyle.Render(fmt.Sprintf("[%d]", i+1)),
			f.Name,
			promptMetaStyle.Render(fmt.Sprintf("(%s, %d submissions)", f.UID, f.Submissions)))
	}
	fmt.Print("\nSelect forms (comma-separated numbers, or 'all'): ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read selection: %w", err)
	}

	line = strings.TrimSpace(line)
	if strings.EqualFold(line, "all") {
		return forms, nil
	}
	if line == "" {
		return nil, ErrNoFormsSelected
	}
	return parseFormSelectors(line, forms)
}

package export

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// pandocArgs converts the report HTML to DOCX with a table of contents over
// the theme headings. referenceDoc, when set, supplies the Word styles.
func pandocArgs(title, referenceDoc string) []string {
	args := []string{
		"-f", "html",
		"-t", "docx",
		"--standalone",
		"--toc",
		"--toc-depth=2",
		"--metadata", "title=" + title,
	}
	if referenceDoc != "" {
		args = append(args, "--reference-doc="+referenceDoc)
	}
	return append(args, "-o", "-")
}

func exportDOCX(ctx context.Context, html string, data ReportData, referenceDoc string) (*Result, error) {
	if _, err := exec.LookPath("pandoc"); err != nil {
		return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
	}

	cmd := exec.CommandContext(ctx, "pandoc", pandocArgs(data.Title, referenceDoc)...)
	cmd.Stdin = strings.NewReader(html)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("pandoc failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("run pandoc: %w", err)
	}

	return &Result{
		Data:     output,
		Filename: reportFilename(data, "docx"),
		MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}, nil
}

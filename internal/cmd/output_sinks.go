package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/observability"
	"github.com/labgate/labgate/internal/output"
)

// outputTarget is where and how a command renders its result. An empty
// path means the command's stdout.
type outputTarget struct {
	format output.Format
	path   string
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory, one file per query")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// resolveOutput reads the output flags. With --out-dir the file is named
// after name, so repeated queries land side by side.
func resolveOutput(cmd *cobra.Command, name string) (outputTarget, error) {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return outputTarget{}, err
	}

	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return outputTarget{}, err
	}
	outDir, err := cmd.Flags().GetString("out-dir")
	if err != nil {
		return outputTarget{}, err
	}
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)
	if outPath != "" && outDir != "" {
		return outputTarget{}, fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	if outPath == "-" {
		outPath = ""
	}

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return outputTarget{}, fmt.Errorf("create output directory: %w", err)
		}
		if abs, err := filepath.Abs(outDir); err == nil {
			outDir = abs
		}
		outPath = filepath.Join(outDir, sanitizeFilename(name)+"."+outputExtension(format))
	}
	return outputTarget{format: format, path: outPath}, nil
}

// write emits rendered to the target, creating parent directories of a
// file target as needed.
func (t outputTarget) write(cmd *cobra.Command, rendered string) error {
	if t.path == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(t.path)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(file, rendered); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	if observability.CLILogger != nil {
		observability.CLILogger.Info("Output written", zap.String("path", t.path))
	}
	return nil
}

func outputExtension(format output.Format) string {
	switch format {
	case output.FormatJSON:
		return "json"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

var nonFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

// sanitizeFilename maps a query id such as lab:7 to a safe file stem.
func sanitizeFilename(value string) string {
	clean := strings.ToLower(strings.TrimSpace(value))
	clean = nonFilename.ReplaceAllString(clean, "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "output"
	}
	return clean
}

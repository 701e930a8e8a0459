package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/engine"
	"github.com/isdmx/runbox/execution"
	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/sandbox"
)

var extensionLanguages = map[string]string{
	".java": "java",
	".py":   "python",
	".js":   "nodejs",
	".mjs":  "nodejs",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
}

// inferLanguage maps a source file extension onto a configured language name.
func inferLanguage(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extensionLanguages[ext]; ok {
		return lang, nil
	}
	return "", fmt.Errorf("cannot infer language from %q, use --language", filepath.Base(path))
}

func newRunCmd() *cobra.Command {
	var (
		language       string
		input          string
		inputFile      string
		descriptorFile string
	)

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute one source file and print the JSON response",
		Long: `Execute one source file in a sandbox and print the response body the
REST API would return. Passing --descriptor runs the file as a declarative
project; test classes run the project's test suite.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("cannot read %s: %w", args[0], err)
			}

			if language == "" {
				if language, err = inferLanguage(args[0]); err != nil {
					return err
				}
			}

			unit := execution.SourceUnit{
				Code:     string(code),
				Stdin:    input,
				Language: language,
			}

			if inputFile != "" {
				data, err := os.ReadFile(inputFile)
				if err != nil {
					return fmt.Errorf("cannot read %s: %w", inputFile, err)
				}
				unit.Stdin = string(data)
			}

			if descriptorFile != "" {
				data, err := os.ReadFile(descriptorFile)
				if err != nil {
					return fmt.Errorf("cannot read %s: %w", descriptorFile, err)
				}
				unit.ProjectType = execution.ProjectDeclarative
				unit.BuildDescriptor = string(data)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			provider, err := sandbox.NewProvider(log, cfg.Sandbox)
			if err != nil {
				return err
			}
			e, err := engine.New(log, cfg, provider)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := e.Execute(ctx, unit)
			log.Debug("one-shot execution finished", zap.String("status", string(out.Status)))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out.Response()); err != nil {
				return err
			}

			if out.Status != execution.StatusSuccess {
				return fmt.Errorf("execution finished with status %s", out.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Source language (inferred from the file extension by default)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "Data piped to the program's standard input")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "Read standard input data from a file")
	cmd.Flags().StringVarP(&descriptorFile, "descriptor", "d", "", "Build descriptor (pom.xml) for a declarative project")

	return cmd
}

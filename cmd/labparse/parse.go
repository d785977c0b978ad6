package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Lllllllleong/labreportparser/internal/config"
	"github.com/Lllllllleong/labreportparser/internal/export"
	"github.com/Lllllllleong/labreportparser/internal/models"
	"github.com/Lllllllleong/labreportparser/internal/parser"
	"github.com/Lllllllleong/labreportparser/internal/services"
	"github.com/spf13/cobra"
)

// textProcessorID marks results parsed from a local transcription.
const textProcessorID = "local-text"

type parseOptions struct {
	textPath string
	pdfPath  string
	format   string
	outPath  string
}

func newParseCommand(root *rootOptions) *cobra.Command {
	opts := &parseOptions{}
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse a report from a PDF or an existing text transcription",
		Long: `Parse a lab report.

With --pdf the document is sent to the configured processors, which needs
Google Cloud credentials. With --text the transcription is parsed locally.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if (opts.textPath == "") == (opts.pdfPath == "") {
				return fmt.Errorf("exactly one of --text and --pdf is required")
			}
			if opts.format != "json" && opts.format != "xlsx" {
				return fmt.Errorf("unknown --format %q", opts.format)
			}
			if opts.format == "xlsx" && opts.outPath == "" {
				return fmt.Errorf("--format xlsx needs --out")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := runParse(cmd.Context(), root, opts)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), opts, resp)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.textPath, "text", "", "plain-text transcription of a report")
	f.StringVar(&opts.pdfPath, "pdf", "", "report PDF")
	f.StringVarP(&opts.format, "format", "f", "json", "output format: json|xlsx")
	f.StringVarP(&opts.outPath, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func runParse(ctx context.Context, root *rootOptions, opts *parseOptions) (*models.ParseResponse, error) {
	if opts.textPath != "" {
		return parseText(ctx, root, opts.textPath)
	}

	content, err := os.ReadFile(opts.pdfPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return nil, err
	}
	if root.aliasPath != "" {
		cfg.Aliases.Source = root.aliasPath
	}
	p, err := services.NewParser(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	return p.Process(ctx, &models.ParseRequest{
		PDFBase64: base64.StdEncoding.EncodeToString(content),
		Filename:  filepath.Base(opts.pdfPath),
	})
}

func parseText(ctx context.Context, root *rootOptions, path string) (*models.ParseResponse, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	aliases, err := root.aliasTable(ctx)
	if err != nil {
		return nil, err
	}
	cfg := parser.DefaultConfig()
	cfg.Aliases = aliases
	pipeline, err := parser.New(cfg)
	if err != nil {
		return nil, err
	}

	res := pipeline.Run(parser.RawExtraction{
		Text:        string(text),
		Confidence:  1,
		ProcessorID: textProcessorID,
	})
	return &models.ParseResponse{
		Status:           models.StatusSuccess,
		Message:          "Document processed successfully",
		Filename:         filepath.Base(path),
		ExtractionResult: res,
	}, nil
}

func writeResult(stdout io.Writer, opts *parseOptions, resp *models.ParseResponse) (err error) {
	w := stdout
	if opts.outPath != "" {
		f, createErr := os.Create(opts.outPath)
		if createErr != nil {
			return createErr
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	if opts.format == "xlsx" {
		return export.WriteXLSX(w, resp.Filename, resp.ExtractionResult)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}

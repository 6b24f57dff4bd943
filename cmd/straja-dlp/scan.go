package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/straja-ai/straja-dlp/internal/config"
	"github.com/straja-ai/straja-dlp/internal/document"
	"github.com/straja-ai/straja-dlp/internal/guard"
	"github.com/straja-ai/straja-dlp/internal/logging"
	"github.com/straja-ai/straja-dlp/internal/ocr"
	"github.com/straja-ai/straja-dlp/internal/policy"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

var scanFlags struct {
	model  string
	userID string
	out    string
	tokens string
	pages  []string
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one text, image or PDF through detection and policy",
}

var scanTextCmd = &cobra.Command{
	Use:   "text [text|-]",
	Short: "Scan text given as an argument or on stdin",
	Long: `Scan text and print the decision as JSON.

The command exits non-zero when the text is blocked.

Examples:
  straja-dlp scan text --model gpt-4o "reach me at john@example.com"
  cat prompt.txt | straja-dlp scan text -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScanText,
}

var scanImageCmd = &cobra.Command{
	Use:   "image <path>",
	Short: "Scan an image file",
	Long: `Scan an image with OCR and print the decision as JSON.

With --out the masked image is written when any region was painted over.
--tokens replaces OCR with a JSON token list, useful without tesseract.

Examples:
  straja-dlp scan image --out masked.png screenshot.png`,
	Args: cobra.ExactArgs(1),
	RunE: runScanImage,
}

var scanPDFCmd = &cobra.Command{
	Use:   "pdf <path>",
	Short: "Scan a PDF file",
	Long: `Render every page of a PDF, scan the pages with OCR and print the
decision as JSON.

With --out a rebuilt PDF is written when any region was painted over. The
rebuilt document holds page images only; its text is no longer selectable.
--page replaces rendering with PNG files, one per page, useful without MuPDF.

Examples:
  straja-dlp scan pdf --out redacted.pdf contract.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runScanPDF,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanTextCmd, scanImageCmd, scanPDFCmd)

	scanCmd.PersistentFlags().StringVarP(&scanFlags.model, "model", "m", "", "model id the content is destined for")
	scanCmd.PersistentFlags().StringVar(&scanFlags.userID, "user", "cli", "user id recorded in the audit event")
	scanImageCmd.Flags().StringVarP(&scanFlags.out, "out", "o", "", "write the masked image here")
	scanImageCmd.Flags().StringVar(&scanFlags.tokens, "tokens", "", "JSON OCR token file used instead of tesseract")
	scanPDFCmd.Flags().StringVarP(&scanFlags.out, "out", "o", "", "write the redacted PDF here")
	scanPDFCmd.Flags().StringVar(&scanFlags.tokens, "tokens", "", "JSON OCR token file used instead of tesseract")
	scanPDFCmd.Flags().StringSliceVar(&scanFlags.pages, "page", nil, "PNG page image used instead of rendering (repeatable)")
}

// decisionView is a decision without the matched value.
type decisionView struct {
	Type       safety.PIIType `json:"type"`
	Action     safety.Action  `json:"action"`
	Reason     policy.Reason  `json:"reason"`
	Source     safety.Source  `json:"source"`
	Confidence float32        `json:"confidence"`
	Span       safety.Span    `json:"span"`
	Box        *safety.Box    `json:"box,omitempty"`
}

type scanOutput struct {
	Blocked     bool             `json:"blocked"`
	Message     string           `json:"message,omitempty"`
	PIITypes    []safety.PIIType `json:"pii_types,omitempty"`
	Content     *string          `json:"content,omitempty"`
	Image       string           `json:"image,omitempty"`
	Document    string           `json:"document,omitempty"`
	Pages       int              `json:"pages,omitempty"`
	Decisions   []decisionView   `json:"decisions"`
	Masked      int              `json:"masked"`
	Warning     bool             `json:"warning"`
	Unavailable bool             `json:"detection_unavailable,omitempty"`
}

func views(ds []policy.Decision) []decisionView {
	out := make([]decisionView, 0, len(ds))
	for _, d := range ds {
		out = append(out, decisionView{
			Type:       d.Match.Type,
			Action:     d.Action,
			Reason:     d.Reason,
			Source:     d.Match.Source,
			Confidence: d.Match.Confidence,
			Span:       d.Match.Span,
			Box:        d.Match.Box,
		})
	}
	return out
}

// withApp loads config, builds the app, runs fn and flushes audit events.
func withApp(cmd *cobra.Command, opts buildOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, cfg, log, opts)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		log.Warn("shutdown incomplete", logging.Error(err))
	}
	return runErr
}

func runScanText(cmd *cobra.Command, args []string) error {
	text, err := readTextArg(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	return withApp(cmd, buildOptions{}, func(ctx context.Context, a *app) error {
		res, err := a.guard.ScanText(ctx, text, guard.Meta{UserID: scanFlags.userID, Model: scanFlags.model})
		out := scanOutput{
			Decisions:   views(res.Decisions),
			Masked:      res.Masked,
			Warning:     res.Warning,
			Unavailable: res.Unavailable,
		}
		if err == nil {
			out.Content = &res.Content
		}
		return report(cmd.OutOrStdout(), out, err)
	})
}

func runScanImage(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	var opts buildOptions
	if scanFlags.tokens != "" {
		static, err := ocr.LoadStatic(scanFlags.tokens)
		if err != nil {
			return err
		}
		opts.OCR = static
	}
	return withApp(cmd, opts, func(ctx context.Context, a *app) error {
		res, err := a.guard.ScanImage(ctx, data, guard.Meta{UserID: scanFlags.userID, Model: scanFlags.model})
		out := scanOutput{
			Decisions:   views(res.Decisions),
			Masked:      res.Masked,
			Warning:     res.Warning,
			Unavailable: res.Unavailable,
		}
		if err == nil && res.Masked > 0 && scanFlags.out != "" {
			if werr := os.WriteFile(scanFlags.out, res.Image, 0o640); werr != nil {
				return fmt.Errorf("write masked image: %w", werr)
			}
			out.Image = scanFlags.out
			a.log.Debug("masked image written", zap.String("path", scanFlags.out), zap.String("format", res.Format))
		}
		return report(cmd.OutOrStdout(), out, err)
	})
}

func runScanPDF(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	var opts buildOptions
	if scanFlags.tokens != "" {
		static, err := ocr.LoadStatic(scanFlags.tokens)
		if err != nil {
			return err
		}
		opts.OCR = static
	}
	if len(scanFlags.pages) > 0 {
		pages := make([][]byte, 0, len(scanFlags.pages))
		for _, p := range scanFlags.pages {
			b, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("read page: %w", err)
			}
			pages = append(pages, b)
		}
		opts.Documents = &document.Static{Pages: pages}
	}
	return withApp(cmd, opts, func(ctx context.Context, a *app) error {
		res, err := a.guard.ScanPDF(ctx, data, guard.Meta{UserID: scanFlags.userID, Model: scanFlags.model})
		out := scanOutput{
			Decisions:   views(res.Decisions),
			Masked:      res.Masked,
			Warning:     res.Warning,
			Unavailable: res.Unavailable,
			Pages:       res.Pages,
		}
		if err == nil && res.Masked > 0 && scanFlags.out != "" {
			if werr := os.WriteFile(scanFlags.out, res.Document, 0o640); werr != nil {
				return fmt.Errorf("write redacted pdf: %w", werr)
			}
			out.Document = scanFlags.out
			a.log.Debug("redacted pdf written", zap.String("path", scanFlags.out), zap.Int("pages", res.Pages))
		}
		return report(cmd.OutOrStdout(), out, err)
	})
}

// report prints out and turns a block into the command's error.
func report(w io.Writer, out scanOutput, err error) error {
	var blocked *safety.BlockedError
	if err != nil {
		if !errors.As(err, &blocked) {
			return err
		}
		out.Blocked = true
		out.Message = blocked.Error()
		out.PIITypes = blocked.Types
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if eerr := enc.Encode(out); eerr != nil {
		return eerr
	}
	if blocked != nil {
		return blocked
	}
	return nil
}

func readTextArg(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

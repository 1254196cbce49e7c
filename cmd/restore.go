package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/raushankrgupta/photo-restorer/api"
	"github.com/raushankrgupta/photo-restorer/codec"
	"github.com/raushankrgupta/photo-restorer/config"
	"github.com/raushankrgupta/photo-restorer/restoration"
	"github.com/raushankrgupta/photo-restorer/session"
	"github.com/raushankrgupta/photo-restorer/utils"
)

var (
	restoreInstruction string
	restoreOut         string
	restoreArchive     bool
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))
)

// restorerFactory builds the Gemini client. Tests replace it.
var restorerFactory = func(cfg *config.Config) session.Restorer {
	return restoration.NewClient(
		restoration.WithModel(cfg.GeminiModel),
		restoration.WithTimeout(cfg.RestoreTimeout),
	)
}

var restoreCmd = &cobra.Command{
	Use:   "restore <image>",
	Short: "Restore a single photo without the web UI",
	Long: `Send one photo to Gemini and write the restored image next to it
as <name>_restored.png, or to --out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRestore(ctx, cmd, cfg, args[0])
	},
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreInstruction, "instruction", "i", "", "Extra instructions for the restoration")
	restoreCmd.Flags().StringVarP(&restoreOut, "out", "o", "", "Output path (default <name>_restored.png next to the input)")
	restoreCmd.Flags().BoolVar(&restoreArchive, "archive", false, "Also upload the result to AWS_BUCKET_NAME and print a download link")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(ctx context.Context, cmd *cobra.Command, cfg *config.Config, path string) error {
	out := cmd.OutOrStdout()

	if restoreArchive && cfg.AWSBucketName == "" {
		return fmt.Errorf("--archive requires AWS_BUCKET_NAME")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	mimeType := codec.Sniff(data)

	fmt.Fprintln(out, infoStyle.Render(fmt.Sprintf("Restoring %s (%s, %d bytes)...", filepath.Base(path), mimeType, len(data))))

	res, err := restorerFactory(cfg).Restore(ctx, data, mimeType, restoreInstruction)
	if err == nil && (res == nil || len(res.Data) == 0) {
		err = &restoration.Error{Kind: restoration.KindNoImage, Op: "extract", Err: restoration.ErrNoImage}
	}
	if err != nil {
		fmt.Fprintln(out, errorStyle.Render(restoration.FailureMessage(err)))
		return err
	}

	target := restoreOut
	if target == "" {
		target = filepath.Join(filepath.Dir(path), api.DownloadName(&session.Image{Name: path}))
	}
	if err := os.WriteFile(target, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	fmt.Fprintln(out, successStyle.Render("Restored image written to "+target))

	if width, height, err := codec.Dimensions(res.Data); err == nil {
		fmt.Fprintln(out, infoStyle.Render(fmt.Sprintf("%dx%d, %d bytes", width, height, len(res.Data))))
	}

	if restoreArchive {
		return archiveResult(ctx, cmd, cfg, res)
	}
	return nil
}

func archiveResult(ctx context.Context, cmd *cobra.Command, cfg *config.Config, res *restoration.Result) error {
	store, err := utils.NewS3Archive(ctx, cfg.AWSRegion, cfg.AWSBucketName)
	if err != nil {
		return err
	}
	key, err := store.Upload(ctx, bytes.NewReader(res.Data), utils.ResultKey("cli", res.MIMEType), res.MIMEType)
	if err != nil {
		return err
	}
	link, err := store.PresignedURL(ctx, key)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Archived as "+key))
	fmt.Fprintln(cmd.OutOrStdout(), link)
	return nil
}

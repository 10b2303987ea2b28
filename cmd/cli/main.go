package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/donation-tracker/internal/app"
	"github.com/dvloznov/donation-tracker/internal/gcsuploader"
	"github.com/dvloznov/donation-tracker/internal/ingest"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05-07:00"

var (
	configPath string
	envFile    string
	timeout    time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cli",
		Short:         "Donation tracker CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yml", "Path to config.yml")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Dotenv file with provider secrets (defaults to .env)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Abort the command after this long")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(watermarkCmd())
	rootCmd.AddCommand(uploadCmd())
	return rootCmd
}

// withApp bootstraps the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	ctx, a, err := app.Bootstrap(ctx, configPath, envFiles...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()
	return fn(ctx, a)
}

func runCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Pull the next window of every scheduled source, or of one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if source != "" {
					res, err := a.Runner.RunSource(ctx, source)
					writeResults(cmd.OutOrStdout(), []ingest.Result{res})
					return err
				}
				results, err := a.Runner.RunAll(ctx)
				writeResults(cmd.OutOrStdout(), results)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "Run only this source")
	return cmd
}

func importCmd() *cobra.Command {
	var source, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a manual CSV file (local path or gs:// URI) into a source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Runner.ImportFile(ctx, source, file)
				writeResults(cmd.OutOrStdout(), []ingest.Result{res})
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "Source the rows belong to")
	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV file path or gs:// URI")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the donations store schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "enforce",
		Short: "Install the schema and the allowed donation sources on the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				names := a.Config.SourceNames()
				if err := a.Store.EnforceSchema(ctx, names); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema enforced on %s store with %d sources\n", a.Config.Store.Backend, len(names))
				return nil
			})
		},
	})
	return cmd
}

func watermarkCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Show the watermark and next window of every source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				statuses := a.Runner.Inspect(ctx)
				if source != "" {
					filtered := statuses[:0]
					for _, st := range statuses {
						if st.Source == source {
							filtered = append(filtered, st)
						}
					}
					if len(filtered) == 0 {
						return fmt.Errorf("unknown source %q", source)
					}
					statuses = filtered
				}
				writeStatuses(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "Show only this source")
	return cmd
}

func uploadCmd() *cobra.Command {
	var source, file, bucket, object string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Archive a manual CSV file to the imports bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if _, err := a.Config.Source(source); err != nil {
					return err
				}
				if bucket == "" {
					bucket = a.Config.Imports.Bucket
				}
				if bucket == "" {
					return fmt.Errorf("no bucket: pass --bucket or set imports.bucket")
				}
				if object == "" {
					object = gcsuploader.ImportObjectName(a.Config.Imports.Prefix, source, filepath.Base(file), time.Now())
				}

				log := logger.FromContext(ctx)
				log.Info().
					Str("bucket", bucket).
					Str("object", object).
					Str("file", file).
					Msg("Uploading file to GCS")

				if err := a.Files.UploadFile(ctx, bucket, object, file); err != nil {
					return err
				}
				uri := fmt.Sprintf("gs://%s/%s", bucket, object)
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s to %s\nImport it with: cli import --source %s --file %s\n", file, uri, source, uri)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "Source the file belongs to")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Local CSV file")
	cmd.Flags().StringVar(&bucket, "bucket", "", "GCS bucket (defaults to imports.bucket)")
	cmd.Flags().StringVar(&object, "object", "", "Object name (defaults to {prefix}/{source}/{timestamp}-{filename})")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func writeResults(w io.Writer, results []ingest.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tWINDOW\tROWS\tCAUGHT UP\tERROR")
	for _, res := range results {
		window := "-"
		if res.Window != nil {
			window = res.Window.Start.Format(timeLayout) + " - " + res.Window.End.Format(timeLayout)
		}
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", res.Source, window, res.Rows, res.CaughtUp, errText)
	}
	tw.Flush()
}

func writeStatuses(w io.Writer, statuses []ingest.Status) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tKIND\tWATERMARK\tNEXT WINDOW END\tERROR")
	for _, st := range statuses {
		wm, end := "-", "-"
		if st.Watermark != nil {
			wm = st.Watermark.At.Format(timeLayout)
			if st.Watermark.ColdStart {
				wm += " (cold start)"
			}
		}
		if st.Window != nil {
			end = st.Window.End.Format(timeLayout)
		}
		errText := ""
		if st.Err != nil {
			errText = st.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.Source, st.Kind, wm, end, errText)
	}
	tw.Flush()
}

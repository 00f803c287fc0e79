// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-objsync.
//
// go-objsync is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-objsync/pkg/cli"
	"github.com/jeremyhahn/go-objsync/pkg/replication"
)

var (
	cfgFile      string
	viperConfig  *viper.Viper
	globalConfig *cli.Config
)

// reportedError marks an error already written to stderr by run.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprint(os.Stderr, cli.FormatError(err, outputFormat()))
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "objsync",
	Short: "Offline-first sync of JSON item stores",
	Long: `objsync keeps local item stores in sync with a remote backend.

Edits are staged in a local action log and pushed as append-only chunk
files. Pulls download only the chunks that changed.

Supported Backends:
  - local    : Local filesystem directory
  - memory   : In-process store (testing)
  - s3       : AWS S3 or any S3-compatible endpoint
  - webdav   : WebDAV server
  - githost  : One GitHub repository per store

Configuration can be provided via:
  - Command-line flags (highest priority)
  - Environment variables (OBJSYNC_*)
  - Configuration file (~/.objsync.yaml or ./.objsync.yaml)
  - Default values (lowest priority)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		viperConfig, err = cli.InitConfig(cfgFile)
		if err != nil {
			return err
		}

		if err := viperConfig.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}

		globalConfig = cli.GetConfig(viperConfig)
		return nil
	},
}

func outputFormat() cli.OutputFormat {
	if globalConfig == nil {
		return cli.FormatText
	}
	return cli.OutputFormat(globalConfig.OutputFormat)
}

// run builds a command context, runs fn and prints its result. Interrupts
// cancel the context.
func run(fn func(ctx context.Context, cc *cli.CommandContext) (any, error)) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cc, err := cli.NewCommandContext(globalConfig)
	if err != nil {
		fmt.Fprint(os.Stderr, cli.FormatError(err, outputFormat()))
		return reportedError{err}
	}
	defer func() { _ = cc.Close() }()

	result, err := fn(ctx, cc)
	if err == nil || hasPartialResult(result) {
		if result != nil {
			fmt.Print(cli.Format(result, outputFormat()))
		}
	}
	if err != nil {
		fmt.Fprint(os.Stderr, cli.FormatError(err, outputFormat()))
		return reportedError{err}
	}
	return nil
}

// hasPartialResult reports whether a failed command still produced output
// worth printing: per-store pull outcomes, or actions staged before a push
// failed.
func hasPartialResult(result any) bool {
	switch r := result.(type) {
	case []cli.PullStatus:
		return len(r) > 0
	case *cli.StageResult:
		return r != nil
	}
	return false
}

func openInput(args []string, index int) (io.ReadCloser, error) {
	if len(args) <= index || args[index] == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(args[index]) // #nosec G304 -- User-provided path for CLI file operations, intended behavior
}

func stageOptions(cmd *cobra.Command) (cli.PutOptions, error) {
	overlap, _ := cmd.Flags().GetBool("overlap") //nolint:errcheck // flags are validated by cobra
	noPush, _ := cmd.Flags().GetBool("no-push")  //nolint:errcheck // flags are validated by cobra
	opts := cli.PutOptions{Overlap: overlap, NoPush: noPush}
	if cmd.Flags().Lookup("attach") != nil {
		values, _ := cmd.Flags().GetStringArray("attach") //nolint:errcheck // flags are validated by cobra
		attachments, err := cli.ParseAttachments(values)
		if err != nil {
			return opts, err
		}
		opts.Attachments = attachments
	}
	return opts, nil
}

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List remote stores",
	Long:  `List the remote stores visible to the account that match --store-prefix.`,
	Example: `  objsync stores
  objsync stores --store-prefix notes- -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.StoresCommand(ctx)
		})
	},
}

var createStoreCmd = &cobra.Command{
	Use:     "create-store <name>",
	Short:   "Create an empty remote store",
	Example: `  objsync create-store notes`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.CreateStoreCommand(ctx, args[0])
		})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull [store]",
	Short: "Pull remote changes into the local cache",
	Long: `Pull downloads the chunks that changed since the last pull and applies
them to the local cache. Staged actions are kept and reapplied on top.
Use --all to pull every store in parallel.`,
	Example: `  objsync pull notes
  objsync pull --all`,
	Args: cobra.RangeArgs(0, 1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all") //nolint:errcheck // flags are validated by cobra
		if !all && len(args) == 0 {
			return errors.New("pull requires a store name or --all")
		}
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			if all {
				return cc.PullAllCommand(ctx)
			}
			return cc.PullCommand(ctx, args[0])
		})
	},
}

var pushCmd = &cobra.Command{
	Use:     "push <store>",
	Short:   "Push staged actions to the remote store",
	Example: `  objsync push notes`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.PushCommand(ctx, args[0])
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:     "pending <store>",
	Short:   "List staged actions not yet pushed",
	Example: `  objsync pending notes -o json`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.PendingCommand(ctx, args[0])
		})
	},
}

var itemsCmd = &cobra.Command{
	Use:   "items <store>",
	Short: "List items of a store",
	Example: `  objsync items notes
  objsync items notes --offline`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline") //nolint:errcheck // flags are validated by cobra
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.ItemsCommand(ctx, args[0], offline)
		})
	},
}

var getCmd = &cobra.Command{
	Use:     "get <store> <id>",
	Short:   "Show one item",
	Example: `  objsync get notes 42`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline") //nolint:errcheck // flags are validated by cobra
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.GetCommand(ctx, args[0], args[1], offline)
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put <store> [item-file]",
	Short: "Stage an item update and push it",
	Long: `Stage an update for a JSON item read from item-file, or stdin when
omitted or '-'. The item must carry an "id". Files given with --attach are
embedded as binary fields and uploaded as assets.`,
	Example: `  objsync put notes item.json
  echo '{"id":"1","title":"hello"}' | objsync put notes
  objsync put notes item.json --attach cover=./cover.png
  objsync put notes item.json --no-push`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := stageOptions(cmd)
		if err != nil {
			return err
		}
		in, err := openInput(args, 1)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.PutCommand(ctx, args[0], in, opts)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <store> <id>",
	Short:   "Stage an item deletion and push it",
	Example: `  objsync delete notes 42`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := stageOptions(cmd)
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.DeleteCommand(ctx, args[0], args[1], opts)
		})
	},
}

var metaCmd = &cobra.Command{
	Use:   "meta <store> [document]",
	Short: "Show or replace the store metadata document",
	Long: `Without --set, print the metadata document. With --set, stage the JSON
object read from document (or stdin) as the new metadata and push it.`,
	Example: `  objsync meta notes
  objsync meta notes --set meta.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, _ := cmd.Flags().GetBool("set")         //nolint:errcheck // flags are validated by cobra
		offline, _ := cmd.Flags().GetBool("offline") //nolint:errcheck // flags are validated by cobra
		if !set {
			return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
				return cc.MetaCommand(ctx, args[0], offline)
			})
		}
		opts, err := stageOptions(cmd)
		if err != nil {
			return err
		}
		in, err := openInput(args, 1)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.SetMetaCommand(ctx, args[0], in, opts)
		})
	},
}

var structureCmd = &cobra.Command{
	Use:   "structure <store>",
	Short: "Show the remote file layout of a store",
	Example: `  objsync structure notes
  objsync structure notes --offline   # last structure seen by a pull or push`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline") //nolint:errcheck // flags are validated by cobra
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.StructureCommand(ctx, args[0], offline)
		})
	},
}

var assetCmd = &cobra.Command{
	Use:   "asset <store> <reference> [output-file]",
	Short: "Download an asset",
	Long:  `Download the asset behind a reference string to output-file, or stdout when omitted or '-'.`,
	Example: `  objsync asset notes assets/1a2b3c4d-cover.png cover.png
  objsync asset notes assets/1a2b3c4d-cover.png > cover.png`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputPath := ""
		if len(args) > 2 {
			outputPath = args[2]
		}
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			if err := cc.AssetCommand(ctx, args[0], args[1], outputPath); err != nil {
				return nil, err
			}
			if outputPath == "" || outputPath == "-" {
				return nil, nil
			}
			return &cli.OperationResult{
				Success: true,
				Message: fmt.Sprintf("Successfully downloaded '%s' to '%s'", args[1], outputPath),
			}, nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.WhoamiCommand(ctx)
		})
	},
}

var collaboratorsCmd = &cobra.Command{
	Use:   "collaborators <store>",
	Short: "List users with access to a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			return cc.CollaboratorsCommand(ctx, args[0])
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <store>",
	Short: "Pull whenever the remote store changes",
	Long: `Pull the store, then pull again every time the backend reports a change.
Runs until interrupted. Only backends that can report changes support this.`,
	Example: `  objsync --backend local --backend-path /srv/stores watch notes`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cc *cli.CommandContext) (any, error) {
			err := cc.WatchCommand(ctx, args[0], os.Stdout)
			if errors.Is(err, context.Canceled) {
				return nil, nil
			}
			return nil, err
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after merging flags, environment and config file. Secrets are masked.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print(cli.DisplayConfig(globalConfig, outputFormat()))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(cli.VersionCommand())
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.objsync.yaml)")
	pf.String("backend", cli.BackendLocal, "sync backend (local, memory, s3, webdav, githost)")
	pf.String("backend-path", "./stores", "root directory (local), key prefix (s3) or root collection (webdav)")
	pf.String("backend-bucket", "", "bucket name for the s3 backend")
	pf.String("backend-region", "", "region for the s3 backend")
	pf.String("backend-key", "", "access key for the s3 backend")
	pf.String("backend-secret", "", "secret key for the s3 backend")
	pf.String("backend-url", "", "endpoint URL (s3, webdav, githost enterprise)")
	pf.String("backend-user", "", "user for the webdav backend")
	pf.String("backend-password", "", "password for the webdav backend")
	pf.String("backend-token", "", "access token for the githost backend")
	pf.String("backend-owner", "", "account name, or repository owner for githost")
	pf.String("backend-org", "", "organization owning githost repositories")
	pf.String("backend-branch", "", "branch for githost repositories")
	pf.Float64("rate-limit", 0, "maximum backend requests per second (0 disables)")
	pf.Int("rate-burst", 0, "burst size for --rate-limit")
	pf.String("staging", "sqlite", "staging store for the action log (sqlite, jsonl, memory)")
	pf.String("staging-path", "~/.objsync/staging.db", "database file (sqlite) or directory (jsonl)")
	pf.String("store-prefix", "", "only operate on stores whose name starts with this prefix")
	pf.String("entry-name", "data", "chunk file prefix")
	pf.Int("chunk-size", replication.DefaultChunkSize, "maximum records per chunk file")
	pf.Duration("debounce", replication.DefaultDebounce, "delay before a staged change is pushed")
	pf.Int("workers", replication.DefaultWorkers, "parallel pulls for pull --all")
	pf.String("log-file", "", "write logs to this file with rotation instead of stderr")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")
	pf.String("audit-file", "", "append an audit trail of sync operations to this file")
	pf.StringP("output-format", "o", "text", "output format (text, json, yaml)")

	pullCmd.Flags().Bool("all", false, "pull every store")

	for _, c := range []*cobra.Command{itemsCmd, getCmd, metaCmd, structureCmd} {
		c.Flags().Bool("offline", false, "read the local cache without pulling")
	}
	for _, c := range []*cobra.Command{putCmd, deleteCmd, metaCmd} {
		c.Flags().Bool("overlap", false, "rebuild the remote store from the local items on push")
		c.Flags().Bool("no-push", false, "stage the action without pushing")
	}
	putCmd.Flags().StringArray("attach", nil, "embed a file as an item field (field=path, repeatable)")
	metaCmd.Flags().Bool("set", false, "replace the metadata document")

	rootCmd.AddCommand(
		storesCmd,
		createStoreCmd,
		pullCmd,
		pushCmd,
		pendingCmd,
		itemsCmd,
		getCmd,
		putCmd,
		deleteCmd,
		metaCmd,
		structureCmd,
		assetCmd,
		whoamiCmd,
		collaboratorsCmd,
		watchCmd,
		configCmd,
		versionCmd,
	)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"teslafi/internal/config"
	"teslafi/internal/coordinator"
	"teslafi/internal/integration"
	"teslafi/internal/teslafi"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const commandTimeout = time.Minute

var entryID string

var validateCmd = &cobra.Command{
	Use:   "validate [api-key]",
	Short: "Check API keys against TeslaFi",
	Long:  "Check the given API key, or every configured entry. Prints ok, invalid_auth or cannot_connect per key.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

var execCmd = &cobra.Command{
	Use:     "exec <command> [key=value...]",
	Short:   "Send one command to a vehicle",
	Example: "  teslafi exec set_charge_limit charge_limit_soc=80",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runExec,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Poll once and print the derived vehicle state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	execCmd.Flags().StringVarP(&entryID, "entry", "e", "", "entry id (default: the first entry)")
	statusCmd.Flags().StringVarP(&entryID, "entry", "e", "", "entry id (default: every entry)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var entries []config.Entry
	if len(args) == 1 {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		entries = []config.Entry{{ID: "cli", APIKey: args[0]}}
	} else {
		_, cfg, err := loadConfig(logger)
		if err != nil {
			return err
		}
		entries = cfg.Entries
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, entry := range entries {
		client := teslafi.NewClient(entry.APIKey, &http.Client{}, logger)
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		result, err := integration.Validate(ctx, client)
		cancel()

		switch {
		case errors.Is(err, integration.ErrInvalidAuth):
			failed++
			fmt.Fprintf(out, "%s: %s\n", entry.ID, integration.ErrInvalidAuth)
		case err != nil:
			failed++
			fmt.Fprintf(out, "%s: %s\n", entry.ID, integration.ErrCannotConnect)
			logger.Debug("Validation failed", zap.String("entry", entry.ID), zap.Error(err))
		default:
			fmt.Fprintf(out, "%s: ok %q (vehicle %s)\n", entry.ID, result.Title, result.ID)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d entries failed validation", failed, len(entries))
	}
	return nil
}

func runExec(cmd *cobra.Command, args []string) error {
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	_, cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	if cfg.ReadOnly {
		return errors.New("read-only mode: refusing to send commands")
	}
	entry := cfg.Entries[0]
	if entryID != "" {
		var ok bool
		if entry, ok = cfg.Entry(entryID); !ok {
			return fmt.Errorf("entry %s not found", entryID)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	coord := newCoordinator(entry, cfg, logger)
	if err := coord.FirstRefresh(ctx); err != nil {
		return err
	}
	resp, err := coord.ExecuteCommand(ctx, args[0], params)
	if err != nil {
		return err
	}
	return printJSON(cmd, resp.Data)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	_, cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	entries := cfg.Entries
	if entryID != "" {
		entry, ok := cfg.Entry(entryID)
		if !ok {
			return fmt.Errorf("entry %s not found", entryID)
		}
		entries = []config.Entry{entry}
	}

	out := make(map[string]any, len(entries))
	for _, entry := range entries {
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		coord := newCoordinator(entry, cfg, logger)
		err := coord.FirstRefresh(ctx)
		cancel()
		if err != nil {
			out[entry.ID] = map[string]any{"error": err.Error()}
			continue
		}
		out[entry.ID] = coord.Data().Summary()
	}
	return printJSON(cmd, out)
}

func newCoordinator(entry config.Entry, cfg *config.Config, logger *zap.Logger) *coordinator.Coordinator {
	client := teslafi.NewClient(entry.APIKey, &http.Client{}, logger)
	return coordinator.New(entry.ID, client, nil, cfg.Coordinator(), logger)
}

// parseParams turns key=value arguments into command parameters.
func parseParams(args []string) (teslafi.Params, error) {
	params := make(teslafi.Params, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", arg)
		}
		params[key] = value
	}
	return params, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

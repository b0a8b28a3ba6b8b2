package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"nmhealth-go/internal/cli/output"
	"nmhealth-go/internal/cliclient"
	"nmhealth-go/internal/config"
	"nmhealth-go/internal/logs"
	"nmhealth-go/internal/tlslocal"
)

// loadConfig loads the configuration and applies the --data-dir flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
		}
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// setupLogger builds the logger for a command from the config file and the
// logging flags.
func setupLogger(cfg *config.Config, serverCommand bool) (*zap.Logger, error) {
	var base *config.LogConfig
	if cfg != nil {
		base = cfg.Logging
	}
	logger, err := logs.SetupCommandLogger(base, serverCommand, logLevel, logToFile, logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return logger, nil
}

// parseKeyValues parses repeated key=value flags. normalize, when set, is
// applied to every key.
func parseKeyValues(pairs []string, normalize func(string) string) (map[string]string, error) {
	result := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		if normalize != nil {
			key = normalize(key)
		}
		result[key] = value
	}
	return result, nil
}

// tokenKey accepts a configuration token with or without its braces, so
// "yarn-site/yarn.http.policy" and "{{yarn-site/yarn.http.policy}}" are the
// same key.
func tokenKey(key string) string {
	if strings.HasPrefix(key, "{{") && strings.HasSuffix(key, "}}") {
		return key
	}
	return "{{" + key + "}}"
}

// newFormatter resolves the -o flag. An unknown format is reported in the
// table format.
func newFormatter(outputFlag string) (output.OutputFormatter, string, error) {
	format := output.ResolveFormat(outputFlag)
	formatter, err := output.NewFormatter(format)
	if err != nil {
		return nil, "", output.NewStructuredError(output.ErrCodeInvalidOutputFormat, err.Error()).
			WithGuidance("Use -o table, -o json, or -o yaml")
	}
	return formatter, format, nil
}

// writeData formats data and writes it to w.
func writeData(w io.Writer, formatter output.OutputFormatter, data interface{}) error {
	result, err := formatter.Format(data)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	if !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	_, err = io.WriteString(w, result)
	return err
}

// outputError prints err. Structured formats get a StructuredError on
// stdout; the table format leaves printing to main. The returned error
// carries exitCode.
func outputError(w io.Writer, format string, err error, code string, exitCode int) error {
	if !output.IsStructured(format) {
		return &exitError{code: exitCode, err: err}
	}

	formatter, fmtErr := output.NewFormatter(format)
	if fmtErr != nil {
		return &exitError{code: exitCode, err: err}
	}
	result, fmtErr := formatter.FormatError(output.FromError(err, code))
	if fmtErr != nil {
		return &exitError{code: exitCode, err: err}
	}
	fmt.Fprintln(w, result)
	return &exitError{code: exitCode, err: err, reported: true}
}

// newAPIClient connects to the serve process at server, over HTTPS when
// the config enables TLS. cfg may be nil.
func newAPIClient(cfg *config.Config, server string, logger *zap.SugaredLogger) (*cliclient.Client, error) {
	if cfg == nil || !cfg.TLS.Enabled {
		return cliclient.NewClient(server, logger), nil
	}
	tlsConfig, err := tlslocal.ClientTLSConfig(cfg.CertsDir(), cfg.TLS.RequireClientCert)
	if err != nil {
		return nil, err
	}
	return cliclient.NewClientWithTLS(server, tlsConfig, logger), nil
}

// cliError adds the request ID of an API error to the message so the daemon
// log can be searched for it.
func cliError(prefix string, err error) error {
	var apiErr *cliclient.APIError
	if errors.As(err, &apiErr) && apiErr.HasRequestID() {
		return fmt.Errorf("%s: %s (request_id: %s)", prefix, apiErr.Message, apiErr.RequestID)
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

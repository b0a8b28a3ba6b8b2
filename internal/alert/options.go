package alert

import (
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"nmhealth-go/internal/config"
	"nmhealth-go/internal/kerberos"
	"nmhealth-go/internal/transport"
)

// OptionsFromConfig builds evaluator options from the evaluator section of
// the application config. The Kerberos requester shares the anonymous
// client's transport so TLS settings apply to both.
func OptionsFromConfig(cfg *config.EvaluatorConfig, logger *zap.Logger, tracer oteltrace.Tracer) Options {
	if cfg == nil {
		cfg = config.DefaultConfig().Evaluator
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := transport.NewClient(transport.ClientConfig{
		MaxRedirects:       cfg.MaxRedirects,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		TraceHTTP:          cfg.TraceHTTP,
	}, logger)

	spnego := kerberos.SPNEGOConfig{}
	var tempDirs kerberos.TempDirProvider = kerberos.OSTempDir{}
	if cfg.Kerberos != nil {
		spnego.Krb5ConfPath = cfg.Kerberos.Krb5Conf
		spnego.KinitTimer = cfg.Kerberos.KinitTimer.Std()
		if cfg.Kerberos.TempDir != "" {
			tempDirs = kerberos.StaticTempDir(cfg.Kerberos.TempDir)
		}
	}

	return Options{
		HTTP:     client,
		Kerberos: kerberos.NewSPNEGORequester(spnego, client.HTTPClient().Transport, logger),
		TempDirs: tempDirs,
		Logger:   logger,
		Tracer:   tracer,
	}
}

package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		" WARN ":  "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"trace":   "TRACE",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for input, expected := range cases {
		require.Equal(t, expected, parseLogLevel(input), input)
	}
}

func TestServerLoggerConfig(t *testing.T) {
	t.Setenv("LABGATE_ENVIRONMENT", "staging")

	cfg := serverLoggerConfig("labgate", "debug", "sepolia")
	require.Equal(t, logging.ProfileStructured, cfg.Profile)
	require.Equal(t, "DEBUG", cfg.DefaultLevel)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "sepolia", cfg.StaticFields["network"])

	logger, err := logging.New(cfg)
	require.NoError(t, err)
	logger.Info("Structured logger ready", zap.String("component", "test"))
}

func TestInitLoggers(t *testing.T) {
	InitCLILogger("labgate-test", true)
	require.NotNil(t, CLILogger)

	InitServerLogger("labgate-test", "info")
	require.NotNil(t, ServerLogger)
}

func TestResolvePort(t *testing.T) {
	port, err := resolvePort("[::]:9191")
	require.NoError(t, err)
	require.Equal(t, 9191, port)

	_, err = resolvePort("no-port")
	require.Error(t, err)
}

// Package cmd implements the collector's command-line interface.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	listenAddress string
	databaseURL   string
	environment   string
	logFormat     string
	noColor       bool
	verbose       bool
}

// globalState groups together process-external state — CLI args, env
// vars, the filesystem, standard streams, signal hooks and the logger —
// the same way `cmd/root.go`'s globalState does, so none of it is reached
// for directly through the os package outside of newGlobalState.
type globalState struct {
	ctx context.Context

	fs    afero.Fs
	args  []string
	env   map[string]string

	defaultFlags, flags globalFlags

	outMutex       *sync.Mutex
	stdOut, stdErr *os.File

	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)

	logger logrus.FieldLogger
}

// newGlobalState builds a globalState wired to the real process: real
// args, real env, real filesystem, real signal handling.
func newGlobalState(ctx context.Context) *globalState {
	isDumbTerm := os.Getenv("TERM") == "dumb"
	stderrTTY := !isDumbTerm && (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()))

	env := buildEnvMap(os.Environ())
	_, noColorSet := env["NO_COLOR"]

	logger := &logrus.Logger{
		Out: colorable.NewColorable(os.Stderr),
		Formatter: &logrus.TextFormatter{
			ForceColors:   stderrTTY,
			DisableColors: !stderrTTY || noColorSet || env["COLLECTOR_NO_COLOR"] != "",
		},
		Hooks: make(logrus.LevelHooks),
		Level: logrus.InfoLevel,
	}

	defaultFlags := getDefaultFlags()

	return &globalState{
		ctx:          ctx,
		fs:           afero.NewOsFs(),
		args:         append(make([]string, 0, len(os.Args)), os.Args...),
		env:          env,
		defaultFlags: defaultFlags,
		flags:        getFlags(defaultFlags, env),
		outMutex:     &sync.Mutex{},
		stdOut:       os.Stdout,
		stdErr:       os.Stderr,
		signalNotify: signal.Notify,
		signalStop:   signal.Stop,
		logger:       logger,
	}
}

// newGlobalTestState builds a globalState over an in-memory filesystem
// and a fixed env map, for exercising command wiring without touching
// the real process — the same role `cmd.NewGlobalTestState` plays for
// the teacher's own cmd tests.
func newGlobalTestState(env map[string]string) *globalState {
	defaultFlags := getDefaultFlags()
	logger := logrus.New()
	logger.Out = os.Stderr
	return &globalState{
		ctx:          context.Background(),
		fs:           afero.NewMemMapFs(),
		args:         nil,
		env:          env,
		defaultFlags: defaultFlags,
		flags:        getFlags(defaultFlags, env),
		outMutex:     &sync.Mutex{},
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
		logger:       logger,
	}
}

func getDefaultFlags() globalFlags {
	return globalFlags{
		listenAddress: ":4200",
		databaseURL:   "postgres://localhost:5432/tracer",
		environment:   "production",
		logFormat:     "text",
	}
}

func getFlags(defaultFlags globalFlags, env map[string]string) globalFlags {
	result := defaultFlags
	if val, ok := env["COLLECTOR_LISTEN_ADDRESS"]; ok {
		result.listenAddress = val
	}
	if val, ok := env["COLLECTOR_DATABASE_URL"]; ok {
		result.databaseURL = val
	}
	if val, ok := env["COLLECTOR_ENVIRONMENT"]; ok {
		result.environment = val
	}
	if val, ok := env["COLLECTOR_LOG_FORMAT"]; ok {
		result.logFormat = val
	}
	if env["COLLECTOR_NO_COLOR"] != "" {
		result.noColor = true
	}
	if env["COLLECTOR_VERBOSE"] != "" {
		result.verbose = true
	}
	return result
}

func buildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v := parseEnvKeyValue(kv)
		env[k] = v
	}
	return env
}

func parseEnvKeyValue(kv string) (string, string) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:]
		}
	}
	return kv, ""
}

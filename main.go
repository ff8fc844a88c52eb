package main

import (
	"fmt"
	stdlog "log"
	"os"
	goruntime "runtime"

	"github.com/integrii/flaggy"

	"github.com/jaewoo-rain/webide/pkg/auth"
	"github.com/jaewoo-rain/webide/pkg/broker"
	"github.com/jaewoo-rain/webide/pkg/config"
	"github.com/jaewoo-rain/webide/pkg/log"
	"github.com/jaewoo-rain/webide/pkg/manager"
	"github.com/jaewoo-rain/webide/pkg/metadata"
	"github.com/jaewoo-rain/webide/pkg/ports"
	"github.com/jaewoo-rain/webide/pkg/runner"
	"github.com/jaewoo-rain/webide/pkg/runtime"
	"github.com/jaewoo-rain/webide/pkg/server"
	"github.com/jaewoo-rain/webide/pkg/session"
	"github.com/jaewoo-rain/webide/pkg/workspace"
)

var (
	commit      string
	version     = "unversioned"
	date        string
	buildSource = "unknown"

	debuggingFlag = false
)

func main() {
	info := fmt.Sprintf(
		"%s\nDate: %s\nBuildSource: %s\nCommit: %s\nOS: %s\nArch: %s",
		version,
		date,
		buildSource,
		commit,
		goruntime.GOOS,
		goruntime.GOARCH,
	)

	flaggy.SetName("webide")
	flaggy.SetDescription("Session broker and terminal gateway for browser IDE sandboxes")
	flaggy.Bool(&debuggingFlag, "d", "debug", "print debug logs")
	flaggy.SetVersion(info)
	flaggy.Parse()

	if debuggingFlag {
		os.Setenv("DEBUG", "TRUE")
	}

	appConfig, err := config.NewAppConfig("webide", version, commit, date)
	if err != nil {
		stdlog.Fatal(err.Error())
	}

	logger := log.NewLogger(appConfig)
	if appConfig.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty; every token will be rejected")
	}

	var rt runtime.ContainerRuntime
	switch appConfig.Runtime {
	case "docker":
		rt, err = runtime.NewDockerRuntime(logger)
	case "kubernetes":
		rt, err = runtime.NewKubeRuntime(logger, appConfig.K8sNamespace)
	default:
		err = fmt.Errorf("unknown runtime %q (want docker or kubernetes)", appConfig.Runtime)
	}
	if err != nil {
		logger.Fatal(err.Error())
	}
	defer rt.Close()

	registry := session.NewRegistry()
	materializer := &workspace.Materializer{Log: logger, Runtime: rt}
	mgr := &manager.Manager{
		Log:      logger,
		Config:   appConfig,
		Runtime:  rt,
		Metadata: metadata.NewClient(logger, appConfig.DataAPIURL),
		Pool:     ports.NewPool(appConfig.AllowedNoVNCPorts),
	}

	srv := &server.Server{
		Log:      logger,
		Config:   appConfig,
		Verifier: auth.NewVerifier(appConfig.JWTSecret),
		Manager:  mgr,
		Broker:   broker.New(logger, appConfig, rt, registry),
		Runner: &runner.Runner{
			Log:          logger,
			Config:       appConfig,
			Runtime:      rt,
			Sessions:     registry,
			Materializer: materializer,
		},
		Materializer: materializer,
	}

	if err := srv.Run(); err != nil {
		logger.Fatal(err.Error())
	}
}

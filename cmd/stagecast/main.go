// Command stagecast runs the conversation orchestrator as an HTTP service:
// a REST control surface plus a websocket feed per conversation.
package main

import (
	"fmt"
	"os"

	"github.com/stagecast/stagecast/config"
	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/display"
	"github.com/stagecast/stagecast/engine"
	"github.com/stagecast/stagecast/logging"
	"github.com/stagecast/stagecast/model/openai"
	"github.com/stagecast/stagecast/server"
	"github.com/stagecast/stagecast/speech"
	"github.com/stagecast/stagecast/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "stagecast:", err)
		os.Exit(1)
	}
}

func run() error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultLoggerConfig()
	if env.DebugMode {
		logCfg.Level = logging.LogLevelDebug
	}
	logger := logging.NewLogger(logCfg)

	fileStore, err := store.NewFileStore(env.DataDir, func(o *store.FileStoreOptions) {
		o.Logger = logger.WithComponent("store")
	})
	if err != nil {
		return err
	}

	hub := display.NewHub(func(o *display.Options) {
		o.Logger = logger.WithComponent("display")
	})

	var synth core.Synthesizer
	var player core.Player
	if env.TTSBaseURL != "" {
		synth = speech.NewHTTPSynthesizer(env.TTSBaseURL)
		player = speech.NopPlayer{}
	}

	eng := engine.New(func(o *engine.Options) {
		o.Store = fileStore
		o.Sink = hub
		o.Factory = openai.Factory()
		o.Logger = logger
		o.DefaultAPIKey = env.OpenAIAPIKey
		o.Synthesizer = synth
		o.Player = player
	})
	defer eng.Close()

	srv := server.New(eng, hub, func(o *server.Options) {
		o.Logger = logger.WithComponent("server")
		o.Debug = env.DebugMode
	})
	return srv.Run(env.Addr)
}

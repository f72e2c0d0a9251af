package main

import (
	"errors"
	"flag"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/campuskit/remotehub/pkg/config"
	"github.com/campuskit/remotehub/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	configPath = flag.String("config", "/etc/remotehub/agent.yaml", "Config file path")
	serverURL  = flag.String("server", "", "Server URL (overrides config)")
	clientID   = flag.String("client-id", "", "Client ID (overrides config)")
	interval   = flag.Duration("interval", 0, "Poll interval (overrides config)")
	Version    = "dev"
)

type Agent struct {
	cfg   *config.AgentConfig
	api   *apiClient
	state *agentState
}

func main() {
	flag.Parse()
	configureLogger()
	log.Info().Str("version", Version).Msg("remotehub agent starting")

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *clientID != "" {
		cfg.ClientID = *clientID
	}
	if *interval > 0 {
		cfg.PollIntervalS = int(interval.Seconds())
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	applyLogging(cfg.Logging)

	agent := &Agent{
		cfg: cfg,
		api: newAPIClient(
			cfg.ServerURL,
			time.Duration(cfg.RequestTimeoutS)*time.Second,
			newRetrier(cfg.RetryInitialMs, cfg.RetryMaxMs, cfg.RetryMaxAttempts),
		),
	}

	if err := agent.bootstrap(); err != nil {
		log.Fatal().Err(err).Msg("failed to register with server")
	}
	log.Info().
		Str("client_id", cfg.ClientID).
		Str("server", cfg.ServerURL).
		Int("interval_s", cfg.PollIntervalS).
		Msg("agent registered")

	agent.pollOnce()

	jitter := time.Duration(cfg.PollJitterS) * time.Second
	ticker := time.NewTicker(time.Duration(cfg.PollIntervalS) * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if jitter > 0 {
			time.Sleep(time.Duration(rand.Int63n(int64(jitter))))
		}
		agent.pollOnce()
	}
}

// bootstrap loads the persisted credential (generating a fresh one on
// first run) and registers. Registration is idempotent on our origin, so
// a restart just gets "already registered".
func (a *Agent) bootstrap() error {
	state, err := loadState(a.cfg.StatePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		password, err := protocol.GenerateCredential(12)
		if err != nil {
			return err
		}
		state = &agentState{Password: password}
		if err := saveState(a.cfg.StatePath, state); err != nil {
			return err
		}
		log.Info().Msg("generated bootstrap credential")
	}
	a.state = state
	return a.register()
}

func (a *Agent) register() error {
	envelope, err := a.api.register(a.cfg.ClientID, a.state.Password)
	if err != nil {
		return err
	}
	if !envelope.Success {
		return errors.New(envelope.Message)
	}
	return nil
}

// pollOnce is one heartbeat-plus-work cycle. A failed cycle is logged and
// retried on the next tick; the agent never exits over a bad poll.
func (a *Agent) pollOnce() {
	envelope, err := a.api.poll(a.cfg.ClientID)
	if err != nil {
		log.Error().Err(err).Msg("poll failed")
		return
	}
	if !envelope.Success {
		// The server may have pruned us during a long offline stretch;
		// re-register with the credential we still hold.
		if envelope.Message == "unknown client" {
			log.Warn().Msg("server no longer knows this client, re-registering")
			if err := a.register(); err != nil {
				log.Error().Err(err).Msg("re-registration failed")
			}
			return
		}
		log.Warn().Str("message", envelope.Message).Msg("poll refused")
		return
	}
	if envelope.Data == nil {
		return
	}
	a.execute(envelope.Data)
}

func (a *Agent) execute(cmd *protocol.CommandDescriptor) {
	log.Info().Uint("command_id", cmd.ID).Str("kind", cmd.Kind).Msg("executing command")

	payload, err := protocol.DecodePayload(cmd.Kind, cmd.Args)
	if err != nil {
		a.fail(cmd.ID, "unsupported command: "+err.Error())
		return
	}

	switch p := payload.(type) {
	case protocol.ChangePasswordPayload:
		a.rotateCredential(cmd.ID, p)
	case protocol.RebootPayload:
		if err := rebootMachine(); err != nil {
			a.fail(cmd.ID, err.Error())
		}
	case protocol.LockScreenPayload:
		if err := lockScreen(p.Message); err != nil {
			a.fail(cmd.ID, err.Error())
		}
	case protocol.UnlockScreenPayload:
		if err := unlockScreen(); err != nil {
			a.fail(cmd.ID, err.Error())
		}
	}
}

// rotateCredential completes a changePassword command: use the staged
// value when the server forwarded one, otherwise generate our own. The
// new credential is persisted only after the server acknowledged it, so a
// crash in between leaves us with the still-valid old one.
func (a *Agent) rotateCredential(commandID uint, p protocol.ChangePasswordPayload) {
	next := p.NextPassword
	if next == "" {
		generated, err := protocol.GenerateCredential(12)
		if err != nil {
			a.fail(commandID, "credential generation failed: "+err.Error())
			return
		}
		next = generated
	}

	envelope, err := a.api.submitCredential(a.cfg.ClientID, commandID, next)
	if err != nil {
		log.Error().Err(err).Uint("command_id", commandID).Msg("credential submission failed")
		return
	}
	if !envelope.Success {
		log.Error().Str("message", envelope.Message).Uint("command_id", commandID).Msg("credential rejected")
		return
	}

	a.state.Password = next
	if err := saveState(a.cfg.StatePath, a.state); err != nil {
		log.Error().Err(err).Msg("failed to persist rotated credential")
		return
	}
	log.Info().Uint("command_id", commandID).Msg("credential rotated")
}

func (a *Agent) fail(commandID uint, result string) {
	log.Warn().Uint("command_id", commandID).Str("result", result).Msg("command failed")
	if _, err := a.api.reportFailure(a.cfg.ClientID, commandID, result); err != nil {
		log.Error().Err(err).Uint("command_id", commandID).Msg("failure report did not reach server")
	}
}

func configureLogger() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("REMOTEHUB_LOG_LEVEL"))); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger().Level(level)
	zerolog.SetGlobalLevel(level)
}

func applyLogging(cfg config.LoggingConfig) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil {
		level = parsed
	}
	if cfg.JSON {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	} else {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(writer).With().Timestamp().Logger().Level(level)
	}
	zerolog.SetGlobalLevel(level)
}

package main

import (
	"fmt"
	"time"

	"github.com/zulandar/csmportal/internal/access"
	"github.com/zulandar/csmportal/internal/config"
	"github.com/zulandar/csmportal/internal/gateway"
	"github.com/zulandar/csmportal/internal/jobmon"
	"github.com/zulandar/csmportal/internal/logging"
	"github.com/zulandar/csmportal/internal/notify"
	"github.com/zulandar/csmportal/internal/session"
	"github.com/zulandar/csmportal/internal/workflow"
	"go.uber.org/zap"
)

// notifyTimeout bounds one job-outcome notification.
const notifyTimeout = 10 * time.Second

// app is the wired set of components shared by serve and refresh.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	gate     *access.Gate
	monitor  *jobmon.Monitor
	service  *workflow.Service
	sessions *session.Store
}

// loadApp reads configuration and wires every component. ConfigError is
// fatal; an invalid PIN only puts the gate into fail-closed mode.
func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	if !cfg.PINValid() {
		logger.Warn("access PIN missing or not 6 digits, portal is locked")
	}
	gate := access.New(access.Opts{
		PIN:         cfg.Access.PIN,
		Valid:       cfg.PINValid(),
		MaxAttempts: cfg.Access.MaxAttempts,
		Lockout:     cfg.Access.Lockout,
	})

	client, err := gateway.New(gateway.Opts{
		BaseURL:         cfg.API.BaseURL,
		Key:             cfg.API.Key,
		DataTimeout:     cfg.API.DataTimeout,
		DownloadTimeout: cfg.API.DownloadTimeout,
		Logger:          logger.Named("gateway"),
	})
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return nil, err
	}
	monOpts := jobmon.Opts{
		Backend:  client,
		Interval: cfg.Job.PollInterval,
		Timeout:  cfg.Job.Timeout,
		Logger:   logger.Named("jobmon"),
	}
	if notifier.Len() > 0 {
		monOpts.OnFinish = notify.JobHook(notifier, notifyTimeout, logger.Named("notify"))
	}
	monitor, err := jobmon.New(monOpts)
	if err != nil {
		return nil, err
	}

	service, err := workflow.New(workflow.Opts{
		Backend:         client,
		Jobs:            monitor,
		RequiredColumns: cfg.Contacts.RequiredColumns,
		Logger:          logger.Named("workflow"),
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      logger,
		gate:     gate,
		monitor:  monitor,
		service:  service,
		sessions: session.NewStore(cfg.Server.SessionTTL, time.Now),
	}, nil
}

// buildNotifier creates a notifier for every configured chat platform.
func buildNotifier(cfg config.NotifyConfig) (*notify.Multi, error) {
	var notifiers []notify.Notifier
	if cfg.Slack.Enabled() {
		s, err := notify.NewSlack(notify.SlackOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, s)
	}
	if cfg.Discord.Enabled() {
		d, err := notify.NewDiscord(notify.DiscordOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, d)
	}
	return notify.NewMulti(notifiers...), nil
}

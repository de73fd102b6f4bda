// Package app wires configuration into stores, senders and services for the
// server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/magictalent/ai-agent-backend/internal/channels"
	"github.com/magictalent/ai-agent-backend/internal/clock"
	"github.com/magictalent/ai-agent-backend/internal/config"
	"github.com/magictalent/ai-agent-backend/internal/db"
	appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
	"github.com/magictalent/ai-agent-backend/internal/logging"
	"github.com/magictalent/ai-agent-backend/internal/queue"
	"github.com/magictalent/ai-agent-backend/internal/repository"
	"github.com/magictalent/ai-agent-backend/internal/service"
)

// Stores groups the persistence collaborators.
type Stores struct {
	Sequences repository.SequenceStore
	Leads     repository.LeadStore
	Campaigns repository.CampaignStore
	Messages  repository.MessageLog
	Tokens    repository.TokenStore

	// DB is nil in memory mode.
	DB *sql.DB
	// Memory is set in memory mode so callers can seed it.
	Memory *repository.MemoryStore
}

func (s *Stores) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// OpenStores returns Postgres repositories, or a MemoryStore when
// STORE_DRIVER=memory.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	if cfg.StoreDriver == "memory" {
		mem := repository.NewMemoryStore()
		mem.LeaseTimeout = cfg.LeaseTimeout
		return &Stores{
			Sequences: mem,
			Leads:     mem,
			Campaigns: mem,
			Messages:  mem,
			Tokens:    mem,
			Memory:    mem,
		}, nil
	}

	conn, err := db.Open(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	return &Stores{
		Sequences: &repository.SequenceRepository{DB: conn, LeaseTimeout: cfg.LeaseTimeout},
		Leads:     &repository.LeadRepository{DB: conn},
		Campaigns: &repository.CampaignRepository{DB: conn},
		Messages:  &repository.MessageRepository{DB: conn},
		Tokens:    &repository.TokenRepository{DB: conn},
		DB:        conn,
	}, nil
}

// Senders groups the channel collaborators.
type Senders struct {
	Email    channels.EmailSender
	SMS      channels.TextSender
	WhatsApp channels.TextSender
	Calendar channels.Calendar

	closers []func()
}

func (s *Senders) Close() {
	for _, c := range s.closers {
		c()
	}
}

// NewSenders builds each channel from cfg. A channel without credentials
// gets an Unconfigured stand-in so its items fail with a clear reason.
func NewSenders(ctx context.Context, cfg *config.Config, tokens repository.TokenStore) *Senders {
	log := logging.Component("app")
	httpClient := &http.Client{Timeout: 15 * time.Second}
	s := &Senders{}

	if cfg.SMTPHost != "" && cfg.SMTPFrom != "" {
		smtp := channels.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
		s.Email = channels.NewLimitedEmail(smtp, cfg.EmailRatePerSecond, cfg.RateBurst)
	} else {
		log.Warn().Msg("SMTP_HOST or SMTP_FROM not set, email sends will fail")
		s.Email = channels.UnconfiguredEmail{Name: "email"}
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFrom != "" {
		twilio := &channels.TwilioSMS{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFrom,
			BaseURL:    cfg.TwilioBaseURL,
			HTTP:       httpClient,
		}
		s.SMS = channels.NewLimitedText(twilio, cfg.SMSRatePerSecond, cfg.RateBurst)
	} else {
		s.SMS = channels.Unconfigured{Name: "sms"}
	}

	s.WhatsApp = newWhatsApp(ctx, cfg, httpClient, s)

	s.Calendar = &channels.GoogleCalendar{
		Tokens:  tokens,
		BaseURL: cfg.CalendarBaseURL,
		HTTP:    httpClient,
	}
	return s
}

// newWhatsApp prefers a paired device session and falls back to the Cloud API.
func newWhatsApp(ctx context.Context, cfg *config.Config, httpClient *http.Client, s *Senders) channels.TextSender {
	log := logging.Component("app")

	if cfg.WhatsAppSessionDB != "" {
		device, err := channels.NewWhatsAppDevice(ctx, cfg.WhatsAppSessionDB)
		switch {
		case err == nil:
			s.closers = append(s.closers, device.Close)
			return channels.NewLimitedText(device, cfg.SMSRatePerSecond, cfg.RateBurst)
		case errors.Is(err, appErrors.ErrNotConfigured):
			log.Warn().Err(err).Msg("whatsapp device not paired")
		default:
			log.Error().Err(err).Msg("whatsapp device unavailable")
		}
	}

	if cfg.WhatsAppToken != "" && cfg.WhatsAppPhoneNumberID != "" {
		cloud := &channels.WhatsAppCloud{
			Token:         cfg.WhatsAppToken,
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
			BaseURL:       cfg.WhatsAppBaseURL,
			HTTP:          httpClient,
		}
		return channels.NewLimitedText(cloud, cfg.SMSRatePerSecond, cfg.RateBurst)
	}
	return channels.Unconfigured{Name: "whatsapp"}
}

func NewBuilder(stores *Stores, clk clock.Clock) *service.SequenceBuilder {
	return service.NewSequenceBuilder(stores.Sequences, stores.Leads, stores.Campaigns, clk)
}

func NewDispatcher(cfg *config.Config, stores *Stores, senders *Senders, clk clock.Clock) *service.Dispatcher {
	return &service.Dispatcher{
		Store:           stores.Sequences,
		Leads:           stores.Leads,
		MessageLog:      stores.Messages,
		Email:           senders.Email,
		SMS:             senders.SMS,
		WhatsApp:        senders.WhatsApp,
		Calendar:        senders.Calendar,
		Clock:           clk,
		WorkerID:        cfg.WorkerID,
		DispatchTimeout: cfg.DispatchTimeout,
		LogAllChannels:  cfg.LogAllChannels,
	}
}

// OpenPublisher returns the queue that bulk starts are published to:
// RabbitMQ when AMQP_URL is reachable, otherwise an in-process queue with
// the sequence-start subscriber attached.
func OpenPublisher(ctx context.Context, cfg *config.Config, starter queue.SequenceStarter) (queue.Queue, error) {
	if cfg.AMQPURL != "" {
		q, err := queue.DialAMQP(cfg.AMQPURL)
		if err == nil {
			return q, nil
		}
		log := logging.Component("app")
		log.Warn().Err(err).Msg("rabbitmq unavailable, bulk starts use the in-process queue")
	}
	mem := queue.NewInMemoryQueue()
	if err := queue.StartSequenceStartSubscriber(ctx, mem, starter); err != nil {
		return nil, err
	}
	return mem, nil
}

// Describe summarises the wiring for the startup log line.
func (s *Stores) Describe() string {
	if s.Memory != nil {
		return "memory"
	}
	return fmt.Sprintf("postgres (%d open)", s.DB.Stats().OpenConnections)
}

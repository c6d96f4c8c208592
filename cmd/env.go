package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/config"
	"github.com/sells-group/leadpipe/internal/dedup"
	"github.com/sells-group/leadpipe/internal/fetch"
	"github.com/sells-group/leadpipe/internal/store"
	"github.com/sells-group/leadpipe/internal/worker"
	"github.com/sells-group/leadpipe/pkg/outreach"
	"github.com/sells-group/leadpipe/pkg/prospect"
	sfpkg "github.com/sells-group/leadpipe/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadpipe.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func fetchTarget(t config.TargetConfig) fetch.TargetConfig {
	return fetch.TargetConfig{
		MinInterval:       time.Duration(t.MinIntervalMs) * time.Millisecond,
		JitterRange:       time.Duration(t.JitterRangeMs) * time.Millisecond,
		MaxRetries:        t.MaxRetries,
		BackoffMultiplier: t.BackoffMultiplier,
	}
}

func initFetch() *fetch.Client {
	targets := make(map[string]fetch.TargetConfig, len(cfg.Fetch.Targets))
	for host, t := range cfg.Fetch.Targets {
		targets[host] = fetchTarget(t)
	}
	return fetch.NewClient(fetch.Options{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		Default:   fetchTarget(cfg.Fetch.Default),
		Targets:   targets,
	})
}

func initEngine(st store.Store) *dedup.Engine {
	return dedup.NewEngine(st, cfg.Dedup.SimilarityThreshold)
}

func workerConfig() worker.Config {
	return worker.Config{
		BatchSize:   cfg.Worker.BatchSize,
		Parallelism: cfg.Worker.Parallelism,
	}
}

func initProspect(fc *fetch.Client) *prospect.Client {
	var opts []prospect.Option
	if cfg.Prospect.BaseURL != "" {
		opts = append(opts, prospect.WithBaseURL(cfg.Prospect.BaseURL))
	}
	return prospect.NewClient(fc, cfg.Prospect.Key, opts...)
}

func initOutreach(fc *fetch.Client) (*outreach.Composer, *outreach.WebhookTransport, error) {
	composer, err := outreach.NewComposer("", cfg.Outreach.Template, cfg.Outreach.FromName)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Outreach.WebhookURL == "" {
		return nil, nil, eris.New("outreach webhook URL is required (LEADPIPE_OUTREACH_WEBHOOK_URL)")
	}
	return composer, outreach.NewWebhookTransport(fc, cfg.Outreach.WebhookURL), nil
}

func initSalesforce() (*sfpkg.Store, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEADPIPE_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewStore(sfpkg.NewClient(sf), sfpkg.WithObject(cfg.Salesforce.LeadObject)), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"calboard/internal/calendar"
	"calboard/internal/config"
	"calboard/internal/credential"
	"calboard/internal/ics"
	"calboard/internal/source"
	"calboard/internal/store"
)

// app bundles what every subcommand opens from the config.
type app struct {
	cfg    *config.Config
	loc    *time.Location
	norm   *calendar.Normalizer
	policy credential.Policy
	oauth  *oauth2.Config

	kv     *store.SQLiteStore
	writer *store.AsyncWriter
}

func openApp(cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	kv, err := store.OpenSQLite(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		loc:    loc,
		norm:   calendar.NewNormalizer(loc),
		policy: cfg.Policy(loc),
		oauth:  credential.NewOAuthConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.Scopes),
		kv:     kv,
		writer: store.NewAsyncWriter(kv),
	}, nil
}

// Close drains pending writes and closes the database.
func (a *app) Close() error {
	a.writer.Close()
	return a.kv.Close()
}

// refreshProvider serves automatic and API-triggered acquisitions.
func (a *app) refreshProvider() credential.Provider {
	return &credential.RefreshTokenProvider{Config: a.oauth, Store: a.kv}
}

func (a *app) source() (source.Source, error) {
	return buildSource(a.cfg, &http.Client{Timeout: 30 * time.Second})
}

func buildSource(cfg *config.Config, client *http.Client) (source.Source, error) {
	switch cfg.Source.Type {
	case config.SourceGoogle:
		return source.NewGoogle(cfg.Source.CalendarID, cfg.Source.MaxResults), nil
	case config.SourceICS:
		feeds := make([]ics.Feed, 0, len(cfg.Source.ICS))
		for _, f := range cfg.Source.ICS {
			feeds = append(feeds, ics.Feed{ID: f.FeedID(), URL: f.URL, Color: f.Color()})
		}
		return source.NewICS(ics.NewFetcher(cfg.Source.ICSCacheDir, client), feeds, cfg.Source.MaxResults), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

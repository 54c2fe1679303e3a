package controllers

import (
	"fmt"
	"strings"

	"github.com/amaumene/totalrecall/internal/cache"
	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/services/imdb"
	"github.com/amaumene/totalrecall/internal/services/plex"
	"github.com/amaumene/totalrecall/internal/services/simkl"
	"github.com/amaumene/totalrecall/internal/services/trakt"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/sirupsen/logrus"
)

// BuildSources creates the enabled adapters in source_preference order
func BuildSources(cfg *config.Config, store *credentials.Store, cacheMgr *cache.Manager, logger *logrus.Logger) ([]sources.Source, error) {
	var out []sources.Source
	for _, name := range cfg.Resolution.SourcePreference {
		name = strings.ToLower(name)
		if !cfg.IsSourceEnabled(name) {
			logger.WithField("source", name).Warn("Source listed in source_preference is disabled, skipping")
			continue
		}

		switch name {
		case models.SourceTrakt:
			out = append(out, trakt.NewClient(cfg.Trakt, store.TokenStore(models.SourceTrakt), logger))
		case models.SourceSimkl:
			out = append(out, simkl.NewClient(cfg.Simkl, store, logger))
		case models.SourcePlex:
			out = append(out, plex.NewClient(cfg.Sources.Plex, store, logger))
		case models.SourceImdb:
			driver, err := imdb.NewOutboxDriver(cfg.Paths.OutboxDir(), logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create imdb outbox: %w", err)
			}
			out = append(out, imdb.NewClient(cfg.Sources.Imdb, store, cacheMgr, driver, logger))
		default:
			return nil, fmt.Errorf("%w: unknown source %q", config.ErrInvalid, name)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no enabled source", config.ErrInvalid)
	}
	return out, nil
}

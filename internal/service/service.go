// Package service exposes the coverage operations to the HTTP layer and CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/broadband-coverage/internal/aggregate/geomerge"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
	"github.com/mohammed-shakir/broadband-coverage/internal/techs"
	"github.com/mohammed-shakir/broadband-coverage/internal/tile"
)

// MaxTileZoom bounds the zoom accepted by the tile operations.
const MaxTileZoom = 16

type Prober interface {
	Technologies(ctx context.Context, providerID string) ([]string, error)
}

type Resolver interface {
	Resolve(ctx context.Context, name string) (model.ProviderIdentity, bool, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]model.ProviderIdentity, error)
}

type TabularTechs interface {
	Technologies(ctx context.Context, providerID string) ([]string, error)
}

type CoverageBuilder interface {
	Coverage(ctx context.Context, providerID, techCode string) (model.CoverageResult, error)
}

type TileFetcher interface {
	FetchTile(ctx context.Context, providerID, tech string, t maptile.Tile) model.FetchOutcome[[]byte]
}

type Deps struct {
	Prober   Prober
	Resolver Resolver
	Searcher Searcher
	Tabular  TabularTechs
	Coverage CoverageBuilder
	Tiles    TileFetcher
	Log      *slog.Logger
}

type Service struct {
	d Deps
}

func New(d Deps) *Service {
	return &Service{d: d}
}

func (s *Service) Technologies() []techs.Technology {
	return techs.All()
}

func (s *Service) SearchProviderByName(ctx context.Context, query string, limit int) ([]model.ProviderIdentity, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, model.Invalid("search query is required")
	}
	return s.d.Searcher.Search(ctx, query, limit)
}

// ResolveProviderTechnologies finds the technologies a provider offers. It
// probes providerID, then the identity providerName resolves to, then asks
// the tabular dataset, and finally reports source none. An error is returned
// only when every attempted step failed upstream.
func (s *Service) ResolveProviderTechnologies(ctx context.Context, providerID, providerName string) (model.TechnologyResolution, error) {
	providerID = strings.TrimSpace(providerID)
	providerName = strings.TrimSpace(providerName)
	if providerID == "" && providerName == "" {
		return model.TechnologyResolution{}, model.Invalid("provider id or name is required")
	}
	ctx = logger.WithComponent(logger.WithProvider(ctx, providerID, ""), "technologies")

	var (
		attempts int
		errs     []error
	)
	fail := func(step string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", step, err))
		s.d.Log.WarnContext(ctx, "technology step failed", "step", step, "err", err)
	}

	if providerID != "" {
		attempts++
		codes, err := s.d.Prober.Technologies(ctx, providerID)
		switch {
		case err != nil:
			fail("probe", err)
		case len(codes) > 0:
			return model.TechnologyResolution{
				Technologies: codes,
				Source:       model.ResolvedByProbe,
				ProviderID:   providerID,
				ProviderName: providerName,
			}, nil
		}
	}

	if providerName != "" {
		attempts++
		id, ok, err := s.d.Resolver.Resolve(ctx, providerName)
		switch {
		case err != nil:
			fail("resolve", err)
		case ok && id.ID != providerID:
			attempts++
			codes, err := s.d.Prober.Technologies(ctx, id.ID)
			switch {
			case err != nil:
				fail("probe resolved", err)
			case len(codes) > 0:
				return model.TechnologyResolution{
					Technologies:           codes,
					Source:                 model.ResolvedByName,
					ProviderID:             id.ID,
					ProviderName:           id.Name,
					ResolvedFromProviderID: providerID,
				}, nil
			}
		}
	}

	if providerID != "" {
		attempts++
		codes, err := s.d.Tabular.Technologies(ctx, providerID)
		switch {
		case err != nil:
			fail("tabular", err)
		case len(codes) > 0:
			return model.TechnologyResolution{
				Technologies: codes,
				Source:       model.ResolvedByTabular,
				ProviderID:   providerID,
				ProviderName: providerName,
			}, nil
		}
	}

	if attempts > 0 && len(errs) == attempts {
		return model.TechnologyResolution{}, errors.Join(errs...)
	}
	return model.TechnologyResolution{
		Technologies: []string{},
		Source:       model.ResolvedByNoSource,
		ProviderID:   providerID,
		ProviderName: providerName,
	}, nil
}

func (s *Service) GetCoverage(ctx context.Context, providerID, techCode string) (model.CoverageResult, error) {
	return s.d.Coverage.Coverage(ctx, strings.TrimSpace(providerID), techCode)
}

// DecodeTile decodes a raw tile payload addressed by z/x/y. Undecodable
// payloads yield an empty slice.
func (s *Service) DecodeTile(data []byte, z, x, y int) []model.GeometryRecord {
	if checkTile(z, x, y) != nil {
		return []model.GeometryRecord{}
	}
	return tile.Decode(data, maptile.New(uint32(x), uint32(y), maptile.Zoom(z)))
}

// ProxyTile fetches one tile and returns its decoded features.
func (s *Service) ProxyTile(ctx context.Context, providerID, tech string, z, x, y int) (*geojson.FeatureCollection, error) {
	providerID = strings.TrimSpace(providerID)
	tech = techs.Normalize(tech)
	if providerID == "" || tech == "" {
		return nil, model.Invalid("provider id and technology code are required")
	}
	if err := checkTile(z, x, y); err != nil {
		return nil, err
	}
	t := maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
	out := s.d.Tiles.FetchTile(ctx, providerID, tech, t)
	if out.Failed() {
		return nil, out.Err
	}
	if !out.OK() {
		return geojson.NewFeatureCollection(), nil
	}
	return geomerge.Collection(tile.Decode(out.Data, t)), nil
}

func checkTile(z, x, y int) error {
	if z < 0 || z > MaxTileZoom {
		return model.Invalid("zoom %d out of range 0..%d", z, MaxTileZoom)
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return model.Invalid("tile %d/%d/%d out of range", z, x, y)
	}
	return nil
}

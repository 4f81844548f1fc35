// Package model defines core domain types shared across the service.
package model

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type Scheme string

const (
	// tile-service provider ids
	SchemePrimary Scheme = "primary"
	// tabular-service provider ids
	SchemeSecondary Scheme = "secondary"
)

type ProviderIdentity struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Scheme         Scheme `json:"scheme"`
	ResolvedFromID string `json:"resolved_from_id,omitempty"`
}

// Source records which fidelity tier produced a coverage result.
type Source string

const (
	SourceHex    Source = "hex"
	SourceState  Source = "state"
	SourceCounty Source = "county"
	SourceNone   Source = "none"
)

type CoverageMeta struct {
	UnitCount      int    `json:"unit_count"`
	DataDate       string `json:"data_date,omitempty"`
	TilesRequested int    `json:"tiles_requested,omitempty"`
	TilesFailed    int    `json:"tiles_failed,omitempty"`
	Unmatched      int    `json:"unmatched,omitempty"`
}

type CoverageResult struct {
	ProviderID string                     `json:"provider_id"`
	TechCode   string                     `json:"tech_code"`
	Source     Source                     `json:"source"`
	Meta       CoverageMeta               `json:"meta"`
	Collection *geojson.FeatureCollection `json:"geometry"`
}

// Empty reports the explicit "no coverage found" outcome.
func (r CoverageResult) Empty() bool {
	return r.Meta.UnitCount == 0
}

// EmptyCoverage builds the zero-count result returned when every tier came back empty.
func EmptyCoverage(providerID, techCode, dataDate string) CoverageResult {
	return CoverageResult{
		ProviderID: providerID,
		TechCode:   techCode,
		Source:     SourceNone,
		Meta:       CoverageMeta{UnitCount: 0, DataDate: dataDate},
		Collection: geojson.NewFeatureCollection(),
	}
}

// GeometryRecord is a single decoded shape plus its properties.
type GeometryRecord struct {
	ID         string
	Layer      string
	Geometry   orb.Geometry
	Properties geojson.Properties
}

func (r GeometryRecord) Feature() *geojson.Feature {
	f := geojson.NewFeature(r.Geometry)
	if r.ID != "" {
		f.ID = r.ID
	}
	for k, v := range r.Properties {
		f.Properties[k] = v
	}
	return f
}

type ResolutionSource string

const (
	ResolvedByProbe    ResolutionSource = "hex"
	ResolvedByName     ResolutionSource = "resolved"
	ResolvedByTabular  ResolutionSource = "tabular"
	ResolvedByNoSource ResolutionSource = "none"
)

type TechnologyResolution struct {
	Technologies           []string         `json:"technologies"`
	Source                 ResolutionSource `json:"source"`
	ProviderID             string           `json:"provider_id"`
	ProviderName           string           `json:"provider_name,omitempty"`
	ResolvedFromProviderID string           `json:"resolved_from_provider_id,omitempty"`
}

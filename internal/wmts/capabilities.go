// Package wmts reads OGC WMTS capabilities documents, such as the ones NASA GIBS
// publishes, and turns their layers into tile layer configs.
package wmts

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"stellarcanvas-desktop/internal/geo"
	"stellarcanvas-desktop/internal/layers"
)

// GIBSBaseURL is the root of the NASA GIBS WMTS endpoints
const GIBSBaseURL = "https://gibs.earthdata.nasa.gov/wmts"

// WMTS XML structures for parsing capabilities
type Capabilities struct {
	XMLName  xml.Name `xml:"Capabilities"`
	Contents Contents `xml:"Contents"`
}

type Contents struct {
	Layers         []Layer         `xml:"Layer"`
	TileMatrixSets []TileMatrixSet `xml:"TileMatrixSet"`
}

type Layer struct {
	Title              string              `xml:"http://www.opengis.net/ows/1.1 Title"`
	Abstract           string              `xml:"http://www.opengis.net/ows/1.1 Abstract"`
	Identifier         string              `xml:"http://www.opengis.net/ows/1.1 Identifier"`
	BoundingBox        *WGS84BoundingBox   `xml:"http://www.opengis.net/ows/1.1 WGS84BoundingBox"`
	Formats            []string            `xml:"Format"`
	Dimensions         []Dimension         `xml:"Dimension"`
	TileMatrixSetLinks []TileMatrixSetLink `xml:"TileMatrixSetLink"`
	ResourceURL        []ResourceURL       `xml:"ResourceURL"`
}

type WGS84BoundingBox struct {
	LowerCorner string `xml:"http://www.opengis.net/ows/1.1 LowerCorner"`
	UpperCorner string `xml:"http://www.opengis.net/ows/1.1 UpperCorner"`
}

// Dimension may come with or without the wmts namespace, so its children are
// matched by local name
type Dimension struct {
	Identifier string   `xml:"http://www.opengis.net/ows/1.1 Identifier"`
	Default    string   `xml:"Default"`
	Values     []string `xml:"Value"`
}

type TileMatrixSetLink struct {
	TileMatrixSet string `xml:"TileMatrixSet"`
}

type ResourceURL struct {
	Format       string `xml:"format,attr"`
	ResourceType string `xml:"resourceType,attr"`
	Template     string `xml:"template,attr"`
}

type TileMatrixSet struct {
	Identifier   string       `xml:"http://www.opengis.net/ows/1.1 Identifier"`
	SupportedCRS string       `xml:"http://www.opengis.net/ows/1.1 SupportedCRS"`
	TileMatrices []TileMatrix `xml:"TileMatrix"`
}

type TileMatrix struct {
	Identifier       string  `xml:"http://www.opengis.net/ows/1.1 Identifier"`
	ScaleDenominator float64 `xml:"ScaleDenominator"`
	MatrixWidth      int     `xml:"MatrixWidth"`
	MatrixHeight     int     `xml:"MatrixHeight"`
	TileWidth        int     `xml:"TileWidth"`
	TileHeight       int     `xml:"TileHeight"`
}

// TimeDimension lists the dates a layer is available for
type TimeDimension struct {
	Default string   `json:"default,omitempty"`
	Values  []string `json:"values"`
}

// BoundingBox is a lon/lat box
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// LayerInfo represents parsed WMTS layer information
type LayerInfo struct {
	Name           string         `json:"name"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	TileMatrixSet  string         `json:"tileMatrixSet"`
	TileMatrixSets []string       `json:"tileMatrixSets"`
	TemplateURL    string         `json:"templateUrl"`
	Format         string         `json:"format"`
	Formats        []string       `json:"formats"`
	Time           *TimeDimension `json:"time,omitempty"`
	BoundingBox    *BoundingBox   `json:"boundingBox,omitempty"`
}

// CapabilitiesURL returns the GIBS capabilities document of a projection, e.g. "epsg4326"
func CapabilitiesURL(base, projection string) string {
	return fmt.Sprintf("%s/%s/best/1.0.0/WMTSCapabilities.xml", strings.TrimRight(base, "/"), strings.ToLower(projection))
}

// FetchCapabilities fetches and parses WMTS capabilities from URL
func FetchCapabilities(ctx context.Context, client *http.Client, url string) (*Capabilities, error) {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capabilities: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch capabilities: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return Parse(data)
}

// Parse decodes a capabilities document
func Parse(data []byte) (*Capabilities, error) {
	var caps Capabilities
	if err := xml.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	return &caps, nil
}

// GetLayers extracts layer information from capabilities. Layers without an
// identifier are skipped.
func GetLayers(caps *Capabilities) []LayerInfo {
	var infos []LayerInfo

	for _, layer := range caps.Contents.Layers {
		if layer.Identifier == "" {
			continue
		}
		info := LayerInfo{
			Name:        layer.Identifier,
			Title:       layer.Title,
			Description: layer.Abstract,
			Formats:     lo.Filter(layer.Formats, func(f string, _ int) bool { return f != "" }),
			Time:        parseTimeDimension(layer.Dimensions),
			BoundingBox: parseBoundingBox(layer.BoundingBox),
		}

		info.TileMatrixSets = lo.FilterMap(layer.TileMatrixSetLinks, func(l TileMatrixSetLink, _ int) (string, bool) {
			return l.TileMatrixSet, l.TileMatrixSet != ""
		})
		if len(info.TileMatrixSets) > 0 {
			info.TileMatrixSet = info.TileMatrixSets[0]
		}

		// Get resource URL template
		for _, resource := range layer.ResourceURL {
			if resource.ResourceType == "tile" {
				info.TemplateURL = resource.Template
				info.Format = resource.Format
				break
			}
		}
		if info.Format == "" {
			info.Format = PickFormat(info)
		}

		infos = append(infos, info)
	}

	return infos
}

func parseTimeDimension(dims []Dimension) *TimeDimension {
	dim, ok := lo.Find(dims, func(d Dimension) bool { return strings.EqualFold(d.Identifier, "time") })
	if !ok {
		return nil
	}

	var values []string
	for _, raw := range dim.Values {
		// Some layers list values separated by commas, others by spaces
		sep := " "
		if strings.Contains(raw, ",") {
			sep = ","
		}
		for _, v := range strings.Split(raw, sep) {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
	}
	return &TimeDimension{Default: strings.TrimSpace(dim.Default), Values: values}
}

func parseBoundingBox(b *WGS84BoundingBox) *BoundingBox {
	if b == nil {
		return nil
	}
	lower, okLower := parseCorner(b.LowerCorner)
	upper, okUpper := parseCorner(b.UpperCorner)
	if !okLower || !okUpper {
		return nil
	}
	return &BoundingBox{West: lower[0], South: lower[1], East: upper[0], North: upper[1]}
}

func parseCorner(s string) ([2]float64, bool) {
	var corner [2]float64
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return corner, false
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return corner, false
		}
		corner[i] = v
	}
	return corner, true
}

// FindTileMatrixSet returns the tile matrix set with the given identifier
func FindTileMatrixSet(caps *Capabilities, id string) (TileMatrixSet, bool) {
	return lo.Find(caps.Contents.TileMatrixSets, func(s TileMatrixSet) bool { return s.Identifier == id })
}

// PickFormat prefers JPEG, then PNG, then whatever the layer offers first
func PickFormat(info LayerInfo) string {
	for _, candidate := range []string{"image/jpeg", "image/jpg", "image/png"} {
		if lo.Contains(info.Formats, candidate) {
			return candidate
		}
	}
	if len(info.Formats) > 0 {
		return info.Formats[0]
	}
	return "image/jpeg"
}

// FormatExtension maps a MIME type to the tile file extension
func FormatExtension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/tiff":
		return "tif"
	default:
		return "jpg"
	}
}

// ConvertTemplateToXYZ converts WMTS template URL to XYZ format
// Example: https://gibs.earthdata.nasa.gov/wmts/epsg4326/best/MODIS_Terra_CorrectedReflectance_TrueColor/default/{Time}/{TileMatrixSet}/{TileMatrix}/{TileRow}/{TileCol}.jpg
// Becomes: https://gibs.earthdata.nasa.gov/wmts/epsg4326/best/MODIS_Terra_CorrectedReflectance_TrueColor/default/{date}/250m/{z}/{y}/{x}.jpg
func ConvertTemplateToXYZ(template, tileMatrixSet string) string {
	r := strings.NewReplacer(
		"{TileMatrixSet}", tileMatrixSet,
		"{TileMatrix}", "{z}",
		"{TileCol}", "{x}",
		"{TileRow}", "{y}",
		"{Time}", "{date}",
	)
	return r.Replace(template)
}

// ValidateWMTSURL checks if a URL is a valid WMTS capabilities endpoint
func ValidateWMTSURL(ctx context.Context, client *http.Client, url string) (bool, error) {
	caps, err := FetchCapabilities(ctx, client, url)
	if err != nil {
		return false, err
	}

	// Check if we got at least one layer
	if len(caps.Contents.Layers) == 0 {
		return false, fmt.Errorf("no layers found in capabilities")
	}

	return true, nil
}

// ToLayerConfig derives a tile layer config from a layer and the tile matrix set it is served in
func ToLayerConfig(info LayerInfo, set TileMatrixSet) (layers.TileLayerConfig, error) {
	if len(set.TileMatrices) == 0 {
		return layers.TileLayerConfig{}, fmt.Errorf("tile matrix set %q has no tile matrices", set.Identifier)
	}
	template := info.TemplateURL
	if template == "" {
		return layers.TileLayerConfig{}, fmt.Errorf("layer %q has no tile resource URL", info.Name)
	}

	base := set.TileMatrices[0]
	cfg := layers.TileLayerConfig{
		ID:          info.Name,
		Title:       info.Title,
		Body:        "earth",
		Attribution: "NASA EOSDIS GIBS",
		URLTemplate: ConvertTemplateToXYZ(template, set.Identifier),
		MinZoom:     0,
		MaxZoom:     len(set.TileMatrices) - 1,
		TileSize:    lo.Ternary(base.TileWidth > 0, base.TileWidth, 256),
		Longitude:   geo.LongitudeSigned,
		RowOrder:    layers.RowOrderXYZ,
	}

	if strings.Contains(set.SupportedCRS, "3857") {
		cfg.Projection = geo.WebMercator
	} else {
		cfg.Projection = geo.Equirectangular
	}

	switch {
	case base.MatrixWidth == base.MatrixHeight:
		cfg.Pyramid = layers.PyramidSquare
	case base.MatrixWidth == 2*base.MatrixHeight:
		cfg.Pyramid = layers.PyramidRectangular
	default:
		return layers.TileLayerConfig{}, fmt.Errorf("tile matrix set %q: unsupported base grid %dx%d", set.Identifier, base.MatrixWidth, base.MatrixHeight)
	}

	if strings.Contains(cfg.URLTemplate, "{date}") {
		cfg.Temporal = temporalRange(info.Time)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return layers.TileLayerConfig{}, err
	}
	return cfg, nil
}

// temporalRange spans every date or period the time dimension lists
func temporalRange(t *TimeDimension) *layers.TemporalRange {
	r := &layers.TemporalRange{DateFormat: layers.DateISO}
	if t == nil {
		return r
	}

	var first, last time.Time
	for _, v := range t.Values {
		// Values are dates or start/end/period intervals
		for _, part := range strings.Split(v, "/") {
			d, err := layers.ParseDate(part)
			if err != nil {
				continue
			}
			if first.IsZero() || d.Before(first) {
				first = d
			}
			if last.IsZero() || d.After(last) {
				last = d
			}
		}
	}
	if !first.IsZero() {
		r.Start = layers.DateISO.Format(first)
		r.End = layers.DateISO.Format(last)
	}
	if d, err := layers.ParseDate(t.Default); err == nil {
		r.Default = layers.DateISO.Format(d)
	}
	return r
}

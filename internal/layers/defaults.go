package layers

import "stellarcanvas-desktop/internal/geo"

const trekBase = "https://trek.nasa.gov/tiles"

// DefaultLayers returns the built-in planetary layers used when no manifest is configured
func DefaultLayers() []TileLayerConfig {
	return []TileLayerConfig{
		{
			ID:          "moon_lro_wac",
			Title:       "Moon LRO WAC Mosaic (Global 303ppd)",
			Body:        "moon",
			Attribution: "NASA Trek",
			URLTemplate: trekBase + "/Moon/EQ/LRO_WAC_Mosaic_Global_303ppd_v02/1.0.0/default/default028mm/{z}/{row}/{col}.jpg",
			MinZoom:     0,
			MaxZoom:     8,
			TileSize:    256,
			Projection:  geo.Equirectangular,
			Longitude:   geo.LongitudeEast360,
			Pyramid:     PyramidRectangular,
			RowOrder:    RowOrderXYZ,
		},
		{
			ID:          "mars_mola",
			Title:       "Mars MGS MOLA Shaded Relief",
			Body:        "mars",
			Attribution: "NASA Trek",
			URLTemplate: trekBase + "/Mars/EQ/Mars_MGS_MOLA_ClrShade_merge_global_463m/1.0.0/default/default028mm/{z}/{row}/{col}.jpg",
			MinZoom:     0,
			MaxZoom:     7,
			TileSize:    256,
			Projection:  geo.Equirectangular,
			Longitude:   geo.LongitudeEast360,
			Pyramid:     PyramidRectangular,
			RowOrder:    RowOrderXYZ,
		},
		{
			ID:          "mercury_mdis",
			Title:       "Mercury MESSENGER MDIS Basemap",
			Body:        "mercury",
			Attribution: "NASA Trek",
			URLTemplate: trekBase + "/Mercury/EQ/Mercury_MESSENGER_MDIS_Basemap_EnhancedColor_Mosaic_Global_665m/1.0.0/default/default028mm/{z}/{row}/{col}.jpg",
			MinZoom:     0,
			MaxZoom:     7,
			TileSize:    256,
			Projection:  geo.Equirectangular,
			Longitude:   geo.LongitudeEast360,
			Pyramid:     PyramidRectangular,
			RowOrder:    RowOrderXYZ,
		},
		{
			ID:          "earth_modis_terra",
			Title:       "Earth MODIS Terra Corrected Reflectance",
			Body:        "earth",
			Attribution: "NASA GIBS",
			URLTemplate: "https://gibs.earthdata.nasa.gov/wmts/epsg3857/best/MODIS_Terra_CorrectedReflectance_TrueColor/default/{date}/GoogleMapsCompatible_Level9/{z}/{y}/{x}.jpg",
			MinZoom:     0,
			MaxZoom:     9,
			TileSize:    256,
			Projection:  geo.WebMercator,
			Longitude:   geo.LongitudeSigned,
			Pyramid:     PyramidSquare,
			RowOrder:    RowOrderTMS,
			Temporal: &TemporalRange{
				Start:      "2000-02-24",
				Default:    "2024-01-15",
				DateFormat: DateISO,
			},
		},
	}
}

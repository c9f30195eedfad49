package types

// SpectralFeatures describes the shape of a spectrum. Every field except
// EstimatedTempo is normalized to [0,1]; tempo is in BPM.
type SpectralFeatures struct {
	Centroid       float64 `json:"centroid"`
	Spread         float64 `json:"spread"`
	Rolloff        float64 `json:"rolloff"`
	Flux           float64 `json:"flux"`
	BassEnergy     float64 `json:"bassEnergy"`
	MidEnergy      float64 `json:"midEnergy"`
	TrebleEnergy   float64 `json:"trebleEnergy"`
	Brightness     float64 `json:"brightness"`
	Flatness       float64 `json:"flatness"`
	Crest          float64 `json:"crest"`
	Irregularity   float64 `json:"irregularity"`
	Skewness       float64 `json:"skewness"`
	Kurtosis       float64 `json:"kurtosis"`
	EstimatedTempo float64 `json:"estimatedTempo"`
}

// FeatureSource tells whether the perceptual fields that cannot be derived
// from spectral shape were estimated by a model or left at defaults.
type FeatureSource int

const (
	SourceHeuristic FeatureSource = iota
	SourceModel
)

// String returns the string representation of the feature source
func (s FeatureSource) String() string {
	if s == SourceModel {
		return "model"
	}
	return "heuristic"
}

// AudioFeatures is the track-level (or window-level) summary used for mood
// classification and recommendation.
type AudioFeatures struct {
	Tempo            float64          `json:"tempo"`
	Energy           float64          `json:"energy"`
	Valence          float64          `json:"valence"`
	Danceability     float64          `json:"danceability"`
	Acousticness     float64          `json:"acousticness"`
	Instrumentalness float64          `json:"instrumentalness"`
	Speechiness      float64          `json:"speechiness"`
	Liveness         float64          `json:"liveness"`
	Spectral         SpectralFeatures `json:"spectral"`
	Source           FeatureSource    `json:"source"`
}

// Defaults for fields the heuristic pipeline cannot estimate.
const (
	DefaultInstrumentalness = 0.5
	DefaultSpeechiness      = 0.1
	DefaultLiveness         = 0.1
)

package models

// HistoricalBar is one OHLC sample belonging to exactly one named interval
// series of a job's chart data. Time is the engine's ISO-8601 bar timestamp.
type HistoricalBar struct {
	Time   string  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

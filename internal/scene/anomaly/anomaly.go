// Package anomaly evaluates per-track and group rules over classified tracks
// and keeps the append-only log of everything it raised.
package anomaly

import (
	"encoding/json"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/motion.watch/internal/scene/geom"
)

// Kind identifies an anomaly rule.
type Kind string

const (
	SuddenMovement     Kind = "MOVIMENTO_SUBITO"
	AbnormalSpeed      Kind = "VELOCIDADE_ANORMAL"
	ProlongedStop      Kind = "PARADA_PROLONGADA"
	Crowding           Kind = "AGLOMERACAO"
	ReverseMovement    Kind = "MOVIMENTO_REVERSO"
	AbandonedObject    Kind = "OBJETO_ABANDONADO"
	ForbiddenDirection Kind = "DIRECAO_PROIBIDA"
)

// Kinds lists every anomaly kind in evaluation order.
var Kinds = []Kind{
	SuddenMovement,
	AbnormalSpeed,
	ProlongedStop,
	ReverseMovement,
	AbandonedObject,
	ForbiddenDirection,
	Crowding,
}

// Severity is the closed three-level severity scale.
type Severity string

const (
	Low    Severity = "LOW"
	Medium Severity = "MEDIUM"
	High   Severity = "HIGH"
)

// Severities lists severities from least to most severe.
var Severities = []Severity{Low, Medium, High}

// Rank orders severities: LOW=1, MEDIUM=2, HIGH=3, unknown=0.
func (s Severity) Rank() int {
	switch s {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	}
	return 0
}

// Color returns the display colour for the severity as #rrggbb.
func (s Severity) Color() string {
	switch s {
	case Low:
		return "#2ca02c"
	case Medium:
		return "#ffbf00"
	case High:
		return "#d62728"
	}
	return "#ffffff"
}

type kindInfo struct {
	severity    Severity
	description string
}

var kindTable = map[Kind]kindInfo{
	SuddenMovement:     {Medium, "Sudden acceleration or abrupt movement"},
	AbnormalSpeed:      {High, "Speed well above the expected range"},
	ProlongedStop:      {Low, "Person stopped for an excessive time"},
	Crowding:           {Medium, "Multiple people in a small area"},
	ReverseMovement:    {Low, "Person returning to the point of origin"},
	AbandonedObject:    {High, "Object left in place for a prolonged time"},
	ForbiddenDirection: {Medium, "Movement in an unexpected direction"},
}

// Severity returns the fixed severity for k.
func (k Kind) Severity() Severity { return kindTable[k].severity }

// Description returns human-readable text for k.
func (k Kind) Description() string {
	if info, ok := kindTable[k]; ok {
		return info.description
	}
	return string(k)
}

// Anomaly is a single rule firing. Records are never mutated after creation.
type Anomaly struct {
	Type        Kind
	Severity    Severity
	Description string
	Frame       int
	Timestamp   time.Duration // video time
	TrackIDs    []int
	Location    r2.Vec
	BBox        *geom.Box // nil for group anomalies
	Count       int       // group size for crowding, 1 otherwise
}

type anomalyJSON struct {
	Type        Kind       `json:"type"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Frame       int        `json:"frame"`
	Timestamp   float64    `json:"timestamp"`
	TrackIDs    []int      `json:"track_ids"`
	Location    [2]float64 `json:"location"`
	BBox        *geom.Box  `json:"bbox,omitempty"`
	Count       int        `json:"count"`
}

// MarshalJSON encodes the timestamp in seconds and the location as [x, y].
func (a Anomaly) MarshalJSON() ([]byte, error) {
	return json.Marshal(anomalyJSON{
		Type:        a.Type,
		Severity:    a.Severity,
		Description: a.Description,
		Frame:       a.Frame,
		Timestamp:   a.Timestamp.Seconds(),
		TrackIDs:    a.TrackIDs,
		Location:    [2]float64{a.Location.X, a.Location.Y},
		BBox:        a.BBox,
		Count:       a.Count,
	})
}

// Clone returns a deep copy of a.
func (a Anomaly) Clone() Anomaly {
	if a.TrackIDs != nil {
		a.TrackIDs = append([]int(nil), a.TrackIDs...)
	}
	if a.BBox != nil {
		bbox := *a.BBox
		a.BBox = &bbox
	}
	return a
}

func cloneAll(as []Anomaly) []Anomaly {
	out := make([]Anomaly, len(as))
	for i, a := range as {
		out[i] = a.Clone()
	}
	return out
}

func newAnomaly(k Kind, frame int, ts time.Duration) Anomaly {
	return Anomaly{
		Type:        k,
		Severity:    k.Severity(),
		Description: k.Description(),
		Frame:       frame,
		Timestamp:   ts,
		Count:       1,
	}
}

// TimelineEntry is one row of the emission-ordered anomaly timeline.
type TimelineEntry struct {
	Timestamp time.Duration `json:"-"`
	Seconds   float64       `json:"timestamp"`
	Type      Kind          `json:"type"`
	Severity  Severity      `json:"severity"`
}

// Stats aggregates the anomaly log.
type Stats struct {
	Total      int              `json:"total_anomalies"`
	ByType     map[Kind]int     `json:"by_type"`
	BySeverity map[Severity]int `json:"by_severity"`
	Timeline   []TimelineEntry  `json:"timeline"`
}

// Summarize computes Stats over log in order.
func Summarize(log []Anomaly) Stats {
	s := Stats{
		Total:      len(log),
		ByType:     make(map[Kind]int),
		BySeverity: make(map[Severity]int),
		Timeline:   make([]TimelineEntry, 0, len(log)),
	}
	for _, a := range log {
		s.ByType[a.Type]++
		s.BySeverity[a.Severity]++
		s.Timeline = append(s.Timeline, TimelineEntry{
			Timestamp: a.Timestamp,
			Seconds:   a.Timestamp.Seconds(),
			Type:      a.Type,
			Severity:  a.Severity,
		})
	}
	return s
}

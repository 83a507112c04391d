// Package types defines the context documents the vision server returns for
// each analyzed image. The server authors these; clients only read them.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Position is a point in image coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ImageShape is the size of the analyzed image.
type ImageShape struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// BareContext is returned when processing is switched off in the project.
type BareContext struct {
	Error          bool       `json:"error"`
	ImageShape     ImageShape `json:"imageShape"`
	Processing     bool       `json:"processing"`
	ProcessingTime float64    `json:"processingTime"`
	Save           bool       `json:"save"`
}

// ModuleType identifies the project module that produced a detection.
type ModuleType string

const (
	ModuleUnsupervised ModuleType = "UNSUPERVISED"
	ModuleSupervised   ModuleType = "SUPERVISED"
	ModuleClassifier   ModuleType = "CLASSIFIER"
	ModuleDetector     ModuleType = "DETECTOR"
	ModuleCode         ModuleType = "CODE"
)

// ClassName is one class assigned to a rectangle or surface.
type ClassName struct {
	ID         int     `json:"id"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
	Color      *string `json:"color,omitempty"`
	ColorBGR   []int   `json:"color_bgr,omitempty"`
}

// RectangleSource names the model and module a rectangle came from.
type RectangleSource struct {
	ModelID  int        `json:"modelId"`
	ModuleID int        `json:"moduleId"`
	Type     ModuleType `json:"type"`
}

// DetectedRectangle is a single detection.
type DetectedRectangle struct {
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Rotate float64  `json:"rotate"`
	Area   *float64 `json:"area,omitempty"`

	ClassNames []ClassName `json:"classNames"`
	Confidence float64     `json:"confidence"`

	ID     int             `json:"id"`
	Source RectangleSource `json:"source"`
}

// DetectedLine is a line produced by the Measure tool.
type DetectedLine struct {
	Start  Position `json:"start"`
	End    Position `json:"end"`
	Angle  float64  `json:"angle"`
	Width  float64  `json:"width"`
	Length float64  `json:"length"`

	ID      int    `json:"id"`
	Label   string `json:"label"`
	Method  string `json:"method"`
	Percent bool   `json:"percent"`
}

// FullContext is returned when processing is switched on. Fields the server
// adds beyond these are kept in Extra.
type FullContext struct {
	BareContext

	Data string `json:"data"`

	CompleteTime   float64        `json:"completeTime"`
	Errors         []any          `json:"errors"`
	Stderr         string         `json:"stderr"`
	Stdout         string         `json:"stdout"`
	GlobalData     map[string]any `json:"globalData"`
	OperatorInput  map[string]any `json:"operatorInput"`
	ProductionMode bool           `json:"production_mode"`
	Score          float64        `json:"score"`
	Threshold      float64        `json:"threshold"`
	SurfaceClasses []ClassName    `json:"surfaceClasses"`

	Angle              *float64            `json:"angle"`
	DetectedRectangles []DetectedRectangle `json:"detectedRectangles"`
	Lines              []DetectedLine      `json:"lines"`

	Result bool `json:"result"`

	Extra map[string]json.RawMessage `json:"-"`
}

// ErrNotProcessed is returned by DecodeFullContext for a bare context.
var ErrNotProcessed = errors.New("context: processing is disabled in the project")

// DecodeContext decodes raw into whichever shape its "processing" flag
// selects. Exactly one of the returned pointers is non-nil on success.
func DecodeContext(raw []byte) (*BareContext, *FullContext, error) {
	var probe struct {
		Processing *bool `json:"processing"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, fmt.Errorf("context: %w", err)
	}
	if probe.Processing == nil {
		return nil, nil, errors.New("context: missing processing flag")
	}
	if !*probe.Processing {
		b, err := DecodeBareContext(raw)
		return b, nil, err
	}
	f, err := DecodeFullContext(raw)
	return nil, f, err
}

// DecodeBareContext strictly decodes a bare context; unknown fields are errors.
func DecodeBareContext(raw []byte) (*BareContext, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var c BareContext
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("bare context: %w", err)
	}
	if c.Processing {
		return nil, errors.New("bare context: processing must be false")
	}
	return &c, nil
}

// DecodeFullContext decodes a full context, collecting unknown fields in Extra.
func DecodeFullContext(raw []byte) (*FullContext, error) {
	var c FullContext
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("full context: %w", err)
	}
	if !c.Processing {
		return nil, ErrNotProcessed
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("full context: %w", err)
	}
	for _, k := range fullContextKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		c.Extra = all
	}
	return &c, nil
}

var fullContextKeys = []string{
	"error", "imageShape", "processing", "processingTime", "save",
	"data", "completeTime", "errors", "stderr", "stdout", "globalData",
	"operatorInput", "production_mode", "score", "threshold", "surfaceClasses",
	"angle", "detectedRectangles", "lines", "result",
}

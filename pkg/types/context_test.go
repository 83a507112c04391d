package types

import (
	"errors"
	"testing"
)

const bareJSON = `{"error":false,"imageShape":{"height":480,"width":640},"processing":false,"processingTime":0.012,"save":true}`

const fullJSON = `{
  "error": false,
  "imageShape": {"height": 100, "width": 200},
  "processing": true,
  "processingTime": 0.5,
  "save": false,
  "data": "lot-42",
  "completeTime": 0.61,
  "errors": [],
  "stderr": "",
  "stdout": "hello",
  "globalData": {},
  "operatorInput": {},
  "production_mode": true,
  "score": 0.8,
  "threshold": 0.5,
  "surfaceClasses": [],
  "angle": null,
  "detectedRectangles": [{
    "x": 10, "y": 20.5, "width": 30, "height": 40, "rotate": 0,
    "classNames": [{"id": 1, "confidence": 97, "label": "scratch", "color_bgr": [0, 0, 255]}],
    "confidence": 0.97, "id": 7,
    "source": {"modelId": 3, "moduleId": 4, "type": "DETECTOR"}
  }],
  "lines": [{
    "start": {"x": 1, "y": 2}, "end": {"x": 3, "y": 4}, "angle": 45, "width": 2, "length": 2.83,
    "id": 1, "label": "edge", "method": "max", "percent": false
  }],
  "result": true,
  "flowId": "abc"
}`

func TestDecodeContext_Bare(t *testing.T) {
	bare, full, err := DecodeContext([]byte(bareJSON))
	if err != nil {
		t.Fatalf("DecodeContext: %v", err)
	}
	if full != nil || bare == nil {
		t.Fatalf("expected bare context only")
	}
	if bare.ImageShape.Width != 640 || !bare.Save {
		t.Fatalf("unexpected bare context %+v", bare)
	}
}

func TestDecodeContext_Full(t *testing.T) {
	bare, full, err := DecodeContext([]byte(fullJSON))
	if err != nil {
		t.Fatalf("DecodeContext: %v", err)
	}
	if bare != nil || full == nil {
		t.Fatalf("expected full context only")
	}
	if full.Data != "lot-42" || !full.Result || full.Angle != nil {
		t.Fatalf("unexpected fields %+v", full)
	}
	if len(full.DetectedRectangles) != 1 {
		t.Fatalf("expected one rectangle")
	}
	r := full.DetectedRectangles[0]
	if r.Source.Type != ModuleDetector || r.ClassNames[0].Label != "scratch" || r.Y != 20.5 {
		t.Fatalf("unexpected rectangle %+v", r)
	}
	if len(full.Lines) != 1 || full.Lines[0].End.Y != 4 {
		t.Fatalf("unexpected lines %+v", full.Lines)
	}
	if _, ok := full.Extra["flowId"]; !ok || len(full.Extra) != 1 {
		t.Fatalf("expected only flowId in Extra, got %v", full.Extra)
	}
}

func TestDecodeBareContext_RejectsUnknownFields(t *testing.T) {
	raw := `{"error":false,"imageShape":{"height":1,"width":1},"processing":false,"processingTime":0,"save":false,"score":1}`
	if _, err := DecodeBareContext([]byte(raw)); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestDecodeFullContext_RejectsBare(t *testing.T) {
	if _, err := DecodeFullContext([]byte(bareJSON)); !errors.Is(err, ErrNotProcessed) {
		t.Fatalf("expected ErrNotProcessed, got %v", err)
	}
}

func TestDecodeContext_Errors(t *testing.T) {
	if _, _, err := DecodeContext([]byte(`not json`)); err == nil {
		t.Fatalf("expected syntax error")
	}
	if _, _, err := DecodeContext([]byte(`{"error":false}`)); err == nil {
		t.Fatalf("expected missing processing flag error")
	}
}

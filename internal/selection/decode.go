package selection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
)

// envelopeField is the optimizer's response key. The misspelling is part of
// the wire contract.
const envelopeField = "billbards"

// DecodeResponse unwraps the optimizer envelope. The payload under
// "billbards" is itself JSON text and is decoded a second time. A malformed
// envelope is a protocol error; a malformed payload is a decode error.
func DecodeResponse(body []byte) ([]model.SelectedSite, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newErr(KindProtocol, "decode envelope", err)
	}
	raw, ok := env[envelopeField]
	if !ok {
		raw, ok = env["billboards"]
	}
	if !ok {
		return nil, newErr(KindProtocol, "decode envelope", fmt.Errorf("response has no %q field", envelopeField))
	}

	raw = bytes.TrimSpace(raw)
	var payload []byte
	switch {
	case len(raw) > 0 && raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, newErr(KindProtocol, "decode envelope", err)
		}
		payload = []byte(s)
	case bytes.Equal(raw, []byte("null")):
		return nil, newErr(KindProtocol, "decode envelope", fmt.Errorf("%q is null", envelopeField))
	default:
		// already structured; tolerated
		payload = raw
	}

	sites, err := decodePayload(payload)
	if err != nil {
		return nil, newErr(KindDecode, "decode payload", err)
	}
	return sites, nil
}

func decodePayload(b []byte) ([]model.SelectedSite, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, errors.New("empty payload")
	}
	switch b[0] {
	case '[':
		return decodeRecords(b)
	case '{':
		return decodeFeatures(b)
	default:
		return nil, fmt.Errorf("unexpected payload start %q", b[0])
	}
}

func decodeRecords(b []byte) ([]model.SelectedSite, error) {
	var recs []map[string]any
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, err
	}
	out := make([]model.SelectedSite, 0, len(recs))
	for i, r := range recs {
		lat, okLat := firstNumber(r, "lat", "latitude")
		lng, okLng := firstNumber(r, "lng", "lon", "longitude")
		if !okLat || !okLng {
			return nil, fmt.Errorf("record %d: missing coordinates", i)
		}
		if p := (model.LatLng{Lat: lat, Lng: lng}); !p.Valid() {
			return nil, fmt.Errorf("record %d: coordinates %s outside WGS84", i, p)
		}
		s := model.SelectedSite{ID: idString(r["id"]), Lat: lat, Lng: lng}
		props := maps.Clone(r)
		for _, k := range []string{"id", "lat", "lng"} {
			delete(props, k)
		}
		if len(props) > 0 {
			s.Properties = props
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeFeatures(b []byte) ([]model.SelectedSite, error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, err
	}
	out := make([]model.SelectedSite, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("feature %d: geometry is not a point", i)
		}
		id := idString(f.ID)
		if id == "" {
			id = idString(f.Properties["id"])
		}
		if p := (model.LatLng{Lat: pt.Lat(), Lng: pt.Lon()}); !p.Valid() {
			return nil, fmt.Errorf("feature %d: coordinates %s outside WGS84", i, p)
		}
		s := model.SelectedSite{ID: id, Lat: pt.Lat(), Lng: pt.Lon()}
		if len(f.Properties) > 0 {
			s.Properties = maps.Clone(map[string]any(f.Properties))
		}
		out = append(out, s)
	}
	return out, nil
}

func firstNumber(r map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := r[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

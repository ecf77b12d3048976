//go:build js && wasm

package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"syscall/js"
	"time"

	garminhealth "github.com/lucasjlepore/garmin-health"
	"github.com/lucasjlepore/garmin-health/pipeline"
)

func main() {
	js.Global().Set("analyzeTrack", js.FuncOf(analyzeTrack))
	select {}
}

// analyzeTrack(fileBytes Uint8Array, options object) returns
// {ok, kind, error} on failure and {ok, summary, zip, files, warnings} on success.
func analyzeTrack(_ js.Value, args []js.Value) any {
	if len(args) < 2 {
		return failure("", "expected arguments: fileBytes(Uint8Array), options(object)")
	}
	fileArg := args[0]
	optsArg := args[1]
	if fileArg.IsUndefined() || fileArg.IsNull() || fileArg.Get("length").Int() == 0 {
		return failure("", "track file bytes are required")
	}

	fileBytes := make([]byte, fileArg.Get("length").Int())
	if n := js.CopyBytesToGo(fileBytes, fileArg); n == 0 {
		return failure("", "failed to read track bytes from JS input")
	}

	analysis := garminhealth.DefaultOptions()
	if v := getFloat(optsArg, "max_hr"); v > 0 {
		analysis.MaxHR = v
	}
	if v := getFloat(optsArg, "split_distance_m"); v > 0 {
		analysis.SplitDistance = v
	}
	if v := getFloat(optsArg, "elevation_threshold_m"); v > 0 {
		analysis.ElevationThreshold = v
	}

	result, err := pipeline.RunBytes(pipeline.BytesOptions{
		SourceFileName: getString(optsArg, "source_file_name", "input.fit"),
		Data:           fileBytes,
		Format:         getString(optsArg, "format", "csv"),
		CopySource:     true,
		Analysis:       analysis,
	})
	if err != nil {
		return failure(garminhealth.ErrorKind(err), err.Error())
	}

	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return failure(garminhealth.KindInternal, fmt.Sprintf("encode summary: %v", err))
	}
	zipBytes, err := zipArtifacts(result.Files)
	if err != nil {
		return failure(garminhealth.KindInternal, fmt.Sprintf("create zip: %v", err))
	}
	payload := js.Global().Get("Uint8Array").New(len(zipBytes))
	js.CopyBytesToJS(payload, zipBytes)

	fileNames := make([]string, 0, len(result.Files))
	for name := range result.Files {
		fileNames = append(fileNames, name)
	}
	sort.Strings(fileNames)

	return map[string]any{
		"ok":       true,
		"run_id":   result.RunID,
		"summary":  string(summaryJSON),
		"notes":    result.Summary.Notes,
		"zip":      payload,
		"warnings": stringsToAny(result.Warnings),
		"files":    stringsToAny(fileNames),
	}
}

func failure(kind garminhealth.Kind, msg string) map[string]any {
	if kind == "" {
		kind = garminhealth.KindInternal
	}
	return map[string]any{
		"ok":    false,
		"kind":  string(kind),
		"error": msg,
	}
}

func zipArtifacts(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fixedTime := time.Unix(0, 0).UTC()

	for _, name := range names {
		h := &zip.FileHeader{
			Name:   name,
			Method: zip.Deflate,
		}
		h.SetModTime(fixedTime)
		w, err := zw.CreateHeader(h)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(files[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func getString(v js.Value, key, fallback string) string {
	if v.IsUndefined() || v.IsNull() {
		return fallback
	}
	out := v.Get(key)
	if out.IsUndefined() || out.IsNull() {
		return fallback
	}
	s := out.String()
	if s == "" || s == "undefined" || s == "null" {
		return fallback
	}
	return s
}

func getFloat(v js.Value, key string) float64 {
	if v.IsUndefined() || v.IsNull() {
		return 0
	}
	out := v.Get(key)
	if out.IsUndefined() || out.IsNull() || out.Type() != js.TypeNumber {
		return 0
	}
	return out.Float()
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

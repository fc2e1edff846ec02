package migrate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// The functions in this file rewrite Map visualization args payloads between
// revisions. Each transform reports whether it changed the payload and is a
// no-op on rows already in the target shape, so an interrupted revision can
// be re-run safely.

func decodeArgs(argsString string) (map[string]any, error) {
	if strings.TrimSpace(argsString) == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsString), &args); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	return args, nil
}

func encodeArgs(args map[string]any) (string, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}
	return string(encoded), nil
}

// renameTopLevelKeys moves each present old key to its new name. Keys already
// renamed are left alone, so a double application cannot nest or duplicate.
func renameTopLevelKeys(args map[string]any, renames map[string]string) bool {
	changed := false
	for oldKey, newKey := range renames {
		if value, ok := args[oldKey]; ok {
			args[newKey] = value
			delete(args, oldKey)
			changed = true
		}
	}
	return changed
}

// renameLayerSourceTypes rewrites layers[].configuration.props.source.type
// according to renames. Layers with an unexpected shape are skipped.
func renameLayerSourceTypes(args map[string]any, renames map[string]string) bool {
	layers, ok := args["layers"].([]any)
	if !ok {
		return false
	}
	changed := false
	for _, layer := range layers {
		source, ok := layerSource(layer)
		if !ok {
			continue
		}
		sourceType, ok := source["type"].(string)
		if !ok {
			continue
		}
		if renamed, ok := renames[sourceType]; ok {
			source["type"] = renamed
			changed = true
		}
	}
	return changed
}

func layerSource(layer any) (map[string]any, bool) {
	layerMap, ok := layer.(map[string]any)
	if !ok {
		return nil, false
	}
	configuration, ok := layerMap["configuration"].(map[string]any)
	if !ok {
		return nil, false
	}
	props, ok := configuration["props"].(map[string]any)
	if !ok {
		return nil, false
	}
	source, ok := props["source"].(map[string]any)
	return source, ok
}

// collapseViewConfig replaces viewConfig{center, zoom} with the flat
// map_extent string "x,y,zoom". Rows without a viewConfig key are already in
// the target shape.
func collapseViewConfig(args map[string]any) bool {
	viewConfig, ok := args["viewConfig"].(map[string]any)
	if !ok {
		return false
	}
	center, _ := viewConfig["center"].([]any)
	parts := make([]string, 0, len(center)+1)
	for _, coordinate := range center {
		parts = append(parts, scalarString(coordinate))
	}
	parts = append(parts, scalarString(viewConfig["zoom"]))
	args["map_extent"] = strings.Join(parts, ",")
	delete(args, "viewConfig")
	return true
}

// expandMapExtent is the inverse of collapseViewConfig. The encoding is only
// reversible when it has exactly 3 comma-separated components; anything else
// is dropped rather than guessed at, since the forward transform already
// discarded the structure.
func expandMapExtent(args map[string]any) bool {
	extent, ok := args["map_extent"].(string)
	if !ok {
		return false
	}
	parts := strings.Split(extent, ",")
	if len(parts) == 3 {
		args["viewConfig"] = map[string]any{
			"center": []any{parts[0], parts[1]},
			"zoom":   parts[2],
		}
	}
	delete(args, "map_extent")
	return true
}

// wrapMapExtent moves the scalar map_extent value under an "extent" wrapper
// object. A value that is already an object has been wrapped before.
func wrapMapExtent(args map[string]any) bool {
	value, ok := args["map_extent"]
	if !ok {
		return false
	}
	if _, wrapped := value.(map[string]any); wrapped {
		return false
	}
	args["map_extent"] = map[string]any{"extent": value}
	return true
}

func unwrapMapExtent(args map[string]any) bool {
	wrapper, ok := args["map_extent"].(map[string]any)
	if !ok {
		return false
	}
	args["map_extent"] = wrapper["extent"]
	return true
}

func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

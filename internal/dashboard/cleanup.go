package dashboard

import (
	"context"
	"encoding/json"
	"log"
)

// CleanupJSONAssets removes JSON files from an owner's asset folder that no
// Map grid item of that owner references anymore. Pure mark-and-sweep over
// two sets: geometry and style files reachable from layer configurations
// versus files present in the folder. Deletion is immediate; there is no
// grace period. Other owners' folders are never touched.
func (s *Service) CleanupJSONAssets(ctx context.Context, owner string) error {
	items, err := s.store.ListOwnerMapItems(ctx, owner)
	if err != nil {
		return err
	}

	referenced := make(map[string]bool)
	for _, item := range items {
		for _, name := range referencedJSONFiles(item.ArgsString) {
			referenced[name] = true
		}
	}

	existing, err := s.geodata.List(ctx, owner)
	if err != nil {
		return err
	}
	for _, name := range existing {
		if referenced[name] {
			continue
		}
		log.Printf("removing unused json asset %s/%s", owner, name)
		if err := s.geodata.Delete(ctx, owner+"/"+name); err != nil {
			return &StorageError{Op: "delete json asset", Err: err}
		}
	}
	return nil
}

// referencedJSONFiles extracts every JSON asset name a Map args payload
// points at: GeoJSON layer sources and per-layer style files. Layers of any
// other shape contribute nothing; malformed payloads are skipped rather than
// treated as referencing everything.
func referencedJSONFiles(argsString string) []string {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsString), &args); err != nil {
		return nil
	}
	layers, ok := args["layers"].([]any)
	if !ok {
		return nil
	}

	var names []string
	for _, layer := range layers {
		layerMap, ok := layer.(map[string]any)
		if !ok {
			continue
		}
		configuration, ok := layerMap["configuration"].(map[string]any)
		if !ok {
			continue
		}
		if style, ok := configuration["style"].(string); ok && style != "" {
			names = append(names, style)
		}
		props, ok := configuration["props"].(map[string]any)
		if !ok {
			continue
		}
		source, ok := props["source"].(map[string]any)
		if !ok {
			continue
		}
		if sourceType, _ := source["type"].(string); sourceType != "GeoJSON" {
			continue
		}
		if geojson, ok := source["geojson"].(string); ok && geojson != "" {
			names = append(names, geojson)
		}
	}
	return names
}

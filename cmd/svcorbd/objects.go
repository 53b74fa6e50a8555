package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"svcorb/internal/config"
	"svcorb/internal/orchestrator"
)

// objectRegistry is the keyword table for per-object configuration files,
// grounded on spec.md §3's object configuration model (an ordered mapping
// of sections to keyword bodies) scoped down to the placement keywords
// the orchestrator actually consumes. Resource sections (type#index) are
// left to a driver registry svcorbd does not prescribe (spec.md §1
// Non-goals: "no prescription of on-disk driver formats").
func objectRegistry() *config.Registry {
	return config.NewRegistry([]config.KeywordMeta{
		{Section: "DEFAULT", Keyword: "cluster_type", Candidates: []string{"failover", "flex"}, Default: "failover"},
		{Section: "DEFAULT", Keyword: "flex_min", Converter: config.ConvInteger, Default: "1"},
		{Section: "DEFAULT", Keyword: "flex_max", Converter: config.ConvInteger, Default: "1"},
		{Section: "DEFAULT", Keyword: "nodes", Converter: config.ConvNodesSelector, Default: ""},
		{Section: "DEFAULT", Keyword: "anti_affinity", Converter: config.ConvList, Default: ""},
	})
}

// loadObjects scans dir for "*.conf" files, each one object's config
// (named <path-with-slashes-as-dots>.conf, e.g. root.svc.web.conf for
// object path root/svc/web), and returns the parsed orchestrator.Object
// set ready for AddObject. A malformed file is logged and skipped rather
// than aborting startup, matching buildHeartbeatDrivers' per-unit
// tolerance elsewhere in this package.
func loadObjects(dir, self string) []*orchestrator.Object {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		log.Printf("svcorbd: reading object config dir %s: %v", dir, err)
		return nil
	}

	registry := objectRegistry()
	ctx := config.ResolveContext{NodeName: self}

	var objects []*orchestrator.Object
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".conf") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		obj, err := loadObjectConfig(path, objectPathFromFilename(entry.Name()), registry, ctx)
		if err != nil {
			log.Printf("svcorbd: skipping object config %s: %v", path, err)
			continue
		}
		objects = append(objects, obj)
	}
	return objects
}

func loadObjectConfig(path, objectPath string, registry *config.Registry, ctx config.ResolveContext) (*orchestrator.Object, error) {
	cfg, err := config.Load(path, registry, config.Builtins{Svcname: objectPath})
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	snap := cfg.Snapshot()

	obj := orchestrator.NewObject(objectPath)

	if v, err := snap.GetString("DEFAULT", "cluster_type", ctx); err == nil && v != "" {
		obj.ClusterType = v
	}
	if v, err := snap.Get("DEFAULT", "flex_min", ctx, true); err == nil {
		if n, ok := v.(int64); ok {
			obj.FlexMin = int(n)
		}
	}
	if v, err := snap.Get("DEFAULT", "flex_max", ctx, true); err == nil {
		if n, ok := v.(int64); ok {
			obj.FlexMax = int(n)
		}
	}
	if v, err := snap.Get("DEFAULT", "nodes", ctx, true); err == nil {
		if sel, ok := v.(config.Selector); ok {
			obj.NodesSelector = sel
		}
	}
	if v, err := snap.Get("DEFAULT", "anti_affinity", ctx, true); err == nil {
		if list, ok := v.([]string); ok {
			obj.AntiAffinity = list
		}
	}

	return obj, nil
}

// objectPathFromFilename turns "root.svc.web.conf" into "root/svc/web",
// the dotted-on-disk form chosen so object config files sort and glob
// naturally in a flat directory without nested mkdir -p at provision time.
func objectPathFromFilename(name string) string {
	name = strings.TrimSuffix(name, ".conf")
	return strings.ReplaceAll(name, ".", "/")
}

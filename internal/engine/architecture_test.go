package engine

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

const modulePath = "github.com/roach88/bufsync"

// forbiddenImports maps a package to internal packages it must not import.
// An empty list forbids every internal import.
var forbiddenImports = map[string][]string{
	modulePath + "/internal/ir":        nil,
	modulePath + "/internal/dispatch":  {modulePath + "/internal/engine"},
	modulePath + "/internal/reconcile": {modulePath + "/internal/engine", modulePath + "/internal/dispatch"},
	modulePath + "/internal/remote":    {modulePath + "/internal/store", modulePath + "/internal/engine"},
	modulePath + "/internal/queue":     {modulePath + "/internal/engine", modulePath + "/internal/dispatch"},
}

func TestPackageLayering(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, modulePath+"/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		rules, ok := forbiddenImports[pkg.PkgPath]
		if !ok {
			continue
		}
		for importPath := range pkg.Imports {
			if !strings.HasPrefix(importPath, modulePath+"/") {
				continue
			}
			if rules == nil {
				violations = append(violations, pkg.PkgPath+": "+importPath)
				continue
			}
			for _, forbidden := range rules {
				if importPath == forbidden || strings.HasPrefix(importPath, forbidden+"/") {
					violations = append(violations, pkg.PkgPath+": "+importPath)
				}
			}
		}
	}

	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("forbidden import: %s", v)
	}
}

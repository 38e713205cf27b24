package reorder

import (
	"errors"
	"reflect"
	"testing"
)

func names(pages []PageFile) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.BaseName
	}
	return out
}

func pagesOf(ns ...string) []PageFile {
	out := make([]PageFile, len(ns))
	for i, n := range ns {
		out[i] = NewPageFile("/scan/" + n)
	}
	return out
}

func TestNewPageFile(t *testing.T) {
	tests := []struct {
		path, prefix, ext string
	}{
		{"/x/scan_0007_colorchart.tif", "scan_0007_", ".tif"},
		{"/x/page12.JPG", "", ".JPG"},
		{"/x/.hidden", "", ""},
		{"/x/noext_", "noext_", ""},
		{"/x/a.b.c_d.png", "a.b.c_", ".png"},
	}
	for _, tt := range tests {
		p := NewPageFile(tt.path)
		if p.StablePrefix != tt.prefix {
			t.Errorf("%s: prefix = %q, want %q", tt.path, p.StablePrefix, tt.prefix)
		}
		if p.Extension != tt.ext {
			t.Errorf("%s: extension = %q, want %q", tt.path, p.Extension, tt.ext)
		}
	}
}

func TestSplitSideAssignment(t *testing.T) {
	files := pagesOf("a.tif", "b.tif", "c.tif", "d.tif")

	part, err := Split(files, false, OddStrict)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(part.Left); !reflect.DeepEqual(got, []string{"b.tif", "a.tif"}) {
		t.Errorf("left = %v", got)
	}
	if got := names(part.Right); !reflect.DeepEqual(got, []string{"c.tif", "d.tif"}) {
		t.Errorf("right = %v", got)
	}

	part, err = Split(files, true, OddStrict)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(part.Left); !reflect.DeepEqual(got, []string{"c.tif", "d.tif"}) {
		t.Errorf("mirrored left = %v", got)
	}
	if got := names(part.Right); !reflect.DeepEqual(got, []string{"b.tif", "a.tif"}) {
		t.Errorf("mirrored right = %v", got)
	}
}

func TestSplitOddPolicies(t *testing.T) {
	files := pagesOf("a.tif", "b.tif", "c.tif", "d.tif", "e.tif")

	if _, err := Split(files, false, OddStrict); !errors.Is(err, ErrOddFileCount) {
		t.Fatalf("strict: err = %v, want ErrOddFileCount", err)
	}

	part, err := Split(files, false, OddRoundUp)
	if err != nil {
		t.Fatal(err)
	}
	if len(part.Left) != 3 || len(part.Right) != 2 {
		t.Fatalf("round-up: left %d right %d", len(part.Left), len(part.Right))
	}

	part, err = Split(files, true, OddRoundUp)
	if err != nil {
		t.Fatal(err)
	}
	if len(part.Left) != 3 || len(part.Right) != 2 {
		t.Fatalf("round-up right-first: left %d right %d", len(part.Left), len(part.Right))
	}
	if got := names(part.Right); !reflect.DeepEqual(got, []string{"b.tif", "a.tif"}) {
		t.Errorf("round-up right-first right = %v", got)
	}
}

func TestExtractBlacklist(t *testing.T) {
	files := pagesOf("p_01.tif", "p_Colourchart.tif", "p_02.tif", "p_Spine_1_Colourchart.tif", "p_Spine_1.tif")
	part, excl := ExtractBlacklist(files, []string{"_Colourchart", "_Spine_1"})

	if got := names(part); !reflect.DeepEqual(got, []string{"p_01.tif", "p_02.tif"}) {
		t.Errorf("partitionable = %v", got)
	}
	want := []string{"p_Colourchart.tif", "p_Spine_1_Colourchart.tif", "p_Spine_1.tif"}
	if got := names(excl); !reflect.DeepEqual(got, want) {
		t.Errorf("excluded = %v, want %v", got, want)
	}
}

func TestExtractBlacklistEntryOrder(t *testing.T) {
	files := pagesOf("a_Colourchart.tif", "b_Spine.tif", "c_Spine_Colourchart.tif", "p1.tif")
	part, excl := ExtractBlacklist(files, []string{"_Spine", "_Colourchart"})

	if got := names(part); !reflect.DeepEqual(got, []string{"p1.tif"}) {
		t.Errorf("partitionable = %v", got)
	}
	want := []string{"b_Spine.tif", "c_Spine_Colourchart.tif", "a_Colourchart.tif"}
	if got := names(excl); !reflect.DeepEqual(got, want) {
		t.Errorf("excluded = %v, want %v", got, want)
	}
}

func TestStripBlacklist(t *testing.T) {
	got := StripBlacklist("book_Spine_1_Colourchart.tif", []string{"_Colourchart", "_Spine_1", ""})
	if got != "book.tif" {
		t.Errorf("got %q", got)
	}
}

func TestFinalName(t *testing.T) {
	cfg := DefaultConfig("/d", "/d")
	page := NewPageFile("/d/scan_0007_colorchart.tif")
	if got := FinalName(page, 12, cfg); got != "scan_0007_0012.tif" {
		t.Errorf("with prefix: %q", got)
	}
	cfg.UsePrefix = false
	cfg.NamingFormat = "%06d"
	if got := FinalName(page, 12, cfg); got != "000012.tif" {
		t.Errorf("without prefix: %q", got)
	}
	if got := TempName("0001.tif"); got != "goobi_0001.tif" {
		t.Errorf("temp: %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty target means in place", func(c *Config) { c.TargetDir = "" }, true},
		{"no source", func(c *Config) { c.SourceDir = "" }, false},
		{"two verbs", func(c *Config) { c.NamingFormat = "%d_%d" }, false},
		{"string verb", func(c *Config) { c.NamingFormat = "%s" }, false},
		{"literal with escape", func(c *Config) { c.NamingFormat = "p%%_%05d" }, true},
		{"trailing percent", func(c *Config) { c.NamingFormat = "%04d%" }, false},
		{"separator", func(c *Config) { c.NamingFormat = "a/%04d" }, false},
		{"bad policy", func(c *Config) { c.OddPolicy = "sometimes" }, false},
		{"target inside source", func(c *Config) { c.TargetDir = "/data/master/out" }, false},
		{"source inside target", func(c *Config) { c.TargetDir = "/data" }, false},
		{"sibling target", func(c *Config) { c.TargetDir = "/data/media" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("/data/master", "/data/master")
			tt.mut(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfigValidateDropsBlankBlacklist(t *testing.T) {
	cfg := DefaultConfig("/d", "/d")
	cfg.Blacklist = []string{"", "_Spine", ""}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Blacklist, []string{"_Spine"}) {
		t.Errorf("blacklist = %v", cfg.Blacklist)
	}
}

func TestBuildPlanReservedPrefix(t *testing.T) {
	cfg := DefaultConfig("/d", "/d")
	_ = cfg.Validate()
	_, err := buildPlan("/d", pagesOf("goobi_0001.tif", "x.tif"), cfg)
	if !errors.Is(err, ErrReservedName) {
		t.Fatalf("err = %v, want ErrReservedName", err)
	}
}

func TestPlanCheckUnique(t *testing.T) {
	p := &Plan{Operations: []Operation{
		{Source: "/d/a.tif", Final: "/d/0001.tif", Position: 1},
		{Source: "/d/b.tif", Final: "/d/0001.tif", Position: 2},
	}}
	if err := p.checkUnique(); !errors.Is(err, ErrNameCollision) {
		t.Fatalf("err = %v, want ErrNameCollision", err)
	}
	p.Operations[1].Final = "/d/0002.tif"
	if err := p.checkUnique(); err != nil {
		t.Fatal(err)
	}
}

func TestBuildPlanPositions(t *testing.T) {
	cfg := DefaultConfig("/d", "/d")
	cfg.UsePrefix = false
	cfg.Blacklist = []string{"_Colourchart"}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	plan, err := buildPlan("/d", pagesOf("a.tif", "b.tif", "b_Colourchart.tif", "c.tif", "d.tif"), cfg)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, op := range plan.Operations {
		got[op.Source] = op.Final
	}
	want := map[string]string{
		"/scan/b.tif":             "/d/0001.tif",
		"/scan/a.tif":             "/d/0003.tif",
		"/scan/c.tif":             "/d/0002.tif",
		"/scan/d.tif":             "/d/0004.tif",
		"/scan/b_Colourchart.tif": "/d/0005.tif",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("plan = %v, want %v", got, want)
	}
	if plan.Partitioned != 4 || plan.Excluded != 1 {
		t.Errorf("partitioned %d excluded %d", plan.Partitioned, plan.Excluded)
	}
}

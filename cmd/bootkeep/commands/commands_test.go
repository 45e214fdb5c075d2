package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const mediaManifest = `
name: media
steps:
  - from: ""
    to: "1"
    sql: CREATE TABLE media (id INTEGER PRIMARY KEY, path TEXT NOT NULL);
  - from: "1"
    to: "2"
    sql: CREATE INDEX idx_media_path ON media (path);
`

// writeTestConfig writes a config file pointing at a database and package
// directory under a temporary directory.
func writeTestConfig(t *testing.T, manifests map[string]string, extra string) string {
	t.Helper()
	dir := t.TempDir()

	pkgDir := filepath.Join(dir, "packages")
	if err := os.Mkdir(pkgDir, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	for name, content := range manifests {
		if err := os.WriteFile(filepath.Join(pkgDir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	cfg := "database:\n  path: " + filepath.Join(dir, "bootkeep.db") + "\n" +
		"upgrade:\n  unattended: true\n  packages_dir: " + pkgDir + "\n" + extra
	cfgPath := filepath.Join(dir, "bootkeep.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBootUpgradesCoreThenPackages(t *testing.T) {
	cfgPath := writeTestConfig(t, map[string]string{"10-media.yaml": mediaManifest}, "")

	out, err := execute(t, "boot", "--config", cfgPath, "--json")
	if err != nil {
		t.Fatalf("boot error = %v\n%s", err, out)
	}

	var report bootReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	if report.Level != "run" {
		t.Errorf("Level = %q, want run", report.Level)
	}
	want := []string{"core_upgrade_complete", "package_migration_complete"}
	if strings.Join(report.Results, ",") != strings.Join(want, ",") {
		t.Errorf("Results = %v, want %v", report.Results, want)
	}

	out, err = execute(t, "status", "--config", cfgPath, "--json")
	if err != nil {
		t.Fatalf("status error = %v\n%s", err, out)
	}

	var status statusReport
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	if len(status.Plans) != 2 {
		t.Fatalf("len(Plans) = %d, want 2", len(status.Plans))
	}
	for _, p := range status.Plans {
		if p.Status != planUpToDate {
			t.Errorf("plan %s status = %q, want %q", p.Name, p.Status, planUpToDate)
		}
	}
	if len(status.Attempts) != 2 {
		t.Errorf("len(Attempts) = %d, want 2", len(status.Attempts))
	}
}

func TestBootIsIdempotent(t *testing.T) {
	cfgPath := writeTestConfig(t, map[string]string{"10-media.yaml": mediaManifest}, "")

	if out, err := execute(t, "boot", "--config", cfgPath); err != nil {
		t.Fatalf("first boot error = %v\n%s", err, out)
	}

	out, err := execute(t, "boot", "--config", cfgPath, "--json")
	if err != nil {
		t.Fatalf("second boot error = %v\n%s", err, out)
	}

	var report bootReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	if report.Level != "run" || len(report.Results) != 0 {
		t.Errorf("report = %+v, want run level with no upgrades", report)
	}
}

func TestBootWithoutUnattendedUpgrades(t *testing.T) {
	cfgPath := writeTestConfig(t, nil, "")

	out, err := execute(t, "boot", "--config", cfgPath, "--unattended=false")
	if err == nil {
		t.Fatalf("boot error = nil, want pending upgrade error\n%s", out)
	}
	if !strings.Contains(err.Error(), "unattended upgrades are disabled") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(out, "Level:  upgrade") {
		t.Errorf("output = %q, want upgrade level", out)
	}
}

func TestBootFailsOnBrokenPackage(t *testing.T) {
	broken := "name: broken\nsteps:\n  - {from: '', to: '1', sql: 'CREATE TABLE media_missing AS SELECT * FROM nowhere'}\n"
	cfgPath := writeTestConfig(t, map[string]string{
		"10-broken.yaml": broken,
		"20-media.yaml":  mediaManifest,
	}, "")

	out, err := execute(t, "boot", "--config", cfgPath, "--json")
	if err == nil {
		t.Fatalf("boot error = nil, want failure\n%s", out)
	}

	var report bootReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	if report.Level != "boot_failed" {
		t.Errorf("Level = %q, want boot_failed", report.Level)
	}
	if !strings.Contains(report.Error, "broken") {
		t.Errorf("Error = %q, want it to name the failing plan", report.Error)
	}

	// The healthy package still ran.
	out, err = execute(t, "status", "--config", cfgPath, "--json")
	if err != nil {
		t.Fatalf("status error = %v\n%s", err, out)
	}
	var status statusReport
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	got := map[string]string{}
	for _, p := range status.Plans {
		got[p.Name] = p.Status
	}
	if got["media"] != planUpToDate || got["broken"] != planPending {
		t.Errorf("statuses = %v", got)
	}
}

func TestBootToTargetVersion(t *testing.T) {
	cfgPath := writeTestConfig(t, nil, "")

	out, err := execute(t, "boot", "--config", cfgPath, "--target", "1.1.0")
	if err != nil {
		t.Fatalf("boot error = %v\n%s", err, out)
	}

	out, err = execute(t, "status", "--config", cfgPath, "--json")
	if err != nil {
		t.Fatalf("status error = %v\n%s", err, out)
	}
	var status statusReport
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	if status.Plans[0].State != "1.1.0" {
		t.Errorf("core state = %q, want 1.1.0", status.Plans[0].State)
	}
	if status.Level != "upgrade" {
		t.Errorf("Level = %q, want upgrade toward the latest version", status.Level)
	}
}

func TestPlansValidate(t *testing.T) {
	cfgPath := writeTestConfig(t, map[string]string{"10-media.yaml": mediaManifest}, "")
	if out, err := execute(t, "plans", "validate", "--config", cfgPath); err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}

	bad := writeTestConfig(t, map[string]string{"10-bad.yaml": "name: bad\nsteps: []\n"}, "")
	if _, err := execute(t, "plans", "validate", "--config", bad); err == nil {
		t.Error("validate error = nil, want manifest error")
	}
}

func TestPlansList(t *testing.T) {
	cfgPath := writeTestConfig(t, map[string]string{"10-media.yaml": mediaManifest}, "")

	out, err := execute(t, "plans", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("list error = %v\n%s", err, out)
	}
	for _, want := range []string{"Core (- -> 1.2.0)", "media (- -> 2)", `"1" -> "2"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

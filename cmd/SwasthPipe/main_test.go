package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/SwasthPipe/internal/config"
	"github.com/BTreeMap/SwasthPipe/internal/dataset"
	"github.com/BTreeMap/SwasthPipe/internal/flow"
	"github.com/BTreeMap/SwasthPipe/internal/scheduler"
	"github.com/BTreeMap/SwasthPipe/internal/store"
	"github.com/BTreeMap/SwasthPipe/internal/testutil"
)

const primaryCSV = `Symptom,Possible Diseases,Severity
fever,Flu,Moderate
cough,Common Cold,Mild
fever,Malaria,High
headache,Migraine,Mild
`

const supplementaryCSV = `Symptom,Possible Diseases,Severity
fever,Typhoid,High
cough,Asthma,Moderate
`

func writeDatasets(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	p1 := filepath.Join(dir, "dataset1.csv")
	p2 := filepath.Join(dir, "dataset2.csv")
	if err := os.WriteFile(p1, []byte(primaryCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p2, []byte(supplementaryCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	return p1, p2
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "symptoms", "search"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	for _, b := range flagBindings {
		if root.PersistentFlags().Lookup(b.flag) == nil {
			t.Errorf("flag --%s not registered", b.flag)
		}
	}
}

func TestSymptomsCommand(t *testing.T) {
	p1, p2 := writeDatasets(t)
	t.Setenv("CHECKLIST_SIZE", "2")

	out, err := execute(t, "--dataset1", p1, "--dataset2", p2, "symptoms")
	if err != nil {
		t.Fatalf("symptoms failed: %v", err)
	}
	if out != "1. fever\n2. cough\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestPrintSymptoms(t *testing.T) {
	var out bytes.Buffer
	printSymptoms(&out, flow.NewChecklist([]string{"fever", "skin rash"}))
	if out.String() != "1. fever\n2. skin rash\n" {
		t.Errorf("unexpected output %q", out.String())
	}

	out.Reset()
	printSymptoms(&out, nil)
	if out.Len() != 0 {
		t.Errorf("nil checklist should print nothing, got %q", out.String())
	}
}

func TestSymptomsCommand_MissingDataset(t *testing.T) {
	_, p2 := writeDatasets(t)
	if _, err := execute(t, "--dataset1", filepath.Join(t.TempDir(), "nope.csv"), "--dataset2", p2, "symptoms"); err == nil {
		t.Error("expected error for a missing dataset")
	}
}

func TestSearchCommand(t *testing.T) {
	p1, p2 := writeDatasets(t)

	out, err := execute(t, "--dataset1", p1, "--dataset2", p2, "search", "fever")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, want := range []string{"[dataset1]", "Flu", "[dataset2]", "Typhoid"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "--dataset1", p1, "--dataset2", p2, "search"); err == nil {
		t.Error("search without a term should fail")
	}
}

func TestPrintSearch_NoInfo(t *testing.T) {
	var out bytes.Buffer
	printSearch(&out, testutil.StaticSearcher{}, "anything")
	if strings.Count(out.String(), dataset.NoInfo) != 2 {
		t.Errorf("expected the no-info sentinel for both datasets, got %q", out.String())
	}
}

func TestServeCommand_MissingCredential(t *testing.T) {
	t.Setenv("CHANNEL", "telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	_, err := execute(t, "--state-dir", t.TempDir(), "serve")
	if !errors.Is(err, config.ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", err)
	}
}

func TestServeCommand_UnknownChannel(t *testing.T) {
	_, err := execute(t, "--channel", "carrier-pigeon", "serve")
	if !errors.Is(err, config.ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestBuildWhatsAppOptions(t *testing.T) {
	cfg := &config.Config{}
	if opts := buildWhatsAppOptions(cfg); len(opts) != 0 {
		t.Errorf("expected no options, got %d", len(opts))
	}

	cfg = &config.Config{QRPath: "/tmp/qr.txt", NumericCode: true, WhatsAppDBDSN: "file:wa.db?_foreign_keys=on"}
	if opts := buildWhatsAppOptions(cfg); len(opts) != 3 {
		t.Errorf("expected 3 options, got %d", len(opts))
	}
}

func TestBuildEngineOptions(t *testing.T) {
	cfg := &config.Config{AdvisoryTimeout: config.DefaultAdvisoryTimeout, SessionIdleTTL: config.DefaultSessionIdleTTL}
	catalog := dataset.NewCatalog(nil, nil)

	if opts := buildEngineOptions(cfg, catalog, nil, nil); len(opts) != 3 {
		t.Errorf("expected 3 options without store or finder, got %d", len(opts))
	}
	opts := buildEngineOptions(cfg, catalog, store.NewInMemoryStore(), testutil.StaticFinder{})
	if len(opts) != 5 {
		t.Errorf("expected 5 options, got %d", len(opts))
	}
}

func TestBuildDispatcherOptions(t *testing.T) {
	if opts := buildDispatcherOptions(store.NewInMemoryStore()); len(opts) != 0 {
		t.Error("in-memory store should not enable de-duplication")
	}
	if opts := buildDispatcherOptions(nil); len(opts) != 0 {
		t.Error("nil store should not enable de-duplication")
	}

	sqlite, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "dedup.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer sqlite.Close()
	if opts := buildDispatcherOptions(sqlite); len(opts) != 1 {
		t.Error("SQLite store should enable de-duplication")
	}
}

func TestBuildAPIOptions(t *testing.T) {
	cfg := &config.Config{}
	catalog := dataset.NewCatalog(nil, nil)
	if opts := buildAPIOptions(cfg, catalog, nil, nil); len(opts) != 2 {
		t.Errorf("expected 2 options, got %d", len(opts))
	}
	noop := func(w http.ResponseWriter, r *http.Request) {}
	if opts := buildAPIOptions(cfg, catalog, store.NewInMemoryStore(), noop); len(opts) != 4 {
		t.Errorf("expected 4 options, got %d", len(opts))
	}
}

func TestOpenChannel_Twilio(t *testing.T) {
	cfg := &config.Config{
		Channel:          config.ChannelTwilio,
		TwilioAccountSID: "ACtest",
		TwilioAuthToken:  "secret",
		TwilioFromNumber: "+15550001111",
	}
	ch, err := openChannel(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openChannel failed: %v", err)
	}
	defer ch.close()
	if ch.webhook == nil {
		t.Error("twilio channel should expose a webhook")
	}
}

func TestOpenChannel_Unknown(t *testing.T) {
	_, err := openChannel(context.Background(), &config.Config{Channel: "fax"})
	if !errors.Is(err, config.ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestNewFacilityFinder(t *testing.T) {
	if f := newFacilityFinder(&config.Config{}); f != nil {
		t.Error("finder should be disabled without a Places key")
	}
	if f := newFacilityFinder(&config.Config{GooglePlacesAPIKey: "AIzaTest", FacilityRadiusMeters: 1000}); f == nil {
		t.Error("finder should be created with a Places key")
	}
}

func TestScheduleMaintenance(t *testing.T) {
	engine := flow.NewEngine(&testutil.RecordingSender{}, &testutil.ScriptedGateway{}, flow.NewChecklist(nil))

	s := scheduler.NewScheduler()
	if err := scheduleMaintenance(s, engine, store.NewInMemoryStore()); err != nil {
		t.Fatalf("scheduleMaintenance failed: %v", err)
	}
	if s.Jobs() != 1 {
		t.Errorf("in-memory store should only get the session sweep, got %d jobs", s.Jobs())
	}

	sqlite, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "purge.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer sqlite.Close()
	s = scheduler.NewScheduler()
	if err := scheduleMaintenance(s, engine, sqlite); err != nil {
		t.Fatalf("scheduleMaintenance failed: %v", err)
	}
	if s.Jobs() != 2 {
		t.Errorf("SQLite store should also get the dedup purge, got %d jobs", s.Jobs())
	}
}

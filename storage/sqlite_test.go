package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tunishome/geo"
	"tunishome/models"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	s := newSQLite(t)
	run := &models.ScrapeRun{SiteID: "tunisie_annonce", StartedAt: time.Now(), Status: models.RunStatusRunning}
	id, err := s.CreateRun(run)
	if err != nil {
		t.Fatal(err)
	}
	run.ID = id

	run.Summary = *models.NewBatchSummary()
	run.Summary.Persisted = 4
	run.Summary.Skip(models.StageExtract)
	now := time.Now()
	run.FinishedAt = &now
	run.Status = models.RunStatusCompleted
	if err := s.UpdateRun(run); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSiteStats("tunisie_annonce"); err != nil {
		t.Fatal(err)
	}

	runs, err := s.LatestRuns(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != models.RunStatusCompleted {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].Summary.Persisted != 4 || runs[0].Summary.Skipped[models.StageExtract] != 1 {
		t.Errorf("summary = %+v", runs[0].Summary)
	}

	if err := s.Log(&models.ScrapeLog{RunID: &id, Level: models.LogLevelWarn, Stage: models.StageExtract,
		URL: "http://example.tn/3", Message: "missing price block", SiteID: "tunisie_annonce"}); err != nil {
		t.Fatal(err)
	}
	logs, err := s.RunLogs(id)
	if err != nil || len(logs) != 1 {
		t.Fatalf("logs = %v, %v", logs, err)
	}
	if logs[0].Stage != models.StageExtract || logs[0].URL != "http://example.tn/3" {
		t.Errorf("log = %+v", logs[0])
	}
}

func TestSQLiteStore_Commands(t *testing.T) {
	s := newSQLite(t)
	if _, err := s.CreateCommand(models.CmdScrapeSite, &models.CommandParams{Site: "tunisie_annonce"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateCommand(models.CmdPause, nil); err != nil {
		t.Fatal(err)
	}

	cmds, err := s.GetPendingCommands()
	if err != nil || len(cmds) != 2 {
		t.Fatalf("cmds = %v, %v", cmds, err)
	}
	params, err := ParseCommandParams(&cmds[0])
	if err != nil || params.Site != "tunisie_annonce" {
		t.Errorf("params = %+v, %v", params, err)
	}
	params, err = ParseCommandParams(&cmds[1])
	if err != nil || params.Site != "" {
		t.Errorf("empty params = %+v, %v", params, err)
	}

	s.MarkCommandProcessed(cmds[0].ID)
	cmds, _ = s.GetPendingCommands()
	if len(cmds) != 1 || cmds[0].Command != models.CmdPause {
		t.Errorf("pending after processing = %+v", cmds)
	}
}

func TestSQLiteStore_GeocodeCache(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "tunis_tunis"); ok || err != nil {
		t.Fatalf("empty cache get = %v, %v", ok, err)
	}
	if err := s.Put(ctx, "tunis_tunis", geo.Point{Lat: 36.8, Lon: 10.18}); err != nil {
		t.Fatal(err)
	}
	p, ok, err := s.Get(ctx, "tunis_tunis")
	if err != nil || !ok || p.Lat != 36.8 || p.Lon != 10.18 {
		t.Errorf("get = %v %v %v", p, ok, err)
	}
}

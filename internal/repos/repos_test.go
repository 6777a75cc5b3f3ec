package repos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/types"
)

func newTestDB(t *testing.T) (*gorm.DB, *logger.Logger) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.DesignSeries{},
		&types.DesignAsset{},
		&types.AnalysisJob{},
		&types.AssemblyNode{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return db, log
}

func seedSeries(t *testing.T, db *gorm.DB, log *logger.Logger) *types.DesignSeries {
	t.Helper()
	repo := NewDesignSeriesRepo(db, log)
	series, err := repo.Create(context.Background(), nil, &types.DesignSeries{
		Name:       "Bracket",
		PartNumber: "BRK-100",
	})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	return series
}

func seedAsset(t *testing.T, db *gorm.DB, log *logger.Logger, seriesID uuid.UUID, version int) *types.DesignAsset {
	t.Helper()
	repo := NewDesignAssetRepo(db, log)
	asset, err := repo.Create(context.Background(), nil, &types.DesignAsset{
		SeriesID:      seriesID,
		VersionNumber: version,
		Filename:      "bracket.step",
		StorageKey:    fmt.Sprintf("designs/%s/bracket.step", uuid.New()),
		Units:         "mm",
	})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return asset
}

func TestNextVersionNumberIsSequential(t *testing.T) {
	db, log := newTestDB(t)
	repo := NewDesignSeriesRepo(db, log)
	series := seedSeries(t, db, log)

	seen := map[int]bool{}
	for i := 1; i <= 5; i++ {
		v, err := repo.NextVersionNumber(context.Background(), nil, series.ID)
		if err != nil {
			t.Fatalf("next version: %v", err)
		}
		if v != i {
			t.Fatalf("version order: want=%d got=%d", i, v)
		}
		if seen[v] {
			t.Fatalf("version %d assigned twice", v)
		}
		seen[v] = true
	}

	got, err := repo.GetByID(context.Background(), nil, series.ID)
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if got.NextVersion != 6 {
		t.Fatalf("next_version after 5 grants: want=6 got=%d", got.NextVersion)
	}
}

func TestNextVersionNumberUnknownSeries(t *testing.T) {
	db, log := newTestDB(t)
	repo := NewDesignSeriesRepo(db, log)
	if _, err := repo.NextVersionNumber(context.Background(), nil, uuid.New()); err == nil {
		t.Fatal("expected error for unknown series")
	}
}

func TestDesignAssetLifecycle(t *testing.T) {
	db, log := newTestDB(t)
	repo := NewDesignAssetRepo(db, log)
	series := seedSeries(t, db, log)
	asset := seedAsset(t, db, log, series.ID, 1)

	if asset.Status != types.AssetStatusUploading {
		t.Fatalf("default status: want=%s got=%s", types.AssetStatusUploading, asset.Status)
	}

	err := repo.UpdateFields(context.Background(), nil, asset.ID, map[string]interface{}{
		"status":    types.AssetStatusProcessing,
		"file_hash": "abc123",
	})
	if err != nil {
		t.Fatalf("update fields: %v", err)
	}

	got, err := repo.GetByID(context.Background(), nil, asset.ID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if got.Status != types.AssetStatusProcessing || got.FileHash != "abc123" {
		t.Fatalf("unexpected asset after update: status=%s hash=%s", got.Status, got.FileHash)
	}

	byHash, err := repo.GetByFileHash(context.Background(), nil, "abc123")
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if len(byHash) != 1 || byHash[0].ID != asset.ID {
		t.Fatalf("get by hash: want 1 row with id=%s got=%d", asset.ID, len(byHash))
	}
}

func TestDesignAssetGetByIDMissing(t *testing.T) {
	db, log := newTestDB(t)
	repo := NewDesignAssetRepo(db, log)
	got, err := repo.GetByID(context.Background(), nil, uuid.New())
	if err != nil {
		t.Fatalf("get missing asset: %v", err)
	}
	if got != nil {
		t.Fatalf("missing asset: want=nil got=%+v", got)
	}
}

func TestAnalysisJobQueries(t *testing.T) {
	db, log := newTestDB(t)
	repo := NewAnalysisJobRepo(db, log)
	series := seedSeries(t, db, log)
	asset := seedAsset(t, db, log, series.ID, 1)

	jobTypes := []string{
		types.JobTypeHashCalculation,
		types.JobTypeGeometryExtraction,
		types.JobTypeValidation,
	}
	for _, jt := range jobTypes {
		_, err := repo.Create(context.Background(), nil, &types.AnalysisJob{
			AssetID: asset.ID,
			JobType: jt,
			TaskID:  "wf-" + asset.ID.String(),
		})
		if err != nil {
			t.Fatalf("create job %s: %v", jt, err)
		}
		// keep created_at strictly increasing for the ordering checks
		time.Sleep(5 * time.Millisecond)
	}

	jobs, err := repo.ListByAssetID(context.Background(), nil, asset.ID)
	if err != nil {
		t.Fatalf("list by asset: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("job count: want=3 got=%d", len(jobs))
	}
	for i, jt := range jobTypes {
		if jobs[i].JobType != jt {
			t.Fatalf("job order at %d: want=%s got=%s", i, jt, jobs[i].JobType)
		}
	}

	byTask, err := repo.GetByTaskID(context.Background(), nil, "wf-"+asset.ID.String())
	if err != nil {
		t.Fatalf("get by task id: %v", err)
	}
	if byTask == nil || byTask.JobType != types.JobTypeValidation {
		t.Fatalf("get by task id should return newest row, got %+v", byTask)
	}

	now := time.Now()
	err = repo.UpdateFields(context.Background(), nil, jobs[0].ID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"error_message": "corrupted geometry data",
		"completed_at":  now,
	})
	if err != nil {
		t.Fatalf("fail job: %v", err)
	}

	failed, err := repo.ListFailedSince(context.Background(), nil, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "corrupted geometry data" {
		t.Fatalf("failed listing: want 1 row, got=%d", len(failed))
	}
}

func TestGetByTaskIDBreaksCreatedAtTies(t *testing.T) {
	db, log := newTestDB(t)
	repo := NewAnalysisJobRepo(db, log)
	series := seedSeries(t, db, log)
	asset := seedAsset(t, db, log, series.ID, 1)
	ctx := context.Background()

	// force identical creation stamps to exercise the secondary ordering
	stamp := time.Now().Truncate(time.Second)
	var ids []uuid.UUID
	for _, jt := range []string{types.JobTypeGeometryExtraction, types.JobTypeValidation} {
		job, err := repo.Create(ctx, nil, &types.AnalysisJob{
			AssetID: asset.ID,
			JobType: jt,
			TaskID:  "wf-tie",
		})
		if err != nil {
			t.Fatalf("create job: %v", err)
		}
		if err := repo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
			"created_at": stamp,
		}); err != nil {
			t.Fatalf("pin created_at: %v", err)
		}
		ids = append(ids, job.ID)
	}

	want := ids[0]
	if ids[1].String() > ids[0].String() {
		want = ids[1]
	}
	for i := 0; i < 5; i++ {
		got, err := repo.GetByTaskID(ctx, nil, "wf-tie")
		if err != nil || got == nil {
			t.Fatalf("get by task id: %v", err)
		}
		if got.ID != want {
			t.Fatalf("tie-break not deterministic: want=%s got=%s", want, got.ID)
		}
	}
}

func TestAssemblyNodeRebuild(t *testing.T) {
	db, log := newTestDB(t)
	repo := NewAssemblyNodeRepo(db, log)
	series := seedSeries(t, db, log)
	asset := seedAsset(t, db, log, series.ID, 1)

	root := &types.AssemblyNode{
		ID:       uuid.New(),
		AssetID:  asset.ID,
		Name:     "bracket_assembly",
		NodeType: types.NodeTypeAssembly,
		Quantity: 1,
		Depth:    1,
	}
	children := []*types.AssemblyNode{root}
	for i := 0; i < 3; i++ {
		parentID := root.ID
		children = append(children, &types.AssemblyNode{
			AssetID:    asset.ID,
			ParentID:   &parentID,
			Name:       fmt.Sprintf("Component_%d", i+1),
			PartNumber: fmt.Sprintf("PN-%04d", i+1),
			NodeType:   types.NodeTypePart,
			Quantity:   1,
			Depth:      2,
			SortOrder:  i,
		})
	}
	if _, err := repo.Create(context.Background(), nil, children); err != nil {
		t.Fatalf("create nodes: %v", err)
	}

	count, err := repo.CountByAssetID(context.Background(), nil, asset.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 4 {
		t.Fatalf("node count: want=4 got=%d", count)
	}

	listed, err := repo.ListByAssetID(context.Background(), nil, asset.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listed[0].NodeType != types.NodeTypeAssembly {
		t.Fatalf("root first: want=%s got=%s", types.NodeTypeAssembly, listed[0].NodeType)
	}
	for i := 1; i < len(listed); i++ {
		if listed[i].ParentID == nil || *listed[i].ParentID != root.ID {
			t.Fatalf("child %d not parented to root", i)
		}
	}

	if err := repo.DeleteByAssetID(context.Background(), nil, asset.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	count, err = repo.CountByAssetID(context.Background(), nil, asset.ID)
	if err != nil {
		t.Fatalf("recount: %v", err)
	}
	if count != 0 {
		t.Fatalf("nodes remain after delete: %d", count)
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/enginelhq/enginel-backend/internal/bom"
	"github.com/enginelhq/enginel-backend/internal/geometry"
	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/repos"
	"github.com/enginelhq/enginel-backend/internal/types"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (s *memoryStore) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (s *memoryStore) UploadFile(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

type recordingProgress struct {
	mu        sync.Mutex
	snapshots []Progress
}

func (r *recordingProgress) Publish(ctx context.Context, taskID string, p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, p)
}

func (r *recordingProgress) last() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return Progress{}
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *recordingProgress) all() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.snapshots...)
}

type recordingMetrics struct {
	mu          sync.Mutex
	completions map[string]int
}

func (r *recordingMetrics) RecordCompletion(ctx context.Context, jobType string, d time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completions == nil {
		r.completions = map[string]int{}
	}
	r.completions[jobType]++
}

type fakeShape struct {
	props   geometry.MassProperties
	topo    geometry.Topology
	meshErr error
	onProps func()
}

func (f *fakeShape) MassProperties() (geometry.MassProperties, error) {
	if f.onProps != nil {
		f.onProps()
	}
	return f.props, nil
}
func (f *fakeShape) Topology() (geometry.Topology, error) { return f.topo, nil }
func (f *fakeShape) Solids() ([]geometry.Shape, error)    { return []geometry.Shape{f}, nil }
func (f *fakeShape) Valid() (bool, error)                 { return true, nil }
func (f *fakeShape) Manifold() (bool, error)              { return true, nil }
func (f *fakeShape) Closed() (bool, error)                { return true, nil }
func (f *fakeShape) Mesh(linear, angular float64) (*geometry.Mesh, error) {
	if f.meshErr != nil {
		return nil, f.meshErr
	}
	return &geometry.Mesh{Triangles: []geometry.Triangle{{}}}, nil
}

type fakeKernel struct {
	shape geometry.Shape
	err   error
}

func (k fakeKernel) Load(path string) (geometry.Shape, error) {
	if k.err != nil {
		return nil, k.err
	}
	return k.shape, nil
}

type testEnv struct {
	db       *gorm.DB
	log      *logger.Logger
	assets   repos.DesignAssetRepo
	jobs     repos.AnalysisJobRepo
	nodes    repos.AssemblyNodeRepo
	store    *memoryStore
	progress *recordingProgress
	metrics  *recordingMetrics
}

func newTestEnv(t *testing.T) *testEnv {
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
	return &testEnv{
		db:       db,
		log:      log,
		assets:   repos.NewDesignAssetRepo(db, log),
		jobs:     repos.NewAnalysisJobRepo(db, log),
		nodes:    repos.NewAssemblyNodeRepo(db, log),
		store:    newMemoryStore(),
		progress: &recordingProgress{},
		metrics:  &recordingMetrics{},
	}
}

func (e *testEnv) runner(t *testing.T, kernel geometry.Kernel, retry RetryPolicy) *Runner {
	t.Helper()
	return NewRunner(Config{
		Assets:   e.assets,
		Jobs:     e.jobs,
		Nodes:    e.nodes,
		BOM:      bom.NewBuilder(e.nodes, e.log),
		Kernel:   kernel,
		Store:    e.store,
		Progress: e.progress,
		Metrics:  e.metrics,
		Retry:    retry,
		Log:      e.log,
		Sleep:    func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
}

func (e *testEnv) seedAsset(t *testing.T, filename string, content []byte) *types.DesignAsset {
	t.Helper()
	ctx := context.Background()
	seriesRepo := repos.NewDesignSeriesRepo(e.db, e.log)
	series, err := seriesRepo.Create(ctx, nil, &types.DesignSeries{Name: "Test", PartNumber: "T-1"})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	key := fmt.Sprintf("designs/%s/%s", uuid.New(), filename)
	if err := e.store.UploadFile(ctx, key, content, "application/octet-stream"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	asset, err := e.assets.Create(ctx, nil, &types.DesignAsset{
		SeriesID:      series.ID,
		VersionNumber: 1,
		Filename:      filename,
		StorageKey:    key,
		Units:         "mm",
	})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return asset
}

func cubeShape(unit string) *fakeShape {
	return &fakeShape{
		props: geometry.MassProperties{
			Volume:      1000.0,
			SurfaceArea: 600.0,
			BoundingBox: geometry.BoundingBox{XMax: 10, YMax: 10, ZMax: 10},
			Units:       unit,
		},
		topo: geometry.Topology{Solids: 1, Shells: 1, Faces: 6, Edges: 12, Vertices: 8},
	}
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestProcessAssetHappyPath(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, fakeKernel{shape: cubeShape("mm")}, fastRetry(3))
	asset := env.seedAsset(t, "cube.step", []byte("ISO-10303-21;"))
	ctx := context.Background()

	if err := runner.ProcessAsset(ctx, asset.ID, "wf-1"); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := env.assets.GetByID(ctx, nil, asset.ID)
	if err != nil {
		t.Fatalf("reload asset: %v", err)
	}
	if got.Status != types.AssetStatusCompleted {
		t.Fatalf("status: want=%s got=%s (%s)", types.AssetStatusCompleted, got.Status, got.ProcessingError)
	}
	if got.FileHash == "" || got.SizeBytes == 0 {
		t.Fatalf("hash step missing: hash=%q size=%d", got.FileHash, got.SizeBytes)
	}
	if got.ProcessedAt == nil {
		t.Fatal("processed_at not set")
	}
	if got.IsValidGeometry == nil || !*got.IsValidGeometry {
		t.Fatal("validation flag not set")
	}
	if got.PreviewKey != fmt.Sprintf("previews/%s.stl", asset.ID) {
		t.Fatalf("preview key: got %q", got.PreviewKey)
	}
	if _, err := env.store.DownloadFile(ctx, got.PreviewKey); err != nil {
		t.Fatalf("preview object missing: %v", err)
	}

	meta, ok := decodeMetadata(got.Metadata)
	if !ok {
		t.Fatal("metadata not stored")
	}
	if meta.Volume != 1000 || meta.Topology.Faces != 6 || meta.Units != "mm" {
		t.Fatalf("metadata: %+v", meta)
	}

	jobs, err := env.jobs.ListByAssetID(ctx, nil, asset.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 6 {
		t.Fatalf("job rows: want=6 got=%d", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != types.JobStatusSuccess {
			t.Fatalf("job %s: want SUCCESS got %s (%s)", job.JobType, job.Status, job.ErrorMessage)
		}
		if job.StartedAt == nil || job.CompletedAt == nil {
			t.Fatalf("job %s missing timestamps", job.JobType)
		}
	}

	// single solid means a lone PART root, not a one-piece assembly
	nodes, err := env.nodes.ListByAssetID(ctx, nil, asset.ID)
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].NodeType != types.NodeTypePart {
		t.Fatalf("bom tree: %+v", nodes)
	}

	snapshots := env.progress.all()
	if len(snapshots) == 0 || snapshots[0].Current != 0 {
		t.Fatalf("first snapshot must precede the first step: %+v", snapshots)
	}
	for _, p := range snapshots {
		if p.Message == "" {
			t.Fatalf("snapshot without message: %+v", p)
		}
	}
	last := env.progress.last()
	if last.Current != totalSteps || last.Percent != 100 || last.Status != types.JobStatusSuccess {
		t.Fatalf("final progress: %+v", last)
	}
	if env.metrics.completions[types.JobTypeHashCalculation] != 1 {
		t.Fatal("metrics not recorded")
	}
}

func TestProcessAssetCorruptedFileFailsAfterRetries(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, fakeKernel{err: geometry.ErrCorruptedFile}, fastRetry(2))
	asset := env.seedAsset(t, "bad.step", []byte("garbage"))
	ctx := context.Background()

	err := runner.ProcessAsset(ctx, asset.ID, "wf-2")
	if !errors.Is(err, geometry.ErrCorruptedFile) {
		t.Fatalf("want ErrCorruptedFile got %v", err)
	}

	got, _ := env.assets.GetByID(ctx, nil, asset.ID)
	if got.Status != types.AssetStatusFailed {
		t.Fatalf("status: want=FAILED got=%s", got.Status)
	}
	if got.ProcessingError == "" {
		t.Fatal("processing_error not recorded")
	}

	jobs, _ := env.jobs.ListByAssetID(ctx, nil, asset.ID)
	var geomStatuses []string
	for _, job := range jobs {
		if job.JobType == types.JobTypeGeometryExtraction {
			geomStatuses = append(geomStatuses, job.Status)
		}
	}
	if len(geomStatuses) != 2 {
		t.Fatalf("geometry attempts: want=2 got=%d", len(geomStatuses))
	}
	if geomStatuses[0] != types.JobStatusRetry || geomStatuses[1] != types.JobStatusFailed {
		t.Fatalf("retry statuses: got %v", geomStatuses)
	}
}

func TestProcessAssetPreviewFailureIsBestEffort(t *testing.T) {
	env := newTestEnv(t)
	shape := cubeShape("mm")
	shape.meshErr = errors.New("tessellation failed")
	runner := env.runner(t, fakeKernel{shape: shape}, fastRetry(3))
	asset := env.seedAsset(t, "cube.step", []byte("ISO-10303-21;"))
	ctx := context.Background()

	if err := runner.ProcessAsset(ctx, asset.ID, "wf-3"); err != nil {
		t.Fatalf("preview failure must not fail the run: %v", err)
	}

	got, _ := env.assets.GetByID(ctx, nil, asset.ID)
	if got.Status != types.AssetStatusCompleted {
		t.Fatalf("status: want=COMPLETED got=%s", got.Status)
	}
	if got.PreviewKey != "" {
		t.Fatalf("preview key should stay empty, got %q", got.PreviewKey)
	}

	jobs, _ := env.jobs.ListByAssetID(ctx, nil, asset.ID)
	for _, job := range jobs {
		if job.JobType == types.JobTypePreviewGeneration && job.Status != types.JobStatusFailed {
			t.Fatalf("preview job: want FAILED got %s", job.Status)
		}
	}
}

func TestProcessAssetNormalizesInchesToMillimeters(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, fakeKernel{shape: cubeShape("in")}, fastRetry(3))
	asset := env.seedAsset(t, "cube_inches.step", []byte("ISO-10303-21;"))
	ctx := context.Background()

	if err := runner.ProcessAsset(ctx, asset.ID, "wf-4"); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := env.assets.GetByID(ctx, nil, asset.ID)
	if got.Units != "mm" {
		t.Fatalf("units after normalization: want=mm got=%s", got.Units)
	}
	meta, _ := decodeMetadata(got.Metadata)
	wantVolume := 1000.0 * 25.4 * 25.4 * 25.4
	if math.Abs(meta.Volume-wantVolume) > 1e-6 {
		t.Fatalf("volume: want=%v got=%v", wantVolume, meta.Volume)
	}
	wantArea := 600.0 * 25.4 * 25.4
	if math.Abs(meta.SurfaceArea-wantArea) > 1e-6 {
		t.Fatalf("surface area: want=%v got=%v", wantArea, meta.SurfaceArea)
	}
	if math.Abs(meta.BoundingBox.Dimensions.Length-254.0) > 1e-9 {
		t.Fatalf("bbox length: want=254 got=%v", meta.BoundingBox.Dimensions.Length)
	}

	// a second normalization pass must not rescale anything
	if err := runner.NormalizeUnits(ctx, asset.ID.String(), "wf-4b"); err != nil {
		t.Fatalf("standalone normalize: %v", err)
	}
	again, _ := env.assets.GetByID(ctx, nil, asset.ID)
	metaAgain, _ := decodeMetadata(again.Metadata)
	if metaAgain.Volume != meta.Volume {
		t.Fatalf("normalization not idempotent: %v vs %v", metaAgain.Volume, meta.Volume)
	}
}

func TestNormalizeUnitsScalesNodeMetadata(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, fakeKernel{shape: cubeShape("in")}, fastRetry(3))
	asset := env.seedAsset(t, "gearbox.step", []byte("ISO-10303-21;"))
	ctx := context.Background()

	assetMeta, _ := json.Marshal(AssetMetadata{Volume: 1000, SurfaceArea: 600, Units: "in"})
	if err := env.assets.UpdateFields(ctx, nil, asset.ID, map[string]interface{}{
		"metadata": datatypes.JSON(assetMeta),
		"units":    "in",
	}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	root := &types.AssemblyNode{
		AssetID: asset.ID, Name: "gearbox",
		NodeType: types.NodeTypeAssembly, Quantity: 1,
		Volume: 1000, Depth: 1, ChildCount: 1,
	}
	childMeta, _ := json.Marshal(map[string]interface{}{
		"surface_area":   600.0,
		"center_of_mass": geometry.Vec3{X: 1, Y: 2, Z: 3},
		"bounding_box":   geometry.BoundingBox{XMax: 10, YMax: 10, ZMax: 10},
		"topology":       geometry.Topology{Solids: 1, Faces: 6},
	})
	child := &types.AssemblyNode{
		AssetID: asset.ID, ParentID: &root.ID, Name: "Gear", PartNumber: "PN-0002",
		NodeType: types.NodeTypePart, Quantity: 1,
		Volume: 1000, Depth: 2, Metadata: childMeta,
	}
	if _, err := env.nodes.Create(ctx, nil, []*types.AssemblyNode{root, child}); err != nil {
		t.Fatalf("seed tree: %v", err)
	}

	if err := runner.NormalizeUnits(ctx, asset.ID.String(), "wf-node-meta"); err != nil {
		t.Fatalf("normalize: %v", err)
	}

	nodes, _ := env.nodes.ListByAssetID(ctx, nil, asset.ID)
	if len(nodes) != 2 {
		t.Fatalf("tree: %+v", nodes)
	}
	wantVolume := 1000.0 * 25.4 * 25.4 * 25.4
	for _, node := range nodes {
		if math.Abs(node.Volume-wantVolume) > 1e-6 {
			t.Fatalf("node %s volume: want=%v got=%v", node.Name, wantVolume, node.Volume)
		}
	}
	var converted nodeMeasurements
	for _, node := range nodes {
		if node.ParentID != nil {
			if err := json.Unmarshal(node.Metadata, &converted); err != nil {
				t.Fatalf("child metadata: %v", err)
			}
		}
	}
	if math.Abs(converted.SurfaceArea-600.0*25.4*25.4) > 1e-6 {
		t.Fatalf("surface area: got %v", converted.SurfaceArea)
	}
	if math.Abs(converted.CenterOfMass.X-25.4) > 1e-9 || math.Abs(converted.CenterOfMass.Z-76.2) > 1e-9 {
		t.Fatalf("center of mass: %+v", converted.CenterOfMass)
	}
	if math.Abs(converted.BoundingBox.XMax-254.0) > 1e-9 || math.Abs(converted.BoundingBox.Dimensions.Length-254.0) > 1e-9 {
		t.Fatalf("bounding box: %+v", converted.BoundingBox)
	}
	if converted.Topology.Faces != 6 {
		t.Fatalf("topology must pass through unchanged: %+v", converted.Topology)
	}
}

func TestProcessAssetNonGeometryFormat(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, fakeKernel{err: errors.New("kernel must not be called")}, fastRetry(3))
	asset := env.seedAsset(t, "scan.obj", []byte("v 0 0 0\n"))
	ctx := context.Background()

	if err := runner.ProcessAsset(ctx, asset.ID, "wf-5"); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := env.assets.GetByID(ctx, nil, asset.ID)
	if got.Status != types.AssetStatusCompleted {
		t.Fatalf("status: want=COMPLETED got=%s", got.Status)
	}
	if got.Units != "mm" {
		t.Fatalf("units after normalization: want=mm got=%s", got.Units)
	}
	meta, ok := decodeMetadata(got.Metadata)
	if !ok || meta.FileFormat != "OBJ" || meta.Volume != 0 {
		t.Fatalf("placeholder metadata: %+v", meta)
	}
	if meta.Units != "mm" {
		t.Fatalf("metadata units: want=mm got=%s", meta.Units)
	}

	// the conversion must have started from the obj meter default
	jobs, _ := env.jobs.ListByAssetID(ctx, nil, asset.ID)
	fromUnit := ""
	for _, job := range jobs {
		if job.JobType != types.JobTypeUnitConversion {
			continue
		}
		var result map[string]interface{}
		if err := json.Unmarshal(job.Result, &result); err != nil {
			t.Fatalf("conversion result: %v", err)
		}
		fromUnit, _ = result["from_unit"].(string)
	}
	if fromUnit != "m" {
		t.Fatalf("obj default unit: want=m got=%q", fromUnit)
	}

	nodes, _ := env.nodes.ListByAssetID(ctx, nil, asset.ID)
	if len(nodes) != 1 || nodes[0].NodeType != types.NodeTypePart {
		t.Fatalf("non-geometry asset still gets a part root: %+v", nodes)
	}
}

func TestProcessAssetCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	shape := cubeShape("mm")
	shape.onProps = cancel
	runner := env.runner(t, fakeKernel{shape: shape}, fastRetry(3))
	asset := env.seedAsset(t, "cube.step", []byte("ISO-10303-21;"))

	err := runner.ProcessAsset(ctx, asset.ID, "wf-6")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled got %v", err)
	}

	got, _ := env.assets.GetByID(context.Background(), nil, asset.ID)
	if got.Status != types.AssetStatusFailed {
		t.Fatalf("status: want=FAILED got=%s", got.Status)
	}
	if got.ProcessingError != cancelledMessage {
		t.Fatalf("processing_error: want=%q got=%q", cancelledMessage, got.ProcessingError)
	}
}

func TestExtractBOMStandaloneCreatesJobRow(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, fakeKernel{shape: cubeShape("mm")}, fastRetry(3))
	asset := env.seedAsset(t, "cube.step", []byte("ISO-10303-21;"))
	ctx := context.Background()

	if err := runner.ProcessAsset(ctx, asset.ID, "wf-7"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := runner.ExtractBOM(ctx, asset.ID.String(), "wf-7-bom"); err != nil {
		t.Fatalf("standalone bom: %v", err)
	}

	job, err := env.jobs.GetByTaskID(ctx, nil, "wf-7-bom")
	if err != nil || job == nil {
		t.Fatalf("bom job row missing: %v", err)
	}
	if job.JobType != types.JobTypeBOMParsing || job.Status != types.JobStatusSuccess {
		t.Fatalf("bom job: %+v", job)
	}

	count, _ := env.nodes.CountByAssetID(ctx, nil, asset.ID)
	if count != 1 {
		t.Fatalf("re-extraction must replace the tree: want=1 got=%d", count)
	}
}

func TestRetryPolicyDelayDoubles(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute}
	if p.Delay(0) != time.Minute {
		t.Fatalf("delay 0: got %v", p.Delay(0))
	}
	if p.Delay(1) != 2*time.Minute {
		t.Fatalf("delay 1: got %v", p.Delay(1))
	}
	if p.Delay(2) != 4*time.Minute {
		t.Fatalf("delay 2: got %v", p.Delay(2))
	}
}

package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/wallpaperd/wallpaperd/internal/clock"
	"github.com/wallpaperd/wallpaperd/pkg/events"
	"github.com/wallpaperd/wallpaperd/pkg/events/membus"
	"github.com/wallpaperd/wallpaperd/pkg/ratelimit"
	"github.com/wallpaperd/wallpaperd/pkg/store/object/memory"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper/store"
)

type fixture struct {
	orchestrator *Orchestrator
	store        *store.GORMStore
	objects      *memory.Store
	bus          *membus.Bus
	clock        *clock.Manual
	metrics      *captureMetrics
}

type captureMetrics struct {
	outcomes        []string
	bytes           int64
	rejections      []string
	publishFailures int
}

func (m *captureMetrics) ObserveUpload(outcome string, seconds float64) {
	m.outcomes = append(m.outcomes, outcome)
}
func (m *captureMetrics) RecordUploadBytes(n int64)     { m.bytes += n }
func (m *captureMetrics) RecordRejection(reason string) { m.rejections = append(m.rejections, reason) }
func (m *captureMetrics) RecordPublishFailure()         { m.publishFailures++ }

func newFixture(t *testing.T, limit ratelimit.Config) *fixture {
	t.Helper()

	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	metaStore, err := store.New(&store.Config{Type: store.DatabaseTypeSQLite, Path: ":memory:"}, clk)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { metaStore.Close() })

	objects := memory.New("wallpapers-test")
	bus := membus.New()
	metrics := &captureMetrics{}

	orchestrator, err := New(Config{
		Store:   metaStore,
		Objects: objects,
		Bus:     bus,
		Limiter: ratelimit.NewMemory(limit, clk),
		Clock:   clk,
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	return &fixture{
		orchestrator: orchestrator,
		store:        metaStore,
		objects:      objects,
		bus:          bus,
		clock:        clk,
		metrics:      metrics,
	}
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestHandleUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		f := newFixture(t, ratelimit.Config{Max: 10, Window: time.Minute})
		data := testPNG(t, 800, 600)

		resp, err := f.orchestrator.HandleUpload(ctx, &Request{
			UserID:   "user-1",
			Filename: "sunset.png",
			Data:     data,
		})
		if err != nil {
			t.Fatalf("HandleUpload: %v", err)
		}
		if resp.Status != StatusProcessing {
			t.Errorf("Status = %s", resp.Status)
		}

		w := resp.Wallpaper
		if w.UploadState != wallpaper.StateProcessing {
			t.Errorf("UploadState = %s", w.UploadState)
		}
		if !w.MetadataComplete() {
			t.Error("stored record should have complete metadata")
		}
		if *w.MIMEType != "image/png" || *w.Width != 800 || *w.Height != 600 {
			t.Errorf("metadata = %s %dx%d", *w.MIMEType, *w.Width, *w.Height)
		}
		if *w.OriginalFilename != "sunset.png" {
			t.Errorf("OriginalFilename = %q", *w.OriginalFilename)
		}

		wantKey := wallpaper.StorageKeyFor(w.ID, "png")
		if exists, _ := f.objects.Exists(ctx, wantKey); !exists {
			t.Errorf("object %q not in store", wantKey)
		}
		if *w.StorageBucket != "wallpapers-test" {
			t.Errorf("StorageBucket = %q", *w.StorageBucket)
		}

		published := f.bus.PublishedEvents()
		if len(published) != 1 {
			t.Fatalf("published %d events, want 1", len(published))
		}
		if published[0].Subject != events.SubjectUploaded {
			t.Errorf("Subject = %q", published[0].Subject)
		}
		if published[0].Event.Wallpaper.ID != w.ID {
			t.Errorf("event wallpaper id = %q", published[0].Event.Wallpaper.ID)
		}

		if resp.RateLimit == nil || resp.RateLimit.Remaining != 9 {
			t.Errorf("RateLimit = %+v", resp.RateLimit)
		}
		if f.metrics.bytes != int64(len(data)) {
			t.Errorf("recorded bytes = %d, want %d", f.metrics.bytes, len(data))
		}
	})

	t.Run("duplicate content is idempotent", func(t *testing.T) {
		f := newFixture(t, ratelimit.Config{Max: 10, Window: time.Minute})
		data := testPNG(t, 800, 600)

		first, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-1", Data: data})
		if err != nil {
			t.Fatal(err)
		}
		second, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-1", Data: data})
		if err != nil {
			t.Fatalf("duplicate upload should succeed: %v", err)
		}
		if second.Status != StatusAlreadyUploaded {
			t.Errorf("Status = %s", second.Status)
		}
		if second.Wallpaper.ID != first.Wallpaper.ID {
			t.Errorf("duplicate returned %s, want original %s", second.Wallpaper.ID, first.Wallpaper.ID)
		}
		if f.objects.Len() != 1 {
			t.Errorf("object count = %d, want 1", f.objects.Len())
		}
		if got := len(f.bus.PublishedEvents()); got != 1 {
			t.Errorf("published %d events, want 1", got)
		}
	})

	t.Run("same content different users kept separate", func(t *testing.T) {
		f := newFixture(t, ratelimit.Config{Max: 10, Window: time.Minute})
		data := testPNG(t, 800, 600)

		first, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-1", Data: data})
		if err != nil {
			t.Fatal(err)
		}
		second, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-2", Data: data})
		if err != nil {
			t.Fatal(err)
		}
		if second.Status != StatusProcessing {
			t.Errorf("Status = %s", second.Status)
		}
		if second.Wallpaper.ID == first.Wallpaper.ID {
			t.Error("each user should own a distinct record")
		}
	})

	t.Run("object store failure marks record failed", func(t *testing.T) {
		f := newFixture(t, ratelimit.Config{Max: 10, Window: time.Minute})
		f.objects.FailPuts = true
		data := testPNG(t, 800, 600)

		_, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-1", Data: data})
		if err == nil {
			t.Fatal("expected error")
		}

		failed, err := f.store.ListInStateOlderThan(ctx, wallpaper.StateFailed, f.clock.Now().Add(time.Second), 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(failed) != 1 {
			t.Fatalf("failed records = %d, want 1", len(failed))
		}
		if failed[0].ProcessingError == nil {
			t.Error("failed record should carry a processing error")
		}
		sum := sha256.Sum256(data)
		if failed[0].ContentHash == nil || *failed[0].ContentHash != hex.EncodeToString(sum[:]) {
			t.Errorf("failed record content hash = %v, want hash of uploaded bytes", failed[0].ContentHash)
		}
		if got := len(f.bus.PublishedEvents()); got != 0 {
			t.Errorf("published %d events, want 0", got)
		}
	})

	t.Run("publish failure still succeeds", func(t *testing.T) {
		f := newFixture(t, ratelimit.Config{Max: 10, Window: time.Minute})
		f.bus.FailPublishes = true

		resp, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-1", Data: testPNG(t, 800, 600)})
		if err != nil {
			t.Fatalf("publish failure must not fail the upload: %v", err)
		}
		if resp.Status != StatusProcessing {
			t.Errorf("Status = %s", resp.Status)
		}

		// The record stays at stored so the reconciler can republish.
		got, err := f.store.Get(ctx, resp.Wallpaper.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.UploadState != wallpaper.StateStored {
			t.Errorf("UploadState = %s, want stored", got.UploadState)
		}
		if f.metrics.publishFailures != 1 {
			t.Errorf("publishFailures = %d", f.metrics.publishFailures)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newFixture(t, ratelimit.Config{Max: 1, Window: time.Minute})
		data := testPNG(t, 800, 600)

		if _, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-1", Data: data}); err != nil {
			t.Fatal(err)
		}
		_, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-1", Data: data})
		if !errors.Is(err, ratelimit.ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
	})

	t.Run("invalid uploads consume the budget", func(t *testing.T) {
		f := newFixture(t, ratelimit.Config{Max: 2, Window: time.Minute})

		// Two garbage uploads burn the whole window.
		for i := 0; i < 2; i++ {
			if _, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-1", Data: []byte("garbage")}); !errors.Is(err, ErrInvalidFormat) {
				t.Fatalf("expected ErrInvalidFormat, got %v", err)
			}
		}
		_, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-1", Data: testPNG(t, 800, 600)})
		if !errors.Is(err, ratelimit.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
	})

	t.Run("validation failures", func(t *testing.T) {
		f := newFixture(t, ratelimit.Config{Max: 100, Window: time.Minute})

		tests := []struct {
			name    string
			req     *Request
			wantErr error
		}{
			{"missing user", &Request{Data: []byte("x")}, ErrMissingUserID},
			{"missing file", &Request{UserID: "user-1"}, ErrMissingFile},
			{"unknown format", &Request{UserID: "user-1", Data: []byte("not an image")}, ErrInvalidFormat},
			{"too small", &Request{UserID: "user-1", Data: testPNG(t, 100, 100)}, ErrDimensionsOutOfBounds},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.orchestrator.HandleUpload(ctx, tt.req)
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("HandleUpload = %v, want %v", err, tt.wantErr)
				}
			})
		}

		// No intent records or objects should survive validation failures.
		if f.objects.Len() != 0 {
			t.Errorf("object count = %d, want 0", f.objects.Len())
		}
	})

	t.Run("oversized file reports size before format", func(t *testing.T) {
		f := newFixture(t, ratelimit.Config{Max: 10, Window: time.Minute})
		f.orchestrator.policy.MaxBytesImage = 10

		_, err := f.orchestrator.HandleUpload(ctx, &Request{UserID: "user-1", Data: []byte("definitely not an image")})
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("expected ErrFileTooLarge, got %v", err)
		}
	})

	t.Run("traceparent rides along on the event", func(t *testing.T) {
		f := newFixture(t, ratelimit.Config{Max: 10, Window: time.Minute})
		const tp = "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"

		if _, err := f.orchestrator.HandleUpload(ctx, &Request{
			UserID:      "user-1",
			Data:        testPNG(t, 800, 600),
			TraceParent: tp,
		}); err != nil {
			t.Fatal(err)
		}

		published := f.bus.PublishedEvents()
		if len(published) != 1 {
			t.Fatalf("published %d events", len(published))
		}
		if published[0].TraceParent != tp {
			t.Errorf("TraceParent = %q", published[0].TraceParent)
		}
	})
}

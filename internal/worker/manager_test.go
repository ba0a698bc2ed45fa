package worker

import (
	"context"
	"image"
	"testing"
	"time"

	"editengine/internal/qfilter"
	"editengine/internal/qimage"
)

func TestRun_RejectsWhileBusy(t *testing.T) {
	m := NewManager()
	block := make(chan struct{})
	started := make(chan struct{})

	ok := m.Run(context.Background(), "job1", nil, func(ctx context.Context) (qimage.Image, error) {
		close(started)
		<-block
		return qimage.Image{}, nil
	})
	if !ok {
		t.Fatal("first Run() returned false")
	}
	<-started

	if ok := m.Run(context.Background(), "job2", nil, func(context.Context) (qimage.Image, error) {
		return qimage.Image{}, nil
	}); ok {
		t.Errorf("second Run() succeeded while a task was in flight")
	}

	close(block)
	select {
	case r := <-m.Results():
		if r.JobID != "job1" {
			t.Errorf("JobID = %q, want job1", r.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job1's result")
	}
}

func TestIsRunning_TracksState(t *testing.T) {
	m := NewManager()
	if m.IsRunning() {
		t.Fatal("IsRunning() = true before any task started")
	}

	done := make(chan struct{})
	m.Run(context.Background(), "job1", nil, func(context.Context) (qimage.Image, error) {
		<-done
		return qimage.Image{}, nil
	})
	if !m.IsRunning() {
		t.Errorf("IsRunning() = false while a task is in flight")
	}
	close(done)
	<-m.Results()

	deadline := time.Now().Add(time.Second)
	for m.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("IsRunning() never settled back to false")
		}
	}
}

func TestAllowDelete(t *testing.T) {
	m := NewManager()
	a := &fakeFilterHandle{}
	b := &fakeFilterHandle{}

	if !m.AllowDelete(a) {
		t.Fatal("AllowDelete(a) = false with nothing running")
	}

	done := make(chan struct{})
	m.Run(context.Background(), "job1", a, func(context.Context) (qimage.Image, error) {
		<-done
		return qimage.Image{}, nil
	})

	if m.AllowDelete(a) {
		t.Errorf("AllowDelete(a) = true while a is the in-flight filter")
	}
	if !m.AllowDelete(b) {
		t.Errorf("AllowDelete(b) = false while a, not b, is in flight")
	}

	close(done)
	<-m.Results()
}

func TestCancel_SignalsContext(t *testing.T) {
	m := NewManager()
	canceled := make(chan struct{})

	m.Run(context.Background(), "job1", nil, func(ctx context.Context) (qimage.Image, error) {
		<-ctx.Done()
		close(canceled)
		return qimage.Image{}, ctx.Err()
	})
	m.Cancel()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("Cancel() did not propagate to the running task's context")
	}
	<-m.Results()
}

// fakeFilterHandle is a distinct qfilter.Filter identity for AllowDelete
// comparisons; AllowDelete only ever compares pointer identity, so its
// other methods are never exercised.
type fakeFilterHandle struct{}

func (f *fakeFilterHandle) Name() string                      { return "" }
func (f *fakeFilterHandle) Role() qfilter.Role                { return qfilter.RoleTransform }
func (f *fakeFilterHandle) Params() map[string]qimage.Value   { return nil }
func (f *fakeFilterHandle) NewFullImageSize(image.Point) image.Point { return image.Point{} }
func (f *fakeFilterHandle) IsSpatiallyLocal() bool             { return true }
func (f *fakeFilterHandle) Apply(context.Context, []qimage.Image) (qimage.Image, error) {
	return qimage.Image{}, nil
}

var _ qfilter.Filter = (*fakeFilterHandle)(nil)

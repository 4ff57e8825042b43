package flightexport

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

func TestBuildRecord(t *testing.T) {
	e := New("localhost:3000", "hidden", 4)
	if err := e.Add(0, 42, []float32{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := e.Add(1, 7, []float32{5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}
	if e.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", e.Pending())
	}

	rec := e.BuildRecord()
	defer rec.Release()

	if rec.NumRows() != 2 || rec.NumCols() != 3 {
		t.Fatalf("record shape %dx%d", rec.NumRows(), rec.NumCols())
	}

	steps := rec.Column(0).(*array.Int64)
	tokens := rec.Column(1).(*array.Int64)
	if steps.Value(0) != 0 || steps.Value(1) != 1 {
		t.Errorf("step column %v", steps)
	}
	if tokens.Value(0) != 42 || tokens.Value(1) != 7 {
		t.Errorf("token column %v", tokens)
	}

	list := rec.Column(2).(*array.FixedSizeList)
	vals := list.ListValues().(*array.Float32)
	want := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	for i, w := range want {
		if vals.Value(i) != w {
			t.Errorf("hidden[%d] = %v, want %v", i, vals.Value(i), w)
		}
	}
}

func TestSchema(t *testing.T) {
	e := New("localhost:3000", "hidden", 8)
	s := e.Schema()
	if s.NumFields() != 3 {
		t.Fatalf("schema has %d fields", s.NumFields())
	}
	lt, ok := s.Field(2).Type.(*arrow.FixedSizeListType)
	if !ok {
		t.Fatalf("hidden field type %v", s.Field(2).Type)
	}
	if lt.Len() != 8 {
		t.Errorf("hidden width %d, want 8", lt.Len())
	}
}

func TestAddRejectsWrongWidth(t *testing.T) {
	e := New("localhost:3000", "hidden", 4)
	if err := e.Add(0, 1, []float32{1, 2}); err == nil {
		t.Fatal("expected width error")
	}
}

func TestFlushRequiresConnection(t *testing.T) {
	e := New("localhost:3000", "hidden", 2)
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("empty flush should be a no-op, got %v", err)
	}
	if err := e.Add(0, 1, []float32{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(context.Background()); err == nil {
		t.Fatal("expected error when not connected")
	}
}

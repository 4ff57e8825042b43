// Package flightexport publishes per-step hidden states over Arrow Flight,
// so downstream vector stores can index what the model computed without a
// second forward pass.
package flightexport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/paveldotsmirnov/arbalest/internal/logger"
	"github.com/paveldotsmirnov/arbalest/internal/metrics"
)

// Exporter accumulates (step, token, hidden) rows and ships them as one
// Arrow record per Flush. Not safe for concurrent use.
type Exporter struct {
	addr string
	path string
	dim  int

	client flight.Client
	schema *arrow.Schema
	mem    memory.Allocator

	steps  []int64
	tokens []int64
	hidden []float32 // len(steps) * dim, row-major
}

// New builds an exporter for hidden states of width dim. The connection is
// established lazily by Connect.
func New(addr, path string, dim int) *Exporter {
	return &Exporter{
		addr: addr,
		path: path,
		dim:  dim,
		mem:  memory.DefaultAllocator,
		schema: arrow.NewSchema([]arrow.Field{
			{Name: "step", Type: arrow.PrimitiveTypes.Int64},
			{Name: "token", Type: arrow.PrimitiveTypes.Int64},
			{Name: "hidden", Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
		}, nil),
	}
}

// Schema exposes the record layout.
func (e *Exporter) Schema() *arrow.Schema { return e.schema }

// Connect dials the Flight endpoint.
func (e *Exporter) Connect() error {
	client, err := flight.NewClientWithMiddleware(e.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("flight dial %s: %w", e.addr, err)
	}
	e.client = client
	logger.Log.Info("flight exporter connected", "addr", e.addr, "path", e.path, "dim", e.dim)
	return nil
}

// Add buffers one row. The hidden slice is copied.
func (e *Exporter) Add(step, token int, hidden []float32) error {
	if len(hidden) != e.dim {
		return fmt.Errorf("hidden state width %d, want %d", len(hidden), e.dim)
	}
	e.steps = append(e.steps, int64(step))
	e.tokens = append(e.tokens, int64(token))
	e.hidden = append(e.hidden, hidden...)
	return nil
}

// Pending reports the number of buffered rows.
func (e *Exporter) Pending() int { return len(e.steps) }

// BuildRecord materializes the buffered rows as an Arrow record. The caller
// releases it.
func (e *Exporter) BuildRecord() arrow.Record {
	b := array.NewRecordBuilder(e.mem, e.schema)
	defer b.Release()

	stepB := b.Field(0).(*array.Int64Builder)
	tokenB := b.Field(1).(*array.Int64Builder)
	listB := b.Field(2).(*array.FixedSizeListBuilder)
	valB := listB.ValueBuilder().(*array.Float32Builder)

	stepB.AppendValues(e.steps, nil)
	tokenB.AppendValues(e.tokens, nil)
	for i := range e.steps {
		listB.Append(true)
		valB.AppendValues(e.hidden[i*e.dim:(i+1)*e.dim], nil)
	}
	return b.NewRecord()
}

// Flush publishes the buffered rows with one DoPut and clears the buffer.
// Flushing an empty buffer is a no-op.
func (e *Exporter) Flush(ctx context.Context) error {
	if len(e.steps) == 0 {
		return nil
	}
	if e.client == nil {
		return errors.New("flight exporter not connected")
	}

	rec := e.BuildRecord()
	defer rec.Release()

	if err := e.put(ctx, rec); err != nil {
		metrics.FlightPublishErrors.Inc()
		return err
	}
	metrics.FlightPublishTotal.Inc()
	logger.Log.Debug("hidden states published", "rows", rec.NumRows(), "path", e.path)

	e.steps = e.steps[:0]
	e.tokens = e.tokens[:0]
	e.hidden = e.hidden[:0]
	return nil
}

func (e *Exporter) put(ctx context.Context, rec arrow.Record) error {
	stream, err := e.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("flight DoPut: %w", err)
	}

	wtr := flight.NewRecordWriter(stream, ipc.WithSchema(e.schema))
	wtr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{e.path},
	})
	if err := wtr.Write(rec); err != nil {
		return fmt.Errorf("flight write: %w", err)
	}
	if err := wtr.Close(); err != nil {
		return fmt.Errorf("flight close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("flight close send: %w", err)
	}
	// Drain the server's acknowledgements.
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("flight ack: %w", err)
		}
	}
}

// Close flushes nothing and releases the connection.
func (e *Exporter) Close() error {
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

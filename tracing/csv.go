package tracing

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/tebeka/atexit"
)

// CSVTraceWriter is a tracer that writes tasks into a CSV file.
type CSVTraceWriter struct {
	path   string
	file   *os.File
	writer *csv.Writer

	tasksToWrite []Task
	batchSize    int
}

// NewCSVTraceWriter creates a CSVTraceWriter that writes to the given path.
func NewCSVTraceWriter(path string) *CSVTraceWriter {
	w := &CSVTraceWriter{
		path:      path,
		batchSize: 10000,
	}

	atexit.Register(func() { w.Flush() })

	return w
}

// Init opens the output file and writes the header.
func (w *CSVTraceWriter) Init() {
	file, err := os.Create(w.path)
	if err != nil {
		panic(err)
	}

	w.file = file
	w.writer = csv.NewWriter(file)

	err = w.writer.Write([]string{"ID", "Kind", "What", "Where", "Time"})
	if err != nil {
		panic(err)
	}
}

// Write buffers one task.
func (w *CSVTraceWriter) Write(task Task) {
	w.tasksToWrite = append(w.tasksToWrite, task)
	if len(w.tasksToWrite) >= w.batchSize {
		w.Flush()
	}
}

// Flush writes all the buffered tasks out.
func (w *CSVTraceWriter) Flush() {
	if w.writer == nil {
		return
	}

	for _, task := range w.tasksToWrite {
		err := w.writer.Write([]string{
			task.ID,
			task.Kind,
			task.What,
			task.Where,
			fmt.Sprintf("%.12f", task.Time),
		})
		if err != nil {
			panic(err)
		}
	}

	w.tasksToWrite = nil
	w.writer.Flush()
}

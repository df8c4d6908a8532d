package tracing

import (
	"database/sql"
	"fmt"

	// SQLite driver for the trace database.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// SQLiteTraceWriter is a tracer that writes tasks into a SQLite database.
type SQLiteTraceWriter struct {
	*sql.DB
	statement *sql.Stmt

	dbName       string
	tasksToWrite []Task
	batchSize    int
}

// NewSQLiteTraceWriter creates a new SQLiteTraceWriter. When path is empty,
// a unique database name is generated.
func NewSQLiteTraceWriter(path string) *SQLiteTraceWriter {
	w := &SQLiteTraceWriter{
		dbName:    path,
		batchSize: 100000,
	}

	atexit.Register(func() { w.Flush() })

	return w
}

// Init establishes the connection to the database and prepares the table.
func (w *SQLiteTraceWriter) Init() {
	if w.dbName == "" {
		w.dbName = "trace_" + xid.New().String()
	}

	w.createDatabase()
	w.prepareStatement()
}

func (w *SQLiteTraceWriter) createDatabase() {
	filename := w.dbName + ".sqlite3"

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}
	w.DB = db

	w.mustExecute(`
		CREATE TABLE IF NOT EXISTS trace (
			task_id TEXT,
			kind TEXT,
			what TEXT,
			location TEXT,
			time FLOAT
		)
	`)
}

func (w *SQLiteTraceWriter) prepareStatement() {
	stmt, err := w.Prepare(
		"INSERT INTO trace VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		panic(err)
	}

	w.statement = stmt
}

// Write buffers one task for the next batch insert.
func (w *SQLiteTraceWriter) Write(task Task) {
	w.tasksToWrite = append(w.tasksToWrite, task)
	if len(w.tasksToWrite) >= w.batchSize {
		w.Flush()
	}
}

// Flush inserts all the buffered tasks in one transaction.
func (w *SQLiteTraceWriter) Flush() {
	if w.statement == nil || len(w.tasksToWrite) == 0 {
		return
	}

	w.mustExecute("BEGIN TRANSACTION")
	defer w.mustExecute("COMMIT TRANSACTION")

	for _, task := range w.tasksToWrite {
		_, err := w.statement.Exec(
			task.ID,
			task.Kind,
			task.What,
			task.Where,
			task.Time,
		)
		if err != nil {
			fmt.Println(task)
			panic(err)
		}
	}

	w.tasksToWrite = nil
}

func (w *SQLiteTraceWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		panic(query + " failed: " + err.Error())
	}
	return res
}

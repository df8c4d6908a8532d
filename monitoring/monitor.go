// Package monitoring provides an HTTP endpoint for inspecting a running
// simulation: the current simulated time and the counters of the
// registered components.
package monitoring

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"

	"github.com/sarchlab/snoopsim/sim"
)

// A CounterSource is a component that can report its counters.
type CounterSource interface {
	sim.Named

	Counters() map[string]uint64
}

// A Monitor exposes the state of a simulation over HTTP.
type Monitor struct {
	engine  sim.Engine
	sources []CounterSource

	server *http.Server
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// RegisterEngine lets the monitor report the simulation time and pause or
// continue the run.
func (m *Monitor) RegisterEngine(engine sim.Engine) {
	m.engine = engine
}

// RegisterComponent registers a component to be inspected.
func (m *Monitor) RegisterComponent(source CounterSource) {
	m.sources = append(m.sources, source)
}

// StartServer starts the monitoring HTTP server on the given address. When
// the address is empty, a free port is picked. When openBrowser is set, the
// default browser is pointed at the component listing, /api/components.
func (m *Monitor) StartServer(addr string, openBrowser bool) string {
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Panic(err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/now", m.handleNow)
	router.HandleFunc("/api/components", m.handleComponents)
	router.HandleFunc("/api/counters/{name}", m.handleCounters)
	router.HandleFunc("/api/pause", m.handlePause)
	router.HandleFunc("/api/continue", m.handleContinue)

	m.server = &http.Server{Handler: router}

	go func() {
		serveErr := m.server.Serve(listener)
		if serveErr != nil && serveErr != http.ErrServerClosed {
			log.Println(serveErr)
		}
	}()

	url := fmt.Sprintf("http://%s/api/components", listener.Addr())
	if openBrowser {
		_ = browser.OpenURL(url)
	}

	return listener.Addr().String()
}

// StopServer shuts the monitoring server down.
func (m *Monitor) StopServer() {
	if m.server != nil {
		_ = m.server.Close()
	}
}

func (m *Monitor) handleNow(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]float64{
		"now": float64(m.engine.CurrentTime()),
	})
}

func (m *Monitor) handleComponents(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.sources))
	for _, source := range m.sources {
		names = append(names, source.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) handleCounters(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	for _, source := range m.sources {
		if source.Name() == name {
			writeJSON(w, source.Counters())
			return
		}
	}

	http.NotFound(w, r)
}

func (m *Monitor) handlePause(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	writeJSON(w, map[string]bool{"paused": true})
}

func (m *Monitor) handleContinue(w http.ResponseWriter, _ *http.Request) {
	m.engine.Continue()
	writeJSON(w, map[string]bool{"paused": false})
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

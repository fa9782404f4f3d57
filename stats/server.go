// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package stats streams live per-flow measurements to a browser plot.
package stats

import (
	"html/template"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const dataPointBuffer = 1024

// DataPoint represents a single data point for visualization.
type DataPoint struct {
	Label     string
	Timestamp int64 // milliseconds after Start
	Value     float64
}

// Server handles WebSocket connections for real-time data visualization.
type Server struct {
	upgrader *websocket.Upgrader
	dataChan chan DataPoint
	log      logging.LeveledLogger
}

// New creates a new statistics server.
func New() *Server {
	return &Server{
		upgrader: &websocket.Upgrader{},
		dataChan: make(chan DataPoint, dataPointBuffer),
		log:      logging.NewDefaultLoggerFactory().NewLogger("stats"),
	}
}

// Add queues a data point for broadcasting. Points are dropped while the
// buffer is full.
func (s *Server) Add(d DataPoint) {
	select {
	case s.dataChan <- d:
	default:
		s.log.Tracef("dropping data point %v", d.Label)
	}
}

// Handler returns the HTTP handler serving the plot page and the update
// socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.home)
	mux.HandleFunc("/update", s.update)

	return mux
}

// Start serves the statistics page on addr.
func (s *Server) Start(addr string) error {
	//nolint:gosec
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("s.upgrader.Upgrade: %v", err)

		return
	}
	defer func() {
		if err = wsConn.Close(); err != nil {
			s.log.Errorf("failed to close websocket connection: %v", err)
		}
	}()

	for dataPoint := range s.dataChan {
		if err = wsConn.WriteJSON(dataPoint); err != nil {
			s.log.Errorf("c.WriteJSON: %v", err)

			return
		}
	}
}

var homeTemplate = template.Must(template.New("").Parse(`
<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>L4S PDCP flows</title>
    <script src="https://cdn.plot.ly/plotly-latest.min.js"></script>
  </head>
  <body>
    <div id="graph"></div>
    <script>
      const traces = {};
      Plotly.newPlot('graph', []);

      const socket = new WebSocket("{{.}}");
      socket.onmessage = function(event) {
        const data = JSON.parse(event.data);
        if (!(data['Label'] in traces)) {
          traces[data['Label']] = Object.keys(traces).length;
          Plotly.addTraces('graph', {x: [], y: [], name: data['Label'], mode: 'lines', type: 'scatter'});
        }
        Plotly.extendTraces('graph', {
          y: [[data['Value']]],
          x: [[data['Timestamp']]]
        }, [traces[data['Label']]]);
      }
    </script>
  </body>
</html>
`))

func (s *Server) home(respWriter http.ResponseWriter, req *http.Request) {
	if err := homeTemplate.Execute(respWriter, "ws://"+req.Host+"/update"); err != nil {
		s.log.Errorf("failed to execute template: %v", err)
		http.Error(respWriter, "Internal server error", http.StatusInternalServerError)
	}
}

package scandb

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/scan3d/internal/httputil"
)

// AttachAdminRoutes mounts the history pages and tailsql under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Scan history",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("scans", "Recent scans as JSON", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.FormValue("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				httputil.Errorf(w, http.StatusBadRequest, "invalid limit %q", v)
				return
			}
			limit = n
		}
		scans, err := db.ListScans(limit)
		if err != nil {
			httputil.Errorf(w, http.StatusInternalServerError, "failed to list scans: %v", err)
			return
		}
		if scans == nil {
			scans = []Scan{}
		}
		httputil.WriteJSON(w, http.StatusOK, scans)
	})

	debug.HandleSilentFunc("scan-chart", func(w http.ResponseWriter, r *http.Request) {
		id := r.FormValue("id")
		if id == "" {
			httputil.Errorf(w, http.StatusBadRequest, "missing id")
			return
		}
		scan, err := db.GetScan(id)
		if errors.Is(err, ErrNotFound) {
			httputil.Errorf(w, http.StatusNotFound, "scan %q not found", id)
			return
		}
		if err != nil {
			httputil.Errorf(w, http.StatusInternalServerError, "failed to load scan: %v", err)
			return
		}
		steps, err := db.ScanSteps(id)
		if err != nil {
			httputil.Errorf(w, http.StatusInternalServerError, "failed to load steps: %v", err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if err := WriteChart(w, scan, steps); err != nil {
			http.Error(w, fmt.Sprintf("Failed to render chart: %v", err), http.StatusInternalServerError)
		}
	})
	return nil
}

// WriteChart renders points and rejections per step as a PNG.
func WriteChart(w io.Writer, scan Scan, steps []Step) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Scan %s (%s)", scan.ID, scan.Outcome)
	p.X.Label.Text = "Rotation (deg)"
	p.Y.Label.Text = "Points"

	points := make(plotter.XYs, 0, len(steps))
	rejected := make(plotter.XYs, 0, len(steps))
	for _, st := range steps {
		points = append(points, plotter.XY{X: st.RotationDeg, Y: float64(st.Points)})
		rejected = append(rejected, plotter.XY{X: st.RotationDeg, Y: float64(st.Rejected)})
	}

	if len(points) > 0 {
		pointsLine, err := plotter.NewLine(points)
		if err != nil {
			return err
		}
		pointsLine.Width = vg.Points(1)
		p.Add(pointsLine)
		p.Legend.Add("points", pointsLine)

		rejectedLine, err := plotter.NewLine(rejected)
		if err != nil {
			return err
		}
		rejectedLine.Width = vg.Points(1)
		rejectedLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(rejectedLine)
		p.Legend.Add("rejected", rejectedLine)
	}

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/dnstrail/dnstrail/record"
	"github.com/dnstrail/dnstrail/store"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
	dayEnd     = 24*time.Hour - time.Nanosecond
)

type Finder interface {
	Find(ctx context.Context, q store.Query) ([]record.Record, error)
}

// Handler serves read-only lookups over stored records.
type Handler struct {
	log               logrus.FieldLogger
	finder            Finder
	loc               *time.Location
	currentTimeGetter func() time.Time
}

func NewHandler(log logrus.FieldLogger, finder Finder, loc *time.Location, currentTimeGetter func() time.Time) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		log:               log.WithField("component", "api"),
		finder:            finder,
		loc:               loc,
		currentTimeGetter: currentTimeGetter,
	}
}

type logItem struct {
	record.Record
	FormattedTimestamp string `json:"formattedTimestamp"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	s := r.PathPrefix("/api/dnslogs").Subrouter()
	s.Use(corsMiddleware)
	s.HandleFunc("/domain/{domain}", h.query("domain", h.byDomain)).Methods(http.MethodGet)
	s.HandleFunc("/processid/{pid}", h.query("PID", h.byProcessID)).Methods(http.MethodGet)
	s.HandleFunc("/ip/{ip}", h.query("IP", h.byAddress)).Methods(http.MethodGet)
	s.HandleFunc("/path/{path:.+}", h.query("path", h.byPath)).Methods(http.MethodGet)
	s.HandleFunc("/date", h.query("date range", h.byDate)).Methods(http.MethodGet)
	s.HandleFunc("/time", h.query("time range", h.byTime)).Methods(http.MethodGet)
	s.HandleFunc("/date-time", h.query("date and time range", h.byDateTime)).Methods(http.MethodGet)
}

// query wraps a filter builder with lookup and rendering. Builder errors are client errors.
func (h *Handler) query(subject string, build func(req *http.Request) (store.Query, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q, err := build(req)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
			return
		}

		recs, err := h.finder.Find(req.Context(), q)
		if err != nil {
			h.log.Errorf("finding records by %s: %v", subject, err)
			h.writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error fetching logs"})
			return
		}
		if len(recs) == 0 {
			h.writeJSON(w, http.StatusNotFound, messageResponse{Message: "No logs found for this " + subject})
			return
		}

		items := make([]logItem, 0, len(recs))
		for _, rec := range recs {
			items = append(items, logItem{
				Record:             rec,
				FormattedTimestamp: rec.Timestamp.In(h.loc).Format(record.TimeLayout),
			})
		}
		h.writeJSON(w, http.StatusOK, items)
	}
}

func (h *Handler) byDomain(req *http.Request) (store.Query, error) {
	return store.Query{QueryName: strings.TrimSpace(mux.Vars(req)["domain"])}, nil
}

func (h *Handler) byProcessID(req *http.Request) (store.Query, error) {
	pid, err := strconv.Atoi(strings.TrimSpace(mux.Vars(req)["pid"]))
	if err != nil {
		return store.Query{}, errors.New("pid must be an integer")
	}
	return store.Query{ProcessID: &pid}, nil
}

func (h *Handler) byAddress(req *http.Request) (store.Query, error) {
	return store.Query{AddressPattern: regexp.QuoteMeta(strings.TrimSpace(mux.Vars(req)["ip"]))}, nil
}

func (h *Handler) byPath(req *http.Request) (store.Query, error) {
	return store.Query{Path: strings.TrimSpace(mux.Vars(req)["path"])}, nil
}

func (h *Handler) byDate(req *http.Request) (store.Query, error) {
	start, err := h.parseDate(req, "startDate")
	if err != nil {
		return store.Query{}, err
	}
	end, err := h.parseDate(req, "endDate")
	if err != nil {
		return store.Query{}, err
	}
	return between(start, end.Add(dayEnd))
}

func (h *Handler) byTime(req *http.Request) (store.Query, error) {
	now := h.currentTimeGetter().In(h.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.loc)
	return h.timeRange(req, today)
}

func (h *Handler) byDateTime(req *http.Request) (store.Query, error) {
	day, err := h.parseDate(req, "date")
	if err != nil {
		return store.Query{}, err
	}
	return h.timeRange(req, day)
}

func (h *Handler) timeRange(req *http.Request, day time.Time) (store.Query, error) {
	start, err := parseClock(req, "startTime")
	if err != nil {
		return store.Query{}, err
	}
	end, err := parseClock(req, "endTime")
	if err != nil {
		return store.Query{}, err
	}
	return between(atClock(day, start), atClock(day, end))
}

func between(from, to time.Time) (store.Query, error) {
	if to.Before(from) {
		return store.Query{}, errors.New("range end is before its start")
	}
	return store.Query{From: from, To: to}, nil
}

func (h *Handler) parseDate(req *http.Request, param string) (time.Time, error) {
	v := strings.TrimSpace(req.URL.Query().Get(param))
	if v == "" {
		return time.Time{}, fmt.Errorf("%s is required", param)
	}
	t, err := time.ParseInLocation(dateLayout, v, h.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD", param)
	}
	return t, nil
}

// parseClock returns the offset from midnight of an HH:MM:SS or HH:MM parameter.
func parseClock(req *http.Request, param string) (time.Duration, error) {
	v := strings.TrimSpace(req.URL.Query().Get(param))
	if v == "" {
		return 0, fmt.Errorf("%s is required", param)
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		if t, err = time.Parse("15:04", v); err != nil {
			return 0, fmt.Errorf("%s must be HH:MM:SS", param)
		}
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}

func atClock(day time.Time, offset time.Duration) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()).Add(offset)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorf("writing response: %v", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, req)
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geo-index/internal/geoip"
	"geo-index/internal/index"
	"geo-index/internal/query"
	"geo-index/internal/store"
	"geo-index/internal/store/memstore"
	"geo-index/internal/tile"
)

type fakeLocator struct {
	loc geoip.Location
	err error
	got net.IP
}

func (f *fakeLocator) Lookup(ip net.IP) (geoip.Location, error) {
	f.got = ip
	return f.loc, f.err
}

func newEngine(t *testing.T) *query.Engine {
	t.Helper()
	st := memstore.New()
	w := index.NewWriter(tile.MustGrid(tile.DefaultOptions()))
	require.NoError(t, st.Update(context.Background(), func(tx store.Tx) error {
		_, err := w.Index(context.Background(), tx, index.Document{
			ID: "doc1", CollectionID: "colA", From: 1900, To: 1950, Tags: []string{"x"},
			GeoJSON: `{"type":"Point","coordinates":[10.5,20.5]}`,
		})
		return err
	}))
	return query.NewEngine(st)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

const shapeBody = `{"geojson":"{\"type\":\"Polygon\",\"coordinates\":[[[10,20],[11,20],[11,21],[10,21],[10,20]]]}","from":1940,"to":1960,"tags":[],"depth":9,"count":10,"offset":0}`

func TestShape(t *testing.T) {
	h := BuildRoutes(newEngine(t), nil)

	rec := do(h, http.MethodPost, "/shape", shapeBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["colA"]`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("content-type"), "application/json")

	rec = do(h, http.MethodPost, "/shape", strings.Replace(shapeBody, `"tags":[]`, `"tags":["y"]`, 1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestValidationErrors(t *testing.T) {
	h := BuildRoutes(newEngine(t), nil)
	cases := []struct {
		name string
		path string
		body string
		want string
	}{
		{"missing geojson", "/shape", `{"from":1,"to":2,"tags":[],"depth":1,"count":1,"offset":0}`, `{"error":"geojson must be of type string"}`},
		{"float depth", "/shape", strings.Replace(shapeBody, `"depth":9`, `"depth":9.5`, 1), `{"error":"depth must be of type int"}`},
		{"tags not list", "/shape", strings.Replace(shapeBody, `"tags":[]`, `"tags":"x"`, 1), `{"error":"tags must be of type arraylist"}`},
		{"lon string", "/distance", `{"lon":"1","lat":2,"radius":3,"from":1,"to":2,"tags":[],"depth":1,"count":1,"offset":0}`, `{"error":"lon must be of type double"}`},
		{"heatmap depth", "/heatmap", `{"geojson":"{}"}`, `{"error":"depth must be of type int"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, c.path, c.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, c.want, rec.Body.String())
		})
	}

	rec := do(h, http.MethodPost, "/shape", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDistanceAcceptsIntegerCoordinates(t *testing.T) {
	h := BuildRoutes(newEngine(t), nil)
	rec := do(h, http.MethodPost, "/distance", `{"lon":10.5,"lat":20,"radius":100,"from":1940,"to":1960,"tags":["x"],"depth":9,"count":10,"offset":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["colA"]`, rec.Body.String())
}

func TestHeatmap(t *testing.T) {
	h := BuildRoutes(newEngine(t), nil)
	rec := do(h, http.MethodPost, "/heatmap", `{"geojson":"{\"type\":\"Polygon\",\"coordinates\":[[[10,20],[11,20],[11,21],[10,21],[10,20]]]}","depth":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var cells []query.Cell
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cells))
	require.Len(t, cells, 1)
	assert.Equal(t, 15.0, cells[0].Lon)
	assert.Equal(t, 25.0, cells[0].Lat)
	assert.EqualValues(t, 1, cells[0].Count)
}

func TestNearby(t *testing.T) {
	body := `{"radius":50,"from":1940,"to":1960,"tags":[],"depth":9,"count":10,"offset":0`

	rec := do(BuildRoutes(newEngine(t), nil), http.MethodPost, "/nearby", body+`}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	loc := &fakeLocator{loc: geoip.Location{Lon: 10.5, Lat: 20.5}}
	h := BuildRoutes(newEngine(t), loc)
	rec = do(h, http.MethodPost, "/nearby", body+`,"ip":"203.0.113.7"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["colA"]`, rec.Body.String())
	assert.Equal(t, "203.0.113.7", loc.got.String())

	req := httptest.NewRequest(http.MethodPost, "/nearby", strings.NewReader(body+`}`))
	req.Header.Set("x-forwarded-for", "198.51.100.1, 10.0.0.1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "198.51.100.1", loc.got.String())

	rec = do(h, http.MethodPost, "/nearby", body+`,"ip":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"ip must be of type string"}`, rec.Body.String())

	missing := BuildRoutes(newEngine(t), &fakeLocator{err: geoip.ErrNoLocation})
	rec = do(missing, http.MethodPost, "/nearby", body+`,"ip":"203.0.113.7"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	broken := BuildRoutes(newEngine(t), &fakeLocator{err: errors.New("boom")})
	rec = do(broken, http.MethodPost, "/nearby", body+`,"ip":"203.0.113.7"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMiscRoutes(t *testing.T) {
	h := BuildRoutes(newEngine(t), nil)
	assert.Equal(t, http.StatusNotImplemented, do(h, http.MethodPost, "/cypher", `{"query":"MATCH (n) RETURN n"}`).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/shape", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/unknown", "{}").Code)
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.9:5555"
	assert.Equal(t, "192.0.2.9", getClientIP(r))

	r.Header.Set("forwarded", `for="198.51.100.17";proto=https`)
	assert.Equal(t, "198.51.100.17", getClientIP(r))

	r.Header.Set("x-real-ip", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", getClientIP(r))
}

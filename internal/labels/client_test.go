package labels

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelscope/api/internal/content"
)

func labelServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/api/drugs/42":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":42,"name":"Lisinopril","manufacturer":"Acme","sections":[
				{"id":1,"loinc_code":"34067-9","title":"INDICATIONS & USAGE","content_html":"<p>Used for the treatment of hypertension.</p>"},
				{"id":2,"loinc_code":"34068-7","title":"DOSAGE","content":"10 mg once daily"},
				{"id":3,"loinc_code":"34068-7","title":"DOSAGE (renal)","content":"5 mg"}]}`))
		case "/api/drugs/7":
			_, _ = w.Write([]byte(`{"id":7,"name":"Losartan","sections":[
				{"id":8,"loinc_code":"34067-9","title":"INDICATIONS & USAGE","content":"hypertension"},
				{"id":9,"loinc_code":"34084-4","title":"ADVERSE REACTIONS","content":"dizziness"}]}`))
		case "/api/drugs/500":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetDrugByID(t *testing.T) {
	var hits int32
	srv := labelServer(t, &hits)
	c := NewClient(srv.URL+"/api/drugs/", time.Second, time.Minute)

	drug, err := c.GetDrugByID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Lisinopril", drug.Name)
	assert.Len(t, drug.Sections, 3)

	_, err = c.GetDrugByID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second read is served from cache")
}

func TestGetDrugByIDErrors(t *testing.T) {
	var hits int32
	srv := labelServer(t, &hits)
	c := NewClient(srv.URL+"/api/drugs", time.Second, 0)

	_, err := c.GetDrugByID(context.Background(), "999")
	assert.ErrorIs(t, err, ErrDrugNotFound)

	_, err = c.GetDrugByID(context.Background(), "500")
	assert.ErrorIs(t, err, ErrUpstream)

	_, err = c.GetDrugByID(context.Background(), " ")
	assert.ErrorIs(t, err, ErrDrugNotFound)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestContentSectionsFallsBackOnRepeatedCode(t *testing.T) {
	drug := Drug{Sections: []Section{
		{ID: 1, LOINCCode: "34068-7", Title: "DOSAGE"},
		{ID: 2, LOINCCode: "34068-7", Title: "DOSAGE (renal)"},
		{ID: 3, Title: "UNCODED"},
	}}
	got := ContentSections(drug)
	require.Len(t, got, 3)
	assert.Equal(t, "34068-7", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
	assert.Equal(t, "3", got[2].ID)
}

func TestLoadDocument(t *testing.T) {
	var hits int32
	srv := labelServer(t, &hits)
	c := NewClient(srv.URL+"/api/drugs", time.Second, time.Minute)

	doc, drugs, err := LoadDocument(context.Background(), c, []string{"42", "7"})
	require.NoError(t, err)
	require.Len(t, drugs, 2)
	assert.Equal(t, "Losartan", drugs[1].Name)

	sections := content.Sections(doc)
	require.Len(t, sections, 5)
	id, _ := sections[0].SectionID()
	assert.Equal(t, "34067-9", id)
	assert.Equal(t, "Used for the treatment of hypertension.", content.PlainText(sections[0]))
	competitorID, _ := sections[3].SectionID()
	assert.Equal(t, "8", competitorID, "competitor section with a repeated code keeps its own id")

	titles := SectionTitles(drugs...)
	assert.Equal(t, "ADVERSE REACTIONS", titles["34084-4"])
	assert.Equal(t, "INDICATIONS & USAGE", titles["8"])
	assert.Equal(t, SectionRef{DrugID: "7", DrugName: "Losartan", Title: "ADVERSE REACTIONS"}, SectionIndex(drugs...)["34084-4"])

	_, _, err = LoadDocument(context.Background(), c, []string{"42", "999"})
	assert.ErrorIs(t, err, ErrDrugNotFound)
}

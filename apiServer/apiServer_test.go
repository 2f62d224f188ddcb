package apiServer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	entitystore "github.com/preservio/entitystore"
	"github.com/preservio/entitystore/pkg/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo, err := entitystore.New(entitystore.Config{
		DataDir:           t.TempDir(),
		AsyncPollInterval: 10 * time.Millisecond,
		AsyncJitterBase:   10 * time.Millisecond,
		AsyncJitterSpread: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	if err := repo.Start(context.Background()); err != nil {
		t.Fatalf("failed to start repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(context.Background()) })
	return New(repo)
}

func entityJSON(t *testing.T, id string) []byte {
	t.Helper()
	entity := map[string]any{
		"descriptive": map[string]any{
			"id":      "",
			"format":  "dublin-core",
			"payload": map[string][]string{"title": {"A test entity"}},
		},
		"representations": []map[string]any{
			{"title": "Access copy", "files": []map[string]any{
				{"uri": "http://example.com/a.jpg"},
			}},
		},
	}
	if id != "" {
		entity["identifier"] = id
	}
	raw, err := json.Marshal(entity)
	if err != nil {
		t.Fatalf("failed to marshal entity: %v", err)
	}
	return raw
}

func doRequest(t *testing.T, server *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func TestIngestReturnsGeneratedIdentifier(t *testing.T) {
	server := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/entity", entityJSON(t, ""))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var created createResponse
	decodeBody(t, rec, &created)
	if created.ID == "" {
		t.Fatal("expected a generated identifier in the response")
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}

	getRec := doRequest(t, server, http.MethodGet, "/entity/"+created.ID, nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, getRec.Code)
	}
	var entity model.IntellectualEntity
	decodeBody(t, getRec, &entity)
	if entity.LifecycleState.State != model.StateIngested {
		t.Fatalf("expected lifecycle state INGESTED, got %q", entity.LifecycleState.State)
	}
}

func TestIngestRejectsGarbagePayload(t *testing.T) {
	server := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/entity", []byte("<mets:mets/>"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d for unparsable payload, got %d", http.StatusInternalServerError, rec.Code)
	}
}

func TestUpdateAppendsVersion(t *testing.T) {
	server := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/entity", entityJSON(t, "entity-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest failed with status %d", rec.Code)
	}

	putRec := doRequest(t, server, http.MethodPut, "/entity/entity-1", entityJSON(t, "entity-1"))
	if putRec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, putRec.Code)
	}
	var updated createResponse
	decodeBody(t, putRec, &updated)
	if updated.Version != 2 {
		t.Fatalf("expected version 2 after update, got %d", updated.Version)
	}

	listRec := doRequest(t, server, http.MethodGet, "/entity-version-list/entity-1", nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, listRec.Code)
	}
	var list model.VersionList
	decodeBody(t, listRec, &list)
	if len(list.Versions) != 2 || list.Versions[0] != 1 || list.Versions[1] != 2 {
		t.Fatalf("expected versions [1 2], got %v", list.Versions)
	}

	oldRec := doRequest(t, server, http.MethodGet, "/entity/entity-1/1", nil)
	if oldRec.Code != http.StatusOK {
		t.Fatalf("expected first version to stay retrievable, got %d", oldRec.Code)
	}
}

func TestNestedRetrievalByOwnIdentifier(t *testing.T) {
	server := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/entity", entityJSON(t, ""))
	var created createResponse
	decodeBody(t, rec, &created)

	getRec := doRequest(t, server, http.MethodGet, "/entity/"+created.ID, nil)
	var entity model.IntellectualEntity
	decodeBody(t, getRec, &entity)

	fileID := entity.Representations[0].Files[0].Identifier
	fileRec := doRequest(t, server, http.MethodGet, "/file/"+fileID, nil)
	if fileRec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, fileRec.Code)
	}
	var file model.File
	decodeBody(t, fileRec, &file)
	if file.Identifier != fileID {
		t.Fatalf("expected file %q, got %q", fileID, file.Identifier)
	}

	repID := entity.Representations[0].Identifier
	repRec := doRequest(t, server, http.MethodGet, "/representation/"+repID, nil)
	if repRec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, repRec.Code)
	}
}

func TestAsyncIngestLifecycle(t *testing.T) {
	server := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/entity-async", entityJSON(t, "entity-async-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var pending pendingResponse
	decodeBody(t, rec, &pending)
	if pending.ID != "entity-async-1" {
		t.Fatalf("expected confirmed identifier, got %q", pending.ID)
	}

	deadline := time.Now().Add(15 * time.Second)
	for {
		lcRec := doRequest(t, server, http.MethodGet, "/lifecycle/entity-async-1", nil)
		if lcRec.Code != http.StatusOK {
			t.Fatalf("expected lifecycle to resolve, got %d", lcRec.Code)
		}
		var state model.LifecycleState
		decodeBody(t, lcRec, &state)
		if state.State == model.StateIngested {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("entity never reached INGESTED, still %q", state.State)
		}
		time.Sleep(20 * time.Millisecond)
	}

	getRec := doRequest(t, server, http.MethodGet, "/entity/entity-async-1", nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected status %d after async completion, got %d", http.StatusOK, getRec.Code)
	}
}

func TestSearchEndpoints(t *testing.T) {
	server := newTestServer(t)

	doRequest(t, server, http.MethodPost, "/entity", entityJSON(t, "entity-1"))

	rec := doRequest(t, server, http.MethodGet, "/sru/entities?query=test", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var hits []model.IntellectualEntity
	decodeBody(t, rec, &hits)
	if len(hits) != 1 || hits[0].Identifier != "entity-1" {
		t.Fatalf("expected entity-1 in search results, got %+v", hits)
	}

	repRec := doRequest(t, server, http.MethodGet, "/sru/representations?query=access", nil)
	if repRec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, repRec.Code)
	}

	missingRec := doRequest(t, server, http.MethodGet, "/sru/entities?query=absenttoken", nil)
	var empty []model.IntellectualEntity
	decodeBody(t, missingRec, &empty)
	if len(empty) != 0 {
		t.Fatalf("expected no hits, got %d", len(empty))
	}

	badRec := doRequest(t, server, http.MethodGet, "/sru/entities", nil)
	if badRec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d without query, got %d", http.StatusBadRequest, badRec.Code)
	}
}

func TestEntityListEndpoint(t *testing.T) {
	server := newTestServer(t)

	doRequest(t, server, http.MethodPost, "/entity", entityJSON(t, "entity-1"))
	doRequest(t, server, http.MethodPost, "/entity", entityJSON(t, "entity-2"))

	rec := doRequest(t, server, http.MethodPost, "/entity-list", []byte("entity-1\nentity-2\n"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var entities []model.IntellectualEntity
	decodeBody(t, rec, &entities)
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
}

func TestUseReferencesReplacesDescriptive(t *testing.T) {
	server := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/entity", entityJSON(t, "entity-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest failed with status %d", rec.Code)
	}

	refRec := doRequest(t, server, http.MethodGet, "/entity/entity-1?useReferences=true", nil)
	var entity model.IntellectualEntity
	decodeBody(t, refRec, &entity)
	if entity.Descriptive == nil || entity.Descriptive.Format != "reference" {
		t.Fatalf("expected reference-format descriptive block, got %+v", entity.Descriptive)
	}
	if !strings.Contains(string(entity.Descriptive.Payload), "/metadata/"+entity.Descriptive.ID) {
		t.Fatalf("expected metadata href in payload, got %s", entity.Descriptive.Payload)
	}

	mdRec := doRequest(t, server, http.MethodGet, "/metadata/"+entity.Descriptive.ID, nil)
	if mdRec.Code != http.StatusOK {
		t.Fatalf("expected referenced metadata to resolve, got %d", mdRec.Code)
	}
}

func TestNotFoundStatuses(t *testing.T) {
	server := newTestServer(t)

	paths := []string{
		"/entity/missing",
		"/representation/missing",
		"/file/missing",
		"/bitstream/missing",
		"/metadata/missing",
		"/entity-version-list/missing",
		"/lifecycle/missing",
		"/datastream/missing",
	}
	for _, path := range paths {
		rec := doRequest(t, server, http.MethodGet, path, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d", path, rec.Code)
		}
	}
}

func TestBadVersionSegment(t *testing.T) {
	server := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/entity/entity-1/zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestDatastreamRoundTrip(t *testing.T) {
	server := newTestServer(t)

	putRec := doRequest(t, server, http.MethodPut, "/datastream/ds-1", []byte("raw datastream bytes"))
	if putRec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, putRec.Code)
	}

	getRec := doRequest(t, server, http.MethodGet, "/datastream/ds-1", nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, getRec.Code)
	}
	if getRec.Body.String() != "raw datastream bytes" {
		t.Fatalf("unexpected datastream body %q", getRec.Body.String())
	}
}

func TestManySyncIngestsStayConsistent(t *testing.T) {
	server := newTestServer(t)

	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("bulk-%d", i)
		rec := doRequest(t, server, http.MethodPost, "/entity", entityJSON(t, id))
		if rec.Code != http.StatusCreated {
			t.Fatalf("ingest %s failed with status %d", id, rec.Code)
		}
	}
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("bulk-%d", i)
		rec := doRequest(t, server, http.MethodGet, "/entity/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("retrieve %s failed with status %d", id, rec.Code)
		}
	}
}

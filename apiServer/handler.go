package apiServer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	entitystore "github.com/preservio/entitystore"
	"github.com/preservio/entitystore/pkg/model"
)

type createResponse struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

type pendingResponse struct {
	ID string `json:"id"`
}

// decodeEntity parses an entity payload from the request body. The
// body size is bounded; conformance suites send small documents.
func decodeEntity(r *http.Request) (*model.IntellectualEntity, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read entity payload: %w", err)
	}
	return model.Decode(raw)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	entity, err := decodeEntity(r)
	if err != nil {
		// an unparsable payload is a processing failure on this API,
		// not a client error
		s.log.Error("rejecting unparsable entity payload", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	stored, err := s.repo.Ingest(r.Context(), entity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{ID: stored.Identifier, Version: stored.VersionNumber})
}

func (s *Server) handleIngestAsync(w http.ResponseWriter, r *http.Request) {
	entity, err := decodeEntity(r)
	if err != nil {
		s.log.Error("rejecting unparsable entity payload", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	pending, err := s.repo.IngestAsync(r.Context(), entity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{ID: pending.Identifier})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	entity, err := decodeEntity(r)
	if err != nil {
		s.log.Error("rejecting unparsable entity payload", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	stored, err := s.repo.Update(r.Context(), r.PathValue("id"), entity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{ID: stored.Identifier, Version: stored.VersionNumber})
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	version, err := pathVersion(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entity, err := s.repo.Entity(r.Context(), r.PathValue("id"), version)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("useReferences"), "true") && entity.Descriptive != nil {
		entity.Descriptive = metadataReference(entity.Descriptive.ID)
	}
	writeJSON(w, http.StatusOK, entity)
}

// metadataReference replaces an inline descriptive block with a
// resolvable reference to the metadata resource.
func metadataReference(dmdID string) *model.DescriptiveMetadata {
	href, _ := json.Marshal(map[string]string{"href": "/metadata/" + dmdID})
	return &model.DescriptiveMetadata{
		ID:      dmdID,
		Format:  "reference",
		Payload: href,
	}
}

func (s *Server) handleEntityList(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0, 8)
	scanner := bufio.NewScanner(io.LimitReader(r.Body, 1<<20))
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			ids = append(ids, id)
		}
	}
	if err := scanner.Err(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entities, err := s.repo.Entities(r.Context(), ids)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleRepresentation(w http.ResponseWriter, r *http.Request) {
	version, err := pathVersion(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rep, err := s.repo.Representation(r.Context(), r.PathValue("id"), version)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	version, err := pathVersion(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, err := s.repo.File(r.Context(), r.PathValue("id"), version)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleBitStream(w http.ResponseWriter, r *http.Request) {
	version, err := pathVersion(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bs, err := s.repo.BitStream(r.Context(), r.PathValue("id"), version)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bs)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	dmd, err := s.repo.DescriptiveMetadata(r.Context(), r.PathValue("id"), entitystore.VersionLatest)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dmd)
}

func (s *Server) handleVersionList(w http.ResponseWriter, r *http.Request) {
	list, err := s.repo.Versions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	state, err := s.repo.Lifecycle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEntitySearch(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("query"))
	if term == "" {
		http.Error(w, "query parameter is required", http.StatusBadRequest)
		return
	}
	hits, err := s.repo.SearchEntities(r.Context(), term)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleRepresentationSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("query"))
	if term == "" {
		http.Error(w, "query parameter is required", http.StatusBadRequest)
		return
	}
	hits, err := s.repo.SearchRepresentations(r.Context(), term)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handlePutDatastream(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := s.repo.StoreDatastream(r.Context(), r.PathValue("id"), data); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetDatastream(w http.ResponseWriter, r *http.Request) {
	data, err := s.repo.Datastream(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Error("failed to write datastream body", "error", err)
	}
}

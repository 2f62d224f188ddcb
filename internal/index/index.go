// Package index keeps a full-text index synchronized with ingested
// content. Two in-memory bleve collections exist, one for entities and
// one for representations, both searchable by identifier, title and
// description with relevance ranking.
package index

import (
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/preservio/entitystore/pkg/model"
)

// Collection selects which of the two indexes a search runs against.
type Collection string

const (
	Entities        Collection = "entities"
	Representations Collection = "representations"
)

// maxResults caps every search result list.
const maxResults = 10

// Index wraps the two bleve collections. Every add commits before
// returning, so a search issued after IndexEntity returns observes the
// new document.
type Index struct {
	log             *slog.Logger
	entities        bleve.Index
	representations bleve.Index
}

func buildMapping() mapping.IndexMapping {
	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("id", idField)
	doc.AddFieldMappingsAt("title", textField)
	doc.AddFieldMappingsAt("description", textField)

	idxMapping := bleve.NewIndexMapping()
	idxMapping.DefaultMapping = doc
	return idxMapping
}

// New builds the two in-memory collections.
func New(logger *slog.Logger) (*Index, error) {
	entities, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create entity index: %w", err)
	}
	representations, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		_ = entities.Close()
		return nil, fmt.Errorf("create representation index: %w", err)
	}
	return &Index{
		log:             logger,
		entities:        entities,
		representations: representations,
	}, nil
}

// Close releases both collections.
func (ix *Index) Close() error {
	if err := ix.entities.Close(); err != nil {
		return fmt.Errorf("close entity index: %w", err)
	}
	if err := ix.representations.Close(); err != nil {
		return fmt.Errorf("close representation index: %w", err)
	}
	return nil
}

// IndexEntity indexes the entity's identifier and descriptive text and,
// as a side effect, every nested representation.
func (ix *Index) IndexEntity(entity *model.IntellectualEntity) error {
	text := entity.Descriptive.SearchableText()
	doc := map[string]any{
		"id":          entity.Identifier,
		"title":       text.Title,
		"description": text.Description,
	}
	if err := ix.entities.Index(entity.Identifier, doc); err != nil {
		return fmt.Errorf("index entity %s: %w", entity.Identifier, err)
	}
	for i := range entity.Representations {
		if err := ix.IndexRepresentation(&entity.Representations[i]); err != nil {
			return err
		}
	}
	if ix.log != nil {
		ix.log.Debug("indexed entity", "id", entity.Identifier, "title", text.Title)
	}
	return nil
}

// IndexRepresentation indexes one representation's identifier and title.
func (ix *Index) IndexRepresentation(rep *model.Representation) error {
	doc := map[string]any{
		"id":    rep.Identifier,
		"title": rep.Title,
	}
	if err := ix.representations.Index(rep.Identifier, doc); err != nil {
		return fmt.Errorf("index representation %s: %w", rep.Identifier, err)
	}
	return nil
}

// Search returns the identifiers matching term in the chosen
// collection, ranked by relevance and capped at 10. Tie order is not
// stable.
func (ix *Index) Search(collection Collection, term string) ([]string, error) {
	var bi bleve.Index
	switch collection {
	case Entities:
		bi = ix.entities
	case Representations:
		bi = ix.representations
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	idQuery := bleve.NewTermQuery(term)
	idQuery.SetField("id")
	titleQuery := bleve.NewMatchQuery(term)
	titleQuery.SetField("title")
	descQuery := bleve.NewMatchQuery(term)
	descQuery.SetField("description")

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(idQuery, titleQuery, descQuery), maxResults, 0, false)
	res, err := bi.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %s for %q: %w", collection, term, err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if hit.ID == "" {
			continue
		}
		ids = append(ids, hit.ID)
	}
	return ids, nil
}
